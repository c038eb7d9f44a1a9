package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/skoll/overseer/internal/budget"
	"github.com/skoll/overseer/internal/cache"
	"github.com/skoll/overseer/internal/ledger"
	"github.com/skoll/overseer/internal/optimizer"
	"github.com/skoll/overseer/internal/orchestrator"
	"github.com/skoll/overseer/internal/provider"
	"github.com/skoll/overseer/internal/registry"
	"github.com/skoll/overseer/internal/routing"
)

type stubProvider struct {
	id      string
	content string
	fail    bool
}

func (s *stubProvider) ID() string   { return s.id }
func (s *stubProvider) Name() string { return s.id }

func (s *stubProvider) Chat(_ context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	if s.fail {
		return nil, errors.New("stub provider down")
	}
	return &provider.ChatResponse{
		ID:      "resp-1",
		Model:   req.Model,
		Content: s.content,
		Usage:   provider.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
	}, nil
}

func (s *stubProvider) HealthCheck(_ context.Context) error { return nil }

// newTestHandler wires a Handler with in-memory deps and one stub provider.
func newTestHandler(t *testing.T) (*Handler, http.Handler) {
	t.Helper()
	logger := zap.NewNop()

	catalog := provider.NewCatalog(logger)
	catalog.Register(&provider.Profile{
		ID:                "stub",
		Name:              "Stub",
		Model:             "stub-1",
		InputCostPerMTok:  10,
		OutputCostPerMTok: 20,
		AvgResponseTimeMs: 1000,
		Reliability:       0.99,
	}, &stubProvider{id: "stub", content: "stub answer"})

	selector := routing.NewSelector(catalog, logger)
	responseCache := cache.New(100, time.Minute, logger)
	usage := ledger.New(logger)
	budgetCtl := budget.NewController(logger)
	router := routing.NewRouter(catalog, selector, optimizer.New(logger),
		responseCache, usage, budgetCtl, nil, logger)

	reg := registry.NewRegistry(nil, logger)
	service := orchestrator.NewService(reg, orchestrator.NewPlanner(logger),
		orchestrator.NewExecutor(router, nil, 4, logger), logger)

	h := NewHandler(service, reg, router, selector, catalog, usage, responseCache, budgetCtl, logger)
	return h, h.Router()
}

func seedAgents(t *testing.T, h *Handler) {
	t.Helper()
	defs := []*registry.Definition{
		{
			Name:         "DeveloperAgent",
			Description:  "builds application features",
			Role:         "developer",
			Capabilities: []string{"analyze_and_test", "payment_module"},
			Tools:        []string{"editor", "file_system"},
			Permissions: map[string]bool{
				registry.PermissionFileSystem: true,
				registry.PermissionTerminal:   true,
				registry.PermissionNetwork:    false,
			},
		},
		{
			Name:         "TesterAgent",
			Description:  "writes regression suites",
			Role:         "tester",
			Capabilities: []string{"payment_module"},
			Tools:        []string{"test_runner"},
			Permissions: map[string]bool{
				registry.PermissionFileSystem: true,
				registry.PermissionTerminal:   true,
				registry.PermissionNetwork:    false,
			},
		},
		{
			Name:         "SecurityAgent",
			Description:  "audits dependency risks",
			Role:         "security",
			Capabilities: []string{"payment_module"},
			Tools:        []string{"security_scanner"},
			Permissions: map[string]bool{
				registry.PermissionFileSystem: true,
				registry.PermissionTerminal:   false,
				registry.PermissionNetwork:    true,
			},
		},
	}
	for _, def := range defs {
		if err := h.registry.Register(def); err != nil {
			t.Fatalf("register %s: %v", def.Name, err)
		}
	}
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func putJSON(t *testing.T, ts *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	req, _ := http.NewRequest("PUT", ts.URL+path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT %s: %v", path, err)
	}
	return resp
}

func getJSON(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// --- Tests ---

func TestHealthCheck(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := getJSON(t, ts, "/api/health")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	decodeJSON(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
	if body["service"] != "overseer" {
		t.Errorf("expected service overseer, got %q", body["service"])
	}
}

func TestOrchestrateTaskEndpoint(t *testing.T) {
	h, router := newTestHandler(t)
	seedAgents(t, h)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/tasks", map[string]interface{}{
		"task":     "analyze and test the payment module",
		"priority": "critical",
	})
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var report orchestrator.Report
	decodeJSON(t, resp, &report)
	if report.PrimaryAgent != "DeveloperAgent" {
		t.Errorf("expected primary DeveloperAgent, got %q", report.PrimaryAgent)
	}
	if len(report.Steps) != 5 {
		t.Fatalf("expected 5 steps, got %d", len(report.Steps))
	}
	if report.Succeeded != 5 || report.Partial != 0 {
		t.Errorf("expected 5/0, got %d/%d", report.Succeeded, report.Partial)
	}
}

func TestOrchestrateTaskErrors(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	// No agent clears the confidence floor.
	resp := postJSON(t, ts, "/api/tasks", map[string]string{"task": "analyze the thing"})
	if resp.StatusCode != 404 {
		t.Errorf("expected 404 for no suitable agent, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Empty task.
	resp = postJSON(t, ts, "/api/tasks", map[string]string{"task": "  "})
	if resp.StatusCode != 400 {
		t.Errorf("expected 400 for empty task, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Malformed body.
	raw, err := http.Post(ts.URL+"/api/tasks", "application/json", bytes.NewReader([]byte("{")))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	if raw.StatusCode != 400 {
		t.Errorf("expected 400 for malformed body, got %d", raw.StatusCode)
	}
	raw.Body.Close()
}

func TestRecommendationsEndpoint(t *testing.T) {
	h, router := newTestHandler(t)
	seedAgents(t, h)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/recommendations", map[string]string{
		"task": "analyze and test the payment module",
	})
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Task            string                     `json:"task"`
		Recommendations []*registry.Recommendation `json:"recommendations"`
	}
	decodeJSON(t, resp, &body)
	if len(body.Recommendations) != 3 {
		t.Fatalf("expected 3 recommendations, got %d", len(body.Recommendations))
	}
	if body.Recommendations[0].AgentName != "DeveloperAgent" {
		t.Errorf("expected DeveloperAgent first, got %q", body.Recommendations[0].AgentName)
	}

	resp = postJSON(t, ts, "/api/recommendations", map[string]string{"task": ""})
	if resp.StatusCode != 400 {
		t.Errorf("expected 400 for empty task, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestRouteMessageEndpoint(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/messages", map[string]string{
		"prompt":    "summarize the release notes for the current sprint",
		"task_type": "summarization",
	})
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var result routing.Result
	decodeJSON(t, resp, &result)
	if result.Provider != "stub" || result.Content != "stub answer" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.FromCache {
		t.Error("first call should not hit the cache")
	}

	// Identical request is served from the cache.
	resp = postJSON(t, ts, "/api/messages", map[string]string{
		"prompt":    "summarize the release notes for the current sprint",
		"task_type": "summarization",
	})
	var cached routing.Result
	decodeJSON(t, resp, &cached)
	if !cached.FromCache {
		t.Error("second identical call should hit the cache")
	}

	resp = postJSON(t, ts, "/api/messages", map[string]string{"prompt": "  "})
	if resp.StatusCode != 400 {
		t.Errorf("expected 400 for missing prompt, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestRouteMessageNoProviders(t *testing.T) {
	logger := zap.NewNop()
	catalog := provider.NewCatalog(logger)
	selector := routing.NewSelector(catalog, logger)
	responseCache := cache.New(100, time.Minute, logger)
	usage := ledger.New(logger)
	budgetCtl := budget.NewController(logger)
	router := routing.NewRouter(catalog, selector, optimizer.New(logger),
		responseCache, usage, budgetCtl, nil, logger)
	reg := registry.NewRegistry(nil, logger)
	service := orchestrator.NewService(reg, orchestrator.NewPlanner(logger),
		orchestrator.NewExecutor(router, nil, 4, logger), logger)
	h := NewHandler(service, reg, router, selector, catalog, usage, responseCache, budgetCtl, logger)

	ts := httptest.NewServer(h.Router())
	defer ts.Close()

	resp := postJSON(t, ts, "/api/messages", map[string]string{"prompt": "anything"})
	if resp.StatusCode != 503 {
		t.Errorf("expected 503 with no providers, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestRouteBatchEndpoint(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/messages/batch", map[string]interface{}{
		"requests": []map[string]string{
			{"prompt": "first question"},
			{"prompt": "second question"},
		},
	})
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Items []batchItemResponse `json:"items"`
	}
	decodeJSON(t, resp, &body)
	if len(body.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(body.Items))
	}
	for i, item := range body.Items {
		if item.Index != i {
			t.Errorf("item %d has index %d", i, item.Index)
		}
		if item.Result == nil || item.Result.Content != "stub answer" {
			t.Errorf("item %d result = %+v", i, item.Result)
		}
	}

	resp = postJSON(t, ts, "/api/messages/batch", map[string]interface{}{"requests": []string{}})
	if resp.StatusCode != 400 {
		t.Errorf("expected 400 for empty batch, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAgentRegistryEndpoints(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	// List — empty
	resp := getJSON(t, ts, "/api/agents")
	if resp.StatusCode != 200 {
		t.Fatalf("list agents: expected 200, got %d", resp.StatusCode)
	}
	var defs []registry.Definition
	decodeJSON(t, resp, &defs)
	if len(defs) != 0 {
		t.Errorf("expected 0 agents, got %d", len(defs))
	}

	// Register
	resp = postJSON(t, ts, "/api/agents", map[string]interface{}{
		"name":         "DeployBot",
		"description":  "ships releases to staging and production",
		"role":         "operator",
		"capabilities": []string{"deployment"},
		"tools":        []string{"terminal", "ci_pipeline"},
		"permissions": map[string]bool{
			"file_system_access": true,
			"terminal_access":    true,
			"network_access":     true,
		},
	})
	if resp.StatusCode != 201 {
		t.Fatalf("register: expected 201, got %d", resp.StatusCode)
	}
	var created registry.Definition
	decodeJSON(t, resp, &created)
	if created.Name != "DeployBot" || created.CreatedAt.IsZero() {
		t.Errorf("created = %+v", created)
	}

	// Validation failure — missing permission keys.
	resp = postJSON(t, ts, "/api/agents", map[string]interface{}{
		"name": "BrokenBot", "description": "x", "role": "y",
	})
	if resp.StatusCode != 400 {
		t.Errorf("expected 400 for invalid definition, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Get
	resp = getJSON(t, ts, "/api/agents/DeployBot")
	if resp.StatusCode != 200 {
		t.Fatalf("get agent: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = getJSON(t, ts, "/api/agents/nonexistent")
	if resp.StatusCode != 404 {
		t.Errorf("expected 404 for missing agent, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAgentAlternativesEndpoint(t *testing.T) {
	h, router := newTestHandler(t)
	seedAgents(t, h)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := getJSON(t, ts, "/api/agents/DeveloperAgent/alternatives")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Agent        string   `json:"agent"`
		Alternatives []string `json:"alternatives"`
	}
	decodeJSON(t, resp, &body)
	if len(body.Alternatives) != 2 {
		t.Errorf("expected 2 alternatives sharing payment_module, got %v", body.Alternatives)
	}

	resp = getJSON(t, ts, "/api/agents/nonexistent/alternatives")
	if resp.StatusCode != 404 {
		t.Errorf("expected 404 for missing agent, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestBudgetEndpoints(t *testing.T) {
	h, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := putJSON(t, ts, "/api/budgets/DeveloperAgent", map[string]float64{"daily_usd": 5})
	if resp.StatusCode != 200 {
		t.Fatalf("set budget: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = putJSON(t, ts, "/api/budgets/global", map[string]float64{"daily_usd": 25})
	if resp.StatusCode != 200 {
		t.Fatalf("set global budget: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	if got := h.budget.Windows(); len(got) < 2 {
		t.Fatalf("expected agent and global windows, got %+v", got)
	}

	resp = getJSON(t, ts, "/api/budgets")
	if resp.StatusCode != 200 {
		t.Fatalf("list budgets: expected 200, got %d", resp.StatusCode)
	}
	var windows []budget.WindowState
	decodeJSON(t, resp, &windows)
	found := map[string]float64{}
	for _, w := range windows {
		found[w.Identifier] = w.BudgetUSD
	}
	if found["DeveloperAgent"] != 5 || found[budget.GlobalID] != 25 {
		t.Errorf("windows = %+v", windows)
	}

	resp = putJSON(t, ts, "/api/budgets/DeveloperAgent", map[string]float64{"daily_usd": -1})
	if resp.StatusCode != 400 {
		t.Errorf("expected 400 for negative budget, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestSpeedThresholdEndpoint(t *testing.T) {
	h, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := putJSON(t, ts, "/api/speed/chat-agent", map[string]int64{"threshold_ms": 2000})
	if resp.StatusCode != 200 {
		t.Fatalf("set threshold: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()
	if got := h.selector.SpeedThreshold("chat-agent"); got != 2000 {
		t.Errorf("threshold = %d, want 2000", got)
	}

	// Zero clears the cap.
	resp = putJSON(t, ts, "/api/speed/chat-agent", map[string]int64{"threshold_ms": 0})
	if resp.StatusCode != 200 {
		t.Fatalf("clear threshold: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()
	if got := h.selector.SpeedThreshold("chat-agent"); got != 0 {
		t.Errorf("threshold = %d, want 0 after clear", got)
	}

	resp = putJSON(t, ts, "/api/speed/chat-agent", map[string]int64{"threshold_ms": -5})
	if resp.StatusCode != 400 {
		t.Errorf("expected 400 for negative threshold, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestMetricsEndpoint(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/messages", map[string]string{"prompt": "warm up the counters"})
	resp.Body.Close()

	resp = getJSON(t, ts, "/api/metrics")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Usage   ledger.Metrics       `json:"usage"`
		Cache   cache.Stats          `json:"cache"`
		Budgets []budget.WindowState `json:"budgets"`
	}
	decodeJSON(t, resp, &body)
	if body.Usage.TotalRequests < 1 {
		t.Errorf("expected at least one recorded request, got %+v", body.Usage)
	}
}

func TestRecentUsageEndpoint(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	for _, prompt := range []string{"first request", "second request"} {
		resp := postJSON(t, ts, "/api/messages", map[string]string{"prompt": prompt})
		resp.Body.Close()
	}

	resp := getJSON(t, ts, "/api/usage?limit=1")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var records []ledger.Record
	decodeJSON(t, resp, &records)
	if len(records) != 1 {
		t.Errorf("expected 1 record with limit=1, got %d", len(records))
	}

	resp = getJSON(t, ts, "/api/usage?limit=zero")
	if resp.StatusCode != 400 {
		t.Errorf("expected 400 for bad limit, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}
