package routing

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/skoll/overseer/internal/provider"
	"go.uber.org/zap"
)

func defaultCatalog(t *testing.T, ids ...string) *provider.Catalog {
	t.Helper()
	keep := make(map[string]bool, len(ids))
	for _, id := range ids {
		keep[id] = true
	}
	c := provider.NewCatalog(zap.NewNop())
	for _, p := range provider.DefaultProfiles() {
		if len(ids) == 0 || keep[p.ID] {
			c.Register(p, nil)
		}
	}
	return c
}

func scoreClose(a, b float64) bool {
	return math.Abs(a-b) < 0.01
}

func TestSelectCodeAnalysisRanking(t *testing.T) {
	s := NewSelector(defaultCatalog(t), zap.NewNop())

	ranked, err := s.Select(Query{TaskType: "code_analysis", PromptTokens: 1000})
	if err != nil {
		t.Fatal(err)
	}
	if len(ranked) != 4 {
		t.Fatalf("ranked %d providers, want 4", len(ranked))
	}

	// anthropic wins on suitability and reliability despite gemini's far
	// lower cost.
	wantOrder := []string{"anthropic", "gemini", "local", "openai"}
	wantScore := []float64{79.5, 77.14, 70.0, 59.0}
	for i, w := range wantOrder {
		if ranked[i].Profile.ID != w {
			t.Fatalf("rank %d = %s, want %s", i, ranked[i].Profile.ID, w)
		}
		if !scoreClose(ranked[i].Score, wantScore[i]) {
			t.Fatalf("%s score = %.2f, want %.2f", w, ranked[i].Score, wantScore[i])
		}
	}

	if !strings.HasPrefix(ranked[0].Reason, "anthropic: cost=62.5 speed=75.0 suit=100 rel=95") {
		t.Fatalf("reason = %q", ranked[0].Reason)
	}
}

func TestSelectSpeedPriorityKeepsWinner(t *testing.T) {
	s := NewSelector(defaultCatalog(t), zap.NewNop())

	ranked, err := s.Select(Query{TaskType: "code_analysis", PromptTokens: 1000, SpeedPriority: true})
	if err != nil {
		t.Fatal(err)
	}
	if ranked[0].Profile.ID != "anthropic" {
		t.Fatalf("winner = %s, want anthropic", ranked[0].Profile.ID)
	}
	if !scoreClose(ranked[0].Score, 94.5) {
		t.Fatalf("score = %.2f, want 94.5", ranked[0].Score)
	}
}

func TestSelectSpeedThreshold(t *testing.T) {
	s := NewSelector(defaultCatalog(t), zap.NewNop())
	s.SetSpeedThreshold("picky", 2000)

	ranked, err := s.Select(Query{TaskType: "general", PromptTokens: 100, Identifier: "picky"})
	if err != nil {
		t.Fatal(err)
	}
	if len(ranked) != 1 || ranked[0].Profile.ID != "gemini" {
		t.Fatalf("threshold 2000 should leave only gemini, got %d ranked, first %s",
			len(ranked), ranked[0].Profile.ID)
	}

	// A cap excluding everything falls back to the single fastest provider.
	s.SetSpeedThreshold("picky", 100)
	ranked, err = s.Select(Query{TaskType: "general", PromptTokens: 100, Identifier: "picky"})
	if err != nil {
		t.Fatal(err)
	}
	if len(ranked) != 1 || ranked[0].Profile.ID != "gemini" {
		t.Fatalf("impossible threshold should fall back to fastest, got %s", ranked[0].Profile.ID)
	}

	// Zero removes the cap.
	s.SetSpeedThreshold("picky", 0)
	ranked, err = s.Select(Query{TaskType: "general", PromptTokens: 100, Identifier: "picky"})
	if err != nil {
		t.Fatal(err)
	}
	if len(ranked) != 4 {
		t.Fatalf("removed threshold should rank all 4, got %d", len(ranked))
	}
}

func TestSelectEmergencyRestrictsToZeroCost(t *testing.T) {
	s := NewSelector(defaultCatalog(t), zap.NewNop())

	ranked, err := s.Select(Query{TaskType: "code_analysis", PromptTokens: 1000, Emergency: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(ranked) != 1 || ranked[0].Profile.ID != "local" {
		t.Fatalf("emergency must restrict to the zero-cost provider, got %v", ranked[0].Profile.ID)
	}
}

func TestSelectEmergencyWithoutZeroCostUsesCheapest(t *testing.T) {
	s := NewSelector(defaultCatalog(t, "anthropic", "openai", "gemini"), zap.NewNop())

	ranked, err := s.Select(Query{TaskType: "general", PromptTokens: 1000, Emergency: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(ranked) != 1 || ranked[0].Profile.ID != "gemini" {
		t.Fatalf("want cheapest provider gemini, got %s", ranked[0].Profile.ID)
	}
}

func TestSelectEmptyCatalog(t *testing.T) {
	s := NewSelector(provider.NewCatalog(zap.NewNop()), zap.NewNop())
	if _, err := s.Select(Query{TaskType: "general"}); !errors.Is(err, ErrNoProviders) {
		t.Fatalf("err = %v, want ErrNoProviders", err)
	}
}

func TestSelectTieBreaksOnID(t *testing.T) {
	c := provider.NewCatalog(zap.NewNop())
	twin := func(id string) *provider.Profile {
		return &provider.Profile{
			ID:                id,
			Name:              id,
			Model:             "m",
			InputCostPerMTok:  10,
			OutputCostPerMTok: 10,
			AvgResponseTimeMs: 1000,
			Reliability:       0.9,
		}
	}
	c.Register(twin("bbb"), nil)
	c.Register(twin("aaa"), nil)

	s := NewSelector(c, zap.NewNop())
	ranked, err := s.Select(Query{TaskType: "general", PromptTokens: 100})
	if err != nil {
		t.Fatal(err)
	}
	if ranked[0].Profile.ID != "aaa" {
		t.Fatalf("tie should break to lower ID, got %s", ranked[0].Profile.ID)
	}
}
