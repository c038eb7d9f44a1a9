package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "Overseer server URL")
	agent := flag.String("agent", "console", "Agent identifier for routed messages")
	priority := flag.String("priority", "normal", "Priority for /task commands")
	flag.Parse()

	fmt.Println("Overseer Console")
	fmt.Printf("Server: %s | Agent: %s\n", *server, *agent)
	fmt.Println("Type 'exit' or 'quit' to leave. Plain text routes to the cheapest provider.")
	fmt.Println("Commands: /task <description>, /agents, /providers, /metrics")
	fmt.Println("---")

	fetchAgents(*server)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Bye!")
			return
		}
		if input == "/agents" {
			fetchAgents(*server)
			continue
		}
		if input == "/providers" {
			fetchProviders(*server)
			continue
		}
		if input == "/metrics" {
			fetchMetrics(*server)
			continue
		}
		if task, ok := strings.CutPrefix(input, "/task "); ok {
			orchestrate(*server, strings.TrimSpace(task), *priority)
			continue
		}

		sendMessage(*server, *agent, input)
	}
}

func fetchAgents(server string) {
	resp, err := http.Get(server + "/api/agents")
	if err != nil {
		printError("Failed to fetch agents: %v", err)
		return
	}
	defer resp.Body.Close()

	var agents []struct {
		Name         string   `json:"name"`
		Role         string   `json:"role"`
		Capabilities []string `json:"capabilities,omitempty"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&agents); err != nil {
		printError("Failed to parse agents: %v", err)
		return
	}
	if len(agents) == 0 {
		fmt.Println("No agents registered yet.")
		return
	}
	fmt.Println("Registered agents:")
	for _, a := range agents {
		fmt.Printf("  %s (%s)", a.Name, a.Role)
		if len(a.Capabilities) > 0 {
			fmt.Printf(" — %s", strings.Join(a.Capabilities, ", "))
		}
		fmt.Println()
	}
}

func fetchProviders(server string) {
	resp, err := http.Get(server + "/api/providers")
	if err != nil {
		printError("Failed to fetch providers: %v", err)
		return
	}
	defer resp.Body.Close()

	var profiles []struct {
		ID                string  `json:"id"`
		Model             string  `json:"model"`
		InputCostPerMTok  float64 `json:"input_cost_per_mtok"`
		OutputCostPerMTok float64 `json:"output_cost_per_mtok"`
		AvgResponseTimeMs int64   `json:"avg_response_time_ms"`
		Reliability       float64 `json:"reliability"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&profiles); err != nil {
		printError("Failed to parse providers: %v", err)
		return
	}
	fmt.Println("Providers:")
	for _, p := range profiles {
		fmt.Printf("  %-10s %-26s $%.2f/$%.2f per MTok  %dms  %.0f%%\n",
			p.ID, p.Model, p.InputCostPerMTok, p.OutputCostPerMTok,
			p.AvgResponseTimeMs, p.Reliability*100)
	}
}

func fetchMetrics(server string) {
	resp, err := http.Get(server + "/api/metrics")
	if err != nil {
		printError("Failed to fetch metrics: %v", err)
		return
	}
	defer resp.Body.Close()

	var m struct {
		Usage struct {
			TotalRequests int     `json:"total_requests"`
			TotalCostUSD  float64 `json:"total_cost_usd"`
			TotalTokens   int     `json:"total_tokens"`
			CacheHits     int     `json:"cache_hits"`
		} `json:"usage"`
		Cache struct {
			Entries  int     `json:"entries"`
			HitRate  float64 `json:"hit_rate"`
			SavedUSD float64 `json:"saved_usd"`
		} `json:"cache"`
		Budgets []struct {
			Identifier string  `json:"identifier"`
			SpentUSD   float64 `json:"spent_usd"`
			BudgetUSD  float64 `json:"budget_usd"`
			Emergency  bool    `json:"emergency"`
		} `json:"budgets"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		printError("Failed to parse metrics: %v", err)
		return
	}
	fmt.Printf("Requests: %d  Cost: $%.4f  Tokens: %d  Cache hits: %d\n",
		m.Usage.TotalRequests, m.Usage.TotalCostUSD, m.Usage.TotalTokens, m.Usage.CacheHits)
	fmt.Printf("Cache: %d entries  %.0f%% hit rate  $%.4f saved\n",
		m.Cache.Entries, m.Cache.HitRate*100, m.Cache.SavedUSD)
	for _, b := range m.Budgets {
		id := b.Identifier
		if id == "" {
			id = "global"
		}
		line := fmt.Sprintf("Budget %s: $%.4f", id, b.SpentUSD)
		if b.BudgetUSD > 0 {
			line += fmt.Sprintf(" of $%.2f", b.BudgetUSD)
		}
		if b.Emergency {
			line += " \033[31m[EMERGENCY]\033[0m"
		}
		fmt.Println(line)
	}
}

func orchestrate(server, task, priority string) {
	if task == "" {
		printError("Usage: /task <description>")
		return
	}
	body, _ := json.Marshal(map[string]string{
		"task":     task,
		"priority": priority,
	})

	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Post(server+"/api/tasks", "application/json", bytes.NewReader(body))
	if err != nil {
		printError("Request failed: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		printError("Server error (%d): %s", resp.StatusCode, string(data))
		return
	}

	var report struct {
		PrimaryAgent string `json:"primary_agent"`
		Steps        []struct {
			Action     string  `json:"action"`
			Agent      string  `json:"agent"`
			Error      string  `json:"error,omitempty"`
			Partial    bool    `json:"partial,omitempty"`
			CostUSD    float64 `json:"cost_usd"`
			DurationMs int64   `json:"duration_ms"`
		} `json:"steps"`
		Succeeded       int      `json:"succeeded"`
		Partial         int      `json:"partial"`
		TotalCostUSD    float64  `json:"total_cost_usd"`
		ActualMs        int64    `json:"actual_ms"`
		Recommendations []string `json:"recommendations,omitempty"`
		NextSteps       []string `json:"next_steps,omitempty"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		printError("Failed to parse report: %v", err)
		return
	}

	fmt.Printf("\033[36m[%s]\033[0m %d succeeded, %d partial, $%.4f, %dms\n",
		report.PrimaryAgent, report.Succeeded, report.Partial,
		report.TotalCostUSD, report.ActualMs)
	for _, s := range report.Steps {
		icon := "\033[32m✓\033[0m"
		if s.Error != "" || s.Partial {
			icon = "\033[33m~\033[0m"
		}
		fmt.Printf("  %s %s (%s) $%.4f %dms", icon, s.Action, s.Agent, s.CostUSD, s.DurationMs)
		if s.Error != "" {
			fmt.Printf(" \033[31m%s\033[0m", s.Error)
		}
		fmt.Println()
	}
	for _, r := range report.Recommendations {
		fmt.Printf("  ! %s\n", r)
	}
	for _, n := range report.NextSteps {
		fmt.Printf("  → %s\n", n)
	}
}

func sendMessage(server, agent, prompt string) {
	body, _ := json.Marshal(map[string]string{
		"agent_id": agent,
		"prompt":   prompt,
	})

	client := &http.Client{Timeout: 65 * time.Second}
	resp, err := client.Post(server+"/api/messages", "application/json", bytes.NewReader(body))
	if err != nil {
		printError("Request failed: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		printError("Server error (%d): %s", resp.StatusCode, string(data))
		return
	}

	var result struct {
		Content   string  `json:"content"`
		Provider  string  `json:"provider"`
		FromCache bool    `json:"from_cache"`
		CostUSD   float64 `json:"cost_usd"`
		LatencyMs int64   `json:"latency_ms"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		printError("Failed to parse response: %v", err)
		return
	}

	tag := result.Provider
	if result.FromCache {
		tag += " cache"
	}
	fmt.Printf("\033[36m[%s]\033[0m %s\n", tag, result.Content)
	fmt.Printf("\033[90m$%.6f  %dms\033[0m\n", result.CostUSD, result.LatencyMs)
}

func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "\033[31m"+format+"\033[0m\n", args...)
}
