package budget

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestController(t *testing.T) *Controller {
	t.Helper()
	c := NewController(zap.NewNop())
	c.now = func() time.Time {
		return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	}
	c.resetDate = c.today()
	return c
}

func TestChargeAccumulatesPerIdentifierAndGlobal(t *testing.T) {
	c := newTestController(t)

	c.Charge("agent-a", 0.50)
	c.Charge("agent-a", 0.25)
	c.Charge("agent-b", 1.00)

	if got := c.Spend("agent-a"); got != 0.75 {
		t.Fatalf("agent-a spend = %v, want 0.75", got)
	}
	if got := c.Spend("agent-b"); got != 1.00 {
		t.Fatalf("agent-b spend = %v, want 1.00", got)
	}
	if got := c.Spend(GlobalID); got != 1.75 {
		t.Fatalf("global spend = %v, want 1.75", got)
	}
}

func TestNegativeChargeIgnored(t *testing.T) {
	c := newTestController(t)
	c.Charge("agent-a", -1.0)
	c.Charge("agent-a", 0)
	if got := c.Spend("agent-a"); got != 0 {
		t.Fatalf("spend = %v, want 0", got)
	}
}

func TestEmergencyThreshold(t *testing.T) {
	c := newTestController(t)
	c.SetDailyBudget("agent-a", 5.00)

	var mu sync.Mutex
	var fired []string
	c.OnEmergency(func(id string, spent, budget float64) {
		mu.Lock()
		fired = append(fired, id)
		mu.Unlock()
		if budget != 5.00 {
			t.Errorf("callback budget = %v, want 5.00", budget)
		}
	})

	c.Charge("agent-a", 4.00)
	if c.Emergency("agent-a") {
		t.Fatal("emergency at 80% of budget, want none")
	}
	if got := c.Multiplier("agent-a"); got != 1 {
		t.Fatalf("multiplier = %v, want 1", got)
	}

	// 4.60 of 5.00 is 92%, past the 90% line.
	c.Charge("agent-a", 0.60)
	if !c.Emergency("agent-a") {
		t.Fatal("no emergency at 92% of budget")
	}
	if got := c.Multiplier("agent-a"); got != 4 {
		t.Fatalf("multiplier = %v, want 4", got)
	}

	// Further charges must not re-fire the callback.
	c.Charge("agent-a", 1.00)
	c.Charge("agent-a", 1.00)

	mu.Lock()
	defer mu.Unlock()
	if len(fired) != 1 || fired[0] != "agent-a" {
		t.Fatalf("emergency callbacks = %v, want exactly one for agent-a", fired)
	}
}

func TestWarningStateDoesNotDowngrade(t *testing.T) {
	c := newTestController(t)
	c.SetDailyBudget("agent-a", 10.00)

	c.Charge("agent-a", 8.50) // 85%: warned, not emergency
	if c.Emergency("agent-a") {
		t.Fatal("warning level must not downgrade")
	}

	ws := c.Windows()
	var found bool
	for _, w := range ws {
		if w.Identifier == "agent-a" {
			found = true
			if !w.Warned || w.Emergency {
				t.Fatalf("window state = %+v, want warned without emergency", w)
			}
		}
	}
	if !found {
		t.Fatal("agent-a window missing from Windows()")
	}
}

func TestGlobalEmergencyDowngradesEveryIdentifier(t *testing.T) {
	c := newTestController(t)
	c.SetDailyBudget(GlobalID, 2.00)

	c.Charge("agent-a", 1.00)
	c.Charge("agent-b", 0.90)

	if !c.Emergency(GlobalID) {
		t.Fatal("global window should be in emergency at 95%")
	}
	if !c.Emergency("agent-a") || !c.Emergency("never-charged") {
		t.Fatal("global emergency must apply to every identifier")
	}
	if got := c.Multiplier("never-charged"); got != 4 {
		t.Fatalf("multiplier = %v, want 4 under global emergency", got)
	}
}

func TestNoBudgetNoEmergency(t *testing.T) {
	c := newTestController(t)
	c.Charge("agent-a", 1000)
	if c.Emergency("agent-a") {
		t.Fatal("emergency without a configured budget")
	}
}

func TestSetDailyBudgetReevaluatesWindow(t *testing.T) {
	c := newTestController(t)
	c.Charge("agent-a", 3.00)

	var fired int
	c.OnEmergency(func(string, float64, float64) { fired++ })

	// Budget set below existing spend flips emergency immediately.
	c.SetDailyBudget("agent-a", 3.00)
	if !c.Emergency("agent-a") {
		t.Fatal("emergency expected after budget set at spend level")
	}
	if fired != 1 {
		t.Fatalf("emergency callbacks = %d, want 1", fired)
	}
}

func TestSetDailyBudgetZeroDisables(t *testing.T) {
	c := newTestController(t)
	c.SetDailyBudget("agent-a", 1.00)
	c.SetDailyBudget("agent-a", 0)
	c.Charge("agent-a", 50)
	if c.Emergency("agent-a") {
		t.Fatal("budget of 0 must disable enforcement")
	}
	if got := c.DailyBudget("agent-a"); got != 0 {
		t.Fatalf("daily budget = %v, want 0", got)
	}
}

func TestDayRolloverClearsWindows(t *testing.T) {
	c := newTestController(t)
	day := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return day }
	c.resetDate = c.today()

	c.SetDailyBudget("agent-a", 1.00)
	c.Charge("agent-a", 0.95)
	if !c.Emergency("agent-a") {
		t.Fatal("expected emergency before rollover")
	}

	var resetDates []string
	c.OnReset(func(d string) { resetDates = append(resetDates, d) })

	day = day.Add(24 * time.Hour)

	if got := c.Spend("agent-a"); got != 0 {
		t.Fatalf("spend after rollover = %v, want 0", got)
	}
	if c.Emergency("agent-a") {
		t.Fatal("emergency must not survive the window")
	}

	// Write path fires the reset callbacks.
	c.Charge("agent-a", 0.10)
	if len(resetDates) != 1 || resetDates[0] != "2025-03-11" {
		t.Fatalf("reset callbacks = %v, want [2025-03-11]", resetDates)
	}
	if got := c.Spend("agent-a"); got != 0.10 {
		t.Fatalf("spend in new window = %v, want 0.10", got)
	}
	if got := c.DailyBudget("agent-a"); got != 1.00 {
		t.Fatal("budgets must survive the rollover")
	}
}

func TestForceResetFiresCallbacks(t *testing.T) {
	c := newTestController(t)
	c.SetDailyBudget("agent-a", 1.00)
	c.Charge("agent-a", 0.95)

	var fired int
	c.OnReset(func(string) { fired++ })

	c.ForceReset()
	if fired != 1 {
		t.Fatalf("reset callbacks = %d, want 1", fired)
	}
	if c.Emergency("agent-a") || c.Spend("agent-a") != 0 {
		t.Fatal("force reset must clear spend and emergency state")
	}
}

func TestSnapshotRestoreSameDay(t *testing.T) {
	c := newTestController(t)
	c.SetDailyBudget("agent-a", 5.00)
	c.Charge("agent-a", 4.60)

	snap := c.Snapshot()
	if snap.Date != "2025-03-10" {
		t.Fatalf("snapshot date = %q, want 2025-03-10", snap.Date)
	}

	fresh := newTestController(t)
	var fired int
	fresh.OnEmergency(func(string, float64, float64) { fired++ })
	fresh.Restore(snap)

	if got := fresh.Spend("agent-a"); got != 4.60 {
		t.Fatalf("restored spend = %v, want 4.60", got)
	}
	if !fresh.Emergency("agent-a") {
		t.Fatal("restore must re-arm the emergency downgrade")
	}
	if fired != 1 {
		t.Fatalf("emergency callbacks on restore = %d, want 1", fired)
	}
}

func TestRestoreStaleDateKeepsBudgetsDropsSpend(t *testing.T) {
	snap := &Snapshot{
		Date:    "2025-03-09",
		Budgets: map[string]float64{"agent-a": 5.00},
		Spent:   map[string]float64{"agent-a": 4.99},
	}

	c := newTestController(t)
	c.Restore(snap)

	if got := c.Spend("agent-a"); got != 0 {
		t.Fatalf("stale spend restored: %v, want 0", got)
	}
	if got := c.DailyBudget("agent-a"); got != 5.00 {
		t.Fatalf("budget = %v, want 5.00", got)
	}
	if c.Emergency("agent-a") {
		t.Fatal("stale snapshot must not trigger emergency")
	}
}

func TestConcurrentCharges(t *testing.T) {
	c := newTestController(t)
	c.SetDailyBudget("agent-a", 1000)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				c.Charge("agent-a", 0.01)
			}
		}()
	}
	wg.Wait()

	got := c.Spend("agent-a")
	if got < 9.99 || got > 10.01 {
		t.Fatalf("concurrent spend = %v, want ~10.00", got)
	}
}
