package budget

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	// warnFraction marks a window as warned; state only, no downgrade.
	warnFraction = 0.80
	// emergencyFraction triggers the zero-cost downgrade for the window.
	emergencyFraction = 0.90
	// emergencyTTLMultiplier scales cache TTLs while an emergency is active.
	emergencyTTLMultiplier = 4.0

	// GlobalID is the identifier of the window every charge also lands in.
	GlobalID = ""
)

// window tracks one identifier's spend for one UTC day.
type window struct {
	spentUSD  float64
	warned    bool
	emergency bool
}

// WindowState is the externally visible form of a budget window.
type WindowState struct {
	Identifier string  `json:"identifier"`
	Date       string  `json:"date"`
	SpentUSD   float64 `json:"spent_usd"`
	BudgetUSD  float64 `json:"budget_usd"`
	Warned     bool    `json:"warned"`
	Emergency  bool    `json:"emergency"`
}

// Snapshot is the persisted form of the controller's state.
type Snapshot struct {
	Date    string             `json:"date"`
	Budgets map[string]float64 `json:"budgets"`
	Spent   map[string]float64 `json:"spent"`
}

// EmergencyFunc is invoked once per window when an identifier crosses the
// emergency threshold.
type EmergencyFunc func(identifier string, spentUSD, budgetUSD float64)

// ResetFunc is invoked when the daily window rolls over.
type ResetFunc func(date string)

// Controller tracks cumulative spend per identifier against daily budgets.
// Windows are keyed by UTC calendar day and reset lazily on access plus
// eagerly at midnight via cron, so an emergency never outlives its window.
type Controller struct {
	mu        sync.Mutex
	windows   map[string]*window
	budgets   map[string]float64
	resetDate string // YYYY-MM-DD of the current windows

	onEmergency []EmergencyFunc
	onReset     []ResetFunc

	cron   *cron.Cron
	now    func() time.Time
	logger *zap.Logger
}

// NewController creates a controller with empty windows for today.
func NewController(logger *zap.Logger) *Controller {
	c := &Controller{
		windows: make(map[string]*window),
		budgets: make(map[string]float64),
		now:     time.Now,
		logger:  logger,
	}
	c.resetDate = c.today()
	return c
}

func (c *Controller) today() string {
	return c.now().UTC().Format("2006-01-02")
}

// resetIfNewDayLocked rolls the windows when the UTC date has changed.
// Returns the fired reset callbacks for invocation outside the lock.
func (c *Controller) resetIfNewDayLocked() []func() {
	d := c.today()
	if d == c.resetDate {
		return nil
	}
	c.windows = make(map[string]*window)
	c.resetDate = d
	c.logger.Info("budget windows reset", zap.String("date", d))

	fires := make([]func(), 0, len(c.onReset))
	for _, fn := range c.onReset {
		fn := fn
		fires = append(fires, func() { fn(d) })
	}
	return fires
}

func (c *Controller) windowLocked(id string) *window {
	w, ok := c.windows[id]
	if !ok {
		w = &window{}
		c.windows[id] = w
	}
	return w
}

// evaluateLocked checks a window against its budget, flipping warned and
// emergency state exactly once per window. Returns emergency callbacks to
// fire outside the lock.
func (c *Controller) evaluateLocked(id string, w *window) []func() {
	b := c.budgets[id]
	if b <= 0 {
		return nil
	}
	if !w.emergency && w.spentUSD >= emergencyFraction*b {
		w.emergency = true
		w.warned = true
		c.logger.Warn("budget emergency: downgrading to zero-cost provider",
			zap.String("identifier", id),
			zap.Float64("spent_usd", w.spentUSD),
			zap.Float64("budget_usd", b))
		spent := w.spentUSD
		fires := make([]func(), 0, len(c.onEmergency))
		for _, fn := range c.onEmergency {
			fn := fn
			fires = append(fires, func() { fn(id, spent, b) })
		}
		return fires
	}
	if !w.warned && w.spentUSD >= warnFraction*b {
		w.warned = true
		c.logger.Warn("budget warning threshold crossed",
			zap.String("identifier", id),
			zap.Float64("spent_usd", w.spentUSD),
			zap.Float64("budget_usd", b))
	}
	return nil
}

// SetDailyBudget sets an identifier's daily budget in USD; 0 disables
// enforcement. The current window is re-evaluated immediately.
func (c *Controller) SetDailyBudget(id string, usd float64) {
	c.mu.Lock()
	fires := c.resetIfNewDayLocked()
	if usd <= 0 {
		delete(c.budgets, id)
	} else {
		c.budgets[id] = usd
		fires = append(fires, c.evaluateLocked(id, c.windowLocked(id))...)
	}
	c.mu.Unlock()

	for _, fire := range fires {
		fire()
	}
	c.logger.Info("daily budget set",
		zap.String("identifier", id), zap.Float64("budget_usd", usd))
}

// DailyBudget returns an identifier's configured daily budget (0 = none).
func (c *Controller) DailyBudget(id string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.budgets[id]
}

// Charge adds spend to an identifier's window and to the global window,
// evaluating both against their budgets. Spend never decreases; negative
// costs are ignored.
func (c *Controller) Charge(id string, costUSD float64) {
	if costUSD <= 0 {
		return
	}
	c.mu.Lock()
	fires := c.resetIfNewDayLocked()

	w := c.windowLocked(id)
	w.spentUSD += costUSD
	fires = append(fires, c.evaluateLocked(id, w)...)

	if id != GlobalID {
		g := c.windowLocked(GlobalID)
		g.spentUSD += costUSD
		fires = append(fires, c.evaluateLocked(GlobalID, g)...)
	}
	c.mu.Unlock()

	for _, fire := range fires {
		fire()
	}
}

// Spend returns the identifier's cumulative spend in the current window.
func (c *Controller) Spend(id string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discardResetLocked()
	if w, ok := c.windows[id]; ok {
		return w.spentUSD
	}
	return 0
}

// Emergency reports whether the identifier is downgraded, either by its
// own window or by the global one.
func (c *Controller) Emergency(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discardResetLocked()
	if w, ok := c.windows[id]; ok && w.emergency {
		return true
	}
	if g, ok := c.windows[GlobalID]; ok && g.emergency {
		return true
	}
	return false
}

// Multiplier returns the cache TTL multiplier in effect for an identifier:
// emergencyTTLMultiplier while downgraded, 1 otherwise.
func (c *Controller) Multiplier(id string) float64 {
	if c.Emergency(id) {
		return emergencyTTLMultiplier
	}
	return 1
}

// discardResetLocked discards stale windows on read paths. resetDate is
// left untouched so the next write still detects the rollover and fires
// the reset callbacks.
func (c *Controller) discardResetLocked() {
	if c.today() == c.resetDate {
		return
	}
	c.windows = make(map[string]*window)
}

// OnEmergency registers a callback fired once per window per identifier
// when the emergency threshold is crossed.
func (c *Controller) OnEmergency(fn EmergencyFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEmergency = append(c.onEmergency, fn)
}

// OnReset registers a callback fired when the daily window rolls over.
func (c *Controller) OnReset(fn ResetFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReset = append(c.onReset, fn)
}

// Windows returns the visible state of every window in the current day.
func (c *Controller) Windows() []WindowState {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discardResetLocked()

	out := make([]WindowState, 0, len(c.windows))
	for id, w := range c.windows {
		out = append(out, WindowState{
			Identifier: id,
			Date:       c.resetDate,
			SpentUSD:   w.spentUSD,
			BudgetUSD:  c.budgets[id],
			Warned:     w.warned,
			Emergency:  w.emergency,
		})
	}
	return out
}

// ForceReset rolls the windows immediately regardless of date, firing
// reset callbacks. Used by the midnight cron job.
func (c *Controller) ForceReset() {
	c.mu.Lock()
	d := c.today()
	c.windows = make(map[string]*window)
	c.resetDate = d
	fires := make([]func(), 0, len(c.onReset))
	for _, fn := range c.onReset {
		fn := fn
		fires = append(fires, func() { fn(d) })
	}
	c.mu.Unlock()

	c.logger.Info("budget windows force-reset", zap.String("date", d))
	for _, fire := range fires {
		fire()
	}
}

// StartCron schedules the midnight UTC window reset. Call Stop to halt it.
func (c *Controller) StartCron() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cron != nil {
		return nil
	}
	c.cron = cron.New(cron.WithLocation(time.UTC))
	if _, err := c.cron.AddFunc("0 0 * * *", c.ForceReset); err != nil {
		c.cron = nil
		return err
	}
	c.cron.Start()
	return nil
}

// Stop halts the cron job and waits for a running reset to finish.
func (c *Controller) Stop() {
	c.mu.Lock()
	cr := c.cron
	c.cron = nil
	c.mu.Unlock()
	if cr != nil {
		<-cr.Stop().Done()
	}
}

// Snapshot captures budgets and the current day's spend for persistence.
func (c *Controller) Snapshot() *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discardResetLocked()

	snap := &Snapshot{
		Date:    c.resetDate,
		Budgets: make(map[string]float64, len(c.budgets)),
		Spent:   make(map[string]float64, len(c.windows)),
	}
	for id, b := range c.budgets {
		snap.Budgets[id] = b
	}
	for id, w := range c.windows {
		snap.Spent[id] = w.spentUSD
	}
	return snap
}

// Restore loads a snapshot. Budgets always apply; spend applies only when
// the snapshot's date is still the current UTC day, and thresholds are
// re-evaluated so a restored emergency re-arms its downgrade.
func (c *Controller) Restore(snap *Snapshot) {
	if snap == nil {
		return
	}
	c.mu.Lock()
	for id, b := range snap.Budgets {
		if b > 0 {
			c.budgets[id] = b
		}
	}
	var fires []func()
	if snap.Date == c.today() {
		for id, spent := range snap.Spent {
			w := c.windowLocked(id)
			w.spentUSD = spent
			fires = append(fires, c.evaluateLocked(id, w)...)
		}
	}
	c.mu.Unlock()

	for _, fire := range fires {
		fire()
	}
}
