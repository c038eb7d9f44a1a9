package events

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Type identifies a kind of event on the bus.
type Type string

const (
	OrchestrationStarted Type = "orchestration.started"
	StepCompleted        Type = "step.completed"
	CostSavings          Type = "cost.savings"
	BudgetEmergency      Type = "budget.emergency"
	BudgetReset          Type = "budget.reset"
)

// Event is one published occurrence with a typed payload in Data.
type Event struct {
	Type Type      `json:"type"`
	At   time.Time `json:"at"`
	Data any       `json:"data,omitempty"`
}

// OrchestrationStartedData announces a plan about to execute.
type OrchestrationStartedData struct {
	PlanID   string   `json:"plan_id"`
	Task     string   `json:"task"`
	Primary  string   `json:"primary"`
	Agents   []string `json:"agents,omitempty"`
	Steps    int      `json:"steps"`
	Priority string   `json:"priority"`
}

// StepCompletedData reports one finished plan step.
type StepCompletedData struct {
	PlanID     string `json:"plan_id"`
	StepID     string `json:"step_id"`
	Action     string `json:"action"`
	Agent      string `json:"agent"`
	Status     string `json:"status"`
	Partial    bool   `json:"partial,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// CostSavingsData reports cost avoided by the cache or the optimizer.
type CostSavingsData struct {
	AgentID     string  `json:"agent_id,omitempty"`
	TaskType    string  `json:"task_type"`
	Source      string  `json:"source"` // "cache" or "optimizer"
	SavedUSD    float64 `json:"saved_usd"`
	TokensSaved int     `json:"tokens_saved,omitempty"`
}

// BudgetEventData reports a budget threshold crossing or window reset.
type BudgetEventData struct {
	Identifier string  `json:"identifier"`
	SpentUSD   float64 `json:"spent_usd"`
	BudgetUSD  float64 `json:"budget_usd"`
	WindowDate string  `json:"window_date"`
}

// Handler receives published events. Handlers run on the bus's dispatch
// goroutine and should not block.
type Handler func(Event)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus is an in-process typed pub/sub. Publishes are queued and delivered
// in order by a single dispatch goroutine; a full queue drops events
// rather than blocking publishers.
type Bus struct {
	mu      sync.RWMutex
	typed   map[Type][]subscription
	allSubs []subscription

	queue   chan Event
	dropped atomic.Uint64
	nextID  atomic.Uint64
	closed  atomic.Bool
	done    chan struct{}

	logger *zap.Logger
}

// NewBus creates a bus and starts its dispatcher. bufferSize <= 0 defaults
// to 256.
func NewBus(bufferSize int, logger *zap.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	b := &Bus{
		typed:  make(map[Type][]subscription),
		queue:  make(chan Event, bufferSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	go b.dispatch()
	return b
}

// Publish enqueues an event. When the queue is full the event is dropped
// and counted; publishers never block.
func (b *Bus) Publish(evt Event) {
	if b.closed.Load() {
		return
	}
	if evt.At.IsZero() {
		evt.At = time.Now()
	}
	select {
	case b.queue <- evt:
	default:
		count := b.dropped.Add(1)
		if count%10 == 1 {
			b.logger.Warn("event queue full, dropping",
				zap.String("type", string(evt.Type)),
				zap.Uint64("dropped_total", count))
		}
	}
}

// Subscribe registers a handler for one event type and returns an
// unsubscribe function.
func (b *Bus) Subscribe(t Type, h Handler) func() {
	id := b.nextID.Add(1)
	b.mu.Lock()
	b.typed[t] = append(b.typed[t], subscription{id: id, handler: h})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.typed[t]
		for i, s := range subs {
			if s.id == id {
				b.typed[t] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}
}

// SubscribeAll registers a handler for every event type and returns an
// unsubscribe function.
func (b *Bus) SubscribeAll(h Handler) func() {
	id := b.nextID.Add(1)
	b.mu.Lock()
	b.allSubs = append(b.allSubs, subscription{id: id, handler: h})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.allSubs {
			if s.id == id {
				b.allSubs = append(b.allSubs[:i], b.allSubs[i+1:]...)
				return
			}
		}
	}
}

// Dropped returns the number of events discarded because the queue was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close stops intake, drains queued events to subscribers, and waits for
// the dispatcher to exit. Idempotent.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	close(b.queue)
	<-b.done
}

func (b *Bus) dispatch() {
	defer close(b.done)
	for evt := range b.queue {
		b.mu.RLock()
		typed := make([]subscription, len(b.typed[evt.Type]))
		copy(typed, b.typed[evt.Type])
		all := make([]subscription, len(b.allSubs))
		copy(all, b.allSubs)
		b.mu.RUnlock()

		for _, sub := range typed {
			b.deliver(evt, sub)
		}
		for _, sub := range all {
			b.deliver(evt, sub)
		}
	}
}

// deliver invokes one handler, recovering panics so a bad subscriber
// cannot stall the dispatcher.
func (b *Bus) deliver(evt Event, sub subscription) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("type", string(evt.Type)),
				zap.Any("panic", r))
		}
	}()
	sub.handler(evt)
}
