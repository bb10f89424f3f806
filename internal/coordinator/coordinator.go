// Package coordinator turns bursts of page triggers into one listen-mode
// decision and applies it to the page.
package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"listenmode/internal/clock"
	"listenmode/internal/decision"
	"listenmode/internal/log"
	"listenmode/internal/resolver"
)

// DefaultDebounce collapses the cluster of events a single SPA navigation fires.
const DefaultDebounce = 250 * time.Millisecond

// ErrNoSurface is returned by a Toggle when the player is not on the page.
var ErrNoSurface = errors.New("listen mode surface not available")

// SettingsSource reads a fresh snapshot of the user settings.
type SettingsSource interface {
	Snapshot(ctx context.Context) (decision.Settings, error)
}

// Toggle owns the visual mode on the page.
type Toggle interface {
	IsActive(ctx context.Context) (bool, error)
	Apply(ctx context.Context, action decision.Action) error
}

// Observer receives every completed cycle.
type Observer interface {
	Observe(ctx context.Context, o Outcome)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, o Outcome)

func (f ObserverFunc) Observe(ctx context.Context, o Outcome) { f(ctx, o) }

// Outcome describes one finished decision cycle.
type Outcome struct {
	SessionID  string            `json:"session_id"`
	Trigger    string            `json:"trigger"`
	Decision   decision.Decision `json:"-"`
	Action     string            `json:"action"`
	Reason     string            `json:"reason"`
	Channel    string            `json:"channel,omitempty"`
	Resolution string            `json:"resolution"`
	Attempts   int               `json:"attempts"`
	Applied    bool              `json:"applied"`
	Changed    bool              `json:"changed"`
	Error      string            `json:"error,omitempty"`
	At         time.Time         `json:"at"`
}

// Options configures a Coordinator.
type Options struct {
	SessionID string
	Clock     clock.Clock
	Debounce  time.Duration
	Settings  SettingsSource
	Toggle    Toggle
	Resolver  *resolver.Resolver
	Observers []Observer
	Logger    log.Logger
}

// Coordinator owns at most one pending debounce timer and one resolver run.
type Coordinator struct {
	id        string
	clock     clock.Clock
	debounce  time.Duration
	settings  SettingsSource
	toggle    Toggle
	resolver  *resolver.Resolver
	observers []Observer
	logger    log.Logger

	mu         sync.Mutex
	triggerSeq uint64
	cycleSeq   uint64
	pending    clock.Timer
	inflight   *resolver.Run
	last       *Outcome
	closed     bool

	// serializes page mutations between overlapping cycles
	applyMu sync.Mutex
}

// New builds a Coordinator. Settings, Toggle and Resolver are required.
func New(opts Options) *Coordinator {
	c := &Coordinator{
		id:        opts.SessionID,
		clock:     opts.Clock,
		debounce:  opts.Debounce,
		settings:  opts.Settings,
		toggle:    opts.Toggle,
		resolver:  opts.Resolver,
		observers: opts.Observers,
		logger:    opts.Logger,
	}
	if c.clock == nil {
		c.clock = clock.System{}
	}
	if c.debounce <= 0 {
		c.debounce = DefaultDebounce
	}
	if c.logger == nil {
		c.logger = log.GetLogger()
	}
	return c
}

// OnTrigger schedules a decision cycle. Calls within the debounce window
// replace each other; only the last one runs.
func (c *Coordinator) OnTrigger(ctx context.Context, source string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.pending != nil {
		c.pending.Stop()
	}
	c.triggerSeq++
	seq := c.triggerSeq
	c.pending = c.clock.AfterFunc(c.debounce, func() {
		c.fire(ctx, seq, source)
	})
}

// Pending reports whether a debounce timer or resolver run is outstanding.
func (c *Coordinator) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending != nil || c.inflight != nil
}

// Last returns the most recent outcome.
func (c *Coordinator) Last() (Outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return Outcome{}, false
	}
	return *c.last, true
}

// Close drops the pending timer and cancels any in-flight resolution.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.clearLocked()
}

func (c *Coordinator) clearLocked() {
	if c.pending != nil {
		c.pending.Stop()
		c.pending = nil
	}
	if c.inflight != nil {
		c.inflight.Cancel()
		c.inflight = nil
	}
}

func (c *Coordinator) fire(ctx context.Context, seq uint64, source string) {
	c.mu.Lock()
	// A Stop that lost the race with the timer lands here with a stale seq.
	if c.closed || seq != c.triggerSeq {
		c.mu.Unlock()
		return
	}
	c.pending = nil
	if c.inflight != nil {
		c.inflight.Cancel()
		c.inflight = nil
	}
	c.cycleSeq++
	cycle := c.cycleSeq
	c.mu.Unlock()

	snap := c.snapshot(ctx)
	if snap.GlobalEnable {
		c.finish(ctx, cycle, source, snap, resolver.Result{Channel: decision.Unknown, State: resolver.Idle})
		return
	}

	run := c.resolver.Start(ctx, func(res resolver.Result) {
		c.finish(ctx, cycle, source, snap, res)
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if run.State() != resolver.Polling {
		return
	}
	if c.closed || cycle != c.cycleSeq {
		run.Cancel()
		return
	}
	c.inflight = run
}

func (c *Coordinator) snapshot(ctx context.Context) decision.Settings {
	snap, err := c.settings.Snapshot(ctx)
	if err != nil {
		c.logger.Warn(map[string]any{"session": c.id, "error": err.Error()}, "settings read failed; using defaults")
		return decision.Settings{}
	}
	return snap
}

func (c *Coordinator) finish(ctx context.Context, cycle uint64, source string, snap decision.Settings, res resolver.Result) {
	c.applyMu.Lock()
	defer c.applyMu.Unlock()

	c.mu.Lock()
	if c.closed || cycle != c.cycleSeq {
		c.mu.Unlock()
		return
	}
	c.inflight = nil
	c.mu.Unlock()

	d := decision.Decide(snap, res.Channel)
	out := Outcome{
		SessionID:  c.id,
		Trigger:    source,
		Decision:   d,
		Action:     d.Action.String(),
		Reason:     d.Reason.String(),
		Channel:    res.Channel.Name(),
		Resolution: res.State.String(),
		Attempts:   res.Attempts,
		At:         c.clock.Now(),
	}

	changed, err := c.apply(ctx, d.Action)
	switch {
	case errors.Is(err, ErrNoSurface):
		out.Error = err.Error()
		c.logger.Debug(map[string]any{"session": c.id, "action": out.Action}, "player not mounted; skipping apply")
	case err != nil:
		out.Error = err.Error()
		c.logger.Warn(map[string]any{"session": c.id, "action": out.Action, "error": out.Error}, "listen mode apply failed")
	default:
		out.Applied = true
		out.Changed = changed
		c.logger.Info(map[string]any{
			"session": c.id,
			"trigger": source,
			"action":  out.Action,
			"reason":  out.Reason,
			"channel": out.Channel,
			"changed": changed,
		}, "listen mode decision applied")
	}

	c.mu.Lock()
	c.last = &out
	c.mu.Unlock()

	for _, o := range c.observers {
		o.Observe(ctx, out)
	}
}

// apply moves the page to the target mode. It reports whether anything changed.
func (c *Coordinator) apply(ctx context.Context, action decision.Action) (bool, error) {
	active, err := c.toggle.IsActive(ctx)
	if err != nil {
		return false, err
	}
	if active == action.Active() {
		return false, nil
	}
	if err := c.toggle.Apply(ctx, action); err != nil {
		return false, err
	}
	return true, nil
}
