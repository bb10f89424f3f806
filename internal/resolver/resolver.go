// Package resolver polls the page for the channel that owns the current video.
package resolver

import (
	"context"
	"strings"
	"sync"
	"time"

	"listenmode/internal/clock"
	"listenmode/internal/decision"
)

const (
	DefaultInterval    = 500 * time.Millisecond
	DefaultMaxAttempts = 20
)

// Probe reads the channel name from the page. An empty string or an error
// means the name is not there yet.
type Probe interface {
	ChannelName(ctx context.Context) (string, error)
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc func(ctx context.Context) (string, error)

func (f ProbeFunc) ChannelName(ctx context.Context) (string, error) { return f(ctx) }

// State is the lifecycle position of a Run.
type State int

const (
	Idle State = iota
	Polling
	Resolved
	TimedOut
	Cancelled
)

func (s State) String() string {
	switch s {
	case Polling:
		return "polling"
	case Resolved:
		return "resolved"
	case TimedOut:
		return "timed_out"
	case Cancelled:
		return "cancelled"
	default:
		return "idle"
	}
}

// Result is delivered once when a run settles.
type Result struct {
	Channel  decision.Channel
	Attempts int
	State    State
	Elapsed  time.Duration
}

// Resolver starts polling runs with a fixed interval and attempt bound.
type Resolver struct {
	clock       clock.Clock
	probe       Probe
	interval    time.Duration
	maxAttempts int
}

// New builds a Resolver. Non-positive interval or attempts fall back to the defaults.
func New(c clock.Clock, probe Probe, interval time.Duration, maxAttempts int) *Resolver {
	if c == nil {
		c = clock.System{}
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Resolver{clock: c, probe: probe, interval: interval, maxAttempts: maxAttempts}
}

func (r *Resolver) Interval() time.Duration { return r.interval }
func (r *Resolver) MaxAttempts() int        { return r.maxAttempts }

// Run is one polling attempt sequence. A Run delivers at most one Result; a
// run cancelled while polling delivers none, even if a probe was in flight.
type Run struct {
	r       *Resolver
	ctx     context.Context
	cancel  context.CancelFunc
	done    func(Result)
	started time.Time

	mu       sync.Mutex
	state    State
	attempts int
	timer    clock.Timer
}

// Start begins a run. The first read happens synchronously before Start
// returns; done may therefore be called from inside Start.
func (r *Resolver) Start(ctx context.Context, done func(Result)) *Run {
	runCtx, cancel := context.WithCancel(ctx)
	run := &Run{
		r:       r,
		ctx:     runCtx,
		cancel:  cancel,
		done:    done,
		started: r.clock.Now(),
		state:   Polling,
	}
	run.attempt()
	return run
}

// State returns the current state.
func (run *Run) State() State {
	run.mu.Lock()
	defer run.mu.Unlock()
	return run.state
}

// Attempts returns how many reads have completed.
func (run *Run) Attempts() int {
	run.mu.Lock()
	defer run.mu.Unlock()
	return run.attempts
}

// Cancel stops pending retries. It is safe to call more than once and on
// runs that already settled.
func (run *Run) Cancel() {
	run.mu.Lock()
	if run.state != Polling {
		run.mu.Unlock()
		return
	}
	run.state = Cancelled
	if run.timer != nil {
		run.timer.Stop()
		run.timer = nil
	}
	run.mu.Unlock()
	run.cancel()
}

func (run *Run) attempt() {
	run.mu.Lock()
	if run.state != Polling {
		run.mu.Unlock()
		return
	}
	run.timer = nil
	run.mu.Unlock()

	name, err := run.r.probe.ChannelName(run.ctx)
	if err != nil {
		name = ""
	}
	name = strings.TrimSpace(name)

	run.mu.Lock()
	if run.state != Polling {
		// Cancelled while the probe was running.
		run.mu.Unlock()
		return
	}
	run.attempts++
	switch {
	case name != "":
		run.state = Resolved
	case run.attempts >= run.r.maxAttempts:
		run.state = TimedOut
	default:
		run.timer = run.r.clock.AfterFunc(run.r.interval, run.attempt)
		run.mu.Unlock()
		return
	}
	res := Result{
		Channel:  decision.Known(name),
		Attempts: run.attempts,
		State:    run.state,
		Elapsed:  run.r.clock.Now().Sub(run.started),
	}
	run.mu.Unlock()
	run.cancel()

	if run.done != nil {
		run.done(res)
	}
}
