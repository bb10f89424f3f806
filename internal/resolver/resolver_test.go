package resolver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"listenmode/internal/clock"
)

// scriptedProbe returns values[i] on the i-th read and "" afterwards.
type scriptedProbe struct {
	mu     sync.Mutex
	values []string
	errs   map[int]error
	reads  int
	hook   func(read int)
}

func (p *scriptedProbe) ChannelName(context.Context) (string, error) {
	p.mu.Lock()
	read := p.reads
	p.reads++
	hook := p.hook
	p.mu.Unlock()

	if hook != nil {
		hook(read)
	}
	if err := p.errs[read]; err != nil {
		return "", err
	}
	if read < len(p.values) {
		return p.values[read], nil
	}
	return "", nil
}

func (p *scriptedProbe) Reads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reads
}

func newManual() *clock.Manual { return clock.NewManual(time.Unix(1700000000, 0)) }

func TestResolveImmediately(t *testing.T) {
	c := newManual()
	probe := &scriptedProbe{values: []string{"  Lofi Girl  "}}
	r := New(c, probe, 500*time.Millisecond, 20)

	var got []Result
	run := r.Start(context.Background(), func(res Result) { got = append(got, res) })

	if len(got) != 1 {
		t.Fatalf("expected synchronous result, got %d", len(got))
	}
	if got[0].State != Resolved || got[0].Channel.Name() != "Lofi Girl" || got[0].Attempts != 1 {
		t.Errorf("unexpected result: %+v", got[0])
	}
	if run.State() != Resolved {
		t.Errorf("expected run state resolved, got %s", run.State())
	}
	if c.Pending() != 0 {
		t.Errorf("expected no pending timers, got %d", c.Pending())
	}
}

func TestResolveAfterRetries(t *testing.T) {
	c := newManual()
	probe := &scriptedProbe{values: []string{"", "", "", "Channel"}}
	r := New(c, probe, 500*time.Millisecond, 20)

	var got []Result
	r.Start(context.Background(), func(res Result) { got = append(got, res) })

	c.Advance(1000 * time.Millisecond)
	if len(got) != 0 {
		t.Fatalf("resolved too early after %d reads", probe.Reads())
	}
	c.Advance(500 * time.Millisecond)
	if len(got) != 1 {
		t.Fatalf("expected one result, got %d", len(got))
	}
	if got[0].Attempts != 4 || got[0].Elapsed != 1500*time.Millisecond {
		t.Errorf("expected 4 attempts over 1.5s, got %+v", got[0])
	}
	c.Advance(10 * time.Second)
	if probe.Reads() != 4 {
		t.Errorf("expected polling to stop at 4 reads, got %d", probe.Reads())
	}
}

func TestTimesOutToUnknown(t *testing.T) {
	c := newManual()
	probe := &scriptedProbe{}
	r := New(c, probe, 500*time.Millisecond, 20)

	var got []Result
	r.Start(context.Background(), func(res Result) { got = append(got, res) })

	c.Advance(9400 * time.Millisecond)
	if len(got) != 0 {
		t.Fatal("timed out before the last attempt")
	}
	c.Advance(100 * time.Millisecond)
	if len(got) != 1 {
		t.Fatalf("expected timeout result, got %d results", len(got))
	}
	res := got[0]
	if res.State != TimedOut || res.Channel.Resolved() || res.Attempts != 20 {
		t.Errorf("unexpected result: %+v", res)
	}
	c.Advance(time.Minute)
	if probe.Reads() != 20 || len(got) != 1 {
		t.Errorf("expected exactly 20 reads and one result, got %d reads, %d results", probe.Reads(), len(got))
	}
}

func TestProbeErrorsCountAsAbsent(t *testing.T) {
	c := newManual()
	probe := &scriptedProbe{
		values: []string{"", "", "Found"},
		errs:   map[int]error{0: errors.New("execution context destroyed"), 1: errors.New("boom")},
	}
	r := New(c, probe, 100*time.Millisecond, 5)

	var got []Result
	r.Start(context.Background(), func(res Result) { got = append(got, res) })
	c.Advance(200 * time.Millisecond)

	if len(got) != 1 || got[0].Channel.Name() != "Found" || got[0].Attempts != 3 {
		t.Errorf("unexpected results: %+v", got)
	}
}

func TestCancelBeforeFirstRetry(t *testing.T) {
	c := newManual()
	probe := &scriptedProbe{values: []string{"", "Late"}}
	r := New(c, probe, 500*time.Millisecond, 20)

	called := false
	run := r.Start(context.Background(), func(Result) { called = true })
	run.Cancel()

	if run.State() != Cancelled {
		t.Errorf("expected cancelled state, got %s", run.State())
	}
	if c.Pending() != 0 {
		t.Errorf("expected no pending timers after cancel, got %d", c.Pending())
	}
	c.Advance(time.Minute)
	if called {
		t.Error("cancelled run invoked its callback")
	}
	if probe.Reads() != 1 {
		t.Errorf("expected no reads after cancel, got %d", probe.Reads())
	}
}

func TestCancelDuringProbe(t *testing.T) {
	c := newManual()
	probe := &scriptedProbe{values: []string{"", "Arrives"}}
	r := New(c, probe, 500*time.Millisecond, 20)

	called := false
	var run *Run
	probe.hook = func(read int) {
		if read == 1 {
			run.Cancel()
		}
	}
	run = r.Start(context.Background(), func(Result) { called = true })
	c.Advance(time.Second)

	if called {
		t.Error("run delivered a result after being cancelled mid-probe")
	}
	if run.State() != Cancelled {
		t.Errorf("expected cancelled state, got %s", run.State())
	}
}

func TestCancelIsIdempotentAfterSettle(t *testing.T) {
	c := newManual()
	r := New(c, &scriptedProbe{values: []string{"X"}}, 0, 0)

	count := 0
	run := r.Start(context.Background(), func(Result) { count++ })
	run.Cancel()
	run.Cancel()

	if count != 1 || run.State() != Resolved {
		t.Errorf("expected settled run untouched by cancel, got count=%d state=%s", count, run.State())
	}
}

func TestDefaults(t *testing.T) {
	r := New(nil, &scriptedProbe{}, 0, -1)
	if r.Interval() != DefaultInterval {
		t.Errorf("expected interval %v, got %v", DefaultInterval, r.Interval())
	}
	if r.MaxAttempts() != DefaultMaxAttempts {
		t.Errorf("expected %d attempts, got %d", DefaultMaxAttempts, r.MaxAttempts())
	}
}

func TestProbeFunc(t *testing.T) {
	c := newManual()
	r := New(c, ProbeFunc(func(context.Context) (string, error) { return "fn", nil }), time.Second, 1)
	var name string
	r.Start(context.Background(), func(res Result) { name = res.Channel.Name() })
	if name != "fn" {
		t.Errorf("expected 'fn', got %q", name)
	}
}
