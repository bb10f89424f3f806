package mangle

import (
	"context"
	"time"

	"listenmode/internal/coordinator"
	"listenmode/internal/resolver"
)

// Journal writes coordinator outcomes into the engine as facts.
type Journal struct {
	engine *Engine
}

func NewJournal(e *Engine) *Journal {
	return &Journal{engine: e}
}

// Observe implements coordinator.Observer.
func (j *Journal) Observe(ctx context.Context, o coordinator.Outcome) {
	j.engine.Sink(ctx, OutcomeFacts(o)...)
}

// OutcomeFacts converts one cycle into journal facts.
func OutcomeFacts(o coordinator.Outcome) []Fact {
	ts := o.At
	if ts.IsZero() {
		ts = time.Now()
	}
	ms := ts.UnixMilli()

	facts := []Fact{{
		Predicate: "listen_decision",
		Args:      []interface{}{o.SessionID, o.Channel, o.Action, o.Reason, ms},
		Timestamp: ts,
	}}
	switch o.Resolution {
	case resolver.Resolved.String():
		facts = append(facts, Fact{
			Predicate: "channel_resolved",
			Args:      []interface{}{o.SessionID, o.Channel, int64(o.Attempts), ms},
			Timestamp: ts,
		})
	case resolver.TimedOut.String():
		facts = append(facts, Fact{
			Predicate: "channel_unresolved",
			Args:      []interface{}{o.SessionID, int64(o.Attempts), ms},
			Timestamp: ts,
		})
	}
	if o.Applied {
		facts = append(facts, Fact{
			Predicate: "mode_applied",
			Args:      []interface{}{o.SessionID, o.Action, o.Changed, ms},
			Timestamp: ts,
		})
	}
	return facts
}

// NavigationFact records a main-frame navigation.
func NavigationFact(sessionID, url string, ts time.Time) Fact {
	return Fact{
		Predicate: "navigation_event",
		Args:      []interface{}{sessionID, url, ts.UnixMilli()},
		Timestamp: ts,
	}
}

// Decisions returns listen_decision facts, optionally for one session, oldest first.
func (e *Engine) Decisions(sessionID string) []Fact {
	all := e.FactsByPredicate("listen_decision")
	if sessionID == "" {
		return all
	}
	out := make([]Fact, 0, len(all))
	for _, f := range all {
		if len(f.Args) > 0 && f.Args[0] == sessionID {
			out = append(out, f)
		}
	}
	return out
}
