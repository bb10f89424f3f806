package mangle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"listenmode/internal/config"
	"listenmode/internal/coordinator"
)

func newTestEngine(t *testing.T, limit int) *Engine {
	t.Helper()
	engine, err := NewEngine(config.MangleConfig{Enable: true, FactBufferLimit: limit})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return engine
}

func decisionFact(session, channel, action, reason string, ms int64) Fact {
	return Fact{
		Predicate: "listen_decision",
		Args:      []interface{}{session, channel, action, reason, ms},
		Timestamp: time.UnixMilli(ms),
	}
}

func TestEngineEmbeddedSchema(t *testing.T) {
	engine := newTestEngine(t, 100)
	if !engine.Ready() {
		t.Fatal("engine not ready after embedded schema load")
	}
}

func TestEngineLoadSchemaFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.mg")
	src := "Decl seen(Session).\nDecl listen_decision(Session, Channel, Action, Reason, TsMs).\nseen(S) :- listen_decision(S, _, _, _, _).\n"
	if err := os.WriteFile(path, []byte(src), 0644); err != nil {
		t.Fatalf("write schema: %v", err)
	}

	engine, err := NewEngine(config.MangleConfig{Enable: true, SchemaPath: path, FactBufferLimit: 10})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	ctx := context.Background()
	if err := engine.AddFacts(ctx, []Fact{decisionFact("s1", "", "disable", "no_channel", 1)}); err != nil {
		t.Fatalf("AddFacts failed: %v", err)
	}
	results, err := engine.Evaluate(ctx, "seen")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("expected 1 seen fact, got %d", len(results))
	}
}

func TestEngineMissingSchema(t *testing.T) {
	_, err := NewEngine(config.MangleConfig{Enable: true, SchemaPath: "/nonexistent/path/schema.mg"})
	if err == nil {
		t.Error("expected error for missing schema file")
	}
}

func TestEngineDerivedPredicates(t *testing.T) {
	engine := newTestEngine(t, 100)
	ctx := context.Background()

	facts := []Fact{
		decisionFact("s1", "Lofi Girl", "enable", "enable_list", 1000),
		decisionFact("s1", "Lofi Girl", "disable", "disable_list", 2000),
		decisionFact("s2", "", "enable", "global", 3000),
		decisionFact("s3", "Other", "disable", "default", 4000),
		{Predicate: "channel_unresolved", Args: []interface{}{"s4", int64(20), int64(5000)}, Timestamp: time.UnixMilli(5000)},
	}
	if err := engine.AddFacts(ctx, facts); err != nil {
		t.Fatalf("AddFacts failed: %v", err)
	}

	tests := []struct {
		predicate string
		want      int
	}{
		{"listen_enabled", 2},
		{"listen_disabled", 2},
		{"global_forced", 1},
		{"unresolved", 1},
		{"disable_overrides_enable", 1},
	}
	for _, tt := range tests {
		t.Run(tt.predicate, func(t *testing.T) {
			results, err := engine.Evaluate(ctx, tt.predicate)
			if err != nil {
				t.Fatalf("Evaluate failed: %v", err)
			}
			if len(results) != tt.want {
				t.Errorf("expected %d %s facts, got %d: %+v", tt.want, tt.predicate, len(results), results)
			}
		})
	}

	overrides, _ := engine.Evaluate(ctx, "disable_overrides_enable")
	if len(overrides) == 1 && overrides[0].Args[0] != "Lofi Girl" {
		t.Errorf("expected Lofi Girl, got %v", overrides[0].Args[0])
	}
}

func TestEngineEvaluateUnknownPredicate(t *testing.T) {
	engine := newTestEngine(t, 10)
	if _, err := engine.Evaluate(context.Background(), "no_such_thing"); err == nil {
		t.Error("expected error for undeclared predicate")
	}
}

func TestEngineQuery(t *testing.T) {
	engine := newTestEngine(t, 100)
	ctx := context.Background()
	_ = engine.AddFacts(ctx, []Fact{
		decisionFact("s1", "A", "enable", "enable_list", 1),
		decisionFact("s2", "B", "disable", "default", 2),
	})

	t.Run("variables bind", func(t *testing.T) {
		results, err := engine.Query(ctx, "listen_enabled(S, C)")
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if len(results) != 1 {
			t.Fatalf("expected 1 result, got %d", len(results))
		}
		if results[0]["S"] != "s1" || results[0]["C"] != "A" {
			t.Errorf("unexpected bindings %v", results[0])
		}
	})

	t.Run("constants filter", func(t *testing.T) {
		results, err := engine.Query(ctx, `listen_decision(S, "B", Action, _, _).`)
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if len(results) != 1 || results[0]["Action"] != "disable" {
			t.Errorf("unexpected results %v", results)
		}
		if _, ok := results[0]["_"]; ok {
			t.Error("wildcards should not bind")
		}
	})

	t.Run("parse error", func(t *testing.T) {
		if _, err := engine.Query(ctx, "listen_enabled(("); err == nil {
			t.Error("expected parse error")
		}
	})
}

func TestEngineBufferTrim(t *testing.T) {
	engine := newTestEngine(t, 3)
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		reason := "default"
		action := "disable"
		if i == 1 {
			action, reason = "enable", "global"
		}
		if err := engine.AddFacts(ctx, []Fact{decisionFact("s1", "", action, reason, i)}); err != nil {
			t.Fatalf("AddFacts failed: %v", err)
		}
	}

	if n := len(engine.Facts()); n != 3 {
		t.Errorf("expected buffer trimmed to 3, got %d", n)
	}
	if n := len(engine.FactsByPredicate("listen_decision")); n != 3 {
		t.Errorf("expected index rebuilt with 3 entries, got %d", n)
	}
	forced, err := engine.Evaluate(ctx, "global_forced")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(forced) != 0 {
		t.Errorf("derived facts from trimmed entries should be gone, got %d", len(forced))
	}
}

func TestEngineQueryTemporal(t *testing.T) {
	engine := newTestEngine(t, 100)
	ctx := context.Background()
	base := time.Now()

	_ = engine.AddFacts(ctx, []Fact{
		{Predicate: "navigation_event", Args: []interface{}{"s1", "/a", int64(1)}, Timestamp: base.Add(-2 * time.Minute)},
		{Predicate: "navigation_event", Args: []interface{}{"s1", "/b", int64(2)}, Timestamp: base},
	})

	recent := engine.QueryTemporal("navigation_event", base.Add(-time.Minute), time.Time{})
	if len(recent) != 1 || recent[0].Args[1] != "/b" {
		t.Errorf("expected only /b, got %+v", recent)
	}
	all := engine.QueryTemporal("navigation_event", time.Time{}, time.Time{})
	if len(all) != 2 {
		t.Errorf("expected 2 total events, got %d", len(all))
	}
}

func TestEngineAddRule(t *testing.T) {
	engine := newTestEngine(t, 100)
	ctx := context.Background()
	_ = engine.AddFacts(ctx, []Fact{
		{Predicate: "channel_resolved", Args: []interface{}{"s1", "Slow", int64(12), int64(1)}, Timestamp: time.Now()},
		{Predicate: "channel_resolved", Args: []interface{}{"s2", "Fast", int64(1), int64(2)}, Timestamp: time.Now()},
	})

	rule := `
Decl slow_resolution(Session, Channel).
slow_resolution(S, C) :- channel_resolved(S, C, N, _), N > 10.
`
	if err := engine.AddRule(rule); err != nil {
		t.Fatalf("AddRule failed: %v", err)
	}

	results, err := engine.Evaluate(ctx, "slow_resolution")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(results) != 1 || results[0].Args[1] != "Slow" {
		t.Errorf("expected Slow only, got %+v", results)
	}

	if err := engine.AddRule("broken(X) :- "); err == nil {
		t.Error("expected error for malformed rule")
	}
	// the broken rule must not poison the program
	if _, err := engine.Evaluate(ctx, "listen_enabled"); err != nil {
		t.Errorf("program should still evaluate: %v", err)
	}
}

func TestEngineDisabled(t *testing.T) {
	engine, err := NewEngine(config.MangleConfig{Enable: false, FactBufferLimit: 1000})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	ctx := context.Background()
	if err := engine.AddFacts(ctx, []Fact{{Predicate: "test", Args: []interface{}{"arg"}}}); err != nil {
		t.Errorf("AddFacts should succeed when disabled: %v", err)
	}
	if len(engine.Facts()) != 0 {
		t.Error("disabled engine should not buffer facts")
	}
	if !engine.Ready() {
		t.Error("engine should be ready when disabled")
	}
	if _, err := engine.Query(ctx, "listen_enabled(S, C)"); !errors.Is(err, ErrNotReady) {
		t.Errorf("expected ErrNotReady, got %v", err)
	}
	if err := engine.AddRule("some rule"); err != nil {
		t.Errorf("AddRule should succeed when disabled: %v", err)
	}
}

func TestJournalObserve(t *testing.T) {
	engine := newTestEngine(t, 100)
	j := NewJournal(engine)
	ctx := context.Background()
	at := time.UnixMilli(1700000000000)

	j.Observe(ctx, coordinator.Outcome{
		SessionID: "s1", Channel: "Lofi Girl", Action: "enable", Reason: "enable_list",
		Resolution: "resolved", Attempts: 4, Applied: true, Changed: true, At: at,
	})
	j.Observe(ctx, coordinator.Outcome{
		SessionID: "s2", Action: "disable", Reason: "no_channel",
		Resolution: "timed_out", Attempts: 20, Error: "listen mode surface not available", At: at,
	})

	if n := len(engine.FactsByPredicate("listen_decision")); n != 2 {
		t.Errorf("expected 2 decisions, got %d", n)
	}
	resolved := engine.FactsByPredicate("channel_resolved")
	if len(resolved) != 1 || resolved[0].Args[2] != int64(4) {
		t.Errorf("unexpected channel_resolved %+v", resolved)
	}
	if n := len(engine.FactsByPredicate("channel_unresolved")); n != 1 {
		t.Errorf("expected 1 unresolved, got %d", n)
	}
	applied := engine.FactsByPredicate("mode_applied")
	if len(applied) != 1 || applied[0].Args[2] != true {
		t.Errorf("expected one applied change, got %+v", applied)
	}

	if got := engine.Decisions("s2"); len(got) != 1 || got[0].Args[3] != "no_channel" {
		t.Errorf("unexpected decisions for s2: %+v", got)
	}
	if got := engine.Decisions(""); len(got) != 2 {
		t.Errorf("expected all decisions, got %d", len(got))
	}

	unresolved, err := engine.Query(ctx, "unresolved(S)")
	if err != nil || len(unresolved) != 1 || unresolved[0]["S"] != "s2" {
		t.Errorf("expected s2 unresolved, got %v (%v)", unresolved, err)
	}
}

func TestNavigationFact(t *testing.T) {
	at := time.UnixMilli(42)
	f := NavigationFact("s1", "https://www.youtube.com/watch?v=x", at)
	if f.Predicate != "navigation_event" || f.Args[2] != int64(42) {
		t.Errorf("unexpected fact %+v", f)
	}
}
