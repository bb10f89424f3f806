package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"listenmode/internal/mangle"
)

var errNoEngine = fmt.Errorf("decision journal unavailable")

// QueryDecisionsTool lists journaled decisions, newest last.
type QueryDecisionsTool struct {
	engine *mangle.Engine
}

func (t *QueryDecisionsTool) Name() string { return "query-decisions" }
func (t *QueryDecisionsTool) Description() string {
	return `List listen mode decisions from the journal.

Each row is listen_decision(Session, Channel, Action, Reason, TsMs).
Filter by session_id, channel (case-insensitive) or since_ms.

Returns: {count, decisions: [{session_id, channel, action, reason, ts_ms}]}`
}
func (t *QueryDecisionsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id": map[string]interface{}{
				"type":        "string",
				"description": "Only decisions for this session",
			},
			"channel": map[string]interface{}{
				"type":        "string",
				"description": "Only decisions for this channel",
			},
			"since_ms": map[string]interface{}{
				"type":        "integer",
				"description": "Only decisions after this Unix time in milliseconds",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum rows, newest kept (default 50)",
			},
		},
	}
}
func (t *QueryDecisionsTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	if t.engine == nil {
		return nil, errNoEngine
	}
	channel := getStringArg(args, "channel")
	limit := getIntArg(args, "limit", 50)

	var facts []mangle.Fact
	if since := getIntArg(args, "since_ms", 0); since > 0 {
		facts = t.engine.QueryTemporal("listen_decision", time.UnixMilli(int64(since)), time.Time{})
	} else {
		facts = t.engine.FactsByPredicate("listen_decision")
	}

	sessionID := getStringArg(args, "session_id")
	rows := make([]map[string]interface{}, 0, len(facts))
	for _, f := range facts {
		if len(f.Args) < 5 {
			continue
		}
		if sessionID != "" && fmt.Sprintf("%v", f.Args[0]) != sessionID {
			continue
		}
		if channel != "" && !strings.EqualFold(fmt.Sprintf("%v", f.Args[1]), strings.TrimSpace(channel)) {
			continue
		}
		rows = append(rows, map[string]interface{}{
			"session_id": f.Args[0],
			"channel":    f.Args[1],
			"action":     f.Args[2],
			"reason":     f.Args[3],
			"ts_ms":      f.Args[4],
		})
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}
	return map[string]interface{}{
		"count":     len(rows),
		"decisions": rows,
	}, nil
}

// ReadFactsTool returns the newest buffered facts.
type ReadFactsTool struct {
	engine *mangle.Engine
}

func (t *ReadFactsTool) Name() string { return "read-facts" }
func (t *ReadFactsTool) Description() string {
	return `Read raw journal facts, oldest to newest, optionally for one predicate.

Predicates: listen_decision, channel_resolved, channel_unresolved,
navigation_event, mode_applied.`
}
func (t *ReadFactsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"predicate": map[string]interface{}{
				"type":        "string",
				"description": "Only facts of this predicate",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum facts, newest kept (default 100)",
			},
		},
	}
}
func (t *ReadFactsTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	if t.engine == nil {
		return nil, errNoEngine
	}
	limit := getIntArg(args, "limit", 100)

	var facts []mangle.Fact
	if predicate := getStringArg(args, "predicate"); predicate != "" {
		facts = t.engine.FactsByPredicate(predicate)
	} else {
		facts = t.engine.Facts()
	}
	if limit > 0 && len(facts) > limit {
		facts = facts[len(facts)-limit:]
	}
	return map[string]interface{}{
		"count": len(facts),
		"facts": facts,
	}, nil
}

// QueryFactsTool runs a single-atom Mangle query against base and derived facts.
type QueryFactsTool struct {
	engine *mangle.Engine
}

func (t *QueryFactsTool) Name() string { return "query-facts" }
func (t *QueryFactsTool) Description() string {
	return `Run a Mangle query over the decision journal, including derived predicates.

EXAMPLES:
- listen_enabled(Session, Channel)
- disable_overrides_enable(Channel)
- global_forced(Session)
- unresolved(Session)

Returns: {count, results: [{Var: value}]}`
}
func (t *QueryFactsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Single atom, e.g. listen_enabled(S, C)",
			},
		},
		"required": []string{"query"},
	}
}
func (t *QueryFactsTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if t.engine == nil {
		return nil, errNoEngine
	}
	query := getStringArg(args, "query")
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is required")
	}
	results, err := t.engine.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"count":   len(results),
		"results": results,
	}, nil
}

// SubmitRuleTool adds a rule to the journal program.
type SubmitRuleTool struct {
	engine *mangle.Engine
}

func (t *SubmitRuleTool) Name() string { return "submit-rule" }
func (t *SubmitRuleTool) Description() string {
	return `Add a Mangle rule (with its Decl) to the journal program, then query it with query-facts.

EXAMPLE:
  Decl flip_flop(Channel).
  flip_flop(C) :- listen_enabled(_, C), listen_disabled(_, C).

A rule that does not analyze is rejected and the program is left unchanged.`
}
func (t *SubmitRuleTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"rule": map[string]interface{}{
				"type":        "string",
				"description": "Mangle source to append",
			},
		},
		"required": []string{"rule"},
	}
}
func (t *SubmitRuleTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	if t.engine == nil {
		return nil, errNoEngine
	}
	rule := getStringArg(args, "rule")
	if strings.TrimSpace(rule) == "" {
		return nil, fmt.Errorf("rule is required")
	}
	if err := t.engine.AddRule(rule); err != nil {
		return nil, err
	}
	return map[string]interface{}{"status": "ok"}, nil
}
