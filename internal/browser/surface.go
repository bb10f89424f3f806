package browser

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-rod/rod"

	"listenmode/internal/decision"
)

// Caller invokes a method of the page's window.__listenMode API and returns
// the JSON-encoded result.
type Caller interface {
	Call(ctx context.Context, method string, args ...interface{}) (json.RawMessage, error)
}

// pageCaller runs calls through Rod.
type pageCaller struct {
	page *rod.Page
}

func (p pageCaller) Call(ctx context.Context, method string, args ...interface{}) (json.RawMessage, error) {
	if args == nil {
		args = []interface{}{}
	}
	res, err := p.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           callJS,
		JSArgs:       []interface{}{method, args},
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	if res == nil || res.Value.Nil() {
		return json.RawMessage("null"), nil
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", method, err)
	}
	return raw, nil
}

// ToggleState is what the page reports after a state read or change.
type ToggleState struct {
	Missing bool `json:"missing"`
	Mounted bool `json:"mounted"`
	Active  bool `json:"active"`
	Changed bool `json:"changed"`
}

// Surface is the page side of one watch session. It implements the
// coordinator's Toggle and the resolver's Probe.
type Surface struct {
	caller Caller
}

func NewSurface(c Caller) *Surface {
	return &Surface{caller: c}
}

func (s *Surface) state(ctx context.Context, method string, args ...interface{}) (ToggleState, error) {
	raw, err := s.caller.Call(ctx, method, args...)
	if err != nil {
		return ToggleState{}, err
	}
	var st ToggleState
	if err := json.Unmarshal(raw, &st); err != nil {
		return ToggleState{}, fmt.Errorf("decode %s: %w", method, err)
	}
	if st.Missing || !st.Mounted {
		return st, ErrNoSurface
	}
	return st, nil
}

// State reads the current mode without changing it.
func (s *Surface) State(ctx context.Context) (ToggleState, error) {
	return s.state(ctx, "state")
}

// IsActive implements coordinator.Toggle.
func (s *Surface) IsActive(ctx context.Context) (bool, error) {
	st, err := s.State(ctx)
	if err != nil {
		return false, err
	}
	return st.Active, nil
}

// Apply implements coordinator.Toggle.
func (s *Surface) Apply(ctx context.Context, action decision.Action) error {
	_, err := s.state(ctx, "setActive", action.Active())
	return err
}

// Toggle flips the mode the way a click on the button does.
func (s *Surface) Toggle(ctx context.Context) (ToggleState, error) {
	return s.state(ctx, "toggle")
}

// ChannelName implements resolver.Probe. A page without the API or without
// an identity element reports "".
func (s *Surface) ChannelName(ctx context.Context) (string, error) {
	raw, err := s.caller.Call(ctx, "channelName")
	if err != nil {
		return "", err
	}
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		// null or {missing: true}
		return "", nil
	}
	return name, nil
}

// PageEvent is one entry drained from the page queue.
type PageEvent struct {
	Type   string  `json:"type"`
	URL    string  `json:"url"`
	Active bool    `json:"active"`
	TS     float64 `json:"ts"`
}

// Drain empties the page event queue.
func (s *Surface) Drain(ctx context.Context) ([]PageEvent, error) {
	raw, err := s.caller.Call(ctx, "drain")
	if err != nil {
		return nil, err
	}
	var events []PageEvent
	if err := json.Unmarshal(raw, &events); err != nil {
		// API not installed yet on this document
		return nil, nil
	}
	return events, nil
}
