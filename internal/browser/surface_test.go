package browser

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"listenmode/internal/config"
	"listenmode/internal/decision"
)

type call struct {
	method string
	args   []interface{}
}

// fakeCaller answers page API calls from a canned table.
type fakeCaller struct {
	mu        sync.Mutex
	responses map[string]string
	err       error
	calls     []call
}

func newFakeCaller(responses map[string]string) *fakeCaller {
	return &fakeCaller{responses: responses}
}

func (f *fakeCaller) Call(_ context.Context, method string, args ...interface{}) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{method: method, args: args})
	if f.err != nil {
		return nil, f.err
	}
	raw, ok := f.responses[method]
	if !ok {
		return json.RawMessage(`{"missing":true}`), nil
	}
	return json.RawMessage(raw), nil
}

func (f *fakeCaller) set(method, raw string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[method] = raw
}

func (f *fakeCaller) callsTo(method string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.method == method {
			out = append(out, c)
		}
	}
	return out
}

func TestSurfaceState(t *testing.T) {
	s := NewSurface(newFakeCaller(map[string]string{
		"state": `{"mounted":true,"active":true}`,
	}))

	active, err := s.IsActive(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !active {
		t.Error("expected active")
	}
}

func TestSurfaceMissingOrUnmounted(t *testing.T) {
	cases := map[string]string{
		"api missing":   `{"missing":true}`,
		"not mounted":   `{"mounted":false,"active":false}`,
		"null response": `null`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			s := NewSurface(newFakeCaller(map[string]string{"state": raw}))
			if _, err := s.IsActive(context.Background()); !errors.Is(err, ErrNoSurface) {
				t.Errorf("expected ErrNoSurface, got %v", err)
			}
		})
	}
}

func TestSurfaceApplyPassesTargetState(t *testing.T) {
	fc := newFakeCaller(map[string]string{
		"setActive": `{"mounted":true,"active":true,"changed":true}`,
	})
	s := NewSurface(fc)

	if err := s.Apply(context.Background(), decision.Enable); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Apply(context.Background(), decision.Disable); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	calls := fc.callsTo("setActive")
	if len(calls) != 2 {
		t.Fatalf("expected 2 setActive calls, got %d", len(calls))
	}
	if calls[0].args[0] != true || calls[1].args[0] != false {
		t.Errorf("expected args true then false, got %v and %v", calls[0].args, calls[1].args)
	}
}

func TestSurfaceCallErrorPropagates(t *testing.T) {
	fc := newFakeCaller(nil)
	fc.err = errors.New("target closed")
	s := NewSurface(fc)

	if err := s.Apply(context.Background(), decision.Enable); err == nil || errors.Is(err, ErrNoSurface) {
		t.Errorf("expected the call error, got %v", err)
	}
	if _, err := s.ChannelName(context.Background()); err == nil {
		t.Error("expected error from ChannelName")
	}
}

func TestSurfaceChannelName(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{`"Lofi Girl"`, "Lofi Girl"},
		{`null`, ""},
		{`{"missing":true}`, ""},
	}
	for _, tc := range cases {
		s := NewSurface(newFakeCaller(map[string]string{"channelName": tc.raw}))
		got, err := s.ChannelName(context.Background())
		if err != nil {
			t.Fatalf("unexpected error for %s: %v", tc.raw, err)
		}
		if got != tc.want {
			t.Errorf("expected %q for %s, got %q", tc.want, tc.raw, got)
		}
	}
}

func TestSurfaceDrain(t *testing.T) {
	fc := newFakeCaller(map[string]string{
		"drain": `[{"type":"mount","url":"https://www.youtube.com/watch?v=1","ts":1},{"type":"manual","active":true,"ts":2}]`,
	})
	s := NewSurface(fc)

	events, err := s.Drain(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != "mount" || events[0].URL != "https://www.youtube.com/watch?v=1" {
		t.Errorf("unexpected first event: %+v", events[0])
	}
	if events[1].Type != "manual" || !events[1].Active {
		t.Errorf("unexpected second event: %+v", events[1])
	}

	fc.set("drain", `{"missing":true}`)
	events, err = s.Drain(context.Background())
	if err != nil || events != nil {
		t.Errorf("expected no events before install, got %v, %v", events, err)
	}
}

func TestScriptConfigDefaults(t *testing.T) {
	sc := NewScriptConfig(config.ListenModeConfig{})
	def := config.DefaultConfig().ListenMode

	if sc.PlayerSelector != def.PlayerSelector {
		t.Errorf("expected player selector %q, got %q", def.PlayerSelector, sc.PlayerSelector)
	}
	if len(sc.ChannelSelectors) != len(def.ChannelSelectors) {
		t.Errorf("expected %d channel selectors, got %d", len(def.ChannelSelectors), len(sc.ChannelSelectors))
	}
	if !strings.Contains(sc.CSS, "."+def.ActiveClass+" video") {
		t.Errorf("expected css to hide video under the active class, got %q", sc.CSS)
	}
}

func TestInstallScriptEmbedsConfig(t *testing.T) {
	sc := NewScriptConfig(config.ListenModeConfig{
		ActiveClass:      "custom-active",
		ChannelSelectors: []string{"#owner a"},
	})
	js, err := sc.InstallScript()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(js, "((cfg) =>") || !strings.HasSuffix(js, ");") {
		t.Errorf("expected a self-invoking script, got prefix %q", js[:20])
	}
	for _, want := range []string{`"activeClass":"custom-active"`, `"channelSelectors":["#owner a"]`, "__listenMode", "yt-navigate-finish"} {
		if !strings.Contains(js, want) {
			t.Errorf("expected script to contain %q", want)
		}
	}
}
