package decision

import (
	"fmt"
	"testing"
)

func TestDecideScenarios(t *testing.T) {
	tests := []struct {
		name     string
		global   bool
		enable   []string
		disable  []string
		channel  Channel
		expected Decision
	}{
		{
			name:     "global enable beats disable list",
			global:   true,
			disable:  []string{"A"},
			channel:  Known("A"),
			expected: Decision{Enable, ReasonGlobal},
		},
		{
			name:     "disable list beats enable list",
			enable:   []string{"B"},
			disable:  []string{"B"},
			channel:  Known("B"),
			expected: Decision{Disable, ReasonDisableList},
		},
		{
			name:     "enable list",
			enable:   []string{"C"},
			channel:  Known("C"),
			expected: Decision{Enable, ReasonEnableList},
		},
		{
			name:     "disable list ignores case",
			disable:  []string{"ChannelD"},
			channel:  Known("channeld"),
			expected: Decision{Disable, ReasonDisableList},
		},
		{
			name:     "enable list ignores case",
			enable:   []string{"channele"},
			channel:  Known("CHANNELE"),
			expected: Decision{Enable, ReasonEnableList},
		},
		{
			name:     "no rule matches",
			channel:  Known("ChannelF"),
			expected: Decision{Disable, ReasonDefault},
		},
		{
			name:     "unknown channel",
			enable:   []string{"G"},
			channel:  Unknown,
			expected: Decision{Disable, ReasonNoChannel},
		},
		{
			name:     "blank channel is unknown",
			enable:   []string{"G"},
			channel:  Known("   "),
			expected: Decision{Disable, ReasonNoChannel},
		},
		{
			name:     "global enable with unknown channel",
			global:   true,
			channel:  Unknown,
			expected: Decision{Enable, ReasonGlobal},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(NewSettings(tt.global, tt.enable, tt.disable), tt.channel)
			if got != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestDecideGlobalAlwaysWins(t *testing.T) {
	channels := []Channel{Unknown, Known("x"), Known("Listed"), Known("both")}
	lists := [][2][]string{
		{nil, nil},
		{{"listed"}, nil},
		{nil, {"LISTED"}},
		{{"both"}, {"BOTH"}},
	}
	for _, ch := range channels {
		for _, l := range lists {
			got := Decide(NewSettings(true, l[0], l[1]), ch)
			if got != (Decision{Enable, ReasonGlobal}) {
				t.Errorf("channel %q lists %v: expected enable (global), got %s", ch.Name(), l, got)
			}
		}
	}
}

func TestDecideCaseInsensitiveEquivalence(t *testing.T) {
	casings := []string{"channelx", "ChannelX", "CHANNELX", "cHaNnElX"}
	for _, stored := range casings {
		for _, settings := range []Settings{
			NewSettings(false, []string{stored}, nil),
			NewSettings(false, nil, []string{stored}),
			NewSettings(false, []string{stored}, []string{stored}),
		} {
			want := Decide(settings, Known("channelx"))
			for _, seen := range casings {
				if got := Decide(settings, Known(seen)); got != want {
					t.Errorf("stored %q seen %q: expected %s, got %s", stored, seen, want, got)
				}
			}
		}
	}
}

func TestDecideNotListed(t *testing.T) {
	s := NewSettings(false, []string{"a", "b"}, []string{"c"})
	for i := 0; i < 20; i++ {
		ch := Known(fmt.Sprintf("other-%d", i))
		if got := Decide(s, ch); got != (Decision{Disable, ReasonDefault}) {
			t.Errorf("%s: expected disable (default), got %s", ch.Name(), got)
		}
	}
}

func TestZeroSettingsAreSafe(t *testing.T) {
	var s Settings
	if got := Decide(s, Known("anything")); got != (Decision{Disable, ReasonDefault}) {
		t.Errorf("expected disable (default), got %s", got)
	}
}

func TestParseAction(t *testing.T) {
	cases := map[string]Action{"enable": Enable, "ON": Enable, "true": Enable, "disable": Disable, "off": Disable, " False ": Disable}
	for in, want := range cases {
		got, ok := ParseAction(in)
		if !ok || got != want {
			t.Errorf("ParseAction(%q): expected %s, got %s (ok=%v)", in, want, got, ok)
		}
	}
	if _, ok := ParseAction("maybe"); ok {
		t.Error("expected ParseAction to reject 'maybe'")
	}
}

func TestReasonStrings(t *testing.T) {
	want := map[Reason]string{
		ReasonGlobal:      "global",
		ReasonNoChannel:   "no_channel",
		ReasonDisableList: "disable_list",
		ReasonEnableList:  "enable_list",
		ReasonDefault:     "default",
	}
	for r, s := range want {
		if r.String() != s {
			t.Errorf("expected %q, got %q", s, r.String())
		}
	}
}
