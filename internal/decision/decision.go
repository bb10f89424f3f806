// Package decision picks whether listen mode should be on for the current page.
//
// Everything here is plain data in, plain data out: no page access, no
// storage, no timers.
package decision

import "strings"

// Action is the mode the page should end up in.
type Action int

const (
	Disable Action = iota
	Enable
)

func (a Action) String() string {
	if a == Enable {
		return "enable"
	}
	return "disable"
}

// Active reports whether the action leaves listen mode on.
func (a Action) Active() bool { return a == Enable }

// ParseAction accepts "enable"/"on"/"true" and "disable"/"off"/"false".
func ParseAction(s string) (Action, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "enable", "on", "true":
		return Enable, true
	case "disable", "off", "false":
		return Disable, true
	}
	return Disable, false
}

// Reason explains which rule produced an Action.
type Reason int

const (
	ReasonDefault Reason = iota
	ReasonGlobal
	ReasonNoChannel
	ReasonDisableList
	ReasonEnableList
)

func (r Reason) String() string {
	switch r {
	case ReasonGlobal:
		return "global"
	case ReasonNoChannel:
		return "no_channel"
	case ReasonDisableList:
		return "disable_list"
	case ReasonEnableList:
		return "enable_list"
	default:
		return "default"
	}
}

// Decision is the engine's output.
type Decision struct {
	Action Action
	Reason Reason
}

func (d Decision) String() string {
	return d.Action.String() + " (" + d.Reason.String() + ")"
}

// Channel is a possibly unresolved channel identity.
type Channel struct {
	name string
}

// Unknown is the channel value used when resolution failed or was skipped.
var Unknown = Channel{}

// Known wraps a resolved channel name. Blank names are Unknown.
func Known(name string) Channel {
	return Channel{name: strings.TrimSpace(name)}
}

// Name returns the resolved name, or "" when unknown.
func (c Channel) Name() string { return c.name }

// Resolved reports whether a channel name is present.
func (c Channel) Resolved() bool { return c.name != "" }

// Settings is the snapshot of user configuration read for one decision.
type Settings struct {
	GlobalEnable bool
	EnableList   ChannelSet
	DisableList  ChannelSet
}

// NewSettings builds a snapshot from raw stored lists.
func NewSettings(globalEnable bool, enableList, disableList []string) Settings {
	return Settings{
		GlobalEnable: globalEnable,
		EnableList:   NewChannelSet(enableList...),
		DisableList:  NewChannelSet(disableList...),
	}
}

// Decide applies the rules in priority order; the first match wins.
func Decide(s Settings, ch Channel) Decision {
	if s.GlobalEnable {
		return Decision{Action: Enable, Reason: ReasonGlobal}
	}
	if !ch.Resolved() {
		return Decision{Action: Disable, Reason: ReasonNoChannel}
	}
	// Disable wins over enable for the same channel.
	if s.DisableList.Contains(ch.Name()) {
		return Decision{Action: Disable, Reason: ReasonDisableList}
	}
	if s.EnableList.Contains(ch.Name()) {
		return Decision{Action: Enable, Reason: ReasonEnableList}
	}
	return Decision{Action: Disable, Reason: ReasonDefault}
}
