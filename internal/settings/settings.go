// Package settings persists the user's listen-mode configuration.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"listenmode/internal/decision"
)

// Storage keys, kept identical to the browser extension's storage layout.
const (
	KeyAutoEnable         = "autoEnable"
	KeyChannelList        = "channelList"
	KeyDisableChannelList = "disableChannelList"
)

// List names one of the two channel lists.
type List string

const (
	EnableList  List = "enable"
	DisableList List = "disable"
)

// ErrUnknownList is returned for list names other than enable/disable.
var ErrUnknownList = errors.New("unknown channel list")

// ParseList maps user input to a List. It accepts the storage key names too.
func ParseList(s string) (List, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "enable", "always-enable", "channellist":
		return EnableList, nil
	case "disable", "always-disable", "disablechannellist":
		return DisableList, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownList, s)
}

// Key returns the storage key backing the list.
func (l List) Key() string {
	if l == DisableList {
		return KeyDisableChannelList
	}
	return KeyChannelList
}

// Values is everything stored. Absent keys read as false / empty.
type Values struct {
	AutoEnable         bool     `json:"autoEnable"`
	ChannelList        []string `json:"channelList"`
	DisableChannelList []string `json:"disableChannelList"`
}

// Patch is a partial update; nil fields are left alone.
type Patch struct {
	AutoEnable         *bool
	ChannelList        []string
	DisableChannelList []string
	setChannels        bool
	setDisabled        bool
}

// WithAutoEnable sets the global flag.
func (p Patch) WithAutoEnable(v bool) Patch {
	p.AutoEnable = &v
	return p
}

// WithList replaces one list. An empty slice clears it.
func (p Patch) WithList(l List, names []string) Patch {
	if l == DisableList {
		p.DisableChannelList = names
		p.setDisabled = true
	} else {
		p.ChannelList = names
		p.setChannels = true
	}
	return p
}

// Store is the key/value collaborator behind the decision engine.
type Store interface {
	Get(ctx context.Context) (Values, error)
	Set(ctx context.Context, p Patch) error
	Close() error
}

// Snapshot reads the store into an engine snapshot.
func Snapshot(ctx context.Context, s Store) (decision.Settings, error) {
	v, err := s.Get(ctx)
	if err != nil {
		return decision.Settings{}, err
	}
	return decision.NewSettings(v.AutoEnable, v.ChannelList, v.DisableChannelList), nil
}

// Source adapts a Store to the coordinator's settings interface.
type Source struct {
	Store Store
}

func (s Source) Snapshot(ctx context.Context) (decision.Settings, error) {
	return Snapshot(ctx, s.Store)
}

// AddChannel appends name to a list. Blank names and names already present
// (case-insensitively) are ignored; added reports whether the list changed.
func AddChannel(ctx context.Context, s Store, l List, name string) (added bool, err error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return false, nil
	}
	v, err := s.Get(ctx)
	if err != nil {
		return false, err
	}
	current := v.list(l)
	if containsFold(current, name) {
		return false, nil
	}
	next := append(append([]string{}, current...), name)
	if err := s.Set(ctx, Patch{}.WithList(l, next)); err != nil {
		return false, err
	}
	return true, nil
}

// RemoveChannel drops every entry matching name case-insensitively.
func RemoveChannel(ctx context.Context, s Store, l List, name string) (removed bool, err error) {
	v, err := s.Get(ctx)
	if err != nil {
		return false, err
	}
	current := v.list(l)
	next := make([]string, 0, len(current))
	for _, c := range current {
		if decision.SameChannel(c, name) {
			continue
		}
		next = append(next, c)
	}
	if len(next) == len(current) {
		return false, nil
	}
	if err := s.Set(ctx, Patch{}.WithList(l, next)); err != nil {
		return false, err
	}
	return true, nil
}

// SetAutoEnable writes the global flag.
func SetAutoEnable(ctx context.Context, s Store, v bool) error {
	return s.Set(ctx, Patch{}.WithAutoEnable(v))
}

func (v Values) list(l List) []string {
	if l == DisableList {
		return v.DisableChannelList
	}
	return v.ChannelList
}

func containsFold(list []string, name string) bool {
	for _, c := range list {
		if decision.SameChannel(c, name) {
			return true
		}
	}
	return false
}
