package decision

import "strings"

// ChannelSet is a case-insensitive set of channel names.
type ChannelSet map[string]struct{}

// NewChannelSet normalizes and collects names. Blank names are dropped.
func NewChannelSet(names ...string) ChannelSet {
	set := make(ChannelSet, len(names))
	for _, n := range names {
		if key := Normalize(n); key != "" {
			set[key] = struct{}{}
		}
	}
	return set
}

// Contains reports membership regardless of case. A nil set contains nothing.
func (s ChannelSet) Contains(name string) bool {
	if len(s) == 0 {
		return false
	}
	_, ok := s[Normalize(name)]
	return ok
}

func (s ChannelSet) Len() int { return len(s) }

// Normalize is the comparison key for channel names.
func Normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// SameChannel compares two names the way the engine does.
func SameChannel(a, b string) bool {
	return Normalize(a) == Normalize(b)
}
