package settings

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store, used by tests and the decide CLI.
type MemoryStore struct {
	mu sync.RWMutex
	v  Values
}

func NewMemoryStore(initial Values) *MemoryStore {
	return &MemoryStore{v: copyValues(initial)}
}

func (m *MemoryStore) Get(context.Context) (Values, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyValues(m.v), nil
}

func (m *MemoryStore) Set(_ context.Context, p Patch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.AutoEnable != nil {
		m.v.AutoEnable = *p.AutoEnable
	}
	if p.setChannels {
		m.v.ChannelList = append([]string{}, p.ChannelList...)
	}
	if p.setDisabled {
		m.v.DisableChannelList = append([]string{}, p.DisableChannelList...)
	}
	return nil
}

func (m *MemoryStore) Close() error { return nil }

func copyValues(v Values) Values {
	return Values{
		AutoEnable:         v.AutoEnable,
		ChannelList:        append([]string(nil), v.ChannelList...),
		DisableChannelList: append([]string(nil), v.DisableChannelList...),
	}
}
