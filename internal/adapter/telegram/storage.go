package telegram

import (
	"context"
	"slices"
	"sync"

	"github.com/gotd/td/session"
)

// memorySession keeps the MTProto session blob in memory. The blob is the
// opaque credential the application persists.
type memorySession struct {
	mu   sync.Mutex
	data []byte
}

var _ session.Storage = (*memorySession)(nil)

func newMemorySession(initial []byte) *memorySession {
	return &memorySession{data: slices.Clone(initial)}
}

func (s *memorySession) LoadSession(context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.data) == 0 {
		return nil, session.ErrNotFound
	}
	return slices.Clone(s.data), nil
}

func (s *memorySession) StoreSession(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = slices.Clone(data)
	return nil
}

func (s *memorySession) bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.data)
}
