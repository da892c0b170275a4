package app

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pscheid92/giftclaim/internal/domain"
)

// liveSession is a connected bot with its watcher and probe goroutines.
type liveSession struct {
	accessKey string
	identity  string
	conn      domain.TransportSession
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	healthy   atomic.Bool
	stopOnce  sync.Once
}

// stop cancels the goroutines, closes the connection and waits for both
// goroutines to return. Safe to call more than once.
func (s *liveSession) stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		if err := s.conn.Close(); err != nil {
			slog.Warn("Failed to close transport session", "identity", s.identity, "error", err)
		}
		s.wg.Wait()
	})
}

// SessionRegistry indexes live sessions by access key. Only SessionManager
// mutates it; everything else reads.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*liveSession
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]*liveSession)}
}

// put stores s and returns the session it replaced, if any.
func (r *SessionRegistry) put(s *liveSession) *liveSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.sessions[s.accessKey]
	r.sessions[s.accessKey] = s
	return prev
}

// take removes and returns the session for accessKey.
func (r *SessionRegistry) take(accessKey string) *liveSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[accessKey]
	delete(r.sessions, accessKey)
	return s
}

func (r *SessionRegistry) drain() []*liveSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*liveSession, 0, len(r.sessions))
	for key, s := range r.sessions {
		out = append(out, s)
		delete(r.sessions, key)
	}
	return out
}

func (r *SessionRegistry) Has(accessKey string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[accessKey]
	return ok
}

// Healthy reports whether accessKey has a session whose last probe succeeded.
func (r *SessionRegistry) Healthy(accessKey string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[accessKey]
	return ok && s.healthy.Load()
}

// OwnerOf returns the access key holding identity, if any.
func (r *SessionRegistry) OwnerOf(identity string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for key, s := range r.sessions {
		if s.identity == identity {
			return key, true
		}
	}
	return "", false
}

func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
