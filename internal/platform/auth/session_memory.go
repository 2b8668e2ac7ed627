package auth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// MemoryStore keeps sessions in process memory. A sweeper goroutine drops
// sessions idle longer than the timeout.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]Session
	idle     time.Duration
	done     chan struct{}
	once     sync.Once
}

// NewMemoryStore creates a store that expires sessions after idle.
func NewMemoryStore(idle time.Duration) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]Session),
		idle:     idle,
		done:     make(chan struct{}),
	}
}

func (s *MemoryStore) Save(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = *sess
	return nil
}

func (s *MemoryStore) Touch(_ context.Context, id string, now time.Time) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if now.Sub(sess.LastSeen) > s.idle {
		delete(s.sessions, id)
		return nil, ErrSessionNotFound
	}
	sess.LastSeen = now
	s.sessions[id] = sess
	return &sess, nil
}

func (s *MemoryStore) Lookup(_ context.Context, id string, now time.Time) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || now.Sub(sess.LastSeen) > s.idle {
		return nil, ErrSessionNotFound
	}
	return &sess, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *MemoryStore) DeleteUser(_ context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		if sess.UserID == userID {
			delete(s.sessions, id)
		}
	}
	return nil
}

// Len returns the number of stored sessions, including idle ones not yet swept.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep removes sessions idle at now and returns how many were removed.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		if now.Sub(sess.LastSeen) > s.idle {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep every interval until Close is called.
func (s *MemoryStore) StartSweeper(interval time.Duration, logger zerolog.Logger) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.done:
				return
			case now := <-ticker.C:
				if n := s.Sweep(now); n > 0 {
					logger.Debug().Int("expired", n).Msg("swept idle sessions")
				}
			}
		}
	}()
}

// Close stops the sweeper. Safe to call more than once.
func (s *MemoryStore) Close() {
	s.once.Do(func() { close(s.done) })
}
