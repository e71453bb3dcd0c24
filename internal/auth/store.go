package auth

import (
	"context"
	"sync"
)

// StoredSession is the durable token/identity pair. The identity is absent
// while a freshly exchanged token is still being verified.
type StoredSession struct {
	Token    Token     `json:"token"`
	Identity *Identity `json:"identity,omitempty"`
}

// Store persists session state across process restarts. Implementations must
// treat unreadable or corrupt persisted data as absence, never as an error:
// the manager self-heals by re-entering the sign-in flow.
//
// The pending authorization code supports the hand-off where a separate
// static callback page receives the provider redirect and stashes the code
// for the main flow to consume exactly once.
type Store interface {
	Load(ctx context.Context) (*StoredSession, error)
	Save(ctx context.Context, session StoredSession) error
	// Clear removes the session only. A stashed pending code survives so
	// that clearing a bad session and retrying can still replay it.
	Clear(ctx context.Context) error

	SavePendingCode(ctx context.Context, code string) error
	// TakePendingCode returns the stashed authorization code, if any, and
	// removes it so it can never be replayed.
	TakePendingCode(ctx context.Context) (string, error)
}

// MemoryStore keeps session state in process memory. Used in tests and when
// no durable resume across restarts is wanted.
type MemoryStore struct {
	mu      sync.Mutex
	session *StoredSession
	pending string
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns the stored session, or nil when none exists.
func (s *MemoryStore) Load(_ context.Context) (*StoredSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil, nil
	}
	copied := *s.session
	return &copied, nil
}

// Save replaces the stored session.
func (s *MemoryStore) Save(_ context.Context, session StoredSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.session = &session
	return nil
}

// Clear removes the stored session.
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.session = nil
	return nil
}

// SavePendingCode stashes an authorization code for later consumption.
func (s *MemoryStore) SavePendingCode(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = code
	return nil
}

// TakePendingCode returns and removes the stashed code.
func (s *MemoryStore) TakePendingCode(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	code := s.pending
	s.pending = ""
	return code, nil
}
