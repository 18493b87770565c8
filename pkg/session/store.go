package session

import (
	"errors"
	"sync"
	"time"
)

// ErrSessionActive is returned when creating a session for a (chat, user)
// pair that already has one.
var ErrSessionActive = errors.New("session already active")

type key struct {
	chat int64
	user int64
}

// Store is the in-memory session registry keyed by (chat, user).
// It enforces at most one active session per key and is safe for
// concurrent use from event handlers and deadline callbacks.
//
// Remove is the linearization point for terminal transitions: when an
// explicit completion races a deadline fire, whichever path removes the
// session first owns it; the other path sees the key absent and must do
// nothing.
type Store struct {
	mu       sync.Mutex
	sessions map[key]*Session
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{sessions: make(map[key]*Session)}
}

// Create registers a new session for the pair. Returns ErrSessionActive
// if one already exists; the existing session is left untouched.
func (s *Store) Create(chatID, userID int64, mode Mode) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{chatID, userID}
	if _, ok := s.sessions[k]; ok {
		return nil, ErrSessionActive
	}
	sess := newSession(chatID, userID, mode)
	s.sessions[k] = sess
	return sess, nil
}

// Update runs fn on the session for the pair while holding the store
// lock. Returns false if no session exists. fn must not block: sink
// calls and downloads happen outside the lock.
func (s *Store) Update(chatID, userID int64, fn func(*Session)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[key{chatID, userID}]
	if !ok {
		return false
	}
	fn(sess)
	return true
}

// Arm schedules fire to run after d, replacing (and cancelling) any
// deadline previously armed for the pair. Returns false if no session
// exists.
func (s *Store) Arm(chatID, userID int64, d time.Duration, fire func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[key{chatID, userID}]
	if !ok {
		return false
	}
	sess.deadline.Stop()
	sess.DeadlineAt = time.Now().UTC().Add(d)
	sess.deadline = After(d, fire)
	return true
}

// Get returns the session for the pair, or false if none exists. The
// returned session may still be mutated by concurrent Update calls;
// callers that need its state must not write to it. Mutation goes
// through Update.
func (s *Store) Get(chatID, userID int64) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key{chatID, userID}]
	return sess, ok
}

// TakeIf atomically removes and returns the session for the pair when
// pred approves it. When pred rejects, the session stays in the store
// untouched. This is the guarded form of Remove used for transitions
// that are terminal only from a specific phase.
func (s *Store) TakeIf(chatID, userID int64, pred func(*Session) bool) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{chatID, userID}
	sess, ok := s.sessions[k]
	if !ok || !pred(sess) {
		return nil, false
	}
	delete(s.sessions, k)
	sess.deadline.Stop()
	return sess, true
}

// Remove deletes the session for the pair and cancels its armed
// deadline, so a late timer cannot act on an already-resolved session.
// The removed session is returned to the caller, which now owns it.
// Removing an absent key is a no-op.
func (s *Store) Remove(chatID, userID int64) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{chatID, userID}
	sess, ok := s.sessions[k]
	if !ok {
		return nil, false
	}
	delete(s.sessions, k)
	sess.deadline.Stop()
	return sess, true
}

// Len reports the number of active sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
