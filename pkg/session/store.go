// Package session binds an authentication context to its origin address and
// client signature, so a session id replayed from elsewhere is detected.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInvalidSession means the session id is unknown.
	ErrInvalidSession = errors.New("invalid session")
	// ErrOriginMismatch means the request came from a different address than
	// the one the session was created from.
	ErrOriginMismatch = errors.New("session origin mismatch")
	// ErrSignatureMismatch means the client signature (user agent /
	// transport fingerprint) differs from the one bound at creation.
	ErrSignatureMismatch = errors.New("session client signature mismatch")
	// ErrSessionExpired means the session sat idle past its lifetime and has
	// been dropped; the client must log in again.
	ErrSessionExpired = errors.New("session expired")
)

const defaultTTL = 30 * time.Minute

// Session is a bound authentication context.
type Session struct {
	ID           string
	AccountID    uint
	Origin       string
	ClientSig    string
	CreatedAt    time.Time
	LastActivity time.Time
}

// Store holds live sessions. Both consistency checks can be toggled
// independently. Validate reports a mismatch but does not invalidate the
// session; whether to revoke on mismatch is the caller's policy. Sessions idle
// past the ttl expire lazily: Validate drops them on touch and Create sweeps
// the rest, so the map cannot grow without bound across logins.
type Store struct {
	checkOrigin    bool
	checkSignature bool
	ttl            time.Duration
	now            func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithTTL overrides the idle lifetime of a session.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

func NewStore(checkOrigin, checkSignature bool, opts ...Option) *Store {
	s := &Store{
		checkOrigin:    checkOrigin,
		checkSignature: checkSignature,
		ttl:            defaultTTL,
		now:            time.Now,
		sessions:       make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create registers a new session bound to the given origin and signature.
func (s *Store) Create(accountID uint, origin, clientSig string) *Session {
	now := s.now()
	sess := &Session{
		ID:           uuid.NewString(),
		AccountID:    accountID,
		Origin:       origin,
		ClientSig:    clientSig,
		CreatedAt:    now,
		LastActivity: now,
	}
	s.mu.Lock()
	s.sweepLocked(now)
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	return sess
}

// Validate checks the session against the requesting origin and signature and
// stamps last-activity on success. Activity slides the idle window; a session
// left untouched past the ttl is dropped here.
func (s *Store) Validate(id, origin, clientSig string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrInvalidSession
	}
	if s.now().Sub(sess.LastActivity) > s.ttl {
		delete(s.sessions, id)
		return nil, ErrSessionExpired
	}
	if s.checkOrigin && sess.Origin != origin {
		return nil, ErrOriginMismatch
	}
	if s.checkSignature && sess.ClientSig != clientSig {
		return nil, ErrSignatureMismatch
	}
	sess.LastActivity = s.now()
	return sess, nil
}

// Invalidate removes a session.
func (s *Store) Invalidate(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// InvalidateAccount removes every session belonging to the account. Used when
// the account's token is revoked or the account is deleted.
func (s *Store) InvalidateAccount(accountID uint) {
	s.mu.Lock()
	for id, sess := range s.sessions {
		if sess.AccountID == accountID {
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()
}

func (s *Store) sweepLocked(now time.Time) {
	for id, sess := range s.sessions {
		if now.Sub(sess.LastActivity) > s.ttl {
			delete(s.sessions, id)
		}
	}
}
