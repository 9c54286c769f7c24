// Package sessiontable manages the set of active sessions for a stateful
// server-side protocol stack. The table allocates session identifiers and
// authentication tokens, bounds the number of concurrently active sessions,
// binds sessions to transport channels, and reclaims session resources on
// removal.
//
// The table is deliberately single-threaded: no operation locks, blocks, or
// suspends, and all run in time linear in the current session count. A caller
// (or a higher-level component such as package server) must serialize all
// access to a given table instance. Concurrent use without external
// synchronization produces undefined results.
package sessiontable

import (
	"fmt"
	"time"
)

// Config holds the construction-time configuration of a SessionTable. The
// configuration is not reloadable.
type Config struct {
	// MaxSessionCount is the upper bound on concurrently active sessions.
	// Values below 1 fall back to DefaultMaxSessionCount.
	MaxSessionCount int

	// MaxSessionLifetime is the upper bound on any session's negotiated
	// timeout. Values below 1ns fall back to DefaultMaxSessionLifetime.
	MaxSessionLifetime time.Duration

	// StartSessionID seeds the identifier counter. The first session receives
	// this value as its identifier and StartSessionID+1 as its token.
	StartSessionID uint32

	// InitSession, if set, initializes the application state of a new session
	// before it receives an identifier. An error aborts creation with no side
	// effects; a resource-exhaustion failure should be reported so that the
	// caller sees ErrOutOfMemory.
	InitSession func(s *Session) error

	// DeinitSession, if set, releases the application state of a session being
	// removed or torn down.
	DeinitSession func(s *Session)

	// Now supplies the current time for expiration-date computation. Defaults
	// to time.Now; tests may substitute a fake clock.
	Now func() time.Time
}

// Default configuration bounds applied by New when Config leaves them unset.
const (
	DefaultMaxSessionCount    = 100
	DefaultMaxSessionLifetime = time.Hour
)

// DefaultConfig returns a Config with the default capacity and lifetime bounds
// and the identifier counter seeded at 1.
func DefaultConfig() Config {
	return Config{
		MaxSessionCount:    DefaultMaxSessionCount,
		MaxSessionLifetime: DefaultMaxSessionLifetime,
		StartSessionID:     1,
	}
}

// Stats is a point-in-time snapshot of the table's bookkeeping counters. The
// cumulative counters are monotonic over the table's lifetime; the current
// count always equals the number of live sessions.
type Stats struct {
	CurrentSessionCount    int
	CumulativeSessionCount uint64
	RejectedSessionCount   uint64
}

// SessionTable owns the unordered collection of live sessions. One table
// instance is expected per server, living for the whole process.
//
// Lookups are linear scans over the collection. Session counts are bounded by
// MaxSessionCount, which in this protocol family is small, so the scan keeps
// lookups allocation-free without an index.
type SessionTable struct {
	sessions []*Session

	maxSessionCount    int
	maxSessionLifetime time.Duration
	lastSessionID      uint32
	count              int

	cumulative uint64
	rejected   uint64

	initSession   func(*Session) error
	deinitSession func(*Session)
	now           func() time.Time
}

// New constructs an empty session table from cfg. Construction always
// succeeds; out-of-range bounds fall back to defaults.
//
// Parameters:
//   - cfg: The table configuration (see Config)
//
// Returns:
//   - A new, empty SessionTable
func New(cfg Config) *SessionTable {
	if cfg.MaxSessionCount < 1 {
		cfg.MaxSessionCount = DefaultMaxSessionCount
	}
	if cfg.MaxSessionLifetime < 1 {
		cfg.MaxSessionLifetime = DefaultMaxSessionLifetime
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &SessionTable{
		maxSessionCount:    cfg.MaxSessionCount,
		maxSessionLifetime: cfg.MaxSessionLifetime,
		lastSessionID:      cfg.StartSessionID,
		initSession:        cfg.InitSession,
		deinitSession:      cfg.DeinitSession,
		now:                cfg.Now,
	}
}

// CreateSession allocates a new session bound to ch with the requested
// timeout and inserts it into the table.
//
// The session identifier and authentication token are consecutive values from
// the table's counter; each creation consumes two counter values. Tokens are
// therefore predictable from observed session identifiers — they are a routing
// handle, not a secret. Deployments must rely on transport-level channel
// security for confidentiality.
//
// The requested timeout is clamped: values outside (0, MaxSessionLifetime]
// become MaxSessionLifetime, so a zero request means "use the maximum".
//
// The operation is all-or-nothing: on any error no state is mutated and the
// identifier counter is not advanced.
//
// Parameters:
//   - ch: The channel to carry the session's traffic, or nil for an unbound session
//   - requestedTimeout: The client-requested session lifetime; 0 means "use default"
//
// Returns:
//   - The new live session, shared between the caller and the table
//   - ErrTooManySessions if the table is at capacity, ErrOutOfMemory (wrapped)
//     if the session initializer fails, ErrInvalidArgument on a nil table
func (t *SessionTable) CreateSession(ch Channel, requestedTimeout time.Duration) (*Session, error) {
	if t == nil {
		return nil, ErrInvalidArgument
	}
	if t.count >= t.maxSessionCount {
		t.rejected++
		return nil, ErrTooManySessions
	}

	s := &Session{}
	if t.initSession != nil {
		if err := t.initSession(s); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrOutOfMemory, err)
		}
	}

	s.id = NumericID(t.lastSessionID)
	s.token = NumericID(t.lastSessionID + 1)
	t.lastSessionID += 2

	s.channel = ch
	if ch != nil {
		ch.AttachSession(s)
	}

	timeout := requestedTimeout
	if timeout <= 0 || timeout > t.maxSessionLifetime {
		timeout = t.maxSessionLifetime
	}
	s.timeout = timeout
	s.expirationDate = t.now().Add(timeout)

	t.sessions = append(t.sessions, s)
	t.count++
	t.cumulative++
	return s, nil
}

// GetSessionByID returns the live session with the given identifier.
//
// No expiration check is performed: a session present in the table is valid.
// Expiry reclamation is driven by an external sweep (see ExpiredSessions).
//
// Parameters:
//   - id: The session identifier to look up
//
// Returns:
//   - A live reference into table-owned storage (not a copy)
//   - ErrNotFound if no live session matches, ErrInvalidArgument on a nil table
func (t *SessionTable) GetSessionByID(id NodeID) (*Session, error) {
	if t == nil {
		return nil, ErrInvalidArgument
	}
	for _, s := range t.sessions {
		if s.id == id {
			return s, nil
		}
	}
	return nil, ErrNotFound
}

// GetSessionByToken returns the live session with the given authentication
// token. Same contract as GetSessionByID, keyed on the token instead; used to
// continue a session without presenting credentials again.
//
// Parameters:
//   - token: The authentication token to look up
//
// Returns:
//   - A live reference into table-owned storage (not a copy)
//   - ErrNotFound if no live session matches, ErrInvalidArgument on a nil table
func (t *SessionTable) GetSessionByToken(token NodeID) (*Session, error) {
	if t == nil {
		return nil, ErrInvalidArgument
	}
	for _, s := range t.sessions {
		if s.token == token {
			return s, nil
		}
	}
	return nil, ErrNotFound
}

// RemoveSession releases the session with the given identifier. The channel
// relation is unbound symmetrically, the external destructor contract runs,
// and the entry leaves the table. This is the only per-session release path.
//
// Parameters:
//   - id: The identifier of the session to remove
//
// Returns:
//   - ErrNotFound if no live session matches (no side effects),
//     ErrInvalidArgument on a nil table
func (t *SessionTable) RemoveSession(id NodeID) error {
	if t == nil {
		return ErrInvalidArgument
	}
	for i, s := range t.sessions {
		if s.id != id {
			continue
		}
		s.Unbind()
		if t.deinitSession != nil {
			t.deinitSession(s)
		}
		last := len(t.sessions) - 1
		t.sessions[i] = t.sessions[last]
		t.sessions[last] = nil
		t.sessions = t.sessions[:last]
		t.count--
		return nil
	}
	return ErrNotFound
}

// Shutdown releases every session in the table: each bound channel's reverse
// reference is cleared (without closing the channel), the external destructor
// contract runs, and the collection is emptied. Idempotent on an empty table.
// This is the bulk-release path used at server shutdown.
func (t *SessionTable) Shutdown() {
	if t == nil {
		return
	}
	for i, s := range t.sessions {
		s.Unbind()
		if t.deinitSession != nil {
			t.deinitSession(s)
		}
		t.sessions[i] = nil
	}
	t.sessions = t.sessions[:0]
	t.count = 0
}

// Len returns the number of live sessions.
func (t *SessionTable) Len() int {
	if t == nil {
		return 0
	}
	return t.count
}

// Range calls f for each live session until f returns false. The table must
// not be mutated from within f.
//
// Parameters:
//   - f: Function called per session; return false to stop iteration
func (t *SessionTable) Range(f func(s *Session) bool) {
	if t == nil {
		return
	}
	for _, s := range t.sessions {
		if !f(s) {
			return
		}
	}
}

// ExpiredSessions returns the identifiers of all sessions whose expiration
// date has passed at the given instant. The table does not remove them; an
// external sweep is expected to call RemoveSession for each.
//
// Parameters:
//   - now: The instant to evaluate expiration against
//
// Returns:
//   - The identifiers of expired sessions, in table order
func (t *SessionTable) ExpiredSessions(now time.Time) []NodeID {
	if t == nil {
		return nil
	}
	var expired []NodeID
	for _, s := range t.sessions {
		if s.Expired(now) {
			expired = append(expired, s.id)
		}
	}
	return expired
}

// Stats returns a snapshot of the table's bookkeeping counters.
func (t *SessionTable) Stats() Stats {
	if t == nil {
		return Stats{}
	}
	return Stats{
		CurrentSessionCount:    t.count,
		CumulativeSessionCount: t.cumulative,
		RejectedSessionCount:   t.rejected,
	}
}
