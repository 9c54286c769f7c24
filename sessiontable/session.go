package sessiontable

import "time"

// Channel is the reverse-reference contract the transport layer must provide.
// The table sets and clears the channel's session reference when it binds,
// unbinds, removes, or tears down a session. The channel object itself is
// owned by the transport layer; the table never opens or closes it.
type Channel interface {
	// AttachSession records s as the session currently carried by the channel.
	AttachSession(s *Session)

	// DetachSession clears the channel's session reference. The channel is no
	// longer attached to any session afterwards.
	DetachSession()
}

// Session is a server-side record of an authenticated logical conversation.
// It outlives individual transport exchanges: the channel carrying its traffic
// may close and be replaced without destroying the session.
//
// A Session is created only by SessionTable.CreateSession, lives exactly as
// long as it remains in the table, and is released only by RemoveSession or
// Shutdown. The table hands out live references into its own storage, never
// copies; callers must not use a reference after the session was removed.
//
// Sessions inherit the table's single-threaded contract: all access must be
// serialized by the caller.
type Session struct {
	id      NodeID
	token   NodeID
	channel Channel

	timeout        time.Duration
	expirationDate time.Time

	// State is an opaque slot for the application's per-session data
	// (subscriptions, continuation points). It is filled by the external
	// initializer contract and released by the destructor contract; the
	// table never inspects it.
	State any
}

// ID returns the session identifier, unique among live sessions.
func (s *Session) ID() NodeID {
	return s.id
}

// AuthenticationToken returns the token clients present to continue this
// session without re-sending credentials. It is unique among live sessions,
// across both the identifier and token spaces.
func (s *Session) AuthenticationToken() NodeID {
	return s.token
}

// Channel returns the channel currently carrying this session's traffic, or
// nil if the session is unbound.
func (s *Session) Channel() Channel {
	return s.channel
}

// Timeout returns the negotiated session lifetime.
func (s *Session) Timeout() time.Duration {
	return s.timeout
}

// ExpirationDate returns the advisory deadline after which an external sweep
// is expected to remove the session. The table itself never evicts on expiry.
func (s *Session) ExpirationDate() time.Time {
	return s.expirationDate
}

// Expired reports whether the session's expiration date has passed at the
// given instant.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.expirationDate)
}

// Touch refreshes the expiration date to now plus the negotiated timeout.
// Keep-alive activity is expected to call this.
//
// Parameters:
//   - now: The instant the keep-alive was observed
func (s *Session) Touch(now time.Time) {
	s.expirationDate = now.Add(s.timeout)
}

// BindChannel binds the session to ch, replacing any previous binding. The old
// channel's reverse reference is cleared and the new channel's reverse
// reference is set in the same step, so no half-linked state is observable.
// Binding to nil is equivalent to Unbind.
//
// Parameters:
//   - ch: The channel to carry this session's traffic, or nil
func (s *Session) BindChannel(ch Channel) {
	if s.channel == ch {
		return
	}
	if s.channel != nil {
		s.channel.DetachSession()
	}
	s.channel = ch
	if ch != nil {
		ch.AttachSession(s)
	}
}

// Unbind breaks the session/channel relation from the session side: the
// channel's reverse reference and the session's channel reference are both
// cleared. Neither object is destroyed; the transport layer keeps ownership of
// the channel and the table keeps ownership of the session. Safe to call on an
// unbound session.
func (s *Session) Unbind() {
	s.BindChannel(nil)
}
