package sessiontable

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChannel records the reverse session reference like a transport channel would.
type fakeChannel struct {
	attached *Session
}

func (c *fakeChannel) AttachSession(s *Session) { c.attached = s }
func (c *fakeChannel) DetachSession()           { c.attached = nil }

// fixedClock returns a Now func pinned to the given instant.
func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestNew(t *testing.T) {
	t.Run("returns empty table", func(t *testing.T) {
		table := New(DefaultConfig())
		require.NotNil(t, table)
		assert.Equal(t, 0, table.Len())
	})

	t.Run("zero config falls back to defaults", func(t *testing.T) {
		table := New(Config{})
		ch := &fakeChannel{}
		s, err := table.CreateSession(ch, 0)
		require.NoError(t, err)
		assert.Equal(t, DefaultMaxSessionLifetime, s.Timeout())
	})
}

func TestCreateSession(t *testing.T) {
	t.Run("assigns consecutive id and token from the seed", func(t *testing.T) {
		table := New(Config{MaxSessionCount: 10, MaxSessionLifetime: time.Hour, StartSessionID: 1})
		s, err := table.CreateSession(&fakeChannel{}, 0)
		require.NoError(t, err)
		assert.Equal(t, NumericID(1), s.ID())
		assert.Equal(t, NumericID(2), s.AuthenticationToken())

		s2, err := table.CreateSession(&fakeChannel{}, 0)
		require.NoError(t, err)
		assert.Equal(t, NumericID(3), s2.ID())
		assert.Equal(t, NumericID(4), s2.AuthenticationToken())
	})

	t.Run("binds the channel on both sides", func(t *testing.T) {
		table := New(DefaultConfig())
		ch := &fakeChannel{}
		s, err := table.CreateSession(ch, 0)
		require.NoError(t, err)
		assert.Same(t, s, ch.attached)
		assert.Equal(t, Channel(ch), s.Channel())
	})

	t.Run("nil channel yields an unbound session", func(t *testing.T) {
		table := New(DefaultConfig())
		s, err := table.CreateSession(nil, 0)
		require.NoError(t, err)
		assert.Nil(t, s.Channel())
	})

	t.Run("computes expiration date from the clock", func(t *testing.T) {
		now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
		table := New(Config{
			MaxSessionCount:    10,
			MaxSessionLifetime: time.Hour,
			StartSessionID:     1,
			Now:                fixedClock(now),
		})
		s, err := table.CreateSession(nil, 10*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, now.Add(10*time.Minute), s.ExpirationDate())
	})

	t.Run("runs the initializer before allocating state", func(t *testing.T) {
		table := New(Config{
			MaxSessionCount:    10,
			MaxSessionLifetime: time.Hour,
			StartSessionID:     1,
			InitSession: func(s *Session) error {
				s.State = "app-state"
				return nil
			},
		})
		s, err := table.CreateSession(nil, 0)
		require.NoError(t, err)
		assert.Equal(t, "app-state", s.State)
	})

	t.Run("nil table returns ErrInvalidArgument", func(t *testing.T) {
		var table *SessionTable
		_, err := table.CreateSession(nil, 0)
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})
}

func TestCreateSession_timeoutClamping(t *testing.T) {
	const maxLifetime = time.Hour
	table := New(Config{MaxSessionCount: 10, MaxSessionLifetime: maxLifetime, StartSessionID: 1})

	t.Run("zero request yields the maximum", func(t *testing.T) {
		s, err := table.CreateSession(nil, 0)
		require.NoError(t, err)
		assert.Equal(t, maxLifetime, s.Timeout())
	})

	t.Run("request above the maximum is clamped", func(t *testing.T) {
		s, err := table.CreateSession(nil, 2*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, maxLifetime, s.Timeout())
	})

	t.Run("negative request yields the maximum", func(t *testing.T) {
		s, err := table.CreateSession(nil, -time.Minute)
		require.NoError(t, err)
		assert.Equal(t, maxLifetime, s.Timeout())
	})

	t.Run("in-range request is kept exactly", func(t *testing.T) {
		s, err := table.CreateSession(nil, 15*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, 15*time.Minute, s.Timeout())
	})

	t.Run("request equal to the maximum is kept", func(t *testing.T) {
		s, err := table.CreateSession(nil, maxLifetime)
		require.NoError(t, err)
		assert.Equal(t, maxLifetime, s.Timeout())
	})
}

func TestCreateSession_capacity(t *testing.T) {
	table := New(Config{MaxSessionCount: 2, MaxSessionLifetime: time.Hour, StartSessionID: 1})

	_, err := table.CreateSession(nil, 0)
	require.NoError(t, err)
	_, err = table.CreateSession(nil, 0)
	require.NoError(t, err)

	t.Run("create at capacity fails with ErrTooManySessions", func(t *testing.T) {
		_, err := table.CreateSession(nil, 0)
		assert.ErrorIs(t, err, ErrTooManySessions)
		assert.Equal(t, 2, table.Len())
	})

	t.Run("rejection does not advance the identifier counter", func(t *testing.T) {
		first, err := table.GetSessionByID(NumericID(1))
		require.NoError(t, err)
		require.NoError(t, table.RemoveSession(first.ID()))

		s, err := table.CreateSession(nil, 0)
		require.NoError(t, err)
		assert.Equal(t, NumericID(5), s.ID())
		assert.Equal(t, NumericID(6), s.AuthenticationToken())
	})

	t.Run("rejections are counted in stats", func(t *testing.T) {
		assert.Equal(t, uint64(1), table.Stats().RejectedSessionCount)
	})
}

func TestCreateSession_initializerFailure(t *testing.T) {
	initErr := errors.New("subscription pool exhausted")
	failing := true
	table := New(Config{
		MaxSessionCount:    10,
		MaxSessionLifetime: time.Hour,
		StartSessionID:     1,
		InitSession: func(s *Session) error {
			if failing {
				return initErr
			}
			return nil
		},
	})

	ch := &fakeChannel{}
	_, err := table.CreateSession(ch, 0)
	assert.ErrorIs(t, err, ErrOutOfMemory)

	t.Run("no session is inserted and the channel stays detached", func(t *testing.T) {
		assert.Equal(t, 0, table.Len())
		assert.Nil(t, ch.attached)
	})

	t.Run("the identifier counter is not advanced", func(t *testing.T) {
		failing = false
		s, err := table.CreateSession(nil, 0)
		require.NoError(t, err)
		assert.Equal(t, NumericID(1), s.ID())
	})
}

func TestGetSessionByID(t *testing.T) {
	table := New(Config{MaxSessionCount: 10, MaxSessionLifetime: time.Hour, StartSessionID: 7})
	created, err := table.CreateSession(nil, 0)
	require.NoError(t, err)

	t.Run("returns the live session", func(t *testing.T) {
		s, err := table.GetSessionByID(created.ID())
		require.NoError(t, err)
		assert.Same(t, created, s)
	})

	t.Run("unknown id returns ErrNotFound", func(t *testing.T) {
		_, err := table.GetSessionByID(NumericID(999))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("token does not match in the id space", func(t *testing.T) {
		_, err := table.GetSessionByID(created.AuthenticationToken())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("expired sessions are still returned", func(t *testing.T) {
		// Expiry reclamation is the sweep's job; presence means valid.
		created.expirationDate = time.Now().Add(-time.Minute)
		s, err := table.GetSessionByID(created.ID())
		require.NoError(t, err)
		assert.Same(t, created, s)
	})

	t.Run("nil table returns ErrInvalidArgument", func(t *testing.T) {
		var table *SessionTable
		_, err := table.GetSessionByID(NumericID(1))
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})
}

func TestGetSessionByToken(t *testing.T) {
	table := New(Config{MaxSessionCount: 10, MaxSessionLifetime: time.Hour, StartSessionID: 1})
	created, err := table.CreateSession(nil, 0)
	require.NoError(t, err)

	t.Run("returns the same session as lookup by id", func(t *testing.T) {
		byToken, err := table.GetSessionByToken(created.AuthenticationToken())
		require.NoError(t, err)
		byID, err := table.GetSessionByID(created.ID())
		require.NoError(t, err)
		assert.Same(t, byID, byToken)
	})

	t.Run("unknown token returns ErrNotFound", func(t *testing.T) {
		_, err := table.GetSessionByToken(NumericID(999))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("id does not match in the token space", func(t *testing.T) {
		_, err := table.GetSessionByToken(created.ID())
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestRemoveSession(t *testing.T) {
	t.Run("removes the session and clears the channel reference", func(t *testing.T) {
		table := New(Config{MaxSessionCount: 10, MaxSessionLifetime: time.Hour, StartSessionID: 1})
		ch := &fakeChannel{}
		s, err := table.CreateSession(ch, 0)
		require.NoError(t, err)

		require.NoError(t, table.RemoveSession(s.ID()))
		assert.Nil(t, ch.attached)
		assert.Equal(t, 0, table.Len())

		_, err = table.GetSessionByID(s.ID())
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = table.GetSessionByToken(s.AuthenticationToken())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("runs the destructor contract", func(t *testing.T) {
		var released []*Session
		table := New(Config{
			MaxSessionCount:    10,
			MaxSessionLifetime: time.Hour,
			StartSessionID:     1,
			DeinitSession:      func(s *Session) { released = append(released, s) },
		})
		s, err := table.CreateSession(nil, 0)
		require.NoError(t, err)
		require.NoError(t, table.RemoveSession(s.ID()))
		require.Len(t, released, 1)
		assert.Same(t, s, released[0])
	})

	t.Run("unknown id returns ErrNotFound with no side effects", func(t *testing.T) {
		table := New(Config{MaxSessionCount: 10, MaxSessionLifetime: time.Hour, StartSessionID: 1})
		_, err := table.CreateSession(nil, 0)
		require.NoError(t, err)

		assert.ErrorIs(t, table.RemoveSession(NumericID(999)), ErrNotFound)
		assert.Equal(t, 1, table.Len())
	})

	t.Run("other sessions survive a removal", func(t *testing.T) {
		table := New(Config{MaxSessionCount: 10, MaxSessionLifetime: time.Hour, StartSessionID: 1})
		a, _ := table.CreateSession(nil, 0)
		b, _ := table.CreateSession(nil, 0)
		c, _ := table.CreateSession(nil, 0)

		require.NoError(t, table.RemoveSession(b.ID()))
		_, err := table.GetSessionByID(a.ID())
		assert.NoError(t, err)
		_, err = table.GetSessionByID(c.ID())
		assert.NoError(t, err)
		assert.Equal(t, 2, table.Len())
	})

	t.Run("nil table returns ErrInvalidArgument", func(t *testing.T) {
		var table *SessionTable
		assert.ErrorIs(t, table.RemoveSession(NumericID(1)), ErrInvalidArgument)
	})
}

func TestShutdown(t *testing.T) {
	t.Run("releases all sessions and clears channel references", func(t *testing.T) {
		var released int
		table := New(Config{
			MaxSessionCount:    10,
			MaxSessionLifetime: time.Hour,
			StartSessionID:     1,
			DeinitSession:      func(*Session) { released++ },
		})
		chans := []*fakeChannel{{}, {}, {}}
		for _, ch := range chans {
			_, err := table.CreateSession(ch, 0)
			require.NoError(t, err)
		}

		table.Shutdown()
		assert.Equal(t, 0, table.Len())
		assert.Equal(t, 3, released)
		for _, ch := range chans {
			assert.Nil(t, ch.attached)
		}
	})

	t.Run("idempotent on an empty table", func(t *testing.T) {
		table := New(DefaultConfig())
		table.Shutdown()
		table.Shutdown()
		assert.Equal(t, 0, table.Len())
	})
}

func TestExpiredSessions(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	table := New(Config{
		MaxSessionCount:    10,
		MaxSessionLifetime: time.Hour,
		StartSessionID:     1,
		Now:                fixedClock(now),
	})

	short, err := table.CreateSession(nil, time.Minute)
	require.NoError(t, err)
	long, err := table.CreateSession(nil, time.Hour)
	require.NoError(t, err)

	t.Run("nothing expired before the deadline", func(t *testing.T) {
		assert.Empty(t, table.ExpiredSessions(now))
	})

	t.Run("only sessions past their deadline are reported", func(t *testing.T) {
		expired := table.ExpiredSessions(now.Add(2 * time.Minute))
		assert.Equal(t, []NodeID{short.ID()}, expired)
	})

	t.Run("touch pushes the deadline out", func(t *testing.T) {
		short.Touch(now.Add(2 * time.Minute))
		assert.Empty(t, table.ExpiredSessions(now.Add(2*time.Minute)))
	})

	t.Run("all sessions expire eventually", func(t *testing.T) {
		expired := table.ExpiredSessions(now.Add(48 * time.Hour))
		assert.ElementsMatch(t, []NodeID{short.ID(), long.ID()}, expired)
	})
}

func TestBindChannel(t *testing.T) {
	table := New(DefaultConfig())

	t.Run("rebinding moves the reverse reference", func(t *testing.T) {
		old := &fakeChannel{}
		s, err := table.CreateSession(old, 0)
		require.NoError(t, err)

		replacement := &fakeChannel{}
		s.BindChannel(replacement)
		assert.Nil(t, old.attached)
		assert.Same(t, s, replacement.attached)
		assert.Equal(t, Channel(replacement), s.Channel())
	})

	t.Run("unbind clears both sides and is idempotent", func(t *testing.T) {
		ch := &fakeChannel{}
		s, err := table.CreateSession(ch, 0)
		require.NoError(t, err)

		s.Unbind()
		assert.Nil(t, ch.attached)
		assert.Nil(t, s.Channel())
		s.Unbind()
		assert.Nil(t, s.Channel())
	})

	t.Run("unbound session can still be removed", func(t *testing.T) {
		s, err := table.CreateSession(&fakeChannel{}, 0)
		require.NoError(t, err)
		s.Unbind()
		assert.NoError(t, table.RemoveSession(s.ID()))
	})
}

func TestStats(t *testing.T) {
	table := New(Config{MaxSessionCount: 1, MaxSessionLifetime: time.Hour, StartSessionID: 1})

	s, err := table.CreateSession(nil, 0)
	require.NoError(t, err)
	_, err = table.CreateSession(nil, 0)
	require.ErrorIs(t, err, ErrTooManySessions)
	require.NoError(t, table.RemoveSession(s.ID()))

	got := table.Stats()
	assert.Equal(t, 0, got.CurrentSessionCount)
	assert.Equal(t, uint64(1), got.CumulativeSessionCount)
	assert.Equal(t, uint64(1), got.RejectedSessionCount)
}

// TestSingleSlotLifecycle walks a one-slot table through reject, remove, and
// re-create, pinning down the identifier sequence across the whole exchange.
func TestSingleSlotLifecycle(t *testing.T) {
	table := New(Config{MaxSessionCount: 1, MaxSessionLifetime: time.Hour, StartSessionID: 1})
	c1 := &fakeChannel{}
	c2 := &fakeChannel{}

	first, err := table.CreateSession(c1, 0)
	require.NoError(t, err)
	assert.Equal(t, NumericID(1), first.ID())
	assert.Equal(t, NumericID(2), first.AuthenticationToken())
	assert.Equal(t, time.Hour, first.Timeout())

	_, err = table.CreateSession(c2, 0)
	require.ErrorIs(t, err, ErrTooManySessions)

	require.NoError(t, table.RemoveSession(first.ID()))
	assert.Nil(t, c1.attached)

	second, err := table.CreateSession(c2, 0)
	require.NoError(t, err)
	assert.Equal(t, NumericID(3), second.ID())
	assert.Equal(t, NumericID(4), second.AuthenticationToken())
	assert.Same(t, second, c2.attached)
}

func TestRange(t *testing.T) {
	table := New(Config{MaxSessionCount: 10, MaxSessionLifetime: time.Hour, StartSessionID: 1})
	for i := 0; i < 3; i++ {
		_, err := table.CreateSession(nil, 0)
		require.NoError(t, err)
	}

	t.Run("visits every live session", func(t *testing.T) {
		var visited int
		table.Range(func(*Session) bool {
			visited++
			return true
		})
		assert.Equal(t, 3, visited)
	})

	t.Run("stops when f returns false", func(t *testing.T) {
		var visited int
		table.Range(func(*Session) bool {
			visited++
			return false
		})
		assert.Equal(t, 1, visited)
	})
}

func TestNodeID(t *testing.T) {
	t.Run("string form", func(t *testing.T) {
		assert.Equal(t, "ns=1;i=42", NumericID(42).String())
	})

	t.Run("zero value", func(t *testing.T) {
		assert.True(t, NodeID{}.IsZero())
		assert.False(t, NumericID(1).IsZero())
	})
}
