// Package server wraps the single-threaded session table in the
// serialization layer its contract requires. All table access goes through
// one mutex, so channel goroutines, the expiration sweeper, and diagnostics
// readers can share the table safely. The server also owns the sweep that
// turns advisory expiration dates into actual removals.
package server

import (
	"sync"
	"time"

	"github.com/cyberinferno/uasession/logger"
	"github.com/cyberinferno/uasession/sessiontable"
)

// DefaultSweepInterval is how often the expiration sweeper scans the table
// when Config leaves SweepInterval unset.
const DefaultSweepInterval = 10 * time.Second

// Config holds configuration for a session Server.
type Config struct {
	// Table configures the underlying session table.
	Table sessiontable.Config

	// SweepInterval is the period between expiration sweeps. Defaults to
	// DefaultSweepInterval.
	SweepInterval time.Duration

	// Logger receives the server's structured log output. Defaults to Nop.
	Logger logger.Logger
}

// Server serializes access to one session table and drives its expiration
// sweep. Safe for concurrent use; the table itself is never touched outside
// the server's mutex.
type Server struct {
	mu    sync.Mutex
	table *sessiontable.SessionTable

	logger        logger.Logger
	sweepInterval time.Duration
	now           func() time.Time

	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// New creates a Server from cfg. The expiration sweeper does not run until
// Start is called.
//
// Parameters:
//   - cfg: The server configuration (see Config)
//
// Returns:
//   - A new Server
func New(cfg Config) *Server {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.Table.Now == nil {
		cfg.Table.Now = time.Now
	}

	return &Server{
		table:         sessiontable.New(cfg.Table),
		logger:        cfg.Logger,
		sweepInterval: cfg.SweepInterval,
		now:           cfg.Table.Now,
		done:          make(chan struct{}),
	}
}

// Start launches the expiration sweeper goroutine.
func (s *Server) Start() {
	s.wg.Add(1)
	go s.sweepLoop()
}

// Shutdown stops the sweeper and bulk-releases every session. Safe to call
// once; the server must not be used afterwards.
func (s *Server) Shutdown() {
	s.once.Do(func() { close(s.done) })
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.table.Shutdown()
	s.logger.Info("session server shut down")
}

// OpenSession creates a session bound to ch with the requested timeout.
//
// Parameters:
//   - ch: The channel to carry the session's traffic, or nil
//   - requestedTimeout: The client-requested session lifetime; 0 means "use default"
//
// Returns:
//   - The new session, or the table's creation error
func (s *Server) OpenSession(ch sessiontable.Channel, requestedTimeout time.Duration) (*sessiontable.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.table.CreateSession(ch, requestedTimeout)
	if err != nil {
		s.logger.Warn("session rejected", logger.Field{Key: "error", Value: err})
		return nil, err
	}

	s.logger.Info("session opened",
		logger.Field{Key: "session", Value: sess.ID().String()},
		logger.Field{Key: "timeout", Value: sess.Timeout().String()},
	)
	return sess, nil
}

// CloseSession removes the session with the given identifier.
//
// Parameters:
//   - id: The identifier of the session to remove
//
// Returns:
//   - The table's removal error, if any
func (s *Server) CloseSession(id sessiontable.NodeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.table.RemoveSession(id); err != nil {
		return err
	}

	s.logger.Info("session closed", logger.Field{Key: "session", Value: id.String()})
	return nil
}

// SessionByID returns the live session with the given identifier.
func (s *Server) SessionByID(id sessiontable.NodeID) (*sessiontable.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.GetSessionByID(id)
}

// SessionByToken returns the live session with the given authentication token.
func (s *Server) SessionByToken(token sessiontable.NodeID) (*sessiontable.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.GetSessionByToken(token)
}

// Touch refreshes the expiration date of the session with the given
// identifier. Keep-alive traffic is expected to call this.
//
// Parameters:
//   - id: The identifier of the session to refresh
//
// Returns:
//   - The table's lookup error, if any
func (s *Server) Touch(id sessiontable.NodeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.table.GetSessionByID(id)
	if err != nil {
		return err
	}

	sess.Touch(s.now())
	return nil
}

// UnbindSession breaks the channel relation of the session with the given
// identifier without removing the session. The transport layer calls this
// when a channel closes; the session stays live until it expires or a new
// channel rebinds it.
//
// Parameters:
//   - id: The identifier of the session to unbind
//
// Returns:
//   - The table's lookup error, if any
func (s *Server) UnbindSession(id sessiontable.NodeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.table.GetSessionByID(id)
	if err != nil {
		return err
	}

	sess.Unbind()
	s.logger.Debug("session unbound", logger.Field{Key: "session", Value: id.String()})
	return nil
}

// Stats returns a snapshot of the table's bookkeeping counters.
func (s *Server) Stats() sessiontable.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.Stats()
}

// sweepLoop runs expiration sweeps until Shutdown.
func (s *Server) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweepOnce()
		}
	}
}

// sweepOnce removes every session whose expiration date has passed. The scan
// and the removals happen under one lock acquisition, so the sweep observes a
// consistent table.
func (s *Server) sweepOnce() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, id := range s.table.ExpiredSessions(now) {
		if err := s.table.RemoveSession(id); err != nil {
			continue
		}
		s.logger.Info("session expired", logger.Field{Key: "session", Value: id.String()})
	}
}
