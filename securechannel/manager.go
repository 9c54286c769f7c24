// Package securechannel is the transport layer of the session subsystem. A
// Manager accepts TCP connections and wraps each one in a SecureChannel; the
// channel carries the traffic of at most one session at a time via the
// reverse-reference contract of package sessiontable.
package securechannel

import (
	"fmt"
	"net"
	"sync/atomic"

	"github.com/cyberinferno/uasession/idgenerator"
	"github.com/cyberinferno/uasession/logger"
	"github.com/cyberinferno/uasession/safemap"
)

// Config holds configuration for a channel Manager.
type Config struct {
	// Addr is the "host:port" to listen on.
	Addr string

	// ReadBufferSize is the per-channel read buffer size. Defaults to 4096.
	ReadBufferSize int

	// OnFrame is called for each raw frame read from any channel.
	OnFrame FrameHandler

	// OnOpen is called after a new channel is registered, before its read
	// loop starts.
	OnOpen func(ch *SecureChannel)

	// OnClose is called once when a channel closes, after it has been
	// deregistered. A session bound to the channel is still bound at this
	// point; the hook is where the owner unbinds it.
	OnClose func(ch *SecureChannel)

	// Logger receives the manager's structured log output. Defaults to Nop.
	Logger logger.Logger
}

// Manager accepts connections and maintains the registry of open channels.
// The accept loop runs in a goroutine; Stop closes the listener and every
// open channel.
type Manager struct {
	logger   logger.Logger
	addr     string
	listener net.Listener
	channels *safemap.SafeMap[uint32, *SecureChannel]
	running  atomic.Bool
	ids      *idgenerator.IdGenerator

	onFrame        FrameHandler
	onOpen         func(*SecureChannel)
	onClose        func(*SecureChannel)
	readBufferSize int
}

// NewManager creates a Manager from cfg. The manager does not listen until
// Start is called.
//
// Parameters:
//   - cfg: The manager configuration (see Config)
//
// Returns:
//   - A new Manager
func NewManager(cfg Config) *Manager {
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = 4096
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}

	return &Manager{
		logger:         cfg.Logger,
		addr:           cfg.Addr,
		channels:       safemap.NewSafeMap[uint32, *SecureChannel](),
		ids:            idgenerator.NewIdGenerator(0),
		onFrame:        cfg.OnFrame,
		onOpen:         cfg.OnOpen,
		onClose:        cfg.OnClose,
		readBufferSize: cfg.ReadBufferSize,
	}
}

// Start binds to the configured address and begins the accept loop in a
// goroutine. It is safe to call only when the manager is not already running.
//
// Returns:
//   - An error if the manager is already running or if listening fails
func (m *Manager) Start() error {
	if m.running.Load() {
		m.logger.Error("channel manager already running")
		return fmt.Errorf("channel manager already running")
	}

	ln, err := net.Listen("tcp", m.addr)
	if err != nil {
		m.logger.Error("channel manager failed to start", logger.Field{Key: "error", Value: err})
		return fmt.Errorf("channel manager failed to start: %w", err)
	}

	m.listener = ln
	m.running.Store(true)

	m.logger.Info("channel manager started", logger.Field{Key: "addr", Value: ln.Addr().String()})
	go m.acceptLoop()

	return nil
}

// Stop stops the manager: it closes the listener and every open channel. Safe
// to call when the manager is not running.
func (m *Manager) Stop() {
	if !m.running.Load() {
		m.logger.Info("channel manager not running")
		return
	}

	m.running.Store(false)
	if m.listener != nil {
		_ = m.listener.Close()
	}

	m.channels.Range(func(_ uint32, ch *SecureChannel) bool {
		_ = ch.Close()
		return true
	})

	m.logger.Info("channel manager stopped")
}

// Addr returns the address the manager is listening on, or "" when stopped.
// Useful when the configured address carries port 0.
func (m *Manager) Addr() string {
	if m.listener == nil {
		return ""
	}
	return m.listener.Addr().String()
}

// Channel returns the open channel with the given id, if present.
func (m *Manager) Channel(id uint32) (*SecureChannel, bool) {
	return m.channels.Load(id)
}

// Len returns the number of open channels.
func (m *Manager) Len() int {
	return m.channels.Len()
}

// acceptLoop accepts incoming connections until the manager is stopped. Each
// connection gets an id, a SecureChannel, a registry entry, and a read
// goroutine.
func (m *Manager) acceptLoop() {
	for m.running.Load() {
		conn, err := m.listener.Accept()
		if err != nil {
			if !m.running.Load() {
				return
			}

			m.logger.Error("channel manager accept error", logger.Field{Key: "error", Value: err})
			continue
		}

		id := m.ids.Next()
		ch := newSecureChannel(id, conn, m.readBufferSize, m.onFrame, m.channelClosed)
		m.channels.Store(id, ch)
		m.logger.Debug("channel opened",
			logger.Field{Key: "channel", Value: id},
			logger.Field{Key: "remote", Value: conn.RemoteAddr().String()},
		)
		if m.onOpen != nil {
			m.onOpen(ch)
		}
		go ch.Handle()
	}
}

// channelClosed deregisters a closed channel and forwards to the configured
// close hook.
func (m *Manager) channelClosed(ch *SecureChannel) {
	m.channels.Delete(ch.ID())
	m.logger.Debug("channel closed", logger.Field{Key: "channel", Value: ch.ID()})
	if m.onClose != nil {
		m.onClose(ch)
	}
}
