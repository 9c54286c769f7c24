package securechannel

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/cyberinferno/uasession/sessiontable"
)

// FrameHandler is called for each raw frame read from a channel's connection.
// The frame slice is only valid for the duration of the call; copy it if it
// must be retained. Handlers are invoked from the channel's read goroutine.
type FrameHandler func(ch *SecureChannel, frame []byte)

// SecureChannel wraps one accepted transport connection. The transport layer
// owns the channel and its connection; a session bound to the channel only
// records a back-reference, so closing the channel never destroys the session
// and removing the session never closes the channel.
//
// SecureChannel implements sessiontable.Channel, giving the session table the
// reverse-reference contract it needs for symmetric bind/unbind.
type SecureChannel struct {
	id   uint32
	conn net.Conn

	mu      sync.Mutex
	session *sessiontable.Session

	wmu     sync.Mutex
	closed  atomic.Bool
	onFrame FrameHandler
	onClose func(*SecureChannel)

	readBufferSize int
}

var _ sessiontable.Channel = (*SecureChannel)(nil)

// newSecureChannel wraps conn as a channel with the given id. The manager is
// the only constructor caller; hooks and buffer size come from its config.
func newSecureChannel(id uint32, conn net.Conn, bufSize int, onFrame FrameHandler, onClose func(*SecureChannel)) *SecureChannel {
	return &SecureChannel{
		id:             id,
		conn:           conn,
		onFrame:        onFrame,
		onClose:        onClose,
		readBufferSize: bufSize,
	}
}

// ID returns the channel's unique identifier assigned by the manager.
func (c *SecureChannel) ID() uint32 {
	return c.id
}

// RemoteAddr returns the remote address of the underlying connection.
func (c *SecureChannel) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// AttachSession implements sessiontable.Channel. It records s as the session
// currently carried by this channel.
func (c *SecureChannel) AttachSession(s *sessiontable.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = s
}

// DetachSession implements sessiontable.Channel. The channel is no longer
// attached to any session afterwards.
func (c *SecureChannel) DetachSession() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = nil
}

// Session returns the session currently bound to this channel, or nil.
func (c *SecureChannel) Session() *sessiontable.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Handle runs the channel's read loop until the connection fails or the
// channel is closed. Each chunk read is handed to the frame handler; message
// decoding is the handler's concern. Handle closes the channel on exit.
func (c *SecureChannel) Handle() {
	defer func() { _ = c.Close() }()

	buf := make([]byte, c.readBufferSize)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 && c.onFrame != nil {
			c.onFrame(c, buf[:n])
		}
		if err != nil {
			return
		}
	}
}

// Send writes data to the connection. Safe for concurrent use.
//
// Parameters:
//   - data: The bytes to send
//
// Returns:
//   - An error if the channel is closed or the write failed
func (c *SecureChannel) Send(data []byte) error {
	if c.closed.Load() {
		return fmt.Errorf("channel %d is closed", c.id)
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("channel %d write: %w", c.id, err)
	}

	return nil
}

// Close closes the underlying connection and fires the close hook. Any bound
// session is left intact; the hook's owner decides whether to unbind it. Safe
// to call multiple times.
//
// Returns:
//   - An error if closing the connection failed
func (c *SecureChannel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	err := c.conn.Close()
	if c.onClose != nil {
		c.onClose(c)
	}

	return err
}
