package extws

import (
	"net"
	"net/http"
	"net/url"
	"sync/atomic"

	"github.com/pkg/errors"
)

// State is the lifecycle state of a connection.
type State int32

const (
	StateOpen State = iota
	StateDisconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateDisconnecting:
		return "disconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrConnClosed is returned when sending on a connection that is no longer open.
var ErrConnClosed = errors.New("extws: connection closed")

// Conn is one live client socket. Exactly one Conn exists per accepted
// transport; it is torn down once, whatever triggers the teardown.
type Conn struct {
	id        string
	req       Request
	ip        net.IP
	transport Transport
	s         *Server
	state     atomic.Int32

	// guarded by s.groups.mu
	groups map[string]struct{}
}

func newConn(s *Server, id string, t Transport, req Request) *Conn {
	return &Conn{
		id:        id,
		req:       req.snapshot(),
		ip:        remoteIP(t.RemoteAddr()),
		transport: t,
		s:         s,
		groups:    make(map[string]struct{}),
	}
}

// ID returns the connection identifier assigned at accept time.
func (c *Conn) ID() string { return c.id }

// URL returns a copy of the upgrade request URL.
func (c *Conn) URL() *url.URL {
	u := *c.req.URL
	return &u
}

// Header returns a copy of the upgrade request headers.
func (c *Conn) Header() http.Header { return c.req.Header.Clone() }

// RemoteIP returns the client address, or nil when the transport had none.
func (c *Conn) RemoteIP() net.IP { return c.ip }

func (c *Conn) State() State { return State(c.state.Load()) }

// Groups returns the groups c belongs to, sorted.
func (c *Conn) Groups() []string { return c.s.groups.groupsOf(c) }

// Join subscribes c to group. Joining a group twice is a no-op. A transport
// failure disconnects c and is returned.
func (c *Conn) Join(group string) error {
	joined, err := c.s.groups.join(group, c)
	if err != nil {
		c.fail("subscribe", err)
		return errors.Wrapf(err, "join %q", group)
	}
	if joined {
		c.s.metrics.incr("groups.joins", 1)
		c.s.logger.Debug("group joined", "id", c.id, "group", group)
	}
	return nil
}

// Leave unsubscribes c from group. Leaving a group c is not in is a no-op.
func (c *Conn) Leave(group string) error {
	left, err := c.s.groups.leave(group, c)
	if err != nil {
		c.fail("unsubscribe", err)
		return errors.Wrapf(err, "leave %q", group)
	}
	if left {
		c.s.metrics.incr("groups.leaves", 1)
		c.s.logger.Debug("group left", "id", c.id, "group", group)
	}
	return nil
}

// Send writes f to the client. If the transport rejects the frame the
// connection is disconnected and the transport error returned.
func (c *Conn) Send(f Frame) error {
	return c.send(Encode(f))
}

func (c *Conn) send(raw []byte) error {
	if c.State() != StateOpen {
		return ErrConnClosed
	}
	if err := c.transport.Send(raw); err != nil {
		c.fail("send", err)
		return errors.Wrap(err, "send")
	}
	c.s.metrics.incr("conn.send", 1)
	return nil
}

// deliver is send for fan-out paths, where a failure only concerns c.
func (c *Conn) deliver(raw []byte) {
	_ = c.send(raw)
}

// Disconnect ends the connection from the server side.
func (c *Conn) Disconnect() {
	c.disconnect(false)
}

func (c *Conn) fail(op string, err error) {
	c.s.metrics.mark("errors.transport", 1)
	c.s.logger.Warn("transport failure", "id", c.id, "op", op, "error", err)
	c.disconnect(false)
}

// disconnect runs the teardown at most once. When the peer already closed
// the socket the transport is not ended again.
func (c *Conn) disconnect(peerClosed bool) {
	if !c.state.CompareAndSwap(int32(StateOpen), int32(StateDisconnecting)) {
		return
	}
	if !peerClosed {
		if err := c.transport.End(); err != nil {
			c.s.logger.Debug("end failed", "id", c.id, "error", err)
		}
	}
	c.s.groups.removeConnection(c)
	c.s.conns.remove(c.id)
	c.state.Store(int32(StateClosed))
	c.s.metrics.decr("connections", 1)
	c.s.logger.Info("connection closed", "id", c.id, "peer", peerClosed)
	c.s.opts.onDisconnect(c)
}
