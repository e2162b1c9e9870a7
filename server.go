package extws

import (
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrUnknownMessage is reported when no handler is registered for a name.
	ErrUnknownMessage = errors.New("extws: no handler for message")
	// ErrUnexpectedFrame is reported for server-originated frames sent by a client.
	ErrUnexpectedFrame = errors.New("extws: unexpected frame from client")
)

// HandlerFunc handles one named message. A non-nil reply is sent back to c
// as a message with the same name.
type HandlerFunc func(c *Conn, payload []byte) (reply any, err error)

// Server tracks live connections and their groups, decodes inbound frames
// and fans messages out.
type Server struct {
	opts    options
	logger  Logger
	metrics *metrics

	conns  *registry
	groups *groupIndex

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// New creates a Server.
func New(opt ...Option) *Server {
	var opts options
	for _, o := range opt {
		o(&opts)
	}
	checkOptions(&opts)
	return &Server{
		opts:     opts,
		logger:   opts.logger,
		metrics:  newMetrics(opts.metrics),
		conns:    newRegistry(),
		groups:   newGroupIndex(),
		handlers: make(map[string]HandlerFunc),
	}
}

// Handle registers h for messages named name, replacing any previous handler.
func (s *Server) Handle(name string, h HandlerFunc) {
	s.mu.Lock()
	s.handlers[name] = h
	s.mu.Unlock()
}

func (s *Server) handler(name string) (HandlerFunc, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handlers[name]
	return h, ok
}

// Accept registers a connection for a freshly upgraded transport and sends
// it the init frame carrying its id.
func (s *Server) Accept(t Transport, req Request) *Conn {
	c := newConn(s, s.opts.newID(), t, req)
	s.conns.register(c)
	s.metrics.incr("connections", 1)
	s.logger.Info("connection accepted", "id", c.id, "ip", c.ip)
	if err := c.Send(initFrame(c.id)); err != nil {
		return c
	}
	s.opts.onConnect(c)
	return c
}

// Receive decodes and dispatches one inbound frame. Frames for unknown ids
// are dropped.
func (s *Server) Receive(id string, raw []byte) {
	c, ok := s.conns.get(id)
	if !ok {
		s.metrics.mark("drops", 1)
		return
	}
	s.metrics.incr("conn.recv", 1)

	f, err := Decode(raw)
	if err != nil {
		s.metrics.mark("errors.decode", 1)
		s.opts.onError(c, err)
		return
	}
	switch f.Kind {
	case KindPing:
		c.deliver(Encode(PongFrame))
	case KindMessage:
		s.dispatch(c, f)
	default:
		s.opts.onError(c, errors.Wrapf(ErrUnexpectedFrame, "%s frame", f.Kind))
	}
}

func (s *Server) dispatch(c *Conn, f Frame) {
	h, ok := s.handler(f.Name)
	if !ok {
		s.opts.onError(c, errors.Wrapf(ErrUnknownMessage, "%q", f.Name))
		return
	}
	reply, err := h(c, []byte(f.Payload))
	if err != nil {
		s.opts.onError(c, errors.Wrapf(err, "handle %q", f.Name))
		return
	}
	if reply == nil {
		return
	}
	out, err := NewMessage(f.Name, reply)
	if err != nil {
		s.opts.onError(c, err)
		return
	}
	c.deliver(Encode(out))
}

// PeerClosed tears down the connection after its socket was closed by the
// peer or the transport. The socket is not ended again.
func (s *Server) PeerClosed(id string) {
	if c, ok := s.conns.get(id); ok {
		c.disconnect(true)
	}
}

// Conn looks up a live connection.
func (s *Server) Conn(id string) (*Conn, bool) { return s.conns.get(id) }

// Conns returns a snapshot of the live connections.
func (s *Server) Conns() []*Conn { return s.conns.all() }

// Len returns the number of live connections.
func (s *Server) Len() int { return s.conns.size() }

// Groups returns the number of non-empty groups.
func (s *Server) Groups() int { return s.groups.len() }

// Members returns the ids of the connections in group.
func (s *Server) Members(group string) []string {
	conns := s.groups.members(group)
	ids := make([]string, 0, len(conns))
	for _, c := range conns {
		ids = append(ids, c.id)
	}
	return ids
}

// Broadcast sends f to every live connection and returns the number of
// connections it was offered to.
func (s *Server) Broadcast(f Frame) int {
	raw := Encode(f)
	conns := s.conns.all()
	for _, c := range conns {
		c.deliver(raw)
	}
	return len(conns)
}

// SendToGroup sends f to every current member of group. An empty group is
// not an error.
func (s *Server) SendToGroup(group string, f Frame) int {
	return s.groups.publish(group, Encode(f))
}

// SendToConnection sends f to the connection id. It reports whether the
// connection was found; a missing connection is not an error.
func (s *Server) SendToConnection(id string, f Frame) bool {
	c, ok := s.conns.get(id)
	if !ok {
		return false
	}
	c.deliver(Encode(f))
	return true
}

// Join adds connection id to group. Unknown ids are ignored.
func (s *Server) Join(group, id string) error {
	if c, ok := s.conns.get(id); ok {
		return c.Join(group)
	}
	return nil
}

// Leave removes connection id from group. Unknown ids are ignored.
func (s *Server) Leave(group, id string) error {
	if c, ok := s.conns.get(id); ok {
		return c.Leave(group)
	}
	return nil
}

// Disconnect ends connection id from the server side. Unknown ids are ignored.
func (s *Server) Disconnect(id string) {
	if c, ok := s.conns.get(id); ok {
		c.Disconnect()
	}
}

// Shutdown disconnects every live connection.
func (s *Server) Shutdown() {
	conns := s.conns.all()
	for _, c := range conns {
		c.Disconnect()
	}
	s.logger.Info("server shut down", "connections", len(conns))
}

// WriteMetrics writes the metrics registry as Prometheus text.
func (s *Server) WriteMetrics(w io.Writer) error {
	return s.metrics.writePrometheus(w)
}

// ReportMetrics writes the metrics registry as JSON to w every tick until
// stop is closed.
func (s *Server) ReportMetrics(w io.Writer, tick time.Duration, stop <-chan struct{}) {
	s.metrics.writeJSON(w, tick, stop)
}
