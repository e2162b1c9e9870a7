package extws

import (
	"errors"
	"strings"
	"sync"
	"testing"

	json "github.com/goccy/go-json"
)

type recordedErrors struct {
	mu   sync.Mutex
	errs []error
}

func (r *recordedErrors) record(c *Conn, err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *recordedErrors) list() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func newHelloServer(errs *recordedErrors) *Server {
	s := newTestServer(OnError(errs.record))
	s.Handle("hello", func(c *Conn, payload []byte) (any, error) {
		var req struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		return map[string]string{"text": "Hello, " + req.Name + "!"}, nil
	})
	return s
}

func TestAcceptSendsInit(t *testing.T) {
	var connected *Conn
	s := newTestServer(
		WithIDGenerator(func() string { return "conn-1" }),
		OnConnect(func(c *Conn) { connected = c }),
	)
	ft := newFakeTransport()
	c := s.Accept(ft, Request{})

	if c.ID() != "conn-1" || connected != c {
		t.Fatal("Expectation: conn-1 announced, Received:", c.ID(), connected)
	}
	if m := ft.messages(); len(m) != 1 || m[0] != `1{"id":"conn-1"}` {
		t.Fatal(`Expectation: 1{"id":"conn-1"}, Received:`, m)
	}
	if got, ok := s.Conn("conn-1"); !ok || got != c || s.Len() != 1 {
		t.Fatal("Expectation: registered, Received:", got, ok, s.Len())
	}
}

func TestAcceptInitFailure(t *testing.T) {
	connected := false
	s := newTestServer(OnConnect(func(*Conn) { connected = true }))
	ft := newFakeTransport()
	ft.failSends(errBroken)

	c := s.Accept(ft, Request{})
	if c.State() != StateClosed || s.Len() != 0 || connected {
		t.Fatal("Expectation: closed without connect event, Received:", c.State(), s.Len(), connected)
	}
}

func TestAcceptUniqueIDs(t *testing.T) {
	s := newTestServer()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		c := s.Accept(newFakeTransport(), Request{})
		if seen[c.ID()] {
			t.Fatal("Expectation: unique ids, Received duplicate:", c.ID())
		}
		seen[c.ID()] = true
	}
}

func TestReceivePing(t *testing.T) {
	errs := &recordedErrors{}
	s := newHelloServer(errs)
	c, ft := accept(t, s)
	_, other := accept(t, s)

	s.Receive(c.ID(), []byte("2"))
	if m := ft.messages(); len(m) != 1 || m[0] != "3" {
		t.Fatal("Expectation: 3, Received:", m)
	}
	if len(other.messages()) != 0 {
		t.Fatal("Expectation: no effect on other connections, Received:", other.messages())
	}
}

func TestReceiveMessage(t *testing.T) {
	errs := &recordedErrors{}
	s := newHelloServer(errs)
	c, ft := accept(t, s)

	s.Receive(c.ID(), []byte(`4hello{"name":"world"}`))
	if m := ft.messages(); len(m) != 1 || m[0] != `4hello{"text":"Hello, world!"}` {
		t.Fatal(`Expectation: 4hello{"text":"Hello, world!"}, Received:`, m)
	}
}

func TestReceiveNoReply(t *testing.T) {
	s := newTestServer()
	var got string
	s.Handle("note", func(c *Conn, payload []byte) (any, error) {
		got = string(payload)
		return nil, nil
	})
	c, ft := accept(t, s)

	s.Receive(c.ID(), []byte(`4note["x"]`))
	if got != `["x"]` || len(ft.messages()) != 0 {
		t.Fatal("Expectation: handler called without reply, Received:", got, ft.messages())
	}
}

func TestReceiveErrors(t *testing.T) {
	errs := &recordedErrors{}
	s := newHelloServer(errs)
	s.Handle("fail", func(c *Conn, payload []byte) (any, error) {
		return nil, errors.New("handler failed")
	})
	c, ft := accept(t, s)

	s.Receive(c.ID(), []byte("9garbage"))
	s.Receive(c.ID(), []byte(`4nobody{}`))
	s.Receive(c.ID(), []byte(`4hello{not json`))
	s.Receive(c.ID(), []byte(`4fail{}`))
	s.Receive(c.ID(), []byte("3"))

	list := errs.list()
	if len(list) != 5 {
		t.Fatal("Expectation: 5 reported errors, Received:", list)
	}
	var de *DecodeError
	if !errors.As(list[0], &de) {
		t.Fatal("Expectation: DecodeError, Received:", list[0])
	}
	if !errors.Is(list[1], ErrUnknownMessage) {
		t.Fatal("Expectation: ErrUnknownMessage, Received:", list[1])
	}
	if !strings.Contains(list[3].Error(), "handler failed") {
		t.Fatal("Expectation: handler error, Received:", list[3])
	}
	if !errors.Is(list[4], ErrUnexpectedFrame) {
		t.Fatal("Expectation: ErrUnexpectedFrame, Received:", list[4])
	}
	if c.State() != StateOpen || len(ft.messages()) != 0 {
		t.Fatal("Expectation: connection stays open and silent, Received:", c.State(), ft.messages())
	}
}

func TestReceiveUnknownID(t *testing.T) {
	errs := &recordedErrors{}
	s := newHelloServer(errs)
	_, ft := accept(t, s)

	s.Receive("missing", []byte("2"))
	if len(ft.messages()) != 0 || len(errs.list()) != 0 {
		t.Fatal("Expectation: dropped silently, Received:", ft.messages(), errs.list())
	}
}

func TestBroadcast(t *testing.T) {
	s := newTestServer()
	_, ft1 := accept(t, s)
	c2, ft2 := accept(t, s)
	_, ft3 := accept(t, s)
	c2.Join("elsewhere")
	ft2.failSends(errBroken)

	f, _ := NewMessage("", map[string]string{"foo": "bar"})
	if n := s.Broadcast(f); n != 3 {
		t.Fatal("Expectation: 3, Received:", n)
	}
	for _, ft := range []*fakeTransport{ft1, ft3} {
		if m := ft.messages(); len(m) != 1 || m[0] != `4{"foo":"bar"}` {
			t.Fatal(`Expectation: 4{"foo":"bar"}, Received:`, m)
		}
	}
	if s.Len() != 2 {
		t.Fatal("Expectation: stale connection dropped, Received:", s.Len())
	}
}

func TestSendToConnection(t *testing.T) {
	s := newTestServer()
	c, ft := accept(t, s)
	_, other := accept(t, s)
	f, _ := NewMessage("", map[string]string{"foo": "bar"})

	if !s.SendToConnection(c.ID(), f) {
		t.Fatal("Expectation: found")
	}
	if m := ft.messages(); len(m) != 1 || m[0] != `4{"foo":"bar"}` {
		t.Fatal(`Expectation: 4{"foo":"bar"}, Received:`, m)
	}

	if s.SendToConnection("777", f) {
		t.Fatal("Expectation: unknown id not found")
	}
	if len(ft.messages()) != 1 || len(other.messages()) != 0 {
		t.Fatal("Expectation: no message anywhere, Received:", ft.messages(), other.messages())
	}
}

func TestServerJoinLeaveByID(t *testing.T) {
	s := newTestServer()
	c, _ := accept(t, s)

	s.Join("group", c.ID())
	s.Join("group", "missing")
	if len(s.Members("group")) != 1 {
		t.Fatal("Expectation: 1, Received:", s.Members("group"))
	}
	s.Leave("group", c.ID())
	s.Leave("group", "missing")
	if len(s.Members("group")) != 0 {
		t.Fatal("Expectation: 0, Received:", s.Members("group"))
	}

	s.Disconnect(c.ID())
	s.Disconnect("missing")
	if s.Len() != 0 {
		t.Fatal("Expectation: 0, Received:", s.Len())
	}
}

func TestShutdown(t *testing.T) {
	s := newTestServer()
	fts := make([]*fakeTransport, 3)
	for i := range fts {
		_, fts[i] = accept(t, s)
	}
	s.Shutdown()
	if s.Len() != 0 {
		t.Fatal("Expectation: 0, Received:", s.Len())
	}
	for _, ft := range fts {
		if ft.endCount() != 1 {
			t.Fatal("Expectation: every transport ended once, Received:", ft.endCount())
		}
	}
}
