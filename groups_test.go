package extws

import (
	"reflect"
	"sync"
	"testing"
)

func TestGroupJoin(t *testing.T) {
	s := newTestServer()
	c, ft := accept(t, s)

	if s.Groups() != 0 {
		t.Fatal("Error in test environment, Expectation: 0, Received:", s.Groups())
	}

	// joining twice uses the same group
	for i := 0; i < 3; i++ {
		if err := c.Join("monkey"); err != nil {
			t.Fatal(err)
		}
	}
	if s.Groups() != 1 || len(s.Members("monkey")) != 1 {
		t.Fatal("Expectation: 1 group with 1 member, Received:", s.Groups(), s.Members("monkey"))
	}
	if !ft.topics["monkey"] {
		t.Fatal("Expectation: transport subscribed to monkey")
	}

	c.Join("banana")
	if !reflect.DeepEqual(c.Groups(), []string{"banana", "monkey"}) {
		t.Fatal("Expectation: [banana monkey], Received:", c.Groups())
	}
	if s.Groups() != 2 {
		t.Fatal("Expectation: 2, Received:", s.Groups())
	}
}

func TestGroupLeave(t *testing.T) {
	s := newTestServer()
	c, ft := accept(t, s)

	// leaving without joining is a no-op
	if err := c.Leave("monkey"); err != nil {
		t.Fatal(err)
	}
	ft.unsubErr = errBroken // never reached for a group c is not in
	if err := c.Leave("monkey"); err != nil || c.State() != StateOpen {
		t.Fatal("Expectation: no transport call, Received:", err, c.State())
	}
	ft.unsubErr = nil

	c.Join("monkey")
	c.Leave("monkey")
	if s.Groups() != 0 || len(c.Groups()) != 0 || ft.topics["monkey"] {
		t.Fatal("Expectation: membership back to pre-join state, Received:", s.Groups(), c.Groups(), ft.topics)
	}
}

func TestGroupPublish(t *testing.T) {
	s := newTestServer()
	c1, ft1 := accept(t, s)
	c2, ft2 := accept(t, s)
	_, ft3 := accept(t, s)

	f, _ := NewMessage("", map[string]string{"foo": "bar"})

	// publishing to an empty group does nothing
	if n := s.SendToGroup("monkey", f); n != 0 {
		t.Fatal("Expectation: 0, Received:", n)
	}
	if len(ft1.messages())+len(ft2.messages())+len(ft3.messages()) != 0 {
		t.Fatal("Expectation: no messages")
	}

	c1.Join("monkey")
	c2.Join("monkey")
	if n := s.SendToGroup("monkey", f); n != 2 {
		t.Fatal("Expectation: 2, Received:", n)
	}
	for _, ft := range []*fakeTransport{ft1, ft2} {
		if m := ft.messages(); len(m) != 1 || m[0] != `4{"foo":"bar"}` {
			t.Fatal(`Expectation: 4{"foo":"bar"}, Received:`, m)
		}
	}
	if len(ft3.messages()) != 0 {
		t.Fatal("Expectation: non-member receives nothing, Received:", ft3.messages())
	}
}

func TestGroupPublishFailingMember(t *testing.T) {
	s := newTestServer()
	conns := make([]*Conn, 5)
	fts := make([]*fakeTransport, 5)
	for i := range conns {
		conns[i], fts[i] = accept(t, s)
		conns[i].Join("monkey")
	}
	fts[2].failSends(errBroken)

	f, _ := NewMessage("", []int{1})
	s.SendToGroup("monkey", f)

	for i, ft := range fts {
		if i == 2 {
			continue
		}
		if len(ft.messages()) != 1 {
			t.Fatal("Expectation: delivery to healthy member", i, "Received:", ft.messages())
		}
	}
	if conns[2].State() != StateClosed || fts[2].endCount() != 1 {
		t.Fatal("Expectation: failing member disconnected, Received:", conns[2].State(), fts[2].endCount())
	}
	if len(s.Members("monkey")) != 4 || s.Len() != 4 {
		t.Fatal("Expectation: 4, Received:", len(s.Members("monkey")), s.Len())
	}
}

func TestGroupSubscribeFailure(t *testing.T) {
	s := newTestServer()
	c, ft := accept(t, s)
	ft.subErr = errBroken

	if err := c.Join("monkey"); err == nil {
		t.Fatal("Expectation: subscribe error returned")
	}
	if c.State() != StateClosed || s.Groups() != 0 {
		t.Fatal("Expectation: closed with no groups, Received:", c.State(), s.Groups())
	}
}

func TestGroupUnsubscribeFailure(t *testing.T) {
	s := newTestServer()
	c, ft := accept(t, s)
	c.Join("monkey")
	ft.unsubErr = errBroken

	if err := c.Leave("monkey"); err == nil {
		t.Fatal("Expectation: unsubscribe error returned")
	}
	if c.State() != StateClosed || s.Groups() != 0 {
		t.Fatal("Expectation: closed with no groups, Received:", c.State(), s.Groups())
	}
}

func TestGroupRemoveConnection(t *testing.T) {
	s := newTestServer()
	c1, _ := accept(t, s)
	c2, _ := accept(t, s)
	c1.Join("monkey")
	c1.Join("banana")
	c2.Join("banana")

	c1.Disconnect()
	if s.Groups() != 1 || !reflect.DeepEqual(s.Members("banana"), []string{c2.ID()}) {
		t.Fatal("Expectation: only banana with c2, Received:", s.Groups(), s.Members("banana"))
	}
	if len(c1.Groups()) != 0 {
		t.Fatal("Expectation: no groups on closed conn, Received:", c1.Groups())
	}

	// joining after teardown does nothing
	c1.Join("monkey")
	if s.Groups() != 1 {
		t.Fatal("Expectation: 1, Received:", s.Groups())
	}
}

func TestGroupConcurrentJoinDisconnect(t *testing.T) {
	s := newTestServer()
	for i := 0; i < 50; i++ {
		c, _ := accept(t, s)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.Join("monkey")
		}()
		go func() {
			defer wg.Done()
			c.Disconnect()
		}()
		wg.Wait()
	}
	if s.Groups() != 0 {
		t.Fatal("Expectation: no membership survives teardown, Received:", s.Members("monkey"))
	}
}
