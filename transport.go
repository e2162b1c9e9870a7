package extws

import (
	"net"
	"net/http"
	"net/url"
)

// Transport is the per-socket capability set the core needs from a socket
// provider. Send must not block on a slow peer.
type Transport interface {
	Send(data []byte) error
	Subscribe(group string) error
	Unsubscribe(group string) error
	// End closes the socket. Calling it more than once is safe.
	End() error
	RemoteAddr() net.Addr
}

// Request is the upgrade request metadata captured at accept time.
type Request struct {
	URL    *url.URL
	Header http.Header
}

func (r Request) snapshot() Request {
	var u *url.URL
	if r.URL != nil {
		c := *r.URL
		if c.User != nil {
			user := *c.User
			c.User = &user
		}
		u = &c
	} else {
		u = &url.URL{}
	}
	h := r.Header.Clone()
	if h == nil {
		h = make(http.Header)
	}
	return Request{URL: u, Header: h}
}

// remoteIP extracts the client address, or nil if the transport gave none.
func remoteIP(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case nil:
		return nil
	case *net.TCPAddr:
		if a == nil {
			return nil
		}
		return a.IP
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		host = addr.String()
	}
	return net.ParseIP(host)
}
