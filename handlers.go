package extws

import (
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	json "github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	pathLenMin = 1
	pathLenMax = 256

	maxPostBody = 1 << 20
)

// HandlerConfig configures the HTTP surface built by NewHandler.
type HandlerConfig struct {
	// Path is where websocket clients connect. Defaults to /ws.
	Path string
	// Origin, if set, is the only Origin header accepted on upgrade
	// (scheme://host[:port]). Empty accepts any origin.
	Origin string
	// Heartbeat is the keepalive ping period. Defaults to 27s.
	Heartbeat time.Duration
	// SendBufferSize is the number of frames queued per connection.
	SendBufferSize int
	// MaxMessageSize is the largest inbound frame accepted, in bytes.
	MaxMessageSize int64
}

// Handler serves websocket clients for a Server, plus HTTP publish and
// metrics endpoints. Close stops the shared heartbeat ticker.
type Handler struct {
	http.Handler
	ticker *mTicker
}

// Close stops keepalive pings. Live sockets stay open.
func (h *Handler) Close() {
	h.ticker.stop()
}

// NewHandler routes:
//
//	GET  {Path}                 websocket upgrade
//	POST /broadcast?name=       JSON body to every connection
//	POST /groups/{group}?name=  JSON body to the group's members
//	POST /connections/{id}?name= JSON body to one connection
//	GET  /metrics               Prometheus text
func NewHandler(s *Server, cfg HandlerConfig) *Handler {
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = pingPeriod
	}
	ticker := newMTicker(cfg.Heartbeat)

	r := mux.NewRouter()

	// Route websocket requests
	r.Path(cfg.Path).HeadersRegexp(
		// Requests with these headers will use this handler
		"Connection", "(?i)upgrade",
		"Upgrade", "(?i)websocket",
	).Handler(newWsHandler(s, cfg, ticker))

	r.Methods("POST").Path("/broadcast").Handler(postHandler{s: s, target: broadcastTarget})
	r.Methods("POST").Path("/groups/{group}").Handler(postHandler{s: s, target: groupTarget})
	r.Methods("POST").Path("/connections/{id}").Handler(postHandler{s: s, target: connectionTarget})
	r.Methods("GET").Path("/metrics").Handler(metricsHandler{s: s})

	return &Handler{Handler: r, ticker: ticker}
}

type wsHandler struct {
	s        *Server
	upgrader *websocket.Upgrader
	ticker   *mTicker
	cfg      HandlerConfig
}

func newWsHandler(s *Server, cfg HandlerConfig, ticker *mTicker) wsHandler {
	upgrader := &websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024}
	if cfg.Origin != "" {
		upgrader.CheckOrigin = func(r *http.Request) bool {
			return r.Header.Get("Origin") == cfg.Origin
		}
	} else {
		upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	}
	return wsHandler{s: s, upgrader: upgrader, ticker: ticker, cfg: cfg}
}

func (wsh wsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := wsh.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		wsh.s.logger.Debug("upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}
	t := newWsTransport(websocketInteractor{ws: ws}, wsh.cfg.SendBufferSize, wsh.cfg.MaxMessageSize)
	c := wsh.s.Accept(t, upgradeRequest(r))

	sub := wsh.ticker.subscribe()
	defer wsh.ticker.unsubscribe(sub)

	err = t.run(r.Context(), sub.tick, func(message []byte) {
		wsh.s.Receive(c.ID(), message)
	})
	wsh.s.logger.Debug("socket closed", "id", c.ID(), "error", err)
	wsh.s.PeerClosed(c.ID())
}

// upgradeRequest rebuilds the URL the client dialed.
func upgradeRequest(r *http.Request) Request {
	u := *r.URL
	u.Scheme = "ws"
	if r.TLS != nil {
		u.Scheme = "wss"
	}
	u.Host = r.Host
	return Request{URL: &u, Header: r.Header}
}

type postTarget int

const (
	broadcastTarget postTarget = iota
	groupTarget
	connectionTarget
)

type postHandler struct {
	s      *Server
	target postTarget
}

func (ph postHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	key := vars["group"]
	if ph.target == connectionTarget {
		key = vars["id"]
	}
	if ph.target != broadcastTarget && !validateKey(w, key) {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPostBody))
	if err != nil {
		sendBadRequestError(w, "Unable to read POST body.")
		return
	}
	if !json.Valid(body) || len(body) == 0 || (body[0] != '{' && body[0] != '[') {
		sendBadRequestError(w, "Body must be a JSON object or array.")
		return
	}
	f, err := NewMessage(r.URL.Query().Get("name"), json.RawMessage(body))
	if err != nil {
		sendBadRequestError(w, err.Error())
		return
	}

	var delivered int
	switch ph.target {
	case broadcastTarget:
		delivered = ph.s.Broadcast(f)
	case groupTarget:
		delivered = ph.s.SendToGroup(key, f)
	case connectionTarget:
		if ph.s.SendToConnection(key, f) {
			delivered = 1
		}
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, "{\"delivered\":%d}\n", delivered)
}

type metricsHandler struct {
	s *Server
}

func (mh metricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	if err := mh.s.WriteMetrics(w); err != nil {
		mh.s.logger.Error("metrics write failed", "error", err)
	}
}

func validateKey(w http.ResponseWriter, key string) bool {
	if !utf8.ValidString(key) {
		sendBadRequestError(w, "Path must be valid Unicode (UTF-8).")
		return false
	}
	keyLen := utf8.RuneCountInString(key)
	if !(pathLenMin <= keyLen && keyLen <= pathLenMax) {
		sendBadRequestError(w, fmt.Sprintf(
			"Path length must be %d-%d Unicode characters (UTF-8).",
			pathLenMin, pathLenMax))
		return false
	}
	return true
}

func sendBadRequestError(w http.ResponseWriter, str string) {
	http.Error(w,
		fmt.Sprintf("Error: bad request. %s", str),
		http.StatusBadRequest)
}
