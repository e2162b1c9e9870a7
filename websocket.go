package extws

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 30 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	defaultMaxMessageSize = 64 * 1024

	// Frames queued per connection before it counts as a slow consumer.
	defaultSendBufferSize = 256
)

var (
	// ErrSendBufferFull is returned by a websocket transport whose peer is not
	// reading fast enough. The core disconnects such a connection.
	ErrSendBufferFull = errors.New("extws: send buffer full")
	// ErrTransportClosed is returned by a websocket transport after End.
	ErrTransportClosed = errors.New("extws: transport closed")
)

type websocketManager interface {
	wsSetReadLimit(int64)
	wsSetReadDeadline()
	wsSetPongHandler()
	wsReadMessage() (int, []byte, error)
	wsSetWriteDeadline()
	wsWriteMessage(int, []byte) error
	wsRemoteAddr() net.Addr
	wsClose()
}

type websocketInteractor struct {
	ws *websocket.Conn
}

func (w websocketInteractor) wsSetReadLimit(limit int64) {
	w.ws.SetReadLimit(limit)
}

func (w websocketInteractor) wsSetReadDeadline() {
	w.ws.SetReadDeadline(time.Now().Add(pongWait))
}

func (w websocketInteractor) wsSetPongHandler() {
	w.ws.SetPongHandler(func(s string) error { w.wsSetReadDeadline(); return nil })
}

func (w websocketInteractor) wsClose() {
	w.ws.Close()
}

func (w websocketInteractor) wsReadMessage() (messageType int, p []byte, err error) {
	return w.ws.ReadMessage()
}

func (w websocketInteractor) wsSetWriteDeadline() {
	w.ws.SetWriteDeadline(time.Now().Add(writeWait))
}

func (w websocketInteractor) wsWriteMessage(messageType int, payload []byte) error {
	return w.ws.WriteMessage(messageType, payload)
}

func (w websocketInteractor) wsRemoteAddr() net.Addr {
	return w.ws.RemoteAddr()
}

// wsTransport adapts a gorilla websocket to Transport. Frames are queued on
// send and written in order by a single writer goroutine.
type wsTransport struct {
	w         websocketManager
	send      chan []byte
	done      chan struct{}
	ended     atomic.Bool
	endOnce   sync.Once
	readLimit int64

	mu     sync.Mutex
	topics map[string]struct{}
}

func newWsTransport(w websocketManager, bufferSize int, readLimit int64) *wsTransport {
	if bufferSize <= 0 {
		bufferSize = defaultSendBufferSize
	}
	if readLimit <= 0 {
		readLimit = defaultMaxMessageSize
	}
	return &wsTransport{
		w:         w,
		send:      make(chan []byte, bufferSize),
		done:      make(chan struct{}),
		readLimit: readLimit,
		topics:    make(map[string]struct{}),
	}
}

func (t *wsTransport) Send(data []byte) error {
	if t.ended.Load() {
		return ErrTransportClosed
	}
	select {
	case t.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Fan-out is driven by the group index, so topics only track what the
// socket is subscribed to.
func (t *wsTransport) Subscribe(group string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ended.Load() {
		return ErrTransportClosed
	}
	t.topics[group] = struct{}{}
	return nil
}

func (t *wsTransport) Unsubscribe(group string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ended.Load() {
		return ErrTransportClosed
	}
	delete(t.topics, group)
	return nil
}

func (t *wsTransport) subscribed(group string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.topics[group]
	return ok
}

// End asks the writer to flush queued frames, send a close frame and close
// the socket.
func (t *wsTransport) End() error {
	t.endOnce.Do(func() {
		t.ended.Store(true)
		close(t.done)
	})
	return nil
}

func (t *wsTransport) RemoteAddr() net.Addr {
	return t.w.wsRemoteAddr()
}

// run pumps the socket until it closes. onMessage is called from a single
// goroutine, in arrival order.
func (t *wsTransport) run(ctx context.Context, heartbeat <-chan time.Time, onMessage func([]byte)) error {
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return t.reader(onMessage)
	})
	group.Go(func() error {
		return t.writer(ctx, heartbeat)
	})
	return group.Wait()
}

func (t *wsTransport) reader(onMessage func([]byte)) error {
	t.w.wsSetReadLimit(t.readLimit)
	t.w.wsSetReadDeadline()
	t.w.wsSetPongHandler()
	for {
		_, message, err := t.w.wsReadMessage()
		if err != nil {
			return err
		}
		onMessage(message)
	}
}

func (t *wsTransport) writer(ctx context.Context, heartbeat <-chan time.Time) error {
	defer func() {
		t.ended.Store(true)
		t.w.wsClose()
	}()
	for {
		select {
		case message := <-t.send:
			if err := t.write(websocket.TextMessage, message); err != nil {
				return err
			}
		case _, ok := <-heartbeat:
			if !ok {
				heartbeat = nil
				continue
			}
			if err := t.write(websocket.PingMessage, nil); err != nil {
				return err
			}
		case <-t.done:
			t.flush()
			_ = t.write(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

func (t *wsTransport) flush() {
	for {
		select {
		case message := <-t.send:
			if err := t.write(websocket.TextMessage, message); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (t *wsTransport) write(messageType int, payload []byte) error {
	t.w.wsSetWriteDeadline()
	return t.w.wsWriteMessage(messageType, payload)
}
