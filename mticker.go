package extws

import (
	"sync"
	"time"
)

// mTicker is one ticker shared by many subscribers. The websocket handler
// uses it to drive keepalive pings for every connection.
type mTicker struct {
	mux         sync.Mutex // Protects subscribers
	subscribers subscribers

	tickerMux sync.Mutex // Used to sync start/stop
	ticker    *time.Ticker
	stopCh    chan struct{}
	stopped   bool
	dropped   int
}

type subscribers map[*subscriber]struct{}

type subscriber struct {
	tick chan time.Time
}

// creates and starts a new ticker
// that can have subscribed channels to receive
// ticks
func newMTicker(interval time.Duration) *mTicker {
	t := &mTicker{
		subscribers: make(subscribers),
	}

	go func() {
		t.tickerMux.Lock()
		stopped := t.stopped

		if !stopped {
			t.stopCh = make(chan struct{}, 1)
			t.ticker = time.NewTicker(interval)
		}
		t.tickerMux.Unlock()

		if !stopped {
			t.tick()
		}
	}()
	return t
}

func newSubscriber() *subscriber {
	return &subscriber{
		tick: make(chan time.Time, 1),
	}
}

// subscribe returns a channel to which ticks will be delivered. Ticks that
// can't be delivered to the channel, because it is not ready to receive, are
// discarded. After stop the returned channel is already closed.
func (t *mTicker) subscribe() *subscriber {
	t.mux.Lock()
	defer t.mux.Unlock()

	sub := newSubscriber()
	if t.isStopped() {
		close(sub.tick)
		return sub
	}
	t.subscribers[sub] = struct{}{}
	return sub
}

func (t *mTicker) unsubscribe(sub *subscriber) {
	t.mux.Lock()
	defer t.mux.Unlock()

	if _, ok := t.subscribers[sub]; !ok {
		return
	}
	close(sub.tick)
	delete(t.subscribers, sub)
}

func (t *mTicker) isStopped() bool {
	t.tickerMux.Lock()
	defer t.tickerMux.Unlock()
	return t.stopped
}

func (t *mTicker) len() int {
	t.mux.Lock()
	defer t.mux.Unlock()
	return len(t.subscribers)
}

// stop stops the ticker, and closes
// all subscribed channels
func (t *mTicker) stop() {
	t.tickerMux.Lock()
	if !t.stopped && t.stopCh != nil {
		t.ticker.Stop()
		t.stopCh <- struct{}{}
	}
	t.stopped = true
	t.tickerMux.Unlock()

	t.mux.Lock()
	for sub := range t.subscribers {
		close(sub.tick)
		delete(t.subscribers, sub)
	}
	t.mux.Unlock()
}

func (t *mTicker) tick() {
	for {
		select {
		case tick := <-t.ticker.C:
			t.mux.Lock()
			for sub := range t.subscribers {
				select {
				case sub.tick <- tick:
				default:
					t.dropped++
				}
			}
			t.mux.Unlock()
		case <-t.stopCh:
			return
		}
	}
}
