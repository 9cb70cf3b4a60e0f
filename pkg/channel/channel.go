package channel

import (
	"sync"
	"time"

	"github.com/cuemby/hutch/pkg/event"
	"github.com/cuemby/hutch/pkg/rpcerr"
)

// Channel is the endpoint of one logical call. Its id is the message id of
// the first event observed or emitted on it; once bound, the id never
// changes. The dispatcher is the only producer on its queue and the channel
// owner is the only consumer.
type Channel struct {
	mux *Multiplexer

	mu       sync.Mutex
	id       string
	identity []byte

	queue chan *event.Event

	closeOnce sync.Once
	closed    chan struct{}
}

// ID returns the channel id, or "" while unbound.
func (c *Channel) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// NewEvent creates an event on this channel. The first event binds the
// channel id and inserts the channel into the multiplexer's active map;
// every later event is tagged as a reply within the call. The event carries
// the channel's peer identity either way.
func (c *Channel) NewEvent(name string, args []any, xheader map[string]any) *event.Event {
	e := c.mux.NewEvent(name, args, xheader)
	c.mu.Lock()
	if c.id == "" {
		c.id = e.MessageID()
		c.mux.register(c)
	} else {
		e.SetResponseTo(c.id)
	}
	e.Identity = c.identity
	c.mu.Unlock()
	return e
}

// Emit sends the event through the multiplexer.
func (c *Channel) Emit(e *event.Event, timeout time.Duration) error {
	return c.mux.Emit(e, timeout)
}

// Recv dequeues the next inbound event for this call. A timeout <= 0 blocks
// until an event arrives or the channel is closed.
func (c *Channel) Recv(timeout time.Duration) (*event.Event, error) {
	select {
	case e := <-c.queue:
		return e, nil
	default:
	}

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case e := <-c.queue:
		return e, nil
	case <-c.closed:
		return nil, ErrChannelClosed
	case <-timer:
		return nil, &rpcerr.TimeoutExpired{After: timeout}
	}
}

// Close removes the channel from the active map and wakes pending Recv
// callers. Idempotent.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		id := c.id
		c.mu.Unlock()
		if id != "" {
			c.mux.unregister(id)
		}
		close(c.closed)
	})
}
