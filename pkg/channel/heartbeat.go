package channel

import (
	"errors"
	"sync"
	"time"

	"github.com/cuemby/hutch/pkg/event"
	"github.com/cuemby/hutch/pkg/log"
	"github.com/cuemby/hutch/pkg/metrics"
	"github.com/cuemby/hutch/pkg/rpcerr"
	"github.com/rs/zerolog"
)

// DefaultHeartbeatFreq is the interval between heartbeat probes. The peer is
// considered lost after two missed intervals.
const DefaultHeartbeatFreq = 5 * time.Second

// HeartbeatChannel wraps a Channel with the liveness sub-protocol: a probe
// event is emitted every freq, inbound probes are consumed, and the channel
// fails with LostRemote when no peer traffic arrives within 2*freq.
//
// In passive mode (peers speaking protocol versions before 2) the overlay
// neither emits probes nor enforces the deadline; liveness is delegated to
// the peer.
type HeartbeatChannel struct {
	ch      *Channel
	freq    time.Duration
	passive bool

	queue chan *event.Event

	mu       sync.Mutex
	lastRecv time.Time

	lost     chan struct{}
	lostOnce sync.Once

	stopCh    chan struct{}
	closeOnce sync.Once

	logger zerolog.Logger
}

// NewHeartbeat wraps ch. A freq <= 0 selects DefaultHeartbeatFreq.
func NewHeartbeat(ch *Channel, freq time.Duration, passive bool) *HeartbeatChannel {
	if freq <= 0 {
		freq = DefaultHeartbeatFreq
	}
	h := &HeartbeatChannel{
		ch:       ch,
		freq:     freq,
		passive:  passive,
		queue:    make(chan *event.Event),
		lastRecv: time.Now(),
		lost:     make(chan struct{}),
		stopCh:   make(chan struct{}),
		logger:   log.WithComponent("heartbeat"),
	}
	go h.pump()
	if !passive {
		go h.beat()
	}
	return h
}

// NewEvent delegates to the underlying channel.
func (h *HeartbeatChannel) NewEvent(name string, args []any, xheader map[string]any) *event.Event {
	return h.ch.NewEvent(name, args, xheader)
}

// Emit sends the event unless the remote is already lost.
func (h *HeartbeatChannel) Emit(e *event.Event, timeout time.Duration) error {
	select {
	case <-h.lost:
		return &rpcerr.LostRemote{}
	default:
	}
	return h.ch.Emit(e, timeout)
}

// Recv returns the next non-probe inbound event. Pending and future calls
// fail with LostRemote once the deadline is exceeded.
func (h *HeartbeatChannel) Recv(timeout time.Duration) (*event.Event, error) {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case e := <-h.queue:
		return e, nil
	case <-h.lost:
		return nil, &rpcerr.LostRemote{}
	case <-h.stopCh:
		return nil, ErrChannelClosed
	case <-timer:
		return nil, &rpcerr.TimeoutExpired{After: timeout}
	}
}

// Close releases the timer and pump and closes the underlying channel.
// Idempotent.
func (h *HeartbeatChannel) Close() {
	h.closeOnce.Do(func() {
		close(h.stopCh)
		h.ch.Close()
	})
}

// pump drains the underlying channel: every inbound event refreshes
// liveness, probes are consumed, everything else is forwarded.
func (h *HeartbeatChannel) pump() {
	for {
		e, err := h.ch.Recv(0)
		if err != nil {
			if !errors.Is(err, ErrChannelClosed) {
				h.logger.Debug().Err(err).Msg("heartbeat pump stopped")
			}
			return
		}
		h.mu.Lock()
		h.lastRecv = time.Now()
		h.mu.Unlock()
		if e.Name == event.NameHeartbeat {
			continue
		}
		select {
		case h.queue <- e:
		case <-h.stopCh:
			return
		}
	}
}

// beat emits a probe every freq and checks the inbound deadline.
func (h *HeartbeatChannel) beat() {
	ticker := time.NewTicker(h.freq)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
		case <-h.stopCh:
			return
		}

		h.mu.Lock()
		silence := time.Since(h.lastRecv)
		h.mu.Unlock()
		if silence > 2*h.freq {
			h.markLost()
			return
		}

		probe := h.ch.NewEvent(event.NameHeartbeat, nil, nil)
		if err := h.ch.Emit(probe, h.freq); err != nil {
			h.logger.Debug().Err(err).Msg("heartbeat emit failed")
		}
	}
}

func (h *HeartbeatChannel) markLost() {
	h.lostOnce.Do(func() {
		metrics.HeartbeatsMissed.Inc()
		if id := h.ch.ID(); id != "" {
			log.WithChannelID(id).Warn().Msg("lost remote, no heartbeat")
		}
		close(h.lost)
	})
}
