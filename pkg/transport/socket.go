package transport

import (
	"fmt"
	"sync"
	"syscall"
	"time"

	zmq "github.com/pebbe/zmq4"

	"github.com/cuemby/hutch/pkg/channel"
	"github.com/cuemby/hutch/pkg/event"
	"github.com/cuemby/hutch/pkg/middleware"
	"github.com/cuemby/hutch/pkg/rpcerr"
)

// SocketType selects the messaging pattern of a Socket.
type SocketType int

const (
	Router SocketType = iota // request/reply server, identity-addressed peers
	Dealer                   // request/reply client
	Push                     // one-way fan-out, emit only
	Pull                     // one-way fan-in, recv only
	Pub                      // broadcast, emit only
	Sub                      // broadcast sink, recv only
)

func (t SocketType) zmqType() zmq.Type {
	switch t {
	case Router:
		return zmq.ROUTER
	case Dealer:
		return zmq.DEALER
	case Push:
		return zmq.PUSH
	case Pull:
		return zmq.PULL
	case Pub:
		return zmq.PUB
	default:
		return zmq.SUB
	}
}

// recvPollInterval bounds how long the receive pump holds the socket mutex,
// so concurrent Emit calls and Close are never starved.
const recvPollInterval = 100 * time.Millisecond

type recvResult struct {
	event *event.Event
	err   error
}

// Socket adapts a ZeroMQ socket to the EventSource contract. ZeroMQ sockets
// are not safe for concurrent use; all socket operations are serialized with
// a mutex, and a single pump goroutine performs the receives.
type Socket struct {
	typ SocketType
	ctx *middleware.Context

	mu   sync.Mutex
	sock *zmq.Socket

	recvCh chan recvResult

	closeOnce sync.Once
	closed    chan struct{}
	pumpDone  chan struct{}
}

var _ channel.EventSource = (*Socket)(nil)

// NewSocket creates a socket of the given type. A nil ctx selects the
// process-wide default middleware context.
func NewSocket(typ SocketType, ctx *middleware.Context) (*Socket, error) {
	if ctx == nil {
		ctx = middleware.DefaultContext()
	}
	sock, err := zmq.NewSocket(typ.zmqType())
	if err != nil {
		return nil, fmt.Errorf("create socket: %w", err)
	}
	if err := sock.SetLinger(0); err != nil {
		sock.Close()
		return nil, fmt.Errorf("configure socket: %w", err)
	}
	if err := sock.SetRcvtimeo(recvPollInterval); err != nil {
		sock.Close()
		return nil, fmt.Errorf("configure socket: %w", err)
	}
	if typ == Sub {
		if err := sock.SetSubscribe(""); err != nil {
			sock.Close()
			return nil, fmt.Errorf("subscribe: %w", err)
		}
	}

	s := &Socket{
		typ:      typ,
		ctx:      ctx,
		sock:     sock,
		recvCh:   make(chan recvResult),
		closed:   make(chan struct{}),
		pumpDone: make(chan struct{}),
	}
	if s.RecvSupported() {
		go s.pump()
	} else {
		close(s.pumpDone)
	}
	return s, nil
}

// Bind binds the socket to an endpoint, after giving middleware a chance to
// rewrite it.
func (s *Socket) Bind(endpoint string) error {
	endpoint = s.ctx.HookResolveEndpoint(endpoint)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.sock.Bind(endpoint); err != nil {
		return fmt.Errorf("bind %s: %w", endpoint, err)
	}
	return nil
}

// Connect connects the socket to an endpoint, after giving middleware a
// chance to rewrite it.
func (s *Socket) Connect(endpoint string) error {
	endpoint = s.ctx.HookResolveEndpoint(endpoint)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.sock.Connect(endpoint); err != nil {
		return fmt.Errorf("connect %s: %w", endpoint, err)
	}
	return nil
}

// RecvSupported reports whether this socket type can receive.
func (s *Socket) RecvSupported() bool {
	switch s.typ {
	case Router, Dealer, Pull, Sub:
		return true
	default:
		return false
	}
}

// EmitSupported reports whether this socket type can send.
func (s *Socket) EmitSupported() bool {
	switch s.typ {
	case Router, Dealer, Push, Pub:
		return true
	default:
		return false
	}
}

// NewEvent creates an event stamped with this socket's protocol version.
func (s *Socket) NewEvent(name string, args []any, xheader map[string]any) *event.Event {
	return event.New(name, args, s.ctx.Version(), xheader)
}

// Emit serializes and sends the event: the event's identity frame when it
// has one (ROUTER sockets address the peer with it), then an empty delimiter
// followed by the payload frames.
func (s *Socket) Emit(e *event.Event, timeout time.Duration) error {
	if !s.EmitSupported() {
		return fmt.Errorf("emit is not supported on this socket type")
	}
	select {
	case <-s.closed:
		return channel.ErrSourceClosed
	default:
	}

	payload, err := event.EncodeFrames(e)
	if err != nil {
		return err
	}
	parts := make([][]byte, 0, 2+len(payload))
	if len(e.Identity) > 0 {
		parts = append(parts, e.Identity)
	}
	parts = append(parts, nil)
	parts = append(parts, payload...)

	sndtimeo := timeout
	if sndtimeo <= 0 {
		sndtimeo = -1
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.sock.SetSndtimeo(sndtimeo); err != nil {
		return fmt.Errorf("configure send timeout: %w", err)
	}
	if _, err := s.sock.SendMessage(anyParts(parts)...); err != nil {
		if isTimeoutErrno(err) {
			return &rpcerr.TimeoutExpired{After: timeout, Hint: "emit " + e.Name}
		}
		return fmt.Errorf("send event %s: %w", e.Name, err)
	}
	return nil
}

// Recv returns the next inbound event. A timeout <= 0 blocks until an event
// arrives or the socket is closed.
func (s *Socket) Recv(timeout time.Duration) (*event.Event, error) {
	if !s.RecvSupported() {
		return nil, fmt.Errorf("recv is not supported on this socket type")
	}
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case res := <-s.recvCh:
		return res.event, res.err
	case <-s.closed:
		return nil, channel.ErrSourceClosed
	case <-timer:
		return nil, &rpcerr.TimeoutExpired{After: timeout}
	}
}

// Close shuts the pump down and closes the underlying socket. Idempotent.
func (s *Socket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		<-s.pumpDone
		s.mu.Lock()
		err = s.sock.Close()
		s.mu.Unlock()
	})
	return err
}

// pump is the only receiver on the socket. It polls with a short timeout so
// the mutex is shared fairly with senders and Close.
func (s *Socket) pump() {
	defer close(s.pumpDone)
	for {
		select {
		case <-s.closed:
			return
		default:
		}

		s.mu.Lock()
		parts, err := s.sock.RecvMessageBytes(0)
		s.mu.Unlock()
		if err != nil {
			if isTimeoutErrno(err) {
				continue
			}
			select {
			case <-s.closed:
			case s.recvCh <- recvResult{err: fmt.Errorf("recv: %w", err)}:
			}
			continue
		}

		e, err := decodeParts(parts)
		if err != nil {
			select {
			case <-s.closed:
				return
			case s.recvCh <- recvResult{err: err}:
			}
			continue
		}
		select {
		case <-s.closed:
			return
		case s.recvCh <- recvResult{event: e}:
		}
	}
}

// decodeParts splits transport framing from the event payload: an optional
// identity frame, the empty delimiter, then the payload frames.
func decodeParts(parts [][]byte) (*event.Event, error) {
	var identity []byte
	payload := parts
	for i, part := range parts {
		if len(part) == 0 {
			if i > 0 {
				identity = parts[0]
			}
			payload = parts[i+1:]
			break
		}
	}

	e, err := event.DecodeFrames(payload)
	if err != nil {
		return nil, err
	}
	e.Identity = identity
	return e, nil
}

func anyParts(parts [][]byte) []any {
	out := make([]any, len(parts))
	for i, p := range parts {
		if p == nil {
			p = []byte{}
		}
		out[i] = p
	}
	return out
}

func isTimeoutErrno(err error) bool {
	return zmq.AsErrno(err) == zmq.Errno(syscall.EAGAIN)
}
