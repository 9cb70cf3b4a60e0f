package rpc

import (
	"fmt"
	"time"

	"github.com/cuemby/hutch/pkg/channel"
	"github.com/cuemby/hutch/pkg/event"
	"github.com/cuemby/hutch/pkg/middleware"
	"github.com/cuemby/hutch/pkg/rpcerr"
)

// DefaultCallTimeout bounds a synchronous call when no explicit timeout is
// given.
const DefaultCallTimeout = 30 * time.Second

// ClientConfig tunes a Client. The zero value selects the defaults.
type ClientConfig struct {
	// Context supplies the protocol version and middleware hooks. Nil
	// selects the process-wide default.
	Context *middleware.Context

	// Timeout bounds synchronous calls. Zero selects DefaultCallTimeout.
	Timeout time.Duration

	// Heartbeat is the liveness probe interval. Zero selects the default.
	Heartbeat time.Duration

	// PassiveHeartbeat delegates liveness entirely to the server.
	PassiveHeartbeat bool
}

// CallOptions overrides per-call settings.
type CallOptions struct {
	// Timeout bounds this call. Zero selects the client default.
	Timeout time.Duration

	// Slots is the inbound buffer (and maximum credit granted to the
	// server) for this call. Zero selects the default of 100.
	Slots int
}

// Client drives calls over one multiplexer. Every call runs on its own
// logical channel, so one client serves concurrent callers.
type Client struct {
	mux       *channel.Multiplexer
	ctx       *middleware.Context
	timeout   time.Duration
	heartbeat time.Duration
	passive   bool
}

// NewClient creates a client sending on source. Broadcast routing is
// disabled: every event a client expects is a reply on some call channel.
func NewClient(source channel.EventSource, cfg ClientConfig) *Client {
	if cfg.Context == nil {
		cfg.Context = middleware.DefaultContext()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultCallTimeout
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = channel.DefaultHeartbeatFreq
	}
	return &Client{
		mux:       channel.NewMultiplexer(source, true),
		ctx:       cfg.Context,
		timeout:   cfg.Timeout,
		heartbeat: cfg.Heartbeat,
		passive:   cfg.PassiveHeartbeat,
	}
}

// Close releases the multiplexer and its source.
func (c *Client) Close() {
	c.mux.Close()
}

// Call invokes method synchronously with the client defaults. A streamed
// reply comes back as a *Stream.
func (c *Client) Call(method string, args ...any) (any, error) {
	return c.CallWith(CallOptions{}, method, args...)
}

// CallWith invokes method synchronously with per-call options.
func (c *Client) CallWith(opts CallOptions, method string, args ...any) (any, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}

	bufchan := c.newCallChannel(opts.Slots)

	xheader := c.ctx.HookGetTaskContext()
	req := bufchan.NewEvent(method, args, xheader)
	c.ctx.HookClientBeforeRequest(req)
	if err := bufchan.Emit(req, timeout); err != nil {
		bufchan.Close()
		err = fmt.Errorf("calling remote method %s: %w", method, err)
		c.ctx.HookClientAfterRequest(req, nil, err)
		return nil, err
	}

	return c.processResponse(bufchan, req, timeout)
}

// CallStream invokes a streamed method synchronously and asserts the reply
// shape.
func (c *Client) CallStream(method string, args ...any) (*Stream, error) {
	result, err := c.Call(method, args...)
	if err != nil {
		return nil, err
	}
	stream, ok := result.(*Stream)
	if !ok {
		return nil, fmt.Errorf("remote method %s did not reply with a stream", method)
	}
	return stream, nil
}

// CallAsync invokes method without blocking. The returned result resolves
// exactly as the synchronous call would.
func (c *Client) CallAsync(method string, args ...any) *AsyncResult {
	return c.CallAsyncWith(CallOptions{}, method, args...)
}

// CallAsyncWith invokes method without blocking, with per-call options.
func (c *Client) CallAsyncWith(opts CallOptions, method string, args ...any) *AsyncResult {
	res := &AsyncResult{done: make(chan struct{})}
	go func() {
		value, err := c.CallWith(opts, method, args...)
		res.value = value
		res.err = err
		close(res.done)
	}()
	return res
}

func (c *Client) newCallChannel(slots int) *channel.BufferedChannel {
	ch := c.mux.Channel(nil)
	hb := channel.NewHeartbeat(ch, c.heartbeat, c.passive)
	return channel.NewBuffered(hb, slots)
}

func (c *Client) processResponse(bufchan *channel.BufferedChannel, req *event.Event,
	timeout time.Duration) (any, error) {

	reply, err := bufchan.Recv(timeout)
	if err != nil {
		bufchan.Close()
		if rpcerr.IsTimeout(err) {
			err = &rpcerr.TimeoutExpired{After: timeout,
				Hint: "calling remote method " + req.Name}
		}
		c.ctx.HookClientAfterRequest(req, nil, err)
		return nil, err
	}

	pattern := c.selectPattern(reply)
	if pattern == nil {
		bufchan.Close()
		err := &rpcerr.NameError{Name: reply.Name}
		c.ctx.HookClientAfterRequest(req, reply, err)
		return nil, err
	}

	return pattern.ProcessAnswer(c.ctx, bufchan, req, reply, timeout, c.handleRemoteError)
}

func (c *Client) selectPattern(reply *event.Event) middleware.Pattern {
	for _, pattern := range c.ctx.HookClientPatternsList(DefaultPatterns()) {
		if pattern.AcceptAnswer(reply) {
			return pattern
		}
	}
	return nil
}

// handleRemoteError reconstructs the error carried by an ERR event. The
// middleware chain gets the first chance; the wire encodings are the
// (name, message, traceback) triple, or a bare message for legacy peers.
func (c *Client) handleRemoteError(reply *event.Event) error {
	if err := c.ctx.HookClientHandleRemoteError(reply); err != nil {
		return err
	}

	if reply.Version() >= 2 {
		name, msg, traceback := "RemoteError", "", ""
		if len(reply.Args) >= 1 {
			name, _ = reply.Args[0].(string)
		}
		if len(reply.Args) >= 2 {
			msg, _ = reply.Args[1].(string)
		}
		if len(reply.Args) >= 3 {
			traceback, _ = reply.Args[2].(string)
		}
		return &rpcerr.RemoteError{Name: name, Msg: msg, Traceback: traceback}
	}

	msg := ""
	if len(reply.Args) >= 1 {
		msg, _ = reply.Args[0].(string)
	}
	return &rpcerr.RemoteError{Name: "RemoteError", Msg: msg}
}

// AsyncResult resolves a call issued with CallAsync.
type AsyncResult struct {
	done  chan struct{}
	value any
	err   error
}

// Get blocks until the call completes. A timeout <= 0 waits indefinitely.
func (r *AsyncResult) Get(timeout time.Duration) (any, error) {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case <-r.done:
		return r.value, r.err
	case <-timer:
		return nil, &rpcerr.TimeoutExpired{After: timeout, Hint: "waiting for async result"}
	}
}

// Done reports completion without blocking.
func (r *AsyncResult) Done() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}
