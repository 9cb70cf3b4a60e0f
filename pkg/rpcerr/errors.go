package rpcerr

import (
	"errors"
	"fmt"
	"time"
)

// TimeoutExpired reports that a bounded wait elapsed without an event.
type TimeoutExpired struct {
	After time.Duration
	Hint  string // optional, e.g. the remote method being called
}

func (e *TimeoutExpired) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("timeout after %v: %s", e.After, e.Hint)
	}
	return fmt.Sprintf("timeout after %v", e.After)
}

// IsTimeout reports whether err is a TimeoutExpired anywhere in its chain.
func IsTimeout(err error) bool {
	var te *TimeoutExpired
	return errors.As(err, &te)
}

// LostRemote reports that the peer missed its heartbeat deadline or the
// transport was severed.
type LostRemote struct {
	Endpoint string
}

func (e *LostRemote) Error() string {
	if e.Endpoint != "" {
		return fmt.Sprintf("lost remote %s", e.Endpoint)
	}
	return "lost remote"
}

// IsLostRemote reports whether err is a LostRemote anywhere in its chain.
func IsLostRemote(err error) bool {
	var lr *LostRemote
	return errors.As(err, &lr)
}

// RemoteError is an error raised on the peer and carried back in an ERR
// event. Traceback is empty for peers speaking protocol versions before 2.
type RemoteError struct {
	Name      string
	Msg       string
	Traceback string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Name, e.Msg)
}

// QueueOverflow reports that the peer sent more events than it held credit
// for. This is a protocol violation, not a transient condition.
type QueueOverflow struct {
	Event string
}

func (e *QueueOverflow) Error() string {
	return fmt.Sprintf("queue overflow on event %q", e.Event)
}

// NameError reports an unknown method name on the server, or a reply event
// whose name matches no registered pattern on the client.
type NameError struct {
	Name string
}

func (e *NameError) Error() string {
	return fmt.Sprintf("unknown name %q", e.Name)
}
