package event

import (
	"fmt"

	"github.com/google/uuid"
)

// ProtocolVersion is the version stamped on events created by this process.
// Peers announcing a version below 2 use the legacy single-string error
// encoding and passive heartbeats.
const ProtocolVersion = 3

// Header keys recognized by the protocol. Any other key is free-form
// task context and is carried through untouched.
const (
	HeaderMessageID  = "message_id"
	HeaderVersion    = "v"
	HeaderResponseTo = "response_to"
)

// Reserved event names.
const (
	NameHeartbeat  = "_zpc_hb"   // liveness probe, no args
	NameMore       = "_zpc_more" // credit grant, one integer arg
	NameOK         = "OK"
	NameErr        = "ERR"
	NameStream     = "STREAM"
	NameStreamDone = "STREAM_DONE"
)

// Event is one message on the wire: a name, positional arguments, a header
// and the peer identity assigned by the routing transport. Events are not
// mutated after they have been emitted.
type Event struct {
	Name   string
	Args   []any
	Header map[string]any

	// Identity is the opaque peer address on routing sockets (ROUTER).
	// It is nil on symmetric transports and never serialized.
	Identity []byte
}

// New creates an event with a fresh message id, the given protocol version
// and the supplied task-context keys merged into the header. Protocol keys
// in xheader are ignored; they are owned by the framework.
func New(name string, args []any, version int, xheader map[string]any) *Event {
	id := uuid.New()
	header := map[string]any{
		HeaderMessageID: id[:],
		HeaderVersion:   version,
	}
	for k, v := range xheader {
		switch k {
		case HeaderMessageID, HeaderVersion, HeaderResponseTo:
		default:
			header[k] = v
		}
	}
	return &Event{Name: name, Args: args, Header: header}
}

// MessageID returns the event's unique id as a string usable as a map key.
// The id is 16 opaque bytes; an empty string means the header is malformed.
func (e *Event) MessageID() string {
	return headerBytes(e.Header, HeaderMessageID)
}

// ResponseTo returns the id of the event this one replies to, or "" for an
// initiating event.
func (e *Event) ResponseTo() string {
	return headerBytes(e.Header, HeaderResponseTo)
}

// SetResponseTo marks the event as a reply within the logical call id.
func (e *Event) SetResponseTo(id string) {
	e.Header[HeaderResponseTo] = []byte(id)
}

// Version returns the protocol version announced in the header. Events
// without a version header are treated as version 1 peers.
func (e *Event) Version() int {
	v, ok := e.Header[HeaderVersion]
	if !ok {
		return 1
	}
	switch n := v.(type) {
	case int:
		return n
	case int8:
		return int(n)
	case int16:
		return int(n)
	case int32:
		return int(n)
	case int64:
		return int(n)
	case uint8:
		return int(n)
	case uint16:
		return int(n)
	case uint32:
		return int(n)
	case uint64:
		return int(n)
	default:
		return 1
	}
}

// String renders the event for logs, omitting args which may be large.
func (e *Event) String() string {
	return fmt.Sprintf("event %s id=%x response_to=%x", e.Name,
		e.MessageID(), e.ResponseTo())
}

func headerBytes(header map[string]any, key string) string {
	v, ok := header[key]
	if !ok {
		return ""
	}
	switch id := v.(type) {
	case []byte:
		return string(id)
	case string:
		return id
	default:
		return ""
	}
}
