/*
Package event defines the unit of transport: a named message with positional
arguments, a header and an optional peer identity.

Headers carry the protocol keys (message_id, v, response_to) plus free-form
task-context keys injected by middleware; unknown keys survive a decode and
re-encode round trip. Message ids are 16 opaque bytes and unique per event.

On the wire an event is a frame sequence: the msgpack-encoded header, the
UTF-8 name, then one msgpack frame per argument. Identity and the empty
delimiter in front are transport framing, handled by pkg/transport.
*/
package event
