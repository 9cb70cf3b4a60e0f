/*
Package channel implements the core of hutch: logical call channels
multiplexed over a single transport socket, a heartbeat overlay for liveness
detection, and credit-based flow control for streamed replies.

# Architecture

One Multiplexer owns one EventSource and is its only reader. A dispatcher
goroutine routes every inbound event by the response_to header to the
matching Channel; events without one (new calls) go to a small broadcast
queue consumed by the server's acceptor.

	EventSource ──> Multiplexer ──┬──> Channel (call 1) ──> HeartbeatChannel ──> BufferedChannel
	                              ├──> Channel (call 2) ──> ...
	                              └──> broadcast queue (new calls)

Each layer wraps the one below and owns it: closing a BufferedChannel
cascades to its HeartbeatChannel and through it to the raw Channel, which
removes itself from the multiplexer's active map.

# Channels

A Channel is the endpoint of one call. Its id is the message id of the
first event seen or created on it; replies are tagged with that id so the
dispatcher can route them back. The inbound queue holds a single event; the
dispatcher applies backpressure to the socket reader when the consumer lags.

# Heartbeats

HeartbeatChannel emits a probe event every freq and fails the channel with
LostRemote when the peer stays silent for two intervals. Probes are consumed
by the overlay; user code never sees them. Passive mode (legacy peers)
disables both directions and delegates liveness to the remote end.

# Flow control

BufferedChannel bounds what either side may have in flight. The receiver
promises queue slots to the peer through credit events and tops the grant up
whenever half of the promised slots have been consumed; the sender blocks
when its view of the peer's free slots reaches zero. The initial credit is a
single implicit slot, which is exactly what a plain request/reply call needs
to proceed without any credit traffic.

At any moment the number of events in flight from the peer is bounded by the
slots promised and never exceeds the queue size; a peer that overruns its
credit is a protocol violation and fails the channel with QueueOverflow.
*/
package channel
