/*
Package transport adapts sockets to the EventSource contract consumed by
pkg/channel.

Socket wraps a ZeroMQ socket (ROUTER, DEALER, PUSH, PULL, PUB, SUB). ZeroMQ
sockets are not safe for concurrent use, so all operations are serialized on
a mutex and a single pump goroutine performs the receives; Emit may be
called from any goroutine. ROUTER sockets carry the peer identity as the
leading frame; symmetric sockets do not.

Pair returns two cross-connected in-process sources for tests. Payloads still pass through the wire codec, so both ends see
exactly what a remote peer would.
*/
package transport
