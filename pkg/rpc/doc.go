/*
Package rpc provides the user-facing facades: Server and Client for
request/reply and streamed calls, Pusher/Puller and Publisher/Subscriber for
one-way delivery.

# Server

A server reads initiating events from its multiplexer and serves every call
on its own goroutine, bounded by an optional worker pool. Methods are
registered by name with their documentation and argument specs, which feed
the auto-injected introspection methods (_zerorpc_list, _zerorpc_name,
_zerorpc_ping, _zerorpc_help, _zerorpc_args, _zerorpc_inspect):

	server := rpc.NewServer(sock, rpc.ServerConfig{Name: "HelloRPC"})
	server.Register("hello", "a test", []rpc.ArgSpec{{Name: "name"}},
		func(args []any) (any, error) {
			return fmt.Sprintf("Hello, %v", args[0]), nil
		})
	server.Run()

Streamed methods produce items through a send callback; each item is one
STREAM event governed by the channel's credit accounting, so a fast producer
cannot outrun a slow consumer:

	server.RegisterStream("tail", "follow a feed", nil,
		func(args []any, send func(any) error) error {
			for item := range feed {
				if err := send(item); err != nil {
					return err
				}
			}
			return nil
		})

# Client

A client multiplexes any number of concurrent calls over one socket. The
reply's name selects the completion pattern: OK/ERR complete a single-reply
call, STREAM/STREAM_DONE turn the result into a *Stream iterator.

	result, err := client.Call("hello", "RPC")
	stream, err := client.CallStream("tail")
	async := client.CallAsync("hello", "RPC")

Server-side failures come back as *rpcerr.RemoteError carrying the remote
type name, message and stack; a peer that stops responding surfaces as
LostRemote, a bounded wait as TimeoutExpired.
*/
package rpc
