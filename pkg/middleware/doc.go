/*
Package middleware threads user hooks and task context through calls.

A Context holds the protocol version and an ordered middleware list. Each
middleware contributes any subset of hooks; nil fields are skipped. Hooks
with return values (ResolveEndpoint, ClientHandleRemoteError,
ClientPatternsList, GetTaskContext) apply first-non-nil in registration
order, the rest run for side effect in order.

Task context is a free-form header mapping produced by GetTaskContext on
outbound events and handed to LoadTaskContext on inbound ones, which is how
request-scoped data such as trace ids crosses process boundaries. Use
ForkTaskContext when spawning a goroutine that must inherit the current
task's context.
*/
package middleware
