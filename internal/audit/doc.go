// Package audit dispatches security events asynchronously to a [Sink].
//
// The [Dispatcher] is a buffered relay: when DropIfFull is set a full buffer drops the
// event and counts it, otherwise Emit blocks until the buffer drains or ctx ends.
// Emitting never returns an error to the caller. Sinks receive the emitter's context
// values without its cancellation, and drops are reported through the configured logger.
package audit
