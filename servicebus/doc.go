/*
Package servicebus routes asynchronous method calls to in-process services and correlates their
responses with the callers' callbacks.

A Bundle owns a root address, the services added to it, and three kinds of consumer goroutines:
one routing its inbound calls, one per service invoking the target, and one dispatching responses.
Calls are routed by exact address, by longest registered address prefix, or by service name.
Everything between queues travels in batches, flushed on size or by the idle auto-flush.
*/
package servicebus
