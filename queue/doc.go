/*
Package queue provides the batched, single-consumer queue the call bus is built on.

A Queue has two facets over one hand-off list: SendQueue producers buffer items privately and
hand them off as a batch on flush (explicit, or automatic at the configured batch size), and the
consumer side either pulls through ReceiveQueue or runs a listener goroutine started with
StartListener. Producers never block on a slow consumer.
*/
package queue
