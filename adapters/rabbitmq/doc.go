/*
Package rabbitmq provides a RabbitMQ sender for remote call endpoints.
It publishes encoded call batches to a topic exchange keyed by the call address, includes an
auto-reconnect publisher, and supports optional header propagation via a bus.HeaderPropagator.
*/
package rabbitmq
