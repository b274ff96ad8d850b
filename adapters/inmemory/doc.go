// Package inmemory provides an in-process broker transport. It models queues,
// competing consumer groups, fan-out across groups and ack/nack with requeue, so broker
// mediators and emitters can be exercised without a running broker.
package inmemory
