/*
Package nats provides a core NATS transport. Channels are subjects and groups are queue
groups. The correlation id travels in the Correlation-Id header and the reply channel
in the message's reply subject.

Core NATS keeps no copy of a message once it is handed to a subscriber, so delivery is
at most once: Ack is a no-op and a request that is being handled when the process dies
is lost, not redelivered. A requeueing Nack republishes the message to its subject.
Choose the RabbitMQ, Kafka or SQS transports when requests must survive a consumer
crash.
*/
package nats
