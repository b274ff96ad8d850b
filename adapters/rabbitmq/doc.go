/*
Package rabbitmq provides a RabbitMQ transport for broker mediators and signal emitters.
Channels are routing keys on a topic exchange. A group is a durable queue bound to its
channel and shared by the group's consumers, while private and exclusive subscriptions
get server-named auto-delete queues. Correlation ids and reply channels travel as AMQP
message properties.
*/
package rabbitmq
