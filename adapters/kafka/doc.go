/*
Package kafka provides a Kafka transport built on franz-go. Channels are topics and
groups are consumer groups. Correlation ids and reply channels travel as record headers.

Deliveries may be acknowledged out of order. Per partition, the group offset only
advances past the longest run of settled records, so records still being handled are
redelivered after a crash.
*/
package kafka
