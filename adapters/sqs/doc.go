/*
Package sqs provides an AWS SQS transport. SQS has no exchanges, so every subscription
owns a queue named after its channel and group, and publishing fans a message out to
every queue of the channel. Queues for the default group and for exclusive reply
channels carry the bare channel name and are resolved with GetQueueUrl; additional
groups are found by name prefix with ListQueues, which AWS documents as eventually
consistent. Correlation ids and reply channels travel as message attributes.
*/
package sqs
