/*
Package mediator dispatches pattern-keyed requests to services and returns their responses.
Local runs the service in the calling goroutine; Broker carries the request over a transport
and correlates the reply, serving requests for its own registry when configured with one.
Callers see the same Response either way.
*/
package mediator
