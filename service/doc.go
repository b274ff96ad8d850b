/*
Package service binds strongly typed handlers to patterns.

Handlers are registered once at startup into a Registry, which serves both as the
ServiceFactory consulted by mediators and as the SignalHandlerFactory consulted by
signal emitters. Registration builds the type-erased adapter that every dispatcher
calls: it converts the opaque request to the handler's type, recovers panics, and maps
failures to stable response codes so that nothing thrown by a handler escapes.
*/
package service
