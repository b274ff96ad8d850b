// Package cache provides a caching decorator for mediators together with an in-memory
// and a SQL backed store.
package cache
