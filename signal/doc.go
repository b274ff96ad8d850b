/*
Package signal broadcasts fire-and-forget events to every handler bound to a pattern.
Emit returns once dispatch has started; handler failures are logged and never reach
the emitter or the other handlers.
*/
package signal
