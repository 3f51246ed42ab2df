// Package transport talks to the thing under test.
//
// Client issues synchronous JSON requests against the thing's HTTP surface,
// one at a time, with the headers every web thing server expects: a Host of
// localhost[:port], Accept: application/json and, when configured, the
// Authorization header verbatim. Duplex wraps the WebSocket notification
// channel; a background reader buffers inbound messages so the caller can
// reconcile them at its own pace.
//
// Failures to exchange data are reported as *Error with an ErrorType.
// HTTP statuses are never interpreted here.
package transport
