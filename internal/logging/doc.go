// Package logging provides structured logging for thingcheck.
//
// This package wraps a global zap logger. Logging is silent unless a level is
// passed with --log-level, forced with --debug, or set through the
// THINGCHECK_LOG_LEVEL environment variable. Output goes to stderr so the
// conformance report on stdout stays machine-readable.
//
// # Traffic Logging
//
// Every request and duplex frame can be traced at debug level:
//
//	logging.LogHTTPRequest("PUT", url, body)
//	logging.LogHTTPResponse("PUT", url, 204, nil)
//	logging.LogDuplexMessage(url, "sent", websocket.TextMessage, payload)
//	logging.LogDuplexEvent(url, "connected")
//
// # Configuration
//
//	if err := logging.Initialize("debug"); err != nil {
//	    return err
//	}
//	defer logging.Sync()
package logging
