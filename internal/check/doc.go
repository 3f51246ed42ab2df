// Package check provides the labeled assertions used by every conformance step.
//
// A failed assertion is a *Failure carrying one of four kinds:
//   - KindSchema: a field disagrees with the fixture (field path, expected, actual)
//   - KindTransport: a request failed or returned the wrong status (method, path, status)
//   - KindTimeout: a poll or duplex receive exceeded its bound
//   - KindTimestamp: a timestamp does not match the date-time grammar
//
// The oracle is binary pass/fail, so callers return the first failure and stop.
package check
