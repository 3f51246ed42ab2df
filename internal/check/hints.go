package check

import (
	"errors"

	"github.com/webthings/thingcheck/internal/urls"
)

// Troubleshooting returns user-facing advice for a failure
func Troubleshooting(err error) []string {
	var f *Failure
	if !errors.As(err, &f) {
		return []string{"Re-run with --debug to trace every request and duplex message"}
	}

	switch f.Kind {
	case KindSchema:
		return []string{
			"The thing's description or a response document disagrees with the fixture",
			"Check --flavor matches the server (Webthings or WoT)",
			"Use --fixture to point at the capability fixture the thing implements",
			"Re-run with --debug to see the exact documents exchanged",
			"Reference: " + urls.WebThingAPI + " (Webthings) or " + urls.WoTThingDescription + " (WoT)",
		}
	case KindTransport:
		if f.Status == 0 {
			return []string{
				"Verify --host, --port and --protocol point at a running thing",
				"Check --path-prefix if the thing is not served at the root",
				"If the server requires authorization, pass --auth-header \"Bearer <token>\"",
			}
		}
		if f.Status == 401 || f.Status == 403 {
			return []string{
				"The thing rejected the request's credentials",
				"Pass --auth-header \"Bearer <token>\" with a valid token",
			}
		}
		return []string{
			"The thing answered with an unexpected status",
			"Re-run with --debug to see the request and response",
		}
	case KindTimeout:
		return []string{
			"The thing did not produce the awaited response or notification in time",
			"Increase --poll-timeout or --receive-timeout for slow devices",
			"Use --skip-websocket if the thing has no duplex channel",
		}
	case KindTimestamp:
		return []string{
			"Timestamps must look like 2006-01-02T15:04:05(.fraction)(Z|+hh:mm)",
			"A four-digit year and an explicit zone offset are required",
		}
	}
	return nil
}
