package transport

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"syscall"

	"github.com/gorilla/websocket"
)

// ErrorType represents the category of a transport error
type ErrorType int

const (
	// ErrTypeNetwork indicates a network-level error
	ErrTypeNetwork ErrorType = iota
	// ErrTypeTimeout indicates a request or dial timeout
	ErrTypeTimeout
	// ErrTypeConnectionRefused indicates the thing refused the connection
	ErrTypeConnectionRefused
	// ErrTypeDNS indicates a DNS resolution failure
	ErrTypeDNS
	// ErrTypeParse indicates a body that is not JSON
	ErrTypeParse
	// ErrTypeClosed indicates the duplex channel is closed
	ErrTypeClosed
	// ErrTypeHandshake indicates the duplex upgrade was rejected
	ErrTypeHandshake
)

// NetworkErrorSubtype provides more specific network error classification
type NetworkErrorSubtype int

const (
	NetworkErrorGeneral NetworkErrorSubtype = iota
	NetworkErrorHostUnreachable
	NetworkErrorNetworkUnreachable
)

// String returns a human-readable name for the error type
func (et ErrorType) String() string {
	switch et {
	case ErrTypeNetwork:
		return "Network Error"
	case ErrTypeTimeout:
		return "Timeout"
	case ErrTypeConnectionRefused:
		return "Connection Refused"
	case ErrTypeDNS:
		return "DNS Error"
	case ErrTypeParse:
		return "Parse Error"
	case ErrTypeClosed:
		return "Channel Closed"
	case ErrTypeHandshake:
		return "Handshake Error"
	default:
		return fmt.Sprintf("ErrorType(%d)", et)
	}
}

// Error is a failure to exchange data with the thing
type Error struct {
	Type           ErrorType           // Category of error
	Message        string              // Human-readable error message
	StatusCode     int                 // HTTP status code (handshake)
	Err            error               // Underlying error (if any)
	NetworkSubtype NetworkErrorSubtype // More specific network error type
	Target         string              // URL or address being contacted
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for error chain inspection
func (e *Error) Unwrap() error {
	return e.Err
}

// ClassifyNetworkError analyzes an error and returns a more specific error type
func ClassifyNetworkError(err error, target string) *Error {
	if err == nil {
		return nil
	}

	if os.IsTimeout(err) || errors.Is(err, os.ErrDeadlineExceeded) {
		return &Error{Type: ErrTypeTimeout, Message: "Request timed out", Err: err, Target: target}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &Error{
			Type:    ErrTypeDNS,
			Message: fmt.Sprintf("DNS resolution failed for %s", dnsErr.Name),
			Err:     err,
			Target:  target,
		}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if errors.Is(opErr.Err, syscall.ECONNREFUSED) {
			return &Error{Type: ErrTypeConnectionRefused, Message: "Thing refused connection", Err: err, Target: target}
		}
		if errors.Is(opErr.Err, syscall.EHOSTUNREACH) {
			return &Error{
				Type:           ErrTypeNetwork,
				Message:        "Host unreachable",
				Err:            err,
				NetworkSubtype: NetworkErrorHostUnreachable,
				Target:         target,
			}
		}
		if errors.Is(opErr.Err, syscall.ENETUNREACH) {
			return &Error{
				Type:           ErrTypeNetwork,
				Message:        "Network unreachable",
				Err:            err,
				NetworkSubtype: NetworkErrorNetworkUnreachable,
				Target:         target,
			}
		}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return ClassifyNetworkError(urlErr.Err, target)
	}

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || errors.Is(err, net.ErrClosed) {
		return &Error{Type: ErrTypeClosed, Message: "Duplex channel closed", Err: err, Target: target}
	}

	return &Error{
		Type:    ErrTypeNetwork,
		Message: "Network error occurred",
		Err:     err,
		Target:  target,
	}
}

// NewNetworkError creates a network-level error with automatic classification
func NewNetworkError(message string, target string, err error) *Error {
	classified := ClassifyNetworkError(err, target)
	if classified != nil {
		classified.Message = message
		return classified
	}
	return &Error{Type: ErrTypeNetwork, Message: message, Target: target}
}

// NewParseError creates a parsing error
func NewParseError(message string, target string, err error) *Error {
	return &Error{Type: ErrTypeParse, Message: message, Err: err, Target: target}
}

// NewHandshakeError creates an error for a rejected duplex upgrade
func NewHandshakeError(target string, statusCode int, err error) *Error {
	return &Error{
		Type:       ErrTypeHandshake,
		Message:    fmt.Sprintf("upgrade rejected with status %d", statusCode),
		StatusCode: statusCode,
		Err:        err,
		Target:     target,
	}
}

func isType(err error, types ...ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	for _, t := range types {
		if e.Type == t {
			return true
		}
	}
	return false
}

// IsNetworkError checks if an error is a network error (including timeout, connection refused, DNS)
func IsNetworkError(err error) bool {
	return isType(err, ErrTypeNetwork, ErrTypeTimeout, ErrTypeConnectionRefused, ErrTypeDNS)
}

// IsTimeout checks if an error is a timeout
func IsTimeout(err error) bool {
	return isType(err, ErrTypeTimeout)
}

// IsParseError checks if an error is a parse error
func IsParseError(err error) bool {
	return isType(err, ErrTypeParse)
}

// IsClosed checks if an error reports a closed duplex channel
func IsClosed(err error) bool {
	return isType(err, ErrTypeClosed)
}

// GetShortErrorMessage returns a concise, user-friendly error message
func GetShortErrorMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return err.Error()
	}

	switch e.Type {
	case ErrTypeTimeout:
		return "Thing not responding (timeout)"
	case ErrTypeConnectionRefused:
		return "Thing refused connection - is it running on that port?"
	case ErrTypeDNS:
		return "Cannot resolve thing hostname"
	case ErrTypeNetwork:
		switch e.NetworkSubtype {
		case NetworkErrorHostUnreachable:
			return "Thing unreachable - check network connection"
		case NetworkErrorNetworkUnreachable:
			return "Network unreachable - check connection"
		default:
			return "Network error - check connection"
		}
	case ErrTypeParse:
		return "Thing answered with a body that is not JSON"
	case ErrTypeClosed:
		return "Duplex channel closed by the thing"
	case ErrTypeHandshake:
		return fmt.Sprintf("Duplex upgrade rejected (HTTP %d)", e.StatusCode)
	default:
		return e.Message
	}
}
