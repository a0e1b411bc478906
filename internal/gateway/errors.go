package gateway

import (
	"errors"
	"fmt"
)

// ConfigError is a misconfigured gateway: missing or unreadable TLS
// materials, an unset endpoint, or an endpoint still at its placeholder
// value. Fatal to the attempt, never retried automatically.
type ConfigError struct {
	Kind   string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("gateway %s not usable: %s", e.Kind, e.Reason)
}

// TransportError is a connection, TLS or timeout failure before a response
// was received. Callers treat it as retryable and re-poll later.
type TransportError struct {
	Kind string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("gateway %s transport failure: %v", e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError is a response the gateway did send but which is unusable: a
// non-2xx status or a well-formed reply missing required fields. The raw
// body is kept for the logs.
type ProtocolError struct {
	Kind       string
	StatusCode int
	Body       string
	Reason     string
}

func (e *ProtocolError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("gateway %s protocol error: status %d: %s", e.Kind, e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("gateway %s protocol error: %s", e.Kind, e.Reason)
}

// IsRetryable reports whether the error is a transient transport failure,
// as opposed to a configuration or protocol problem.
func IsRetryable(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsConfig reports whether the error is a configuration problem.
func IsConfig(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
