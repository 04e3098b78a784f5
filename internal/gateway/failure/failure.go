// Package failure defines the classified failures produced by the gateway.
//
// Upstream collaborators attach a Kind where the failure is first observed;
// the orchestrator and handlers only ever switch on Kind.
package failure

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Kind is the discriminated failure class driving retry and response policy
type Kind int

const (
	Unclassified Kind = iota
	Validation
	ClientRateLimited
	TransientRateLimit
	PermanentQuota
	NetworkTransient
	EmptyResponse
	Exhausted
)

var kindNames = map[Kind]string{
	Unclassified:       "unclassified",
	Validation:         "validation",
	ClientRateLimited:  "client_rate_limited",
	TransientRateLimit: "transient_rate_limit",
	PermanentQuota:     "permanent_quota",
	NetworkTransient:   "network_transient",
	EmptyResponse:      "empty_response",
	Exhausted:          "exhausted",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Retryable reports whether the orchestrator may try another attempt
func (k Kind) Retryable() bool {
	switch k {
	case TransientRateLimit, PermanentQuota, NetworkTransient, EmptyResponse:
		return true
	}
	return false
}

// Error is a classified failure
type Error struct {
	Kind       Kind
	Attempts   int
	StatusCode int
	RetryAfter time.Duration // client hint for ClientRateLimited
	Message    string
	Err        error
}

// New creates a classified failure with a message
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap classifies an underlying error
func Wrap(kind Kind, err error) *Error {
	e := &Error{Kind: kind, Err: err}
	if err != nil {
		e.Message = err.Error()
	}
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return "gateway failure"
	}
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Attempts > 0 {
		return fmt.Sprintf("%s after %d attempt(s): %s", e.Kind, e.Attempts, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the failure kind from an error chain. Transport errors
// that were never classified count as NetworkTransient.
func KindOf(err error) Kind {
	if err == nil {
		return Unclassified
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if IsTransport(err) {
		return NetworkTransient
	}
	return Unclassified
}

// IsTransport reports whether err is a network level failure or a timeout
func IsTransport(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
