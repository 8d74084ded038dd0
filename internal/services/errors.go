package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrSignatureMismatch is returned when a callback or webhook signature does not match.
	ErrSignatureMismatch = errors.New("signature mismatch")
	// ErrNotFound is returned when no enrollment record matches an identifier.
	ErrNotFound = errors.New("enrollment record not found")
	// ErrNotEnrolled is returned when a session is requested for an unpaid or mismatched order.
	ErrNotEnrolled = errors.New("no completed enrollment for this order")
)

// ValidationError reports missing or malformed input. Fields maps field name to problem.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// GatewayError wraps a failure of the external payment provider.
type GatewayError struct {
	Provider string
	Op       string
	Err      error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// NotificationError is a failed delivery on one channel. It is logged, never propagated
// to payment operations.
type NotificationError struct {
	Channel   string
	Recipient string
	Err       error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("notify %s via %s: %v", e.Recipient, e.Channel, e.Err)
}

func (e *NotificationError) Unwrap() error { return e.Err }
