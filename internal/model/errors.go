package model

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected  = errors.New("not connected")
	ErrNotSubscribed = errors.New("not subscribed")
	ErrOrderNotFound = errors.New("order not found")
	ErrOrderTerminal = errors.New("order is in a terminal state")
	ErrSessionLost   = errors.New("venue session lost")
)

// TransportError is a connection drop, write failure or handshake failure.
// It is always recoverable by reconnecting.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError is an explicit rejection by the venue. It is never retried.
type ProtocolError struct {
	Code   string
	Reason string
}

func (e *ProtocolError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("venue rejected request: %s", e.Reason)
	}
	return fmt.Sprintf("venue rejected request (%s): %s", e.Code, e.Reason)
}

// ValidationError is a malformed local request, rejected before any wire send.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// StateError references an unknown or already terminal order or subscription.
type StateError struct {
	Op  string
	Ref string
	Err error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Ref, e.Err)
}

func (e *StateError) Unwrap() error { return e.Err }

// IsTransport reports whether err is a recoverable transport failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsProtocol reports whether err is a venue rejection.
func IsProtocol(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
