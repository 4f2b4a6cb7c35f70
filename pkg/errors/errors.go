// Package errors defines the error-kind taxonomy shared by every collaborator
// of the VM agent: InventoryClient, the local-mgr adapter, and the watchers.
//
// The reconciliation engine dispatches on error kind rather than on string
// matching, so each kind is its own type and comes with an Is* predicate and
// an errors.Is-compatible sentinel check.
package errors

import (
	"errors"
	"fmt"
)

// NotFoundError is returned by LocalMgr.LoadOne when the VM no longer exists
// (or is hidden, which is indistinguishable from the watchers' point of view).
type NotFoundError struct {
	UUID string
}

func NewNotFoundError(uuid string) *NotFoundError {
	return &NotFoundError{UUID: uuid}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("vm %s not found", e.UUID)
}

// NetworkError wraps a connection-level failure talking to Inventory or
// local-mgr (refused connection, DNS failure, timeout before any response).
type NetworkError struct {
	Op  string
	Err error
}

func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err}
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ProtocolError indicates a response that could not be parsed as the
// expected wire format (spec §7 "Parse error (unexpected JSON)").
type ProtocolError struct {
	Op  string
	Err error
}

func NewProtocolError(op string, err error) *ProtocolError {
	return &ProtocolError{Op: op, Err: err}
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: protocol error: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// ServerError represents a 5xx response from Inventory.
type ServerError struct {
	Op         string
	StatusCode int
}

func NewServerError(op string, statusCode int) *ServerError {
	return &ServerError{Op: op, StatusCode: statusCode}
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: server error (status %d)", e.Op, e.StatusCode)
}

// ValidationError represents a 4xx response from Inventory.UpdateOne. It is
// surfaced distinctly because the record itself is what's wrong — retrying
// the identical payload will not help — even though the engine currently
// retries it exactly like a ServerError (spec §9 Open Question 2, decided
// in DESIGN.md).
type ValidationError struct {
	Op         string
	StatusCode int
	Body       string
}

func NewValidationError(op string, statusCode int, body string) *ValidationError {
	return &ValidationError{Op: op, StatusCode: statusCode, Body: body}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: validation error (status %d): %s", e.Op, e.StatusCode, e.Body)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsNetwork(err error) bool {
	var target *NetworkError
	return errors.As(err, &target)
}

func IsProtocol(err error) bool {
	var target *ProtocolError
	return errors.As(err, &target)
}

func IsServer(err error) bool {
	var target *ServerError
	return errors.As(err, &target)
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsRetryable reports whether the engine should schedule a backoff retry for
// err rather than treating it as a fatal programming error. Every kind this
// package defines except NotFoundError is retryable — NotFoundError is
// handled specially by the reconciler (it synthesizes a destroyed record).
func IsRetryable(err error) bool {
	return IsNetwork(err) || IsProtocol(err) || IsServer(err) || IsValidation(err)
}
