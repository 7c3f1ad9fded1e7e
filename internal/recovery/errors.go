package recovery

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorClass is the closed classification every action failure maps to. Each
// class carries a fixed recovery strategy (see Execute).
type ErrorClass string

const (
	ClassNetwork         ErrorClass = "NETWORK"
	ClassTimeout         ErrorClass = "TIMEOUT"
	ClassElementNotFound ErrorClass = "ELEMENT_NOT_FOUND"
	ClassNavigation      ErrorClass = "NAVIGATION"
	ClassAuthentication  ErrorClass = "AUTHENTICATION"
	ClassValidation      ErrorClass = "VALIDATION"
	ClassUnknown         ErrorClass = "UNKNOWN"
)

// ErrSessionRestartRequired marks an authentication fault. It is never
// retried here; the agent must tear down and re-login its session.
var ErrSessionRestartRequired = errors.New("session restart required")

// ErrCircuitOpen is returned when the breaker for an action class refuses
// the attempt and no fallback was provided.
var ErrCircuitOpen = errors.New("circuit open for action class")

// ActionError is the tagged failure type drivers are expected to return.
// Carrying the class explicitly avoids classifying by error text.
type ActionError struct {
	Class ErrorClass
	Op    string
	Err   error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Class, e.Op, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// NewActionError wraps a raw failure with its classification.
func NewActionError(class ErrorClass, op string, err error) *ActionError {
	return &ActionError{Class: class, Op: op, Err: err}
}

// Classify maps an error onto the closed class set. Tagged errors carry
// their own class; foreign errors are matched against known sentinel types
// and default to UNKNOWN.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassUnknown
	}

	var ae *ActionError
	if errors.As(err, &ae) {
		return ae.Class
	}
	if errors.Is(err, ErrSessionRestartRequired) {
		return ClassAuthentication
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return ClassTimeout
		}
		return ClassNetwork
	}
	return ClassUnknown
}
