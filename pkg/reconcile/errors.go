package reconcile

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of a reconciliation error.
type ErrorClass string

const (
	// ErrorClassTransient indicates the resource exists but is not yet in
	// its target state. Recovered by the host's polling schedule.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassConflict indicates a name conflict on create. Normally
	// recovered locally by the adoption guard.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassFatal indicates a terminal provisioning failure reported by
	// the vendor. Never retried: the condition cannot self-heal and
	// retrying wastes the bounded attempt budget.
	ErrorClassFatal ErrorClass = "fatal"

	// ErrorClassPrecondition indicates the host invoked operations out of
	// order, e.g. update without an id in state.
	ErrorClassPrecondition ErrorClass = "precondition"

	// ErrorClassVendor indicates a vendor transport or HTTP failure,
	// surfaced verbatim for host-level backoff.
	ErrorClassVendor ErrorClass = "vendor"
)

// ReconcileError is a classified reconciliation error. Vendor errors carry
// the operation name, HTTP status code, and the vendor's message verbatim so
// operators can correlate with the vendor's own console.
//
// nolint:revive // ReconcileError is intentionally named to distinguish from standard errors
type ReconcileError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Op is the lifecycle operation being performed.
	Op string `json:"op,omitempty"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// StatusCode is the vendor HTTP status code, if applicable.
	StatusCode int `json:"status_code,omitempty"`

	// VendorCode is the vendor's own error code (JSON __type or XML <Code>).
	VendorCode string `json:"vendor_code,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *ReconcileError) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg != "" {
			msg = msg + ": " + e.Err.Error()
		} else {
			msg = e.Err.Error()
		}
	}
	switch {
	case e.Op != "" && e.StatusCode != 0:
		return fmt.Sprintf("[%s] %s: %s (status=%d)", e.Class, e.Op, msg, e.StatusCode)
	case e.Op != "":
		return fmt.Sprintf("[%s] %s: %s", e.Class, e.Op, msg)
	case e.StatusCode != 0:
		return fmt.Sprintf("[%s] %s (status=%d)", e.Class, msg, e.StatusCode)
	default:
		return fmt.Sprintf("[%s] %s", e.Class, msg)
	}
}

// Unwrap returns the underlying error for error chain inspection.
func (e *ReconcileError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *ReconcileError) Is(target error) bool {
	t, ok := target.(*ReconcileError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.VendorCode == t.VendorCode
}

// WithOp attaches the lifecycle operation name.
func (e *ReconcileError) WithOp(op string) *ReconcileError {
	e.Op = op
	return e
}

// NewTransientError creates a transient-not-ready error.
func NewTransientError(message string, err error) *ReconcileError {
	return &ReconcileError{Class: ErrorClassTransient, Message: message, Err: err}
}

// NewConflictError creates a conflict-on-create error.
func NewConflictError(message string, err error) *ReconcileError {
	return &ReconcileError{Class: ErrorClassConflict, Message: message, Err: err}
}

// NewFatalError creates a fatal-provisioning-failure error.
func NewFatalError(message string, err error) *ReconcileError {
	return &ReconcileError{Class: ErrorClassFatal, Message: message, Err: err}
}

// NewPreconditionError creates a precondition-missing error.
func NewPreconditionError(message string) *ReconcileError {
	return &ReconcileError{Class: ErrorClassPrecondition, Message: message}
}

// NewVendorError creates a vendor transport/HTTP error. The vendor message is
// preserved verbatim.
func NewVendorError(op string, statusCode int, vendorCode, message string) *ReconcileError {
	return &ReconcileError{
		Class:      ErrorClassVendor,
		Op:         op,
		StatusCode: statusCode,
		VendorCode: vendorCode,
		Message:    message,
	}
}

// classOf returns the class of err, or "" when err is not a ReconcileError.
func classOf(err error) ErrorClass {
	var e *ReconcileError
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

// IsFatal returns true if the error is a terminal provisioning failure.
func IsFatal(err error) bool {
	return classOf(err) == ErrorClassFatal
}

// IsConflict returns true if the error is a name conflict. Vendor errors in
// the 409/"already exists" family also count.
func IsConflict(err error) bool {
	if classOf(err) == ErrorClassConflict {
		return true
	}
	var e *ReconcileError
	if errors.As(err, &e) {
		return e.StatusCode == 409
	}
	return false
}

// IsPrecondition returns true if the error is a host sequencing error.
func IsPrecondition(err error) bool {
	return classOf(err) == ErrorClassPrecondition
}

// IsNotFound returns true if the error carries a vendor 404.
func IsNotFound(err error) bool {
	var e *ReconcileError
	if errors.As(err, &e) {
		return e.StatusCode == 404
	}
	return false
}

// IsForbidden returns true if the error carries a vendor 403.
func IsForbidden(err error) bool {
	var e *ReconcileError
	if errors.As(err, &e) {
		return e.StatusCode == 403
	}
	return false
}
