package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// CodeValidation marks malformed user input. User-correctable.
	CodeValidation ErrorCode = "VALIDATION"

	// CodeDataIntegrity marks an unrecognized tag or an inconsistent snapshot.
	// Never auto-corrected and never retryable.
	CodeDataIntegrity ErrorCode = "DATA_INTEGRITY"

	// CodeStepNotReady marks an attempt to enter a step with unmet dependencies.
	CodeStepNotReady ErrorCode = "STEP_NOT_READY"

	// CodeVersionConflict marks a stale expected version. Refetch and retry.
	CodeVersionConflict ErrorCode = "VERSION_CONFLICT"

	// CodeStoreUnavailable marks a transient dependency failure. Retry with backoff.
	CodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"

	// CodeFinalizationBlocked marks a failed finalization gate.
	CodeFinalizationBlocked ErrorCode = "FINALIZATION_BLOCKED"

	// CodeNotFound marks a missing filing.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeAlreadyExists marks a duplicate filing for a user and year.
	CodeAlreadyExists ErrorCode = "ALREADY_EXISTS"

	// CodeFilingLocked marks a mutation attempted on a finalized filing.
	CodeFilingLocked ErrorCode = "FILING_LOCKED"
)

// Reason is one actionable checklist entry attached to a blocking error.
type Reason struct {
	Code    string `json:"code"`
	Step    StepID `json:"step,omitempty"`
	Message string `json:"message"`
}

// Error is the structured error returned by every engine operation.
type Error struct {
	Code     ErrorCode
	Op       string
	Message  string
	FilingID string
	RecordID string

	// Unmet lists dependency steps for CodeStepNotReady.
	Unmet []StepID

	// Reasons lists every failing check for CodeFinalizationBlocked.
	Reasons []Reason

	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Op != "" {
		b.WriteString(" ")
		b.WriteString(e.Op)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.FilingID != "" {
		fmt.Fprintf(&b, " (filing=%s", e.FilingID)
		if e.RecordID != "" {
			fmt.Fprintf(&b, ", record=%s", e.RecordID)
		}
		b.WriteString(")")
	} else if e.RecordID != "" {
		fmt.Fprintf(&b, " (record=%s)", e.RecordID)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the caller may retry the same request.
func (e *Error) Retryable() bool {
	return e.Code == CodeStoreUnavailable
}

// NewError creates an Error with a formatted message.
func NewError(code ErrorCode, op, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Validation creates a CodeValidation error.
func Validation(op, format string, args ...any) *Error {
	return NewError(CodeValidation, op, format, args...)
}

// DataIntegrity creates a CodeDataIntegrity error for a record.
func DataIntegrity(op, filingID, recordID, format string, args ...any) *Error {
	e := NewError(CodeDataIntegrity, op, format, args...)
	e.FilingID = filingID
	e.RecordID = recordID
	return e
}

// StepNotReady creates a CodeStepNotReady error listing the unmet steps.
func StepNotReady(op, filingID string, target StepID, unmet []StepID) *Error {
	names := make([]string, len(unmet))
	for i, s := range unmet {
		names[i] = string(s)
	}
	e := NewError(CodeStepNotReady, op, "step %q requires %s", target, strings.Join(names, ", "))
	e.FilingID = filingID
	e.Unmet = unmet
	return e
}

// VersionConflict creates a CodeVersionConflict error.
func VersionConflict(op, filingID string, expected, actual int64) *Error {
	e := NewError(CodeVersionConflict, op, "expected version %d, stored version is %d", expected, actual)
	e.FilingID = filingID
	return e
}

// StoreUnavailable wraps a transient dependency failure.
func StoreUnavailable(op string, err error) *Error {
	e := NewError(CodeStoreUnavailable, op, "record store unavailable")
	e.Err = err
	return e
}

// FinalizationBlocked creates a CodeFinalizationBlocked error carrying every reason.
func FinalizationBlocked(op, filingID string, reasons []Reason) *Error {
	e := NewError(CodeFinalizationBlocked, op, "%d finalization check(s) failed", len(reasons))
	e.FilingID = filingID
	e.Reasons = reasons
	return e
}

// NotFound creates a CodeNotFound error.
func NotFound(op, filingID string) *Error {
	e := NewError(CodeNotFound, op, "filing not found")
	e.FilingID = filingID
	return e
}

// AlreadyExists creates a CodeAlreadyExists error.
func AlreadyExists(op, format string, args ...any) *Error {
	return NewError(CodeAlreadyExists, op, format, args...)
}

// FilingLocked creates a CodeFilingLocked error.
func FilingLocked(op, filingID string) *Error {
	e := NewError(CodeFilingLocked, op, "filing is finalized; amend it to make changes")
	e.FilingID = filingID
	return e
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// IsRetryable reports whether err is a transient failure worth retrying.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return false
}

// WithFiling stamps a filing id on err when it is an *Error without one.
func WithFiling(err error, filingID string) error {
	var e *Error
	if errors.As(err, &e) && e.FilingID == "" {
		e.FilingID = filingID
	}
	return err
}

// ForFiling sets the filing id and returns e.
func (e *Error) ForFiling(filingID string) *Error {
	e.FilingID = filingID
	return e
}
