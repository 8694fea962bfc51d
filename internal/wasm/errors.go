package wasm

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorCode is a flat error-kind enumeration, matching spec.md §7 exactly:
// no nested variants, no wrapped trap "reasons" beyond the message text
// attached when the error is constructed.
type ErrorCode int

const (
	ErrorCodeInvalidModule ErrorCode = iota + 1
	ErrorCodeImportNotFound
	ErrorCodeTrap
	ErrorCodeOutOfBoundsMemoryAccess
	ErrorCodeIntegerOverflow
	ErrorCodeDivisionByZero
	ErrorCodeStackOverflow
	ErrorCodeOutOfMemory
	ErrorCodeUnreachable
)

// String names mirror spec.md §7's variant names.
func (c ErrorCode) String() string {
	switch c {
	case ErrorCodeInvalidModule:
		return "invalid module"
	case ErrorCodeImportNotFound:
		return "import not found"
	case ErrorCodeTrap:
		return "trap"
	case ErrorCodeOutOfBoundsMemoryAccess:
		return "out of bounds memory access"
	case ErrorCodeIntegerOverflow:
		return "integer overflow"
	case ErrorCodeDivisionByZero:
		return "integer divide by zero"
	case ErrorCodeStackOverflow:
		return "stack overflow"
	case ErrorCodeOutOfMemory:
		return "out of memory"
	case ErrorCodeUnreachable:
		return "unreachable"
	default:
		return "unknown error"
	}
}

// Error is the typed error every wazgo failure surface reduces to: decode
// failures, instantiation failures, and traps raised during execution.
// The JIT tier encodes Code as a small ordinal (see Ordinal) and the
// trampoline reconstructs an *Error with that Code on return.
type Error struct {
	Code ErrorCode
	msg  string
}

// NewError builds an *Error with an additional message appended to the
// ErrorCode's canonical name.
func NewError(code ErrorCode, msg string) *Error {
	return &Error{Code: code, msg: msg}
}

func (e *Error) Error() string {
	if e.msg == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.msg)
}

// Is supports errors.Is(err, SomeErrorCodeSentinel) by comparing codes, so
// that a wrapped *Error (via pkg/errors.Wrap) still compares equal to a
// bare sentinel for the same code.
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return te.Code == e.Code
	}
	return false
}

// Ordinal returns the small integer the ARM64 JIT tier returns in its
// result register to signal this error across the native calling
// convention (spec.md §4.6, §7). 0 is reserved for "no error".
func (c ErrorCode) Ordinal() uint64 { return uint64(c) }

// ErrorCodeFromOrdinal is the trampoline-side inverse of Ordinal.
func ErrorCodeFromOrdinal(v uint64) (ErrorCode, bool) {
	if v == 0 || v > uint64(ErrorCodeUnreachable) {
		return 0, false
	}
	return ErrorCode(v), true
}

// Sentinel errors for errors.Is comparisons at call sites that don't need
// a custom message.
var (
	ErrInvalidModule            = &Error{Code: ErrorCodeInvalidModule}
	ErrImportNotFound           = &Error{Code: ErrorCodeImportNotFound}
	ErrTrap                     = &Error{Code: ErrorCodeTrap}
	ErrOutOfBoundsMemoryAccess  = &Error{Code: ErrorCodeOutOfBoundsMemoryAccess}
	ErrIntegerOverflow          = &Error{Code: ErrorCodeIntegerOverflow}
	ErrDivisionByZero           = &Error{Code: ErrorCodeDivisionByZero}
	ErrStackOverflow            = &Error{Code: ErrorCodeStackOverflow}
	ErrOutOfMemory              = &Error{Code: ErrorCodeOutOfMemory}
	ErrUnreachable              = &Error{Code: ErrorCodeUnreachable}
)

// FunctionCodeMismatch is the specific InvalidModule cause spec.md §4.1
// calls out by name: the function and code sections disagree on count.
func FunctionCodeMismatch(funcCount, codeCount int) error {
	return errors.Wrapf(ErrInvalidModule, "function section count (%d) != code section count (%d)", funcCount, codeCount)
}
