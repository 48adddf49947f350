// Package errs defines the protocol's failure taxonomy. Every rejected
// operation surfaces one of these values so that callers can tell
// "try again later" (State, Capacity) from "will never succeed"
// (Validation, Authorization).
package errs

import (
	"errors"
	"fmt"
)

type Kind int32

const (
	KindUnknown Kind = iota
	KindValidation
	KindState
	KindAuthorization
	KindAlreadyDone
	KindCapacity
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "ValidationError"
	case KindState:
		return "StateError"
	case KindAuthorization:
		return "AuthorizationError"
	case KindAlreadyDone:
		return "AlreadyDoneError"
	case KindCapacity:
		return "CapacityError"
	default:
		return "UnknownError"
	}
}

// Retryable reports whether resubmitting the same operation later may succeed.
func (k Kind) Retryable() bool {
	return k == KindState || k == KindCapacity
}

// Error is a classified protocol failure. Code is stable across releases
// and is what Is compares on; Msg may carry call-specific detail.
type Error struct {
	Kind Kind
	Code string
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Withf returns a copy of e with a more specific message. The copy still
// matches e under errors.Is.
func (e *Error) Withf(format string, args ...any) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Msg: fmt.Sprintf(format, args...)}
}

func newErr(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

// Validation
var (
	ErrInvalidWindow     = newErr(KindValidation, "InvalidWindow", "sale window must satisfy now < start < end")
	ErrInvalidCaps       = newErr(KindValidation, "InvalidCaps", "caps out of bounds or hard cap below soft cap")
	ErrInvalidSupply     = newErr(KindValidation, "InvalidSupply", "total supply out of bounds")
	ErrInvalidAmount     = newErr(KindValidation, "InvalidAmount", "amount must be positive")
	ErrInvalidAddress    = newErr(KindValidation, "InvalidAddress", "address must be non-zero")
	ErrInvalidAsset      = newErr(KindValidation, "InvalidAsset", "unknown asset or account")
	ErrInvalidSettings   = newErr(KindValidation, "InvalidSettings", "settings failed validation")
	ErrInvalidAllocation = newErr(KindValidation, "InvalidAllocation", "spark allocation exceeds supply")
	ErrLaunchTooEarly    = newErr(KindValidation, "LaunchTooEarly", "launch time before minimum lead time")
	ErrLaunchTooLate     = newErr(KindValidation, "LaunchTooLate", "launch time after maximum lead time")
	ErrClockRegression   = newErr(KindValidation, "ClockRegression", "operation time precedes last applied time")
	ErrArithmetic        = newErr(KindValidation, "ArithmeticOverflow", "checked arithmetic failed")
	ErrInvalidRequest    = newErr(KindValidation, "InvalidRequest", "malformed request parameter")
)

// State
var (
	ErrSaleNotFound            = newErr(KindState, "SaleNotFound", "unknown sale")
	ErrNotIgniting             = newErr(KindState, "NotIgniting", "sale is not accepting contributions")
	ErrNotReady                = newErr(KindState, "NotReady", "sale cannot be finalized")
	ErrNotSparked              = newErr(KindState, "NotSparked", "sale has not sparked")
	ErrNotRefunding            = newErr(KindState, "NotRefunding", "sale is not refunding")
	ErrCannotCreateInsurance   = newErr(KindState, "CannotCreateInsurance", "insurance not registered or already created")
	ErrInsuranceNotInitialized = newErr(KindState, "InsuranceNotInitialized", "insurance not initialized")
	ErrCycleNotReached         = newErr(KindState, "CycleNotReached", "first cycle has not elapsed")
	ErrInsuranceUnwound        = newErr(KindState, "InsuranceUnwound", "insurance has been unwound")
	ErrInsufficientBalance     = newErr(KindState, "InsufficientBalance", "balance too low")
)

// Authorization
var (
	ErrNotEngine           = newErr(KindAuthorization, "NotEngine", "caller is not the sale engine")
	ErrSenderNotAuthorized = newErr(KindAuthorization, "SenderNotAuthorized", "caller is not privileged for this operation")
)

// AlreadyDone
var (
	ErrAlreadyClaimed    = newErr(KindAlreadyDone, "AlreadyClaimed", "reward already claimed")
	ErrAlreadyRefunded   = newErr(KindAlreadyDone, "AlreadyRefunded", "contribution already refunded")
	ErrAlreadyRegistered = newErr(KindAlreadyDone, "AlreadyRegistered", "sale already registered with insurance")
	ErrNothingToClaim    = newErr(KindAlreadyDone, "NothingToClaim", "nothing to claim")
)

// Capacity
var (
	ErrExceedsHardCap            = newErr(KindCapacity, "ExceedsHardCap", "contribution would exceed hard cap")
	ErrExceedsAvailableInsurance = newErr(KindCapacity, "ExceedsAvailableInsurance", "redemption exceeds available insurance")
)

// KindOf returns the Kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf returns the stable code of the first *Error in err's chain.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "Internal"
}
