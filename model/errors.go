package model

import (
	"errors"
	"fmt"
)

// Kind is a stable category for programmatic error handling.
//
// Validation errors mean the caller must fix its input; State errors mean the
// caller must wait or pick a different operation; Integrity errors are
// security-relevant halts that must never be skipped or defaulted.
type Kind string

const (
	KindValidation Kind = "Validation"
	KindState      Kind = "State"
	KindIntegrity  Kind = "Integrity"
	KindPermission Kind = "Permission"
	KindInternal   Kind = "Internal"
)

// Code names one rejected condition. Codes are stable across versions;
// callers should branch on Code (or errors.Is with the sentinels below)
// rather than on Error() strings.
type Code string

const (
	CodeInvalidEncoding   Code = "INVALID_ENCODING"
	CodeInvalidAddress    Code = "INVALID_ADDRESS"
	CodeInvalidConfig     Code = "INVALID_CONFIG"
	CodeProofMalformed    Code = "PROOF_MALFORMED"
	CodeEmptyManifest     Code = "EMPTY_MANIFEST"
	CodeDuplicateSelector Code = "DUPLICATE_SELECTOR"
	CodeIndexOutOfRange   Code = "INDEX_OUT_OF_RANGE"
	CodeEmptyContent      Code = "EMPTY_CONTENT"
	CodeSizeExceeded      Code = "SIZE_EXCEEDED"
	CodeInsufficientFee   Code = "INSUFFICIENT_FEE"
	CodeBatchTooLarge     Code = "BATCH_TOO_LARGE"
	CodeEmptyBatch        Code = "EMPTY_BATCH"
	CodeFeeConfig         Code = "FEE_CONFIG"

	CodeActivationNotReady Code = "ACTIVATION_NOT_READY"
	CodeNoCommitment       Code = "NO_COMMITMENT"
	CodeAlreadyActive      Code = "ALREADY_ACTIVE"
	CodeEpochRegression    Code = "EPOCH_REGRESSION"
	CodeFrozen             Code = "FROZEN"
	CodePaused             Code = "PAUSED"
	CodeAlreadyPaused      Code = "ALREADY_PAUSED"
	CodeNotPaused          Code = "NOT_PAUSED"
	CodeUnknownSelector    Code = "UNKNOWN_SELECTOR"
	CodeRouteNotActive     Code = "ROUTE_NOT_ACTIVE"
	CodeNoCode             Code = "NO_CODE"
	CodeUnknownNetwork     Code = "UNKNOWN_NETWORK"
	CodeUnknownPlan        Code = "UNKNOWN_PLAN"

	CodeProofInvalid        Code = "PROOF_INVALID"
	CodeCodeMismatch        Code = "CODE_MISMATCH"
	CodeCodeCorrupted       Code = "CODE_CORRUPTED"
	CodePredictionMismatch  Code = "PREDICTION_MISMATCH"
	CodeAddressMismatch     Code = "ADDRESS_MISMATCH"
	CodeConsistencyMismatch Code = "CONSISTENCY_MISMATCH"
	CodeRootMismatch        Code = "ROOT_MISMATCH"
	CodeChainBroken         Code = "CHAIN_BROKEN"
	CodeSignatureInvalid    Code = "SIGNATURE_INVALID"

	CodeUnauthorized Code = "UNAUTHORIZED"

	CodeInternal Code = "INTERNAL"
)

var codeKinds = map[Code]Kind{
	CodeInvalidEncoding:   KindValidation,
	CodeInvalidAddress:    KindValidation,
	CodeInvalidConfig:     KindValidation,
	CodeProofMalformed:    KindValidation,
	CodeEmptyManifest:     KindValidation,
	CodeDuplicateSelector: KindValidation,
	CodeIndexOutOfRange:   KindValidation,
	CodeEmptyContent:      KindValidation,
	CodeSizeExceeded:      KindValidation,
	CodeInsufficientFee:   KindValidation,
	CodeBatchTooLarge:     KindValidation,
	CodeEmptyBatch:        KindValidation,
	CodeFeeConfig:         KindValidation,

	CodeActivationNotReady: KindState,
	CodeNoCommitment:       KindState,
	CodeAlreadyActive:      KindState,
	CodeEpochRegression:    KindState,
	CodeFrozen:             KindState,
	CodePaused:             KindState,
	CodeAlreadyPaused:      KindState,
	CodeNotPaused:          KindState,
	CodeUnknownSelector:    KindState,
	CodeRouteNotActive:     KindState,
	CodeNoCode:             KindState,
	CodeUnknownNetwork:     KindState,
	CodeUnknownPlan:        KindState,

	CodeProofInvalid:        KindIntegrity,
	CodeCodeMismatch:        KindIntegrity,
	CodeCodeCorrupted:       KindIntegrity,
	CodePredictionMismatch:  KindIntegrity,
	CodeAddressMismatch:     KindIntegrity,
	CodeConsistencyMismatch: KindIntegrity,
	CodeRootMismatch:        KindIntegrity,
	CodeChainBroken:         KindIntegrity,
	CodeSignatureInvalid:    KindIntegrity,

	CodeUnauthorized: KindPermission,

	CodeInternal: KindInternal,
}

// KindOf returns the stable Kind for a code. Unknown codes are Internal.
func KindOf(code Code) Kind {
	if k, ok := codeKinds[code]; ok {
		return k
	}
	return KindInternal
}

// Error is the structured error returned by every rejected operation.
//
// Message is intended for humans; do not match on it.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is reports whether target is a *Error carrying the same Code, which lets
// callers write errors.Is(err, model.ErrFrozen).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

func sentinel(code Code) *Error {
	return &Error{Kind: KindOf(code), Code: code}
}

var (
	ErrProofMalformed    = sentinel(CodeProofMalformed)
	ErrProofInvalid      = sentinel(CodeProofInvalid)
	ErrEmptyManifest     = sentinel(CodeEmptyManifest)
	ErrDuplicateSelector = sentinel(CodeDuplicateSelector)
	ErrSizeExceeded      = sentinel(CodeSizeExceeded)
	ErrInsufficientFee   = sentinel(CodeInsufficientFee)
	ErrBatchTooLarge     = sentinel(CodeBatchTooLarge)
	ErrFeeConfig         = sentinel(CodeFeeConfig)

	ErrActivationNotReady = sentinel(CodeActivationNotReady)
	ErrNoCommitment       = sentinel(CodeNoCommitment)
	ErrAlreadyActive      = sentinel(CodeAlreadyActive)
	ErrEpochRegression    = sentinel(CodeEpochRegression)
	ErrFrozen             = sentinel(CodeFrozen)
	ErrPaused             = sentinel(CodePaused)
	ErrUnknownSelector    = sentinel(CodeUnknownSelector)
	ErrRouteNotActive     = sentinel(CodeRouteNotActive)
	ErrNoCode             = sentinel(CodeNoCode)
	ErrUnknownPlan        = sentinel(CodeUnknownPlan)

	ErrCodeMismatch        = sentinel(CodeCodeMismatch)
	ErrPredictionMismatch  = sentinel(CodePredictionMismatch)
	ErrConsistencyMismatch = sentinel(CodeConsistencyMismatch)
	ErrRootMismatch        = sentinel(CodeRootMismatch)
	ErrChainBroken         = sentinel(CodeChainBroken)
	ErrSignatureInvalid    = sentinel(CodeSignatureInvalid)

	ErrUnauthorized = sentinel(CodeUnauthorized)
)

// Errorf returns a *Error for code with a formatted message.
func Errorf(code Code, format string, args ...any) error {
	return &Error{Kind: KindOf(code), Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap is like Errorf but records cause. A nil cause behaves like Errorf.
func Wrap(code Code, cause error, format string, args ...any) error {
	return &Error{Kind: KindOf(code), Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// IsKind reports whether err is (or wraps) a *Error with the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// CodeOf returns the Code of a structured error, or "" if err carries none.
func CodeOf(err error) Code {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Code
}

// IsKnownCode reports whether code is one of the codes defined above.
func IsKnownCode(code Code) bool {
	_, ok := codeKinds[code]
	return ok
}
