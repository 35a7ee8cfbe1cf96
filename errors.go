package swap

import (
	"errors"
	"fmt"

	"github.com/airswap/airswap-protocols-sub002/authz"
	"github.com/airswap/airswap-protocols-sub002/chain"
	"github.com/airswap/airswap-protocols-sub002/fee"
	"github.com/airswap/airswap-protocols-sub002/nonce"
	"github.com/airswap/airswap-protocols-sub002/transfer"
)

// Code is an enumerable reason a settlement or admin operation failed.
type Code string

// Validation codes, in pipeline order
const (
	CodeOrderExpired        Code = "OrderExpired"
	CodeNonceAlreadyUsed    Code = "NonceAlreadyUsed"
	CodeNonceTooLow         Code = "NonceTooLow"
	CodeSignatureInvalid    Code = "SignatureInvalid"
	CodeUnauthorized        Code = "Unauthorized"
	CodeInvalidFee          Code = "InvalidFee"
	CodeSenderInvalid       Code = "SenderInvalid"
	CodeTokenKindUnknown    Code = "TokenKindUnknown"
	CodeAmountOrIDInvalid   Code = "AmountOrIDInvalid"
	CodeSenderTokenInvalid  Code = "SenderTokenInvalid"
	CodeSelfTransferInvalid Code = "SelfTransferInvalid"
	CodeRoyaltyExceedsMax   Code = "RoyaltyExceedsMax"
	CodeSignerBalanceLow    Code = "SignerBalanceLow"
	CodeSignerAllowanceLow  Code = "SignerAllowanceLow"
	CodeSenderBalanceLow    Code = "SenderBalanceLow"
	CodeSenderAllowanceLow  Code = "SenderAllowanceLow"
	CodeTransferBlocked     Code = "TransferBlocked"
)

// Registry, admin and execution codes
const (
	CodeSelfAuthorizationInvalid Code = "SelfAuthorizationInvalid"
	CodeDelegateInvalid          Code = "DelegateInvalid"
	CodeProtocolFeeInvalid       Code = "ProtocolFeeInvalid"
	CodeProtocolFeeWalletInvalid Code = "ProtocolFeeWalletInvalid"
	CodeOwnerInvalid             Code = "OwnerInvalid"
	CodeRoyaltyUnavailable       Code = "RoyaltyUnavailable"
	CodeTransferFailed           Code = "TransferFailed"
	CodeCommitFailed             Code = "CommitFailed"
)

// Error carries a Code and the underlying cause, if any.
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code, so errors.Is(err, ErrOrderExpired)
// works regardless of the wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Sentinels for errors.Is
var (
	ErrOrderExpired        = &Error{Code: CodeOrderExpired}
	ErrNonceAlreadyUsed    = &Error{Code: CodeNonceAlreadyUsed}
	ErrNonceTooLow         = &Error{Code: CodeNonceTooLow}
	ErrSignatureInvalid    = &Error{Code: CodeSignatureInvalid}
	ErrUnauthorized        = &Error{Code: CodeUnauthorized}
	ErrInvalidFee          = &Error{Code: CodeInvalidFee}
	ErrSenderInvalid       = &Error{Code: CodeSenderInvalid}
	ErrTokenKindUnknown    = &Error{Code: CodeTokenKindUnknown}
	ErrAmountOrIDInvalid   = &Error{Code: CodeAmountOrIDInvalid}
	ErrSelfTransferInvalid = &Error{Code: CodeSelfTransferInvalid}
	ErrRoyaltyExceedsMax   = &Error{Code: CodeRoyaltyExceedsMax}
	ErrTransferFailed      = &Error{Code: CodeTransferFailed}
)

func newError(code Code, err error) *Error {
	return &Error{Code: code, Err: err}
}

// CodeOf extracts the Code from err. Package sentinel errors from the
// registries are mapped to their codes; anything else yields "".
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	switch {
	case errors.Is(err, nonce.ErrNonceAlreadyUsed):
		return CodeNonceAlreadyUsed
	case errors.Is(err, nonce.ErrNonceTooLow):
		return CodeNonceTooLow
	case errors.Is(err, chain.ErrFieldRange), errors.Is(err, fee.ErrAffiliateInvalid):
		return CodeAmountOrIDInvalid
	case errors.Is(err, chain.ErrInvalidSignature), errors.Is(err, chain.ErrMissingField):
		return CodeSignatureInvalid
	case errors.Is(err, authz.ErrSelfAuthorization):
		return CodeSelfAuthorizationInvalid
	case errors.Is(err, authz.ErrDelegateInvalid):
		return CodeDelegateInvalid
	case errors.Is(err, transfer.ErrKindUnknown):
		return CodeTokenKindUnknown
	case errors.Is(err, transfer.ErrAmountOrID):
		return CodeAmountOrIDInvalid
	case errors.Is(err, fee.ErrRateInvalid):
		return CodeProtocolFeeInvalid
	case errors.Is(err, fee.ErrWalletInvalid):
		return CodeProtocolFeeWalletInvalid
	case errors.Is(err, fee.ErrRoyaltyExceedsMax):
		return CodeRoyaltyExceedsMax
	}
	return ""
}

// wrap attaches the code CodeOf derives for err, falling back to fallback.
func wrap(err error, fallback Code) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	code := CodeOf(err)
	if code == "" {
		code = fallback
	}
	return newError(code, err)
}

// InvalidParamError reports a malformed argument to a helper.
type InvalidParamError struct {
	Message string
}

func (e *InvalidParamError) Error() string {
	return e.Message
}
