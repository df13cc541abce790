package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure for the calling layer.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthorization
	KindNotFound
	KindConflict
	KindExternalService
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindExternalService:
		return "external_service"
	default:
		return "internal"
	}
}

// HTTPStatus maps a kind onto the response code used by the API.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindExternalService:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Stable codes surfaced to clients.
const (
	CodeInvalid                 = "invalid_request"
	CodeForbidden               = "forbidden"
	CodeNotFound                = "not_found"
	CodeConcurrentUpdate        = "concurrent_update"
	CodeDuplicate               = "duplicate"
	CodeIllegalTransition       = "illegal_transition"
	CodeNotParticipant          = "not_participant"
	CodeNegotiationClosed       = "negotiation_closed"
	CodeNoPendingOffer          = "no_pending_offer"
	CodeNegotiationNotAgreed    = "negotiation_not_agreed"
	CodeDuplicateContract       = "duplicate_contract"
	CodeNotParty                = "not_party"
	CodeAlreadySigned           = "already_signed"
	CodeContractNotSigned       = "contract_not_signed"
	CodeDuplicatePayment        = "duplicate_payment"
	CodeSignatureInvalid        = "signature_invalid"
	CodeReleaseConditionsNotMet = "release_conditions_not_met"
	CodeNotEligibleForRefund    = "not_eligible_for_refund"
	CodeGatewayFailure          = "gateway_failure"
	CodeLedgerFailure           = "ledger_failure"
)

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on code so callers can compare against the sentinels below.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func New(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, code string, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

func Validation(format string, args ...any) *Error {
	return New(KindValidation, CodeInvalid, format, args...)
}

func Forbidden(format string, args ...any) *Error {
	return New(KindAuthorization, CodeForbidden, format, args...)
}

func NotFound(entity, id string) *Error {
	return New(KindNotFound, CodeNotFound, "%s %s not found", entity, id)
}

func Conflict(code, format string, args ...any) *Error {
	return New(KindConflict, code, format, args...)
}

func External(code string, err error, format string, args ...any) *Error {
	return Wrap(KindExternalService, code, err, format, args...)
}

// Sentinels for errors.Is checks.
var (
	ErrNotParticipant          = &Error{Code: CodeNotParticipant}
	ErrNegotiationClosed       = &Error{Code: CodeNegotiationClosed}
	ErrNoPendingOffer          = &Error{Code: CodeNoPendingOffer}
	ErrNegotiationNotAgreed    = &Error{Code: CodeNegotiationNotAgreed}
	ErrDuplicateContract       = &Error{Code: CodeDuplicateContract}
	ErrNotParty                = &Error{Code: CodeNotParty}
	ErrAlreadySigned           = &Error{Code: CodeAlreadySigned}
	ErrContractNotSigned       = &Error{Code: CodeContractNotSigned}
	ErrDuplicatePayment        = &Error{Code: CodeDuplicatePayment}
	ErrSignatureInvalid        = &Error{Code: CodeSignatureInvalid}
	ErrReleaseConditionsNotMet = &Error{Code: CodeReleaseConditionsNotMet}
	ErrNotEligibleForRefund    = &Error{Code: CodeNotEligibleForRefund}
	ErrIllegalTransition       = &Error{Code: CodeIllegalTransition}
	ErrConcurrentUpdate        = &Error{Code: CodeConcurrentUpdate}
	ErrNotFound                = &Error{Code: CodeNotFound}
	ErrInvalid                 = &Error{Code: CodeInvalid}
	ErrForbidden               = &Error{Code: CodeForbidden}
	ErrGatewayFailure          = &Error{Code: CodeGatewayFailure}
	ErrLedgerFailure           = &Error{Code: CodeLedgerFailure}
)

// KindOf returns the kind of err, KindInternal when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
