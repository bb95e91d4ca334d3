// Package errors provides structured error handling with machine-readable codes.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// CodeInvalidArgument represents malformed or missing request input.
	CodeInvalidArgument Code = "INVALID_ARGUMENT"

	// Status errors
	CodeInvalidTransition Code = "INVALID_TRANSITION"

	// Invitation errors
	CodeNotFound             Code = "NOT_FOUND"
	CodeNotARecipient        Code = "NOT_A_RECIPIENT"
	CodeNotSender            Code = "NOT_SENDER"
	CodeAlreadyResponded     Code = "ALREADY_RESPONDED"
	CodeExpired              Code = "EXPIRED"
	CodeSelfInvite           Code = "SELF_INVITE"
	CodeTooManyRecipients    Code = "TOO_MANY_RECIPIENTS"
	CodeEmptyRecipients      Code = "EMPTY_RECIPIENTS"
	CodeNoEligibleRecipients Code = "NO_ELIGIBLE_RECIPIENTS"

	// Eligibility errors
	CodeRelationshipConflict Code = "RELATIONSHIP_CONFLICT"
	CodeTargetBusy           Code = "TARGET_BUSY"
	CodeSenderEngaged        Code = "SENDER_ENGAGED"

	// Session errors
	CodeSessionAlreadyActive Code = "SESSION_ALREADY_ACTIVE"

	// Storage errors
	CodeStoreUnavailable Code = "STORE_UNAVAILABLE"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	// Bad request - validation failures, bad input
	case CodeInvalidArgument,
		CodeSelfInvite,
		CodeTooManyRecipients,
		CodeEmptyRecipients:
		return http.StatusBadRequest

	// Forbidden - caller is not a party to the record
	case CodeNotARecipient,
		CodeNotSender:
		return http.StatusForbidden

	// Not found - resource doesn't exist
	case CodeNotFound:
		return http.StatusNotFound

	// Conflict - state doesn't allow the operation
	case CodeInvalidTransition,
		CodeAlreadyResponded,
		CodeRelationshipConflict,
		CodeTargetBusy,
		CodeSenderEngaged,
		CodeSessionAlreadyActive:
		return http.StatusConflict

	// Gone - record deadline has passed
	case CodeExpired:
		return http.StatusGone

	// Unprocessable - request was well-formed but yields nothing actionable
	case CodeNoEligibleRecipients:
		return http.StatusUnprocessableEntity

	// Transient storage failure
	case CodeStoreUnavailable:
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}
