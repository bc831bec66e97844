// Package errors provides coded domain errors shared by the audit trail services.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Chain verification breaks
	CodeChainLinkMismatch    Code = "CHAIN_LINK_MISMATCH"
	CodeHashMismatch         Code = "HASH_MISMATCH"
	CodeMissingSecretVersion Code = "MISSING_SECRET_VERSION"

	// Invocation errors
	CodeUnauthorizedInvocation Code = "UNAUTHORIZED_INVOCATION"
	CodeVerifyScopeInvalid     Code = "VERIFY_SCOPE_INVALID"

	// Write path errors
	CodeImmutabilityViolation Code = "IMMUTABILITY_VIOLATION"
	CodeEntryInvalid          Code = "ENTRY_INVALID"
	CodeChainHeadConflict     Code = "CHAIN_HEAD_CONFLICT"

	// Secret registry errors
	CodeNoActiveSecret      Code = "NO_ACTIVE_SECRET"
	CodeSecretVersionExists Code = "SECRET_VERSION_EXISTS"
	CodeSecretInvalid       Code = "SECRET_INVALID"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// IsChainBreak reports whether the code describes an integrity break found
// while scanning a chain.
func (c Code) IsChainBreak() bool {
	switch c {
	case CodeChainLinkMismatch, CodeHashMismatch, CodeMissingSecretVersion:
		return true
	default:
		return false
	}
}

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeEntryInvalid,
		CodeVerifyScopeInvalid,
		CodeSecretInvalid:
		return codes.InvalidArgument

	// Unauthenticated - missing or rejected invocation credential
	case CodeUnauthorizedInvocation:
		return codes.Unauthenticated

	// FailedPrecondition - state doesn't allow operation
	case CodeImmutabilityViolation,
		CodeNoActiveSecret:
		return codes.FailedPrecondition

	// Aborted - optimistic concurrency lost, caller may retry
	case CodeChainHeadConflict:
		return codes.Aborted

	// DataLoss - stored history no longer matches its hashes
	case CodeChainLinkMismatch,
		CodeHashMismatch,
		CodeMissingSecretVersion:
		return codes.DataLoss

	// NotFound - resource doesn't exist
	case CodeNotFound:
		return codes.NotFound

	// AlreadyExists - unique resource constraint
	case CodeSecretVersionExists:
		return codes.AlreadyExists

	default:
		return codes.Internal
	}
}
