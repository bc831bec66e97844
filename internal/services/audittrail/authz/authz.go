// Package authz verifies the credential carried by verification, status and
// administrative invocations. Callers authorize before touching any data.
package authz

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/louisbranch/audittrail/internal/platform/errors"
)

// Permission names one class of audit trail operation.
type Permission string

const (
	PermVerify Permission = "audit:verify"
	PermStatus Permission = "audit:status"
	PermAlerts Permission = "audit:alerts"
	PermAppend Permission = "audit:append"
	// PermAdmin grants every other permission and secret rotation.
	PermAdmin Permission = "audit:admin"
)

// Principal is an authenticated caller.
type Principal struct {
	Subject     string
	Permissions []Permission
}

// Has reports whether p holds perm.
func (p Principal) Has(perm Permission) bool {
	for _, held := range p.Permissions {
		if held == perm || held == PermAdmin {
			return true
		}
	}
	return false
}

// Authorizer checks a presented credential for one permission.
type Authorizer interface {
	Authorize(ctx context.Context, credential string, perm Permission) (Principal, error)
}

// Unauthorized builds the error returned for any rejected invocation.
func Unauthorized(reason string) error {
	return apperrors.WithMetadata(
		apperrors.CodeUnauthorizedInvocation,
		"invocation is not authorized: "+reason,
		map[string]string{"Reason": reason},
	)
}

// ParsePermissions splits a space separated scope claim.
func ParsePermissions(scope string) []Permission {
	fields := strings.Fields(scope)
	out := make([]Permission, 0, len(fields))
	for _, field := range fields {
		out = append(out, Permission(field))
	}
	return out
}

// Trusted authorizes every call as a fixed principal. It serves callers
// whose access to the database files is already the credential, such as the
// in-process sweeper and the operator CLI.
type Trusted struct {
	Principal Principal
}

// NewTrusted returns an authorizer for subject holding perms.
func NewTrusted(subject string, perms ...Permission) Trusted {
	return Trusted{Principal: Principal{Subject: subject, Permissions: perms}}
}

// Authorize ignores credential and checks the fixed principal.
func (t Trusted) Authorize(ctx context.Context, _ string, perm Permission) (Principal, error) {
	if err := ctx.Err(); err != nil {
		return Principal{}, err
	}
	if !t.Principal.Has(perm) {
		return Principal{}, Unauthorized(fmt.Sprintf("%s lacks %s", t.Principal.Subject, perm))
	}
	return t.Principal, nil
}
