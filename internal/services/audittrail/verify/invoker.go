package verify

import (
	"context"
	"fmt"

	"github.com/louisbranch/audittrail/internal/services/audittrail/authz"
	"github.com/louisbranch/audittrail/internal/services/audittrail/storage"
)

// Invoker is the authenticated entry point to the engine. The credential is
// checked before any data is read, and a rejected call records no run.
type Invoker struct {
	engine *Engine
	auth   authz.Authorizer
}

// NewInvoker wraps engine with auth.
func NewInvoker(engine *Engine, auth authz.Authorizer) (*Invoker, error) {
	if engine == nil {
		return nil, fmt.Errorf("verification engine is required")
	}
	if auth == nil {
		return nil, fmt.Errorf("authorizer is required")
	}
	return &Invoker{engine: engine, auth: auth}, nil
}

// Verify authorizes credential for verification and runs req.
func (i *Invoker) Verify(ctx context.Context, credential string, req Request) ([]storage.VerificationRun, error) {
	principal, err := i.auth.Authorize(ctx, credential, authz.PermVerify)
	if err != nil {
		return nil, err
	}
	if req.Trigger == "" {
		req.Trigger = "invoke:" + principal.Subject
	}
	return i.engine.Run(ctx, req)
}
