package app

import (
	"context"
	"log"
	"time"

	"github.com/louisbranch/audittrail/internal/services/audittrail/storage"
	"github.com/louisbranch/audittrail/internal/services/audittrail/verify"
)

const (
	// TriggerSweep marks runs started by the periodic incremental sweep.
	TriggerSweep = "sweep"
	// TriggerReconcile marks runs started by the periodic full reconciliation.
	TriggerReconcile = "reconcile"
)

// SweepVerifier runs verifications on behalf of the sweeper.
type SweepVerifier interface {
	Verify(ctx context.Context, credential string, req verify.Request) ([]storage.VerificationRun, error)
}

// SweepConfig controls how often the sweeper verifies the log.
type SweepConfig struct {
	// Interval between incremental sweeps of every actor. Zero disables them.
	Interval time.Duration
	// ReconcileInterval between full verifications. Zero disables them.
	ReconcileInterval time.Duration
}

// Enabled reports whether any periodic verification is configured.
func (c SweepConfig) Enabled() bool {
	return c.Interval > 0 || c.ReconcileInterval > 0
}

// Sweeper periodically verifies the log so breaks surface without an
// operator asking.
type Sweeper struct {
	verifier SweepVerifier
	cfg      SweepConfig
}

// NewSweeper creates a sweeper.
func NewSweeper(verifier SweepVerifier, cfg SweepConfig) *Sweeper {
	return &Sweeper{verifier: verifier, cfg: cfg}
}

// Run sweeps until ctx ends. A full reconciliation runs once at start when
// enabled so a fresh process reports status right away.
func (s *Sweeper) Run(ctx context.Context) error {
	if s == nil || s.verifier == nil || !s.cfg.Enabled() {
		<-ctx.Done()
		return nil
	}

	sweep, stopSweep := ticker(s.cfg.Interval)
	defer stopSweep()
	reconcile, stopReconcile := ticker(s.cfg.ReconcileInterval)
	defer stopReconcile()

	if s.cfg.ReconcileInterval > 0 {
		s.Reconcile(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sweep:
			s.Sweep(ctx)
		case <-reconcile:
			s.Reconcile(ctx)
		}
	}
}

// Sweep runs one incremental batch over every actor.
func (s *Sweeper) Sweep(ctx context.Context) {
	s.run(ctx, verify.Request{Scope: storage.ScopeIncremental, Trigger: TriggerSweep})
}

// Reconcile runs one full verification.
func (s *Sweeper) Reconcile(ctx context.Context) {
	s.run(ctx, verify.Request{Scope: storage.ScopeFull, Trigger: TriggerReconcile})
}

func (s *Sweeper) run(ctx context.Context, req verify.Request) {
	runs, err := s.verifier.Verify(ctx, "", req)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Printf("%s verification: %v", req.Trigger, err)
	}
	for _, run := range runs {
		if run.Status == storage.RunBroken {
			entryID := int64(0)
			if run.BrokenAtEntryID != nil {
				entryID = *run.BrokenAtEntryID
			}
			log.Printf("chain break detected: run=%s scope=%s actor=%q entry=%d reason=%s", run.ID, run.Scope, run.ActorID, entryID, run.BreakReason)
		}
	}
}

// ticker returns a nil channel when interval is disabled.
func ticker(interval time.Duration) (<-chan time.Time, func()) {
	if interval <= 0 {
		return nil, func() {}
	}
	t := time.NewTicker(interval)
	return t.C, t.Stop
}
