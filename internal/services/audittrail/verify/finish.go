package verify

import (
	"context"
	"fmt"
	"log"

	"go.opentelemetry.io/otel/trace"

	"github.com/louisbranch/audittrail/internal/platform/timeouts"
	"github.com/louisbranch/audittrail/internal/services/audittrail/storage"
)

// finish settles the run's terminal state, records it and, for intact runs,
// advances the cursors of every actor it confirmed.
//
// Recording uses a context detached from ctx: a cancelled scan still leaves
// its partial run in the ledger.
func (e *Engine) finish(ctx context.Context, span trace.Span, s *scanState, scanErr error) (storage.VerificationRun, error) {
	run := s.run
	run.FinishedAt = e.now().UTC()
	switch {
	case scanErr != nil:
		run.Status = storage.RunError
		run.Intact = false
		run.Error = scanErr.Error()
	case s.brk != nil:
		run.Status = storage.RunBroken
		run.Intact = false
		brokenAt := s.brk.entryID
		run.BrokenAtEntryID = &brokenAt
		run.BreakReason = string(s.brk.reason)
		run.Expected = s.brk.expected
		run.Actual = s.brk.actual
	default:
		run.Status = storage.RunIntact
		run.Intact = true
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeouts.LedgerWrite)
	defer cancel()

	recorded, err := e.ledger.RecordRun(writeCtx, run)
	e.tel.end(writeCtx, span, run, err)
	if err != nil {
		log.Printf("verify run %s: record failed: %v", run.ID, err)
		return run, fmt.Errorf("record verification run: %w", err)
	}
	log.Printf("verify run %s: scope=%s actor=%q status=%s verified=%d/%d", recorded.ID, recorded.Scope, recorded.ActorID, recorded.Status, recorded.VerifiedEntries, recorded.TotalEntries)

	if recorded.Intact {
		for actorID, pos := range s.positions {
			if pos.entryID == 0 {
				continue
			}
			if err := e.cursors.PutCursor(writeCtx, storage.Cursor{
				ActorID:       actorID,
				EntryID:       pos.entryID,
				Hash:          pos.hash,
				VerifiedCount: pos.verified,
				RunID:         recorded.ID,
				UpdatedAt:     recorded.FinishedAt,
			}); err != nil {
				// A stale cursor only makes the next incremental run longer.
				log.Printf("verify run %s: advance cursor for %s: %v", recorded.ID, actorID, err)
			}
		}
	}
	return recorded, nil
}
