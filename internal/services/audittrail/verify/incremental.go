package verify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/louisbranch/audittrail/internal/platform/errors"
	"github.com/louisbranch/audittrail/internal/services/audittrail/storage"
)

// VerifyIncremental resumes actorID's chain from its cursor.
//
// The cursor entry is re-read first and must still carry the cursor hash;
// the first new entry is then checked against that hash, so history cannot
// be swapped out behind the cursor. Without a cursor the whole chain is
// scanned from genesis.
func (e *Engine) VerifyIncremental(ctx context.Context, actorID, trigger string) (storage.VerificationRun, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return storage.VerificationRun{}, apperrors.New(apperrors.CodeVerifyScopeInvalid, "incremental verification requires an actor id")
	}
	s := e.newScan(storage.ScopeIncremental, actorID, trigger)
	ctx, span := e.tel.start(ctx, s.run)

	scanErr := func() error {
		cursor, err := e.cursors.GetCursor(ctx, actorID)
		if apperrors.HasCode(err, apperrors.CodeNotFound) {
			return e.scanActor(ctx, s, actorID, 0)
		}
		if err != nil {
			return fmt.Errorf("load cursor: %w", err)
		}

		total, err := e.entries.CountEntries(ctx, storage.EntryQuery{ActorID: actorID})
		if err != nil {
			return fmt.Errorf("count entries: %w", err)
		}
		s.run.TotalEntries = total
		anchor, err := e.entries.GetEntry(ctx, cursor.EntryID)
		switch {
		case apperrors.HasCode(err, apperrors.CodeNotFound):
			s.brk = &chainBreak{entryID: cursor.EntryID, reason: apperrors.CodeChainLinkMismatch, expected: cursor.Hash, actual: missingEntry}
			return nil
		case err != nil:
			return fmt.Errorf("load cursor entry: %w", err)
		case anchor.ActorID != actorID || anchor.Hash != cursor.Hash:
			s.brk = &chainBreak{entryID: cursor.EntryID, reason: apperrors.CodeChainLinkMismatch, expected: cursor.Hash, actual: anchor.Hash}
			return nil
		}

		s.seed(actorID, position{entryID: cursor.EntryID, hash: cursor.Hash, verified: cursor.VerifiedCount})
		return e.scanActor(ctx, s, actorID, cursor.EntryID)
	}()
	return e.finish(ctx, span, s, scanErr)
}

// VerifyIncrementalBatch runs VerifyIncremental for each actor, or for every
// actor in the log when actors is empty, with bounded concurrency. Every
// actor gets its own run: a break or failure for one never stops the rest.
// Runs are returned in actor order; errors from all actors are joined.
func (e *Engine) VerifyIncrementalBatch(ctx context.Context, actors []string, trigger string) ([]storage.VerificationRun, error) {
	if len(actors) == 0 {
		listed, err := e.entries.ListActors(ctx)
		if err != nil {
			return nil, fmt.Errorf("list actors: %w", err)
		}
		actors = listed
	}

	runs := make([]storage.VerificationRun, len(actors))
	var (
		mu   sync.Mutex
		errs []error
	)
	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, actorID := range actors {
		g.Go(func() error {
			run, err := e.VerifyIncremental(ctx, actorID, trigger)
			runs[i] = run
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("actor %s: %w", actorID, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return runs, errors.Join(errs...)
}
