package verify

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/louisbranch/audittrail/internal/services/audittrail/entry"
	"github.com/louisbranch/audittrail/internal/services/audittrail/storage"
)

var (
	errLedgerDown = errors.New("ledger down")
	errCountDown  = errors.New("count unavailable")
)

// failingCountReader fails every CountEntries call.
type failingCountReader struct {
	storage.EntryReader
}

func (failingCountReader) CountEntries(context.Context, storage.EntryQuery) (int64, error) {
	return 0, errCountDown
}

// cancelingReader cancels the scan context on the Nth ListEntries call.
type cancelingReader struct {
	storage.EntryReader
	cancelOnCall int
	cancel       context.CancelFunc
	calls        int
}

func (r *cancelingReader) ListEntries(ctx context.Context, query storage.EntryQuery) ([]entry.LogEntry, error) {
	r.calls++
	if r.calls == r.cancelOnCall {
		r.cancel()
	}
	return r.EntryReader.ListEntries(ctx, query)
}

// countingReader records every read made through it.
type countingReader struct {
	storage.EntryReader
	calls atomic.Int64
}

func (r *countingReader) GetEntry(ctx context.Context, id int64) (entry.LogEntry, error) {
	r.calls.Add(1)
	return r.EntryReader.GetEntry(ctx, id)
}

func (r *countingReader) ListEntries(ctx context.Context, query storage.EntryQuery) ([]entry.LogEntry, error) {
	r.calls.Add(1)
	return r.EntryReader.ListEntries(ctx, query)
}

func (r *countingReader) CountEntries(ctx context.Context, query storage.EntryQuery) (int64, error) {
	r.calls.Add(1)
	return r.EntryReader.CountEntries(ctx, query)
}

func (r *countingReader) ListActors(ctx context.Context) ([]string, error) {
	r.calls.Add(1)
	return r.EntryReader.ListActors(ctx)
}

func (r *countingReader) MaxEntryID(ctx context.Context) (int64, error) {
	r.calls.Add(1)
	return r.EntryReader.MaxEntryID(ctx)
}

type failingLedger struct {
	storage.RunLedger
}

func (failingLedger) RecordRun(context.Context, storage.VerificationRun) (storage.VerificationRun, error) {
	return storage.VerificationRun{}, errLedgerDown
}

// actorFailingLedger fails RecordRun for one actor only.
type actorFailingLedger struct {
	storage.RunLedger
	actorID string
}

func (l actorFailingLedger) RecordRun(ctx context.Context, run storage.VerificationRun) (storage.VerificationRun, error) {
	if run.ActorID == l.actorID {
		return storage.VerificationRun{}, errLedgerDown
	}
	return l.RunLedger.RecordRun(ctx, run)
}
