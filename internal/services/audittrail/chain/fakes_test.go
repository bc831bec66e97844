package chain

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/louisbranch/audittrail/internal/services/audittrail/entry"
	"github.com/louisbranch/audittrail/internal/services/audittrail/storage"
)

type fakeStore struct {
	mu      sync.Mutex
	entries []entry.LogEntry
	heads   map[string]string
	// conflicts makes the next N appends fail with a head conflict.
	conflicts int
}

func newFakeStore() *fakeStore {
	return &fakeStore{heads: map[string]string{}}
}

func (s *fakeStore) ChainHead(_ context.Context, actorID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heads[actorID], nil
}

func (s *fakeStore) AppendEntry(_ context.Context, e entry.LogEntry) (entry.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conflicts > 0 {
		s.conflicts--
		return entry.LogEntry{}, storage.ErrHeadConflict
	}
	if s.heads[e.ActorID] != e.PrevHash {
		return entry.LogEntry{}, storage.ErrHeadConflict
	}
	e.ID = int64(len(s.entries) + 1)
	s.entries = append(s.entries, e)
	s.heads[e.ActorID] = e.Hash
	return e, nil
}

func (s *fakeStore) byActor(actorID string) []entry.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entry.LogEntry
	for _, e := range s.entries {
		if e.ActorID == actorID {
			out = append(out, e)
		}
	}
	return out
}

type fakeSecrets struct {
	current    string
	versions   map[string][]byte
	refreshErr error
	refreshes  atomic.Int32
}

func (f *fakeSecrets) Refresh(ctx context.Context) error {
	f.refreshes.Add(1)
	if f.refreshErr != nil {
		return f.refreshErr
	}
	return ctx.Err()
}

func (f *fakeSecrets) CurrentVersion() (string, error) {
	if f.current == "" {
		return "", errNoActive
	}
	return f.current, nil
}

func (f *fakeSecrets) Secret(version string) ([]byte, error) {
	m, ok := f.versions[version]
	if !ok {
		return nil, errMissing
	}
	return m, nil
}
