package verify

import (
	"context"
	"fmt"

	apperrors "github.com/louisbranch/audittrail/internal/platform/errors"
	"github.com/louisbranch/audittrail/internal/services/audittrail/chain"
	"github.com/louisbranch/audittrail/internal/services/audittrail/entry"
	"github.com/louisbranch/audittrail/internal/services/audittrail/integrity"
	"github.com/louisbranch/audittrail/internal/services/audittrail/storage"
)

const (
	missingSecret = "<missing secret>"
	missingEntry  = "<missing entry>"
	uncanonical   = "<not canonical>"
)

// position is the last entry confirmed for one actor.
type position struct {
	entryID  int64
	hash     string
	verified int64
}

// chainBreak is the first divergence found by a scan.
type chainBreak struct {
	entryID  int64
	reason   apperrors.Code
	expected string
	actual   string
}

// scanState carries one run through the rows it reads.
type scanState struct {
	run          storage.VerificationRun
	actor        string
	expectedPrev string
	brk          *chainBreak

	secrets   Secrets
	material  map[string][]byte
	positions map[string]position
}

// seed resumes actorID's chain after an already trusted position.
func (s *scanState) seed(actorID string, pos position) {
	s.actor = actorID
	s.expectedPrev = pos.hash
	s.positions[actorID] = pos
	s.run.VerifiedEntries = pos.verified
	s.run.LastEntryID = pos.entryID
	s.run.LastHash = pos.hash
}

// scan reads query page by page until the rows run out, a break is found or
// ctx ends. ctx is checked before every row so a cancelled run stops on a
// row boundary with an honest count.
func (e *Engine) scan(ctx context.Context, s *scanState, query storage.EntryQuery) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := e.entries.ListEntries(ctx, query)
		if err != nil {
			return fmt.Errorf("list entries: %w", err)
		}
		for _, row := range page {
			if err := ctx.Err(); err != nil {
				return err
			}
			if row.ActorID != s.actor {
				// Partition boundary: the next actor's chain starts at genesis.
				s.actor = row.ActorID
				s.expectedPrev = ""
			}
			if brk := s.check(row); brk != nil {
				s.brk = brk
				return nil
			}
			s.confirm(row)
		}
		if len(page) < query.Limit {
			return nil
		}
		last := page[len(page)-1]
		query.AfterActorID = last.ActorID
		query.AfterID = last.ID
	}
}

// check runs the link, secret and hash checks in order and returns the
// first failure.
func (s *scanState) check(row entry.LogEntry) *chainBreak {
	if row.PrevHash != s.expectedPrev {
		return &chainBreak{
			entryID:  row.ID,
			reason:   apperrors.CodeChainLinkMismatch,
			expected: s.expectedPrev,
			actual:   row.PrevHash,
		}
	}
	material, ok := s.secret(row.SecretVersion)
	if !ok {
		return &chainBreak{
			entryID:  row.ID,
			reason:   apperrors.CodeMissingSecretVersion,
			expected: missingSecret,
			actual:   row.SecretVersion,
		}
	}
	recomputed, err := chain.Hash(material, row.PrevHash, row)
	if err != nil {
		return &chainBreak{
			entryID:  row.ID,
			reason:   apperrors.CodeHashMismatch,
			expected: uncanonical,
			actual:   row.Hash,
		}
	}
	if !integrity.HashEqual(recomputed, row.Hash) {
		return &chainBreak{
			entryID:  row.ID,
			reason:   apperrors.CodeHashMismatch,
			expected: recomputed,
			actual:   row.Hash,
		}
	}
	return nil
}

func (s *scanState) confirm(row entry.LogEntry) {
	pos := s.positions[row.ActorID]
	pos.entryID = row.ID
	pos.hash = row.Hash
	pos.verified++
	s.positions[row.ActorID] = pos

	s.expectedPrev = row.Hash
	s.run.VerifiedEntries++
	s.run.LastEntryID = row.ID
	s.run.LastHash = row.Hash
}

// secret caches material per run so each version is resolved once.
func (s *scanState) secret(version string) ([]byte, bool) {
	if material, ok := s.material[version]; ok {
		return material, true
	}
	material, err := s.secrets.Secret(version)
	if err != nil || len(material) == 0 {
		return nil, false
	}
	s.material[version] = material
	return material, true
}
