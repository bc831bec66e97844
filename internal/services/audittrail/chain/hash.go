package chain

import (
	"fmt"

	"github.com/louisbranch/audittrail/internal/services/audittrail/entry"
	"github.com/louisbranch/audittrail/internal/services/audittrail/integrity"
)

// Hash computes the link hash of e when chained after prevHash.
// The write path and the verification engine both call it, so the signed
// bytes can never drift between them.
func Hash(material []byte, prevHash string, e entry.LogEntry) (string, error) {
	payload, err := entry.Canonical(prevHash, e)
	if err != nil {
		return "", fmt.Errorf("canonicalize entry: %w", err)
	}
	return integrity.KeyedHash(material, payload), nil
}
