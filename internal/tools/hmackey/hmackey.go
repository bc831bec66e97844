// Package hmackey generates key material for the audit trail secret registry.
package hmackey

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/louisbranch/audittrail/internal/services/audittrail/integrity"
)

const defaultBytes = 32

// Config holds configuration for key generation.
type Config struct {
	Bytes   int
	Version string
}

// ParseConfig parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := Config{Bytes: defaultBytes}
	fs.IntVar(&cfg.Bytes, "bytes", cfg.Bytes, "number of random bytes")
	fs.StringVar(&cfg.Version, "version", "", "secret version id to emit alongside the key")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run generates hex key material and writes it as env assignments.
func Run(cfg Config, out io.Writer, reader io.Reader) error {
	if out == nil {
		return errors.New("output is required")
	}
	// Hex doubles the length, so half the registry minimum is enough bytes.
	if cfg.Bytes*2 < integrity.MinMaterialBytes {
		return fmt.Errorf("bytes must be at least %d", (integrity.MinMaterialBytes+1)/2)
	}
	if reader == nil {
		reader = rand.Reader
	}

	buf := make([]byte, cfg.Bytes)
	if _, err := io.ReadFull(reader, buf); err != nil {
		return fmt.Errorf("generate random bytes: %w", err)
	}
	if version := strings.TrimSpace(cfg.Version); version != "" {
		if _, err := fmt.Fprintf(out, "AUDITTRAIL_HMAC_KEY_ID=%s\n", version); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(out, "AUDITTRAIL_HMAC_KEY=%s\n", hex.EncodeToString(buf))
	return err
}
