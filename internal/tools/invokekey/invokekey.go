// Package invokekey generates invocation signing keys and mints bearer
// credentials for operators and tests.
package invokekey

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	entrypoint "github.com/louisbranch/audittrail/internal/platform/cmd"
	"github.com/louisbranch/audittrail/internal/services/audittrail/authz"
)

// Config holds invoke-token configuration.
type Config struct {
	Keygen     bool
	Issuer     string `env:"AUDITTRAIL_INVOKE_ISSUER"`
	Audience   string `env:"AUDITTRAIL_INVOKE_AUDIENCE"`
	PrivateKey string `env:"AUDITTRAIL_INVOKE_PRIVATE_KEY"`
	Subject    string
	Scope      string
	TTL        time.Duration
}

// ParseConfig parses env and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := Config{Scope: string(authz.PermVerify), TTL: time.Hour}
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.BoolVar(&cfg.Keygen, "keygen", false, "generate a signing key pair instead of minting")
	fs.StringVar(&cfg.Issuer, "issuer", cfg.Issuer, "credential issuer")
	fs.StringVar(&cfg.Audience, "audience", cfg.Audience, "credential audience")
	fs.StringVar(&cfg.Subject, "subject", "", "credential subject")
	fs.StringVar(&cfg.Scope, "scope", cfg.Scope, "space separated permissions")
	fs.DurationVar(&cfg.TTL, "ttl", cfg.TTL, "credential lifetime")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run writes a key pair or a signed credential to out.
func Run(cfg Config, out io.Writer, reader io.Reader, now func() time.Time) error {
	if out == nil {
		return errors.New("output is required")
	}
	if cfg.Keygen {
		return keygen(out, reader)
	}
	if now == nil {
		now = time.Now
	}

	raw := strings.TrimSpace(cfg.PrivateKey)
	if raw == "" {
		return errors.New("AUDITTRAIL_INVOKE_PRIVATE_KEY is required")
	}
	keyBytes, err := authz.DecodeBase64(raw)
	if err != nil {
		return fmt.Errorf("decode private key: %w", err)
	}
	token, err := authz.Mint(ed25519.PrivateKey(keyBytes), authz.MintParams{
		Issuer:      strings.TrimSpace(cfg.Issuer),
		Audience:    strings.TrimSpace(cfg.Audience),
		Subject:     strings.TrimSpace(cfg.Subject),
		Permissions: authz.ParsePermissions(cfg.Scope),
		TTL:         cfg.TTL,
		Now:         now(),
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

func keygen(out io.Writer, reader io.Reader) error {
	if reader == nil {
		reader = rand.Reader
	}
	publicKey, privateKey, err := ed25519.GenerateKey(reader)
	if err != nil {
		return fmt.Errorf("generate invocation key: %w", err)
	}
	if _, err := fmt.Fprintf(out, "export AUDITTRAIL_INVOKE_PRIVATE_KEY=%s\n", base64.RawStdEncoding.EncodeToString(privateKey)); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(out, "export AUDITTRAIL_INVOKE_PUBLIC_KEY=%s\n", base64.RawStdEncoding.EncodeToString(publicKey)); err != nil {
		return err
	}
	return nil
}
