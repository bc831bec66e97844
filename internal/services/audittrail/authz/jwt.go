package authz

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/golang-jwt/jwt/v5"
)

// invokeEnv holds raw env values before post-parse validation.
type invokeEnv struct {
	Issuer    string `env:"AUDITTRAIL_INVOKE_ISSUER"`
	Audience  string `env:"AUDITTRAIL_INVOKE_AUDIENCE"`
	PublicKey string `env:"AUDITTRAIL_INVOKE_PUBLIC_KEY"`
}

// Config defines how invocation credentials are verified.
type Config struct {
	Issuer   string
	Audience string
	Key      ed25519.PublicKey
	Now      func() time.Time
}

// invokeClaims is the claims type used for JWT parsing.
type invokeClaims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope"`
}

// LoadConfigFromEnv reads credential verification configuration.
func LoadConfigFromEnv(now func() time.Time) (Config, error) {
	var raw invokeEnv
	if err := env.Parse(&raw); err != nil {
		return Config{}, fmt.Errorf("parse invoke env: %w", err)
	}
	issuer := strings.TrimSpace(raw.Issuer)
	audience := strings.TrimSpace(raw.Audience)
	publicKey := strings.TrimSpace(raw.PublicKey)
	if issuer == "" {
		return Config{}, fmt.Errorf("AUDITTRAIL_INVOKE_ISSUER is required")
	}
	if audience == "" {
		return Config{}, fmt.Errorf("AUDITTRAIL_INVOKE_AUDIENCE is required")
	}
	if publicKey == "" {
		return Config{}, fmt.Errorf("AUDITTRAIL_INVOKE_PUBLIC_KEY is required")
	}
	keyBytes, err := DecodeBase64(publicKey)
	if err != nil {
		return Config{}, fmt.Errorf("decode invoke public key: %w", err)
	}
	if len(keyBytes) != ed25519.PublicKeySize {
		return Config{}, fmt.Errorf("invoke public key must be %d bytes", ed25519.PublicKeySize)
	}
	if now == nil {
		now = time.Now
	}
	return Config{
		Issuer:   issuer,
		Audience: audience,
		Key:      ed25519.PublicKey(keyBytes),
		Now:      now,
	}, nil
}

// Verifier checks EdDSA-signed bearer credentials.
type Verifier struct {
	cfg Config
}

// NewVerifier validates cfg and returns a verifier.
func NewVerifier(cfg Config) (*Verifier, error) {
	if cfg.Issuer == "" || cfg.Audience == "" || len(cfg.Key) != ed25519.PublicKeySize {
		return nil, errors.New("invocation verifier is not configured")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Verifier{cfg: cfg}, nil
}

// Authorize verifies credential and requires perm among its scopes.
func (v *Verifier) Authorize(ctx context.Context, credential string, perm Permission) (Principal, error) {
	if err := ctx.Err(); err != nil {
		return Principal{}, err
	}
	if v == nil {
		return Principal{}, Unauthorized("verifier is not configured")
	}
	credential = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(credential), "Bearer "))
	if credential == "" {
		return Principal{}, Unauthorized("credential is required")
	}

	var parsed invokeClaims
	_, err := jwt.ParseWithClaims(credential, &parsed, func(token *jwt.Token) (any, error) {
		return v.cfg.Key, nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return Principal{}, mapJWTError(err)
	}

	if parsed.Issuer == "" || parsed.Issuer != v.cfg.Issuer {
		return Principal{}, Unauthorized("issuer mismatch")
	}
	if !audienceContains(parsed.Audience, v.cfg.Audience) {
		return Principal{}, Unauthorized("audience mismatch")
	}
	if parsed.ExpiresAt == nil {
		return Principal{}, Unauthorized("exp is required")
	}
	now := v.cfg.Now().UTC()
	if !parsed.ExpiresAt.Time.UTC().After(now) {
		return Principal{}, Unauthorized("credential is expired")
	}
	if parsed.NotBefore != nil && now.Before(parsed.NotBefore.Time.UTC()) {
		return Principal{}, Unauthorized("credential not active yet")
	}
	subject := strings.TrimSpace(parsed.Subject)
	if subject == "" {
		return Principal{}, Unauthorized("sub is required")
	}

	principal := Principal{Subject: subject, Permissions: ParsePermissions(parsed.Scope)}
	if !principal.Has(perm) {
		return Principal{}, Unauthorized(fmt.Sprintf("scope lacks %s", perm))
	}
	return principal, nil
}

// MintParams describes a credential to sign.
type MintParams struct {
	Issuer      string
	Audience    string
	Subject     string
	Permissions []Permission
	TTL         time.Duration
	Now         time.Time
}

// Mint signs an invocation credential with key. It exists for operators and
// tests; issuing credentials to real callers is out of this service's hands.
func Mint(key ed25519.PrivateKey, params MintParams) (string, error) {
	if len(key) != ed25519.PrivateKeySize {
		return "", fmt.Errorf("private key must be %d bytes", ed25519.PrivateKeySize)
	}
	if params.Issuer == "" || params.Audience == "" || params.Subject == "" {
		return "", fmt.Errorf("issuer, audience and subject are required")
	}
	if params.TTL <= 0 {
		return "", fmt.Errorf("ttl must be positive")
	}
	if params.Now.IsZero() {
		params.Now = time.Now()
	}
	scopes := make([]string, 0, len(params.Permissions))
	for _, perm := range params.Permissions {
		scopes = append(scopes, string(perm))
	}
	claims := invokeClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    params.Issuer,
			Subject:   params.Subject,
			Audience:  jwt.ClaimStrings{params.Audience},
			IssuedAt:  jwt.NewNumericDate(params.Now),
			ExpiresAt: jwt.NewNumericDate(params.Now.Add(params.TTL)),
		},
		Scope: strings.Join(scopes, " "),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign credential: %w", err)
	}
	return signed, nil
}

// mapJWTError translates jwt library errors to application errors.
func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrEd25519Verification) {
		return Unauthorized("signature is invalid")
	}
	if errors.Is(err, jwt.ErrTokenUnverifiable) {
		return Unauthorized("alg is invalid")
	}
	return Unauthorized("credential is malformed")
}

func audienceContains(aud jwt.ClaimStrings, value string) bool {
	for _, item := range aud {
		if item == value {
			return true
		}
	}
	return false
}

// DecodeBase64 accepts raw or padded standard base64.
func DecodeBase64(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("empty base64 value")
	}
	decoded, err := base64.RawStdEncoding.DecodeString(value)
	if err == nil {
		return decoded, nil
	}
	return base64.StdEncoding.DecodeString(value)
}
