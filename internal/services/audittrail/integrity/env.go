package integrity

import (
	"fmt"
	"os"
	"strings"
)

const (
	envHMACKeys  = "AUDITTRAIL_HMAC_KEYS"
	envHMACKey   = "AUDITTRAIL_HMAC_KEY"
	envHMACKeyID = "AUDITTRAIL_HMAC_KEY_ID"
	defaultKeyID = "v1"
)

// SecretsFromEnv reads bootstrap secret versions from the environment.
//
// AUDITTRAIL_HMAC_KEYS holds "id=material" pairs separated by commas; the
// pair named by AUDITTRAIL_HMAC_KEY_ID (default v1) is moved last so it
// becomes current when imported. Without it, AUDITTRAIL_HMAC_KEY supplies a
// single version. When neither is set the result is empty and the registry
// relies on what is already stored.
func SecretsFromEnv() ([]SecretVersion, error) {
	keyID := strings.TrimSpace(os.Getenv(envHMACKeyID))
	if keyID == "" {
		keyID = defaultKeyID
	}

	keySpec := strings.TrimSpace(os.Getenv(envHMACKeys))
	if keySpec == "" {
		raw := strings.TrimSpace(os.Getenv(envHMACKey))
		if raw == "" {
			return nil, nil
		}
		return []SecretVersion{{Version: keyID, Material: []byte(raw), CreatedBy: "env"}}, nil
	}

	var (
		versions []SecretVersion
		current  *SecretVersion
		seen     = map[string]struct{}{}
	)
	for _, entry := range strings.Split(keySpec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid %s entry", envHMACKeys)
		}
		id := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if id == "" || value == "" {
			return nil, fmt.Errorf("invalid %s entry", envHMACKeys)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("duplicate %s entry %q", envHMACKeys, id)
		}
		seen[id] = struct{}{}
		sv := SecretVersion{Version: id, Material: []byte(value), CreatedBy: "env"}
		if id == keyID {
			current = &sv
			continue
		}
		versions = append(versions, sv)
	}
	if current == nil {
		return nil, fmt.Errorf("%s does not include current key id %q", envHMACKeys, keyID)
	}
	return append(versions, *current), nil
}
