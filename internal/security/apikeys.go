package security

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/evocrew/evocrew/internal/domain"
	"github.com/evocrew/evocrew/internal/ids"
	"github.com/evocrew/evocrew/internal/store"
)

// MintKey generates a fresh 32-byte (API_KEY_LENGTH in
// original_source/security.py) random API key, hashes it, and persists
// only the hash. The plaintext is returned exactly once to the caller and
// must never be logged or stored.
func MintKey(ctx context.Context, st store.Store, permissions []string, quotaHourly, quotaBurst int) (plaintext string, key *domain.ApiKey, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", nil, err
	}
	plaintext = hex.EncodeToString(buf)

	key = &domain.ApiKey{
		ID:          ids.NewApiKeyId(),
		KeyHash:     store.HashKey(plaintext),
		Permissions: permissions,
		QuotaHourly: quotaHourly,
		QuotaBurst:  quotaBurst,
		CreatedAt:   time.Now().UTC(),
	}
	if err := st.PutApiKey(ctx, key); err != nil {
		return "", nil, err
	}
	return plaintext, key, nil
}

// EnsureAdminKey mints an admin key with full permissions on first boot if
// none exists yet, returning the plaintext only from the call that mints
// it, for the caller to show the operator.
// If adminBootstrapKey is non-empty, it is used as the plaintext instead
// of a random one (useful for fixed-identity deployments), still only
// ever persisted as a hash.
func EnsureAdminKey(ctx context.Context, st store.Store, adminBootstrapKey string) (plaintext string, minted bool, err error) {
	if adminBootstrapKey != "" {
		hash := store.HashKey(adminBootstrapKey)
		if _, err := st.GetApiKeyByHash(ctx, hash); err == nil {
			return "", false, nil // already present
		}
		key := &domain.ApiKey{
			ID:          ids.NewApiKeyId(),
			KeyHash:     hash,
			Permissions: []string{"*"},
			CreatedAt:   time.Now().UTC(),
		}
		if err := st.PutApiKey(ctx, key); err != nil {
			return "", false, err
		}
		return adminBootstrapKey, true, nil
	}

	count, err := st.CountApiKeys(ctx)
	if err != nil {
		return "", false, err
	}
	if count > 0 {
		return "", false, nil
	}

	plaintext, _, err = MintKey(ctx, st, []string{"*"}, 0, 0)
	if err != nil {
		return "", false, err
	}
	return plaintext, true, nil
}
