package security

import (
	"context"
	"strings"
	"testing"

	"github.com/evocrew/evocrew/internal/store"
)

func newKeyTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.New(store.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestMintKeyNeverPersistsPlaintext(t *testing.T) {
	ctx := context.Background()
	st := newKeyTestStore(t)

	plaintext, key, err := MintKey(ctx, st, []string{"crew:*"}, 100, 10)
	if err != nil {
		t.Fatalf("MintKey: %v", err)
	}
	if plaintext == "" {
		t.Fatal("MintKey returned an empty plaintext")
	}
	if key.KeyHash == plaintext {
		t.Error("KeyHash equals the plaintext key, want a hash")
	}
	if strings.Contains(key.KeyHash, plaintext) {
		t.Error("KeyHash contains the plaintext key")
	}

	stored, err := st.GetApiKeyByHash(ctx, store.HashKey(plaintext))
	if err != nil {
		t.Fatalf("GetApiKeyByHash: %v", err)
	}
	if stored.ID != key.ID {
		t.Errorf("stored key ID = %q, want %q", stored.ID, key.ID)
	}
}

func TestEnsureAdminKeyMintsOnceThenIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := newKeyTestStore(t)

	plaintext, minted, err := EnsureAdminKey(ctx, st, "")
	if err != nil {
		t.Fatalf("EnsureAdminKey (first boot): %v", err)
	}
	if !minted || plaintext == "" {
		t.Fatalf("EnsureAdminKey (first boot) = (%q, %v), want a minted plaintext", plaintext, minted)
	}

	again, minted, err := EnsureAdminKey(ctx, st, "")
	if err != nil {
		t.Fatalf("EnsureAdminKey (second boot): %v", err)
	}
	if minted || again != "" {
		t.Errorf("EnsureAdminKey (second boot) = (%q, %v), want (\"\", false)", again, minted)
	}
}

func TestEnsureAdminKeyWithFixedBootstrapKeyIsStable(t *testing.T) {
	ctx := context.Background()
	st := newKeyTestStore(t)

	fixed := "fixed-operator-key"
	plaintext, minted, err := EnsureAdminKey(ctx, st, fixed)
	if err != nil {
		t.Fatalf("EnsureAdminKey (first boot): %v", err)
	}
	if !minted || plaintext != fixed {
		t.Fatalf("EnsureAdminKey (first boot) = (%q, %v), want (%q, true)", plaintext, minted, fixed)
	}

	key, err := st.GetApiKeyByHash(ctx, store.HashKey(fixed))
	if err != nil {
		t.Fatalf("GetApiKeyByHash: %v", err)
	}
	if strings.Contains(key.KeyHash, fixed) {
		t.Error("persisted KeyHash contains the fixed bootstrap plaintext")
	}

	// Simulating a restart with the same fixed key must not re-mint.
	_, minted, err = EnsureAdminKey(ctx, st, fixed)
	if err != nil {
		t.Fatalf("EnsureAdminKey (restart): %v", err)
	}
	if minted {
		t.Error("EnsureAdminKey re-minted on restart with an already-present bootstrap key")
	}
}
