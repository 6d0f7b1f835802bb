package auth

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T, username string) *FileStore {
	t.Helper()
	store, err := NewFileStore(t.TempDir(), username)
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func identityTokenFor(t *testing.T, user string) string {
	t.Helper()
	return unsignedJWT(t, map[string]interface{}{
		"uid":  user,
		"vehs": []map[string]string{{"vin": "1G1FZ6S02L4100001", "per": "3"}},
	})
}

func TestFileStoreRoundTrip(t *testing.T) {
	store := newTestStore(t, "user@example.com")
	saved := &TokenSet{
		AccessToken:  identityTokenFor(t, "user@example.com"),
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Unix() + 3600,
	}
	if err := store.SaveIdentity(saved); err != nil {
		t.Fatal(err)
	}
	loaded := store.LoadIdentity()
	if loaded == nil {
		t.Fatal("expected stored identity tokens")
	}
	if loaded.RefreshToken != "refresh-1" {
		t.Errorf("RefreshToken = %q", loaded.RefreshToken)
	}
}

func TestFileStoreAbsent(t *testing.T) {
	store := newTestStore(t, "user@example.com")
	if store.LoadIdentity() != nil {
		t.Error("expected nil identity tokens from an empty store")
	}
	if store.LoadAPI() != nil {
		t.Error("expected nil API token from an empty store")
	}
}

func TestFileStoreOwnershipMismatch(t *testing.T) {
	store := newTestStore(t, "someone@example.com")
	saved := &TokenSet{
		AccessToken: identityTokenFor(t, "other@example.com"),
		ExpiresAt:   time.Now().Unix() + 3600,
	}
	if err := store.SaveIdentity(saved); err != nil {
		t.Fatal(err)
	}
	if store.LoadIdentity() != nil {
		t.Error("tokens for a different account should be reported as absent")
	}
}

func TestFileStoreLoadIdentityIgnoresExpiry(t *testing.T) {
	store := newTestStore(t, "user@example.com")
	saved := &TokenSet{
		AccessToken:  identityTokenFor(t, "user@example.com"),
		RefreshToken: "still-usable",
		ExpiresAt:    time.Now().Unix() - 100,
	}
	if err := store.SaveIdentity(saved); err != nil {
		t.Fatal(err)
	}
	if store.LoadIdentity() == nil {
		t.Error("expired identity tokens should still load; the refresh token may work")
	}
}

func TestFileStoreLoadAPIChecksExpiry(t *testing.T) {
	store := newTestStore(t, "user@example.com")
	expired := &APIToken{
		AccessToken: identityTokenFor(t, "user@example.com"),
		ExpiresAt:   time.Now().Unix() + 60, // inside the validity window
	}
	if err := store.SaveAPI(expired); err != nil {
		t.Fatal(err)
	}
	if store.LoadAPI() != nil {
		t.Error("API token inside the validity window should be reported as absent")
	}

	fresh := &APIToken{
		AccessToken: identityTokenFor(t, "user@example.com"),
		ExpiresAt:   time.Now().Unix() + 3600,
	}
	if err := store.SaveAPI(fresh); err != nil {
		t.Fatal(err)
	}
	if store.LoadAPI() == nil {
		t.Error("fresh API token should load")
	}
}

func TestFileStoreCorruptFile(t *testing.T) {
	store := newTestStore(t, "user@example.com")
	if err := os.WriteFile(filepath.Join(store.Dir, "api_tokens.json"), []byte("{broken"), 0600); err != nil {
		t.Fatal(err)
	}
	if store.LoadAPI() != nil {
		t.Error("undecodable file should be reported as absent")
	}
}

func TestFileStoreInvalidate(t *testing.T) {
	store := newTestStore(t, "user@example.com")
	saved := &TokenSet{
		AccessToken: identityTokenFor(t, "user@example.com"),
		ExpiresAt:   time.Now().Unix() + 3600,
	}
	if err := store.SaveIdentity(saved); err != nil {
		t.Fatal(err)
	}
	if err := store.Invalidate(KindIdentity); err != nil {
		t.Fatal(err)
	}
	if store.LoadIdentity() != nil {
		t.Error("invalidated tokens should not load")
	}
	if _, err := os.Stat(filepath.Join(store.Dir, "identity_tokens.old")); err != nil {
		t.Errorf("expected the invalidated file to be renamed aside: %s", err)
	}

	// Invalidating a kind that was never written is not an error.
	if err := store.Invalidate(KindAPI); err != nil {
		t.Errorf("Invalidate on a missing file: %s", err)
	}
}
