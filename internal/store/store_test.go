package store

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/sovereign-gateway/core/internal/store/models"
)

type fixedKeySource struct{}

func (fixedKeySource) MasterKey(_ context.Context) ([]byte, error) {
	return make([]byte, 32), nil
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("file::memory:?cache=shared", fixedKeySource{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("opening test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestActiveSingletonInvariant(t *testing.T) {
	s := newTestStore(t)

	for _, id := range []string{"a", "b", "c"} {
		if err := s.Add(Account{ID: id, Provider: "google", Email: id + "@example.com", IsActive: true}); err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}

	accounts, err := s.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	activeCount := 0
	var activeID string
	for _, a := range accounts {
		if a.IsActive {
			activeCount++
			activeID = a.ID
		}
	}
	if activeCount != 1 {
		t.Fatalf("expected exactly 1 active account, got %d", activeCount)
	}
	if activeID != "c" {
		t.Fatalf("expected last-added account to be active, got %q", activeID)
	}
}

func TestTokenRoundTripsEncrypted(t *testing.T) {
	s := newTestStore(t)
	tok := models.Token{AccessToken: "secret-access", RefreshToken: "secret-refresh", ExpiryTimestamp: 1000}
	if err := s.Add(Account{ID: "x", Provider: "google", Email: "x@example.com", Token: tok}); err != nil {
		t.Fatalf("add: %v", err)
	}

	var row models.Account
	if err := s.db.First(&row, "id = ?", "x").Error; err != nil {
		t.Fatalf("raw read: %v", err)
	}
	if isPlaintext(row.TokenCipher) {
		t.Fatalf("token stored as plaintext: %s", row.TokenCipher)
	}

	got, err := s.Get("x")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Token.AccessToken != "secret-access" {
		t.Fatalf("round-trip mismatch: %+v", got.Token)
	}
}

func TestExpiryTimestampMonotonic(t *testing.T) {
	s := newTestStore(t)
	if err := s.Add(Account{ID: "m", Provider: "google", Token: models.Token{ExpiryTimestamp: 1000}}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.UpdateToken("m", models.Token{ExpiryTimestamp: 2000}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ := s.Get("m")
	if got.Token.ExpiryTimestamp != 2000 {
		t.Fatalf("expected 2000, got %d", got.Token.ExpiryTimestamp)
	}
}

func TestCacheExactPreemptsSemantic(t *testing.T) {
	s := newTestStore(t)
	if err := s.CacheSave("hello world", []float32{1, 0, 0}, "exact hit", "m1"); err != nil {
		t.Fatalf("save: %v", err)
	}

	exact, err := s.CacheFindExact("hello world")
	if err != nil || exact == nil {
		t.Fatalf("expected exact hit, err=%v result=%v", err, exact)
	}
	if exact.ResponseText != "exact hit" {
		t.Fatalf("unexpected response: %s", exact.ResponseText)
	}
}

func TestCacheSemanticThreshold(t *testing.T) {
	s := newTestStore(t)
	if err := s.CacheSave("some other prompt", []float32{1, 0, 0}, "semantic hit", "m1"); err != nil {
		t.Fatalf("save: %v", err)
	}

	hit, err := s.CacheFindSemantic([]float32{0.999, 0.01, 0}, DefaultSemanticThreshold)
	if err != nil {
		t.Fatalf("semantic find: %v", err)
	}
	if hit == nil {
		t.Fatalf("expected semantic hit above threshold")
	}

	miss, err := s.CacheFindSemantic([]float32{0, 1, 0}, DefaultSemanticThreshold)
	if err != nil {
		t.Fatalf("semantic find: %v", err)
	}
	if miss != nil {
		t.Fatalf("expected no hit below threshold, got %v", miss)
	}
}
