package token

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/sovereign-gateway/core/internal/store"
	"github.com/sovereign-gateway/core/internal/store/models"
)

type fixedKeySource struct{}

func (fixedKeySource) MasterKey(_ context.Context) ([]byte, error) { return make([]byte, 32), nil }

func newTestManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	st, err := store.Open("file::memory:?cache=shared", fixedKeySource{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := &oauth2.Config{Endpoint: oauth2.Endpoint{TokenURL: "http://127.0.0.1:0/token"}}
	m := NewManager(st, cfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return m, st
}

func addActiveAccount(t *testing.T, st *store.Store, id, email, provider string) {
	t.Helper()
	future := time.Now().Add(time.Hour).Unix()
	if err := st.Add(store.Account{
		ID: id, Provider: provider, Email: email, Status: store.StatusActive, IsActive: false,
		Token: models.Token{AccessToken: "tok-" + id, ExpiryTimestamp: future},
	}); err != nil {
		t.Fatalf("add %s: %v", id, err)
	}
}

// S1 — round robin rotation over three accounts, none in cooldown, none
// with selected_models: four requests should select A, B, C, A.
func TestGetNext_RoundRobinRotation(t *testing.T) {
	m, st := newTestManager(t)
	addActiveAccount(t, st, "a", "a@example.com", "google")
	addActiveAccount(t, st, "b", "b@example.com", "google")
	addActiveAccount(t, st, "c", "c@example.com", "google")
	if err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}

	var order []string
	for i := 0; i < 4; i++ {
		acc, err := m.GetNext(context.Background(), "gpt-4")
		if err != nil {
			t.Fatalf("getNext: %v", err)
		}
		if acc == nil {
			t.Fatalf("expected account, got nil on iteration %d", i)
		}
		order = append(order, acc.ID)
	}

	want := []string{"a", "b", "c", "a"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("selection order mismatch: got %v want %v", order, want)
		}
	}
}

// S2 — model-filtered routing.
func TestGetNext_ModelFilteredRouting(t *testing.T) {
	m, st := newTestManager(t)
	future := time.Now().Add(time.Hour).Unix()
	if err := st.Add(store.Account{
		ID: "a", Provider: "google", Email: "a@example.com", Status: store.StatusActive,
		SelectedModels: []string{"models/gemini-2.5-pro"},
		Token:          models.Token{AccessToken: "tok-a", ExpiryTimestamp: future},
	}); err != nil {
		t.Fatalf("add a: %v", err)
	}
	if err := st.Add(store.Account{
		ID: "b", Provider: "google", Email: "b@example.com", Status: store.StatusActive,
		SelectedModels: []string{"models/gemini-3-pro-preview"},
		Token:          models.Token{AccessToken: "tok-b", ExpiryTimestamp: future},
	}); err != nil {
		t.Fatalf("add b: %v", err)
	}
	if err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}

	for i := 0; i < 100; i++ {
		acc, err := m.GetNext(context.Background(), "gemini-2.5-pro")
		if err != nil || acc == nil || acc.ID != "a" {
			t.Fatalf("iteration %d: expected account a, got %v err %v", i, acc, err)
		}
	}

	acc, err := m.GetNext(context.Background(), "gemini-3-pro-preview")
	if err != nil || acc == nil || acc.ID != "b" {
		t.Fatalf("expected account b for its own filtered model, got %v err %v", acc, err)
	}
}

// Cooldown expires exactly at the stored timestamp.
func TestGetNext_CooldownBoundary(t *testing.T) {
	m, st := newTestManager(t)
	addActiveAccount(t, st, "a", "a@example.com", "google")
	if err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}

	fixedNow := time.Now()
	m.now = func() time.Time { return fixedNow }
	m.MarkRateLimited("a@example.com")

	m.now = func() time.Time { return fixedNow.Add(CooldownDuration) }
	acc, err := m.GetNext(context.Background(), "")
	if err != nil {
		t.Fatalf("getNext: %v", err)
	}
	if acc == nil {
		t.Fatalf("expected account eligible exactly at cooldown_until")
	}
}

func TestGetNext_EmptyWhenNoAccounts(t *testing.T) {
	m, _ := newTestManager(t)
	acc, err := m.GetNext(context.Background(), "")
	if err != nil {
		t.Fatalf("getNext: %v", err)
	}
	if acc != nil {
		t.Fatalf("expected nil account, got %v", acc)
	}
}

func TestNormalizeModel(t *testing.T) {
	cases := map[string]string{
		"models/Gemini-2.5-Pro": "gemini-2.5-pro",
		"GPT-4":                 "gpt-4",
		" gemini-3-pro-preview": "gemini-3-pro-preview",
	}
	for in, want := range cases {
		if got := normalizeModel(in); got != want {
			t.Errorf("normalizeModel(%q) = %q, want %q", in, got, want)
		}
	}
}
