package proxy

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/sovereign-gateway/core/internal/store"
)

type modelsTestKeySource struct{}

func (modelsTestKeySource) MasterKey(_ context.Context) ([]byte, error) {
	return make([]byte, 32), nil
}

func newModelsTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open("file::memory:?cache=shared", modelsTestKeySource{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("opening test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestListRemoteModels_NoActiveAccountReturnsDefaults(t *testing.T) {
	s := &Server{store: newModelsTestStore(t)}
	got := s.listRemoteModels()
	if len(got) != len(defaultModels) {
		t.Fatalf("expected the default model list, got %v", got)
	}
}

func TestListRemoteModels_PrefersSelectedModelsOverQuota(t *testing.T) {
	st := newModelsTestStore(t)
	if err := st.Add(store.Account{
		ID: "a", Provider: "google", Email: "a@example.com", IsActive: true,
		SelectedModels: []string{"gemini-2.5-flash"},
	}); err != nil {
		t.Fatalf("add: %v", err)
	}
	s := &Server{store: st}
	got := s.listRemoteModels()
	if len(got) != 1 || got[0] != "gemini-2.5-flash" {
		t.Fatalf("expected the selected-models filter to win, got %v", got)
	}
}
