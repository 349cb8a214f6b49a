package quota

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/sovereign-gateway/core/internal/store"
	"github.com/sovereign-gateway/core/internal/store/models"
)

func TestHealthScore_RateLimitedOrErrorIsZero(t *testing.T) {
	a := store.Account{Status: store.StatusRateLimited, Quota: models.Quota{"m": {Percentage: 100}}}
	if got := healthScore(a); got != 0 {
		t.Fatalf("expected 0 for a rate-limited account, got %v", got)
	}
	a.Status = store.StatusError
	if got := healthScore(a); got != 0 {
		t.Fatalf("expected 0 for an errored account, got %v", got)
	}
}

func TestHealthScore_NoQuotaDataIsZero(t *testing.T) {
	a := store.Account{Status: store.StatusActive}
	if got := healthScore(a); got != 0 {
		t.Fatalf("expected 0 with no quota data, got %v", got)
	}
}

func TestHealthScore_ActiveStatusBonus(t *testing.T) {
	active := store.Account{Status: store.StatusActive, Quota: models.Quota{"m": {Percentage: 0}}}
	refreshing := store.Account{Status: store.StatusRefreshing, Quota: models.Quota{"m": {Percentage: 0}}}
	if healthScore(active) <= healthScore(refreshing) {
		t.Fatalf("expected active status bonus to exceed refreshing: active=%v refreshing=%v", healthScore(active), healthScore(refreshing))
	}
}

func TestHealthScore_NeverExceedsHundred(t *testing.T) {
	a := store.Account{Status: store.StatusActive, Quota: models.Quota{"m": {Percentage: 100}}}
	if got := healthScore(a); got > 100 {
		t.Fatalf("expected score clamped to 100, got %v", got)
	}
}

type recordingNotifier struct {
	from, to string
	called   bool
}

func (n *recordingNotifier) Notify(_ context.Context, from, to string) {
	n.from, n.to, n.called = from, to, true
}

func newTestStoreForQuota(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open("file::memory:?cache=shared", testKeySource{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("opening test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

type testKeySource struct{}

func (testKeySource) MasterKey(_ context.Context) ([]byte, error) {
	return make([]byte, 32), nil
}

// autoSwitch only touches the store and the notifier, so it's exercised
// directly without a Monitor (no network client is involved in this path).
func TestAutoSwitch_SwitchesWhenCandidateClearsHysteresis(t *testing.T) {
	s := newTestStoreForQuota(t)
	if err := s.SetSetting("auto_switch_enabled", true); err != nil {
		t.Fatalf("enabling auto-switch: %v", err)
	}

	low := store.Account{ID: "low", Provider: "google", Email: "low@example.com", Status: store.StatusRateLimited, IsActive: true, Quota: models.Quota{"m": {Percentage: 0}}}
	high := store.Account{ID: "high", Provider: "google", Email: "high@example.com", Status: store.StatusActive, Quota: models.Quota{"m": {Percentage: 100}}}
	if err := s.Add(low); err != nil {
		t.Fatalf("add low: %v", err)
	}
	if err := s.Add(high); err != nil {
		t.Fatalf("add high: %v", err)
	}

	notifier := &recordingNotifier{}
	m := &Monitor{store: s, notifier: notifier, log: slog.New(slog.NewTextHandler(io.Discard, nil))}
	m.autoSwitch(context.Background())

	if !notifier.called {
		t.Fatalf("expected auto-switch to fire when the candidate clears the hysteresis guard")
	}
	if notifier.from != "low" || notifier.to != "high" {
		t.Fatalf("unexpected switch direction: from=%s to=%s", notifier.from, notifier.to)
	}

	accounts, _ := s.List()
	for _, a := range accounts {
		if a.ID == "high" && !a.IsActive {
			t.Fatalf("expected high to become active")
		}
		if a.ID == "low" && a.IsActive {
			t.Fatalf("expected low to be demoted")
		}
	}
}

func TestAutoSwitch_HysteresisGuardBlocksNarrowMargin(t *testing.T) {
	s := newTestStoreForQuota(t)
	if err := s.SetSetting("auto_switch_enabled", true); err != nil {
		t.Fatalf("enabling auto-switch: %v", err)
	}

	active := store.Account{ID: "active", Provider: "google", Email: "active@example.com", Status: store.StatusRateLimited, IsActive: true, Quota: models.Quota{"m": {Percentage: 0}}}
	// Status is "active" so it's eligible as a candidate, but it has no
	// quota data on record yet, so its score is also 0 (len(Quota)==0).
	candidate := store.Account{ID: "cand", Provider: "google", Email: "cand@example.com", Status: store.StatusActive}
	if err := s.Add(active); err != nil {
		t.Fatalf("add active: %v", err)
	}
	if err := s.Add(candidate); err != nil {
		t.Fatalf("add candidate: %v", err)
	}

	notifier := &recordingNotifier{}
	m := &Monitor{store: s, notifier: notifier, log: slog.New(slog.NewTextHandler(io.Discard, nil))}
	m.autoSwitch(context.Background())

	if notifier.called {
		t.Fatalf("expected the hysteresis guard to block a switch when the candidate has no clear health margin")
	}
}

func TestAutoSwitch_DisabledByDefault(t *testing.T) {
	s := newTestStoreForQuota(t)
	active := store.Account{ID: "active", Provider: "google", Email: "active@example.com", Status: store.StatusRateLimited, IsActive: true, Quota: models.Quota{"m": {Percentage: 0}}}
	candidate := store.Account{ID: "cand", Provider: "google", Email: "cand@example.com", Status: store.StatusActive, Quota: models.Quota{"m": {Percentage: 100}}}
	if err := s.Add(active); err != nil {
		t.Fatalf("add active: %v", err)
	}
	if err := s.Add(candidate); err != nil {
		t.Fatalf("add candidate: %v", err)
	}

	notifier := &recordingNotifier{}
	m := &Monitor{store: s, notifier: notifier, log: slog.New(slog.NewTextHandler(io.Discard, nil))}
	m.autoSwitch(context.Background())

	if notifier.called {
		t.Fatalf("expected auto-switch to be a no-op when the setting is disabled, even with a clearly healthier candidate available")
	}
}
