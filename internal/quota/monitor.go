// Package quota is the background poller that refreshes per-account
// quota and runs the hysteresis-guarded auto-switcher, with
// golang.org/x/sync/semaphore bounding concurrent polls.
package quota

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/sovereign-gateway/core/internal/errs"
	"github.com/sovereign-gateway/core/internal/store"
	"github.com/sovereign-gateway/core/internal/store/models"
	"github.com/sovereign-gateway/core/internal/token"
	"github.com/sovereign-gateway/core/internal/upstream/gemini"
)

const (
	pollInterval     = 5 * time.Minute
	maxConcurrentPolls = 3
	refreshMargin    = 600 * time.Second
	maxRetries       = 3
)

// Notifier is the external collaborator that surfaces an auto-switch to
// the user (desktop notification, log line, etc).
type Notifier interface {
	Notify(ctx context.Context, fromAccountID, toAccountID string)
}

type LogNotifier struct{ Log *slog.Logger }

func (n LogNotifier) Notify(_ context.Context, from, to string) {
	n.Log.Warn("auto-switched active account", "from", from, "to", to)
}

// Monitor runs the periodic quota poll and auto-switch.
type Monitor struct {
	store    *store.Store
	manager  *token.Manager
	client   *gemini.Client
	log      *slog.Logger
	notifier Notifier
	sem      *semaphore.Weighted
	now      func() time.Time
}

func NewMonitor(st *store.Store, mgr *token.Manager, client *gemini.Client, notifier Notifier, log *slog.Logger) *Monitor {
	return &Monitor{
		store: st, manager: mgr, client: client, log: log, notifier: notifier,
		sem: semaphore.NewWeighted(maxConcurrentPolls),
		now: time.Now,
	}
}

// Run blocks, polling every pollInterval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ForcePoll(ctx)
		}
	}
}

// ForcePoll runs one poll-and-switch pass immediately.
func (m *Monitor) ForcePoll(ctx context.Context) {
	accounts, err := m.store.List()
	if err != nil {
		m.log.Warn("quota poll: listing accounts failed", "error", err)
		return
	}

	done := make(chan struct{}, len(accounts))
	for _, a := range accounts {
		a := a
		if err := m.sem.Acquire(ctx, 1); err != nil {
			return
		}
		go func() {
			defer m.sem.Release(1)
			defer func() { done <- struct{}{} }()
			m.pollAccount(ctx, a)
		}()
	}
	for range accounts {
		<-done
	}

	m.autoSwitch(ctx)
}

func (m *Monitor) pollAccount(ctx context.Context, a store.Account) {
	if err := m.store.UpdateStatus(a.ID, store.StatusRefreshing); err != nil {
		m.log.Warn("quota poll: updating status failed", "account_id", a.ID, "error", err)
	}

	if a.Token.ExpiryTimestamp != 0 && time.Unix(a.Token.ExpiryTimestamp, 0).Before(m.now().Add(refreshMargin)) {
		a.Token = m.refreshIfPossible(ctx, a)
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		quota, err := m.fetchQuota(ctx, a)
		if err == nil {
			merged := mergeQuota(a.Quota, quota)
			if err := m.store.UpdateQuota(a.ID, merged); err != nil {
				m.log.Warn("quota poll: persisting quota failed", "account_id", a.ID, "error", err)
			}
			if err := m.store.UpdateStatus(a.ID, store.StatusActive); err != nil {
				m.log.Warn("quota poll: updating status failed", "account_id", a.ID, "error", err)
			}
			return
		}
		lastErr = err
		if errs.IsKind(err, errs.KindUpstreamRateLimit) {
			if err := m.store.UpdateStatus(a.ID, store.StatusRateLimited); err != nil {
				m.log.Warn("quota poll: updating status failed", "account_id", a.ID, "error", err)
			}
			return
		}
		backoff := time.Duration(1<<attempt) * time.Second
		backoff += time.Duration(rand.Int63n(int64(500 * time.Millisecond)))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
	}

	m.log.Warn("quota poll: giving up on account after retries", "account_id", a.ID, "error", lastErr)
	if err := m.store.UpdateStatus(a.ID, store.StatusError); err != nil {
		m.log.Warn("quota poll: updating status failed", "account_id", a.ID, "error", err)
	}
}

func (m *Monitor) refreshIfPossible(ctx context.Context, a store.Account) models.Token {
	return m.manager.RefreshAccount(ctx, a)
}

// fetchQuota composes the internal telemetry endpoint plus the two
// catalogue endpoints into one quota map.
func (m *Monitor) fetchQuota(ctx context.Context, a store.Account) (models.Quota, error) {
	resp, err := m.client.FetchAvailableModels(ctx, a.Token.AccessToken)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errs.New(gemini.ClassifyStatus(resp.StatusCode, nil), "fetchAvailableModels returned non-200")
	}

	var payload struct {
		Models map[string]struct {
			QuotaInfo struct {
				RemainingFraction float64 `json:"remainingFraction"`
				ResetTime         string  `json:"resetTime"`
			} `json:"quotaInfo"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, errs.Wrap(errs.KindProtocol, "decoding fetchAvailableModels response", err)
	}

	quota := models.Quota{}
	for modelID, info := range payload.Models {
		quota[modelID] = models.ModelQuota{
			Percentage: info.QuotaInfo.RemainingFraction * 100,
			ResetTime:  info.QuotaInfo.ResetTime,
		}
	}
	return quota, nil
}

func mergeQuota(existing, fresh models.Quota) models.Quota {
	if existing == nil {
		existing = models.Quota{}
	}
	for k, v := range fresh {
		existing[k] = v
	}
	return existing
}

// healthScore weighs average remaining quota against the account's
// status, clamped to [0, 100]. A low-but-nonzero score (e.g. 4) can still
// fail to cross the hysteresis guard against a moderately better
// alternative (e.g. 8) — this is intentional, not a bug: the switch
// threshold is a fixed +5 margin over the active account's score, not a
// relative one.
func healthScore(a store.Account) float64 {
	if len(a.Quota) == 0 || a.Status == store.StatusRateLimited || a.Status == store.StatusError {
		return 0
	}
	var sum float64
	for _, q := range a.Quota {
		sum += q.Percentage
	}
	avg := sum / float64(len(a.Quota))

	statusBonus := 0.0
	switch a.Status {
	case store.StatusActive:
		statusBonus = 40
	case store.StatusRefreshing:
		statusBonus = 20
	}
	score := 0.6*avg + statusBonus
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

func (m *Monitor) autoSwitch(ctx context.Context) {
	if !m.store.AutoSwitchEnabled() {
		return
	}
	accounts, err := m.store.List()
	if err != nil {
		m.log.Warn("auto-switch: listing accounts failed", "error", err)
		return
	}

	var active *store.Account
	for i := range accounts {
		if accounts[i].IsActive {
			active = &accounts[i]
			break
		}
	}
	if active == nil {
		return
	}

	activeScore := healthScore(*active)
	if activeScore >= 10 && active.Status != store.StatusRateLimited && active.Status != store.StatusError {
		return
	}

	var best *store.Account
	var bestScore float64
	for i := range accounts {
		a := accounts[i]
		if a.ID == active.ID || a.Status != store.StatusActive {
			continue
		}
		score := healthScore(a)
		if best == nil || score > bestScore {
			best = &accounts[i]
			bestScore = score
		}
	}
	if best == nil || !(bestScore > activeScore+5) {
		return
	}

	if err := m.store.SetActive(best.ID); err != nil {
		m.log.Warn("auto-switch: activating candidate failed", "account_id", best.ID, "error", err)
		return
	}
	m.notifier.Notify(ctx, active.ID, best.ID)
}
