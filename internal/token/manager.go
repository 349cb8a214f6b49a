// Package token is the in-memory routing layer: given an optionally
// model-qualified request it returns a ready-to-use account, refreshing
// tokens on the verge of expiry and enforcing per-account cooldowns.
package token

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/sovereign-gateway/core/internal/store"
	"github.com/sovereign-gateway/core/internal/store/models"
)

// CooldownDuration is the fixed per-email suppression window after a
// rate-limit signal. Kept hard-coded rather than derived from an
// upstream-suggested retry delay — see the rateLimitedError type in
// internal/proxy, which handles that case separately for the current
// request's own retry pacing.
const CooldownDuration = 5 * time.Minute

// RefreshMargin is how far ahead of expiry a selected token is refreshed.
const RefreshMargin = 300 * time.Second

// ProjectIDFetcher resolves a project id from an access token — injected
// so the token manager stays independent of any specific upstream client;
// main.go wires this to the Gemini client's LoadCodeAssist call.
type ProjectIDFetcher func(ctx context.Context, accessToken string) (string, error)

type Manager struct {
	store      *store.Store
	oauthCfg   *oauth2.Config
	fetchPID   ProjectIDFetcher
	log        *slog.Logger
	now        func() time.Time

	mu        sync.Mutex
	cache     map[string]store.Account
	cooldowns map[string]time.Time
	rrIndex   int
}

func NewManager(st *store.Store, oauthCfg *oauth2.Config, fetchPID ProjectIDFetcher, log *slog.Logger) *Manager {
	return &Manager{
		store:     st,
		oauthCfg:  oauthCfg,
		fetchPID:  fetchPID,
		log:       log,
		now:       time.Now,
		cache:     make(map[string]store.Account),
		cooldowns: make(map[string]time.Time),
	}
}

// Load bulk-loads every account from the store into the in-memory map.
func (m *Manager) Load() error {
	accounts, err := m.store.List()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache = make(map[string]store.Account, len(accounts))
	for _, a := range accounts {
		m.cache[a.ID] = a
	}
	m.log.Info("loaded accounts into token manager", "count", len(m.cache))
	return nil
}

// Count returns the number of loaded accounts (observability).
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cache)
}

// MarkRateLimited applies the fixed cooldown to every account matching
// email (an email may own more than one provider row). Duration is fixed
// at CooldownDuration regardless of any upstream-suggested retry delay.
func (m *Manager) MarkRateLimited(email string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cooldowns[email] = m.now().Add(CooldownDuration)
}

func (m *Manager) ResetCooldown(email string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cooldowns, email)
}

func normalizeModel(model string) string {
	model = strings.ToLower(strings.TrimSpace(model))
	return strings.TrimPrefix(model, "models/")
}

func modelAllowed(selected []string, requestedModel string) bool {
	if requestedModel == "" || len(selected) == 0 {
		return true
	}
	want := normalizeModel(requestedModel)
	for _, m := range selected {
		if normalizeModel(m) == want {
			return true
		}
	}
	return false
}

// GetNext selects the next eligible account: skipping anything in
// cooldown or excluded by the requested model's selected-models filter,
// preferring an already-active local-provider account, and otherwise
// round-robining across the remaining candidates.
func (m *Manager) GetNext(ctx context.Context, requestedModel string) (*store.Account, error) {
	m.mu.Lock()
	if len(m.cache) == 0 {
		m.mu.Unlock()
		if err := m.Load(); err != nil {
			return nil, err
		}
		m.mu.Lock()
		if len(m.cache) == 0 {
			m.mu.Unlock()
			return nil, nil
		}
	}

	now := m.now()
	var candidates []store.Account
	for _, a := range m.cache {
		if until, ok := m.cooldowns[a.Email]; ok && until.After(now) {
			continue
		}
		if !modelAllowed(a.SelectedModels, requestedModel) {
			continue
		}
		candidates = append(candidates, a)
	}

	if len(candidates) == 0 {
		m.mu.Unlock()
		return nil, nil
	}

	// Sort for deterministic round-robin ordering across calls.
	sortAccountsByID(candidates)

	var chosen store.Account
	for _, a := range candidates {
		if a.IsActive && strings.HasPrefix(a.Provider, "local-") {
			chosen = a
			goto selected
		}
	}

	chosen = candidates[m.rrIndex%len(candidates)]
	m.rrIndex++

selected:
	m.mu.Unlock()

	return m.prepare(ctx, chosen)
}

// RefreshAccount force-refreshes one account's token regardless of its
// expiry margin, used by the quota monitor ahead of a quota poll, which
// applies its own wider margin before calling this.
func (m *Manager) RefreshAccount(ctx context.Context, a store.Account) models.Token {
	if strings.HasPrefix(a.Provider, "local-") {
		return a.Token
	}
	return m.refresh(ctx, a)
}

// prepare refreshes the token if it is near expiry and resolves a missing
// project id, persisting both back to the store.
func (m *Manager) prepare(ctx context.Context, a store.Account) (*store.Account, error) {
	now := m.now()
	isLocal := strings.HasPrefix(a.Provider, "local-")

	if !isLocal && a.Token.ExpiryTimestamp != 0 &&
		time.Unix(a.Token.ExpiryTimestamp, 0).Before(now.Add(RefreshMargin)) {
		a.Token = m.refresh(ctx, a)
	}

	if !isLocal && a.Token.ProjectID == "" && (a.Provider == "google" || a.Provider == "anthropic") {
		if m.fetchPID != nil {
			pid, err := m.fetchPID(ctx, a.Token.AccessToken)
			if err != nil {
				a.Token.ProjectID = fallbackProjectID(a.Email)
				m.log.Warn("project id discovery failed, using fallback", "account_id", a.ID, "fallback", a.Token.ProjectID, "error", err)
			} else {
				a.Token.ProjectID = pid
			}
			if err := m.store.UpdateToken(a.ID, a.Token); err != nil {
				m.log.Warn("failed persisting resolved project id", "account_id", a.ID, "error", err)
			}
			m.touchCache(a)
		}
	}

	if err := m.store.UpdateLastUsed(a.ID, now.Unix()); err != nil {
		m.log.Warn("failed updating last_used", "account_id", a.ID, "error", err)
	}
	a.LastUsedAt = now.Unix()
	m.touchCache(a)

	return &a, nil
}

func fallbackProjectID(email string) string {
	local := email
	if i := strings.Index(email, "@"); i >= 0 {
		local = email[:i]
	}
	return "cloud-code-" + local
}

// refresh exchanges the refresh token at the OAuth endpoint. Refresh
// failure never fails the selection — the expiring token is returned
// as-is.
func (m *Manager) refresh(ctx context.Context, a store.Account) models.Token {
	tok := &oauth2.Token{
		AccessToken:  a.Token.AccessToken,
		RefreshToken: a.Token.RefreshToken,
		Expiry:       time.Unix(a.Token.ExpiryTimestamp, 0),
	}
	src := m.oauthCfg.TokenSource(ctx, tok)
	newTok, err := src.Token()
	if err != nil {
		m.log.Warn("token refresh failed, returning stale token", "account_id", a.ID, "email", a.Email, "error", err)
		return a.Token
	}

	updated := a.Token
	updated.AccessToken = newTok.AccessToken
	updated.ExpiryTimestamp = newTok.Expiry.Unix()
	updated.ExpiresIn = int64(time.Until(newTok.Expiry).Seconds())
	if newTok.RefreshToken != "" {
		updated.RefreshToken = newTok.RefreshToken
	}

	if err := m.store.UpdateToken(a.ID, updated); err != nil {
		m.log.Warn("failed persisting refreshed token", "account_id", a.ID, "error", err)
	}
	m.log.Info("refreshed token", "account_id", a.ID, "email", a.Email)
	return updated
}

func (m *Manager) touchCache(a store.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache[a.ID] = a
}

func sortAccountsByID(a []store.Account) {
	for i := 1; i < len(a); i++ {
		for j := i; j > 0 && a[j].ID < a[j-1].ID; j-- {
			a[j], a[j-1] = a[j-1], a[j]
		}
	}
}
