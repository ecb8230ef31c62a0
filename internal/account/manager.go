// Package account manages the account pool: selection, the rate-limit
// ledger, credentials and redis mirroring.
package account

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/poemonsense/cloudcode-relay/internal/account/strategies"
	"github.com/poemonsense/cloudcode-relay/internal/auth"
	"github.com/poemonsense/cloudcode-relay/internal/config"
	"github.com/poemonsense/cloudcode-relay/internal/utils"
	"github.com/poemonsense/cloudcode-relay/pkg/redis"
)

// Manager owns the in-memory account pool and its rate-limit ledger, and
// mirrors both to redis when a store is configured. All dispatch-path reads
// are served from memory; redis is only touched to persist changes.
type Manager struct {
	mu           sync.RWMutex
	accounts     []*redis.Account
	currentIndex int

	strategy strategies.Strategy
	trackers *strategies.Trackers
	store    *redis.AccountStore
	creds    *Credentials
	now      func() time.Time
}

// NewManager creates a manager. store may be nil for in-memory operation.
func NewManager(store *redis.AccountStore, creds *Credentials) *Manager {
	return &Manager{
		currentIndex: 0,
		trackers:     strategies.NewTrackers(),
		store:        store,
		creds:        creds,
		now:          time.Now,
	}
}

// Initialize loads accounts and the sticky index from the store and builds
// the strategy.
func (m *Manager) Initialize(ctx context.Context, strategyName string) error {
	strat, err := strategies.New(strategyName, m.trackers)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.strategy = strat

	if m.store == nil {
		utils.Warn("[Accounts] No redis store configured, running in memory only")
		return nil
	}

	accounts, err := m.store.ListAccounts(ctx)
	if err != nil {
		return fmt.Errorf("failed to load accounts: %w", err)
	}
	for _, acc := range accounts {
		limits, err := m.store.LoadRateLimits(ctx, acc.Email)
		if err == nil && len(limits) > 0 {
			acc.ModelRateLimits = limits
		}
		quota, err := m.store.GetQuota(ctx, acc.Email)
		if err == nil && quota != nil {
			if acc.Quota == nil || quota.LastChecked > acc.Quota.LastChecked {
				acc.Quota = quota
			}
		}
	}
	m.accounts = accounts

	if idx, err := m.store.GetActiveIndex(ctx); err == nil && idx >= 0 {
		m.currentIndex = idx
	}

	utils.Info("[Accounts] Loaded %d accounts (strategy: %s)", len(accounts), strategyName)
	return nil
}

// SetAccounts replaces the pool. Used by the CLI and tests.
func (m *Manager) SetAccounts(accounts []*redis.Account) {
	m.mu.Lock()
	m.accounts = accounts
	if m.currentIndex >= len(accounts) {
		m.currentIndex = 0
	}
	m.mu.Unlock()
}

// SetStrategy swaps the selection strategy at runtime (config hot reload).
func (m *Manager) SetStrategy(name string) error {
	strat, err := strategies.New(name, m.trackers)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.strategy = strat
	m.mu.Unlock()
	utils.Info("[Accounts] Strategy switched to %s", name)
	return nil
}

// GetAccountCount returns the pool size.
func (m *Manager) GetAccountCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.accounts)
}

// Accounts returns a snapshot of the pool slice.
func (m *Manager) Accounts() []*redis.Account {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*redis.Account, len(m.accounts))
	copy(out, m.accounts)
	return out
}

// SelectAccount clears expired ledger entries and delegates to the
// strategy. On a hit it records last-use and advances the sticky index.
func (m *Manager) SelectAccount(ctx context.Context, model string) *strategies.SelectionResult {
	m.ClearExpiredLimits()

	m.mu.Lock()
	defer m.mu.Unlock()

	res := m.strategy.Select(m.accounts, model, m.currentIndex)
	if res.Account != nil {
		res.Account.LastUsed = m.now().UnixMilli()
		if res.Index >= 0 && res.Index != m.currentIndex {
			utils.Info("[Accounts] Switched to %s (%s)", utils.MaskEmail(res.Account.Email), res.Reason)
			m.currentIndex = res.Index
			if m.store != nil {
				_ = m.store.SaveActiveIndex(ctx, res.Index)
			}
		}
	}
	return res
}

// MarkRateLimited records a ledger entry for the account/model pair.
func (m *Manager) MarkRateLimited(ctx context.Context, email, model string, durationMs int64) {
	if durationMs <= 0 {
		durationMs = config.DefaultCooldownMs
	}
	info := &redis.RateLimitInfo{
		IsRateLimited: true,
		ResetTime:     m.now().UnixMilli() + durationMs,
	}

	m.mu.Lock()
	acc := m.findLocked(email)
	if acc != nil {
		if acc.ModelRateLimits == nil {
			acc.ModelRateLimits = make(map[string]*redis.RateLimitInfo)
		}
		acc.ModelRateLimits[model] = info
	}
	m.mu.Unlock()

	if acc != nil {
		utils.Warn("[Accounts] %s rate limited on %s for %s",
			utils.MaskEmail(email), model, utils.FormatDuration(durationMs))
		if m.store != nil {
			_ = m.store.SaveRateLimit(ctx, email, model, info)
		}
	}
}

// ClearRateLimit removes the ledger entry for the account/model pair.
func (m *Manager) ClearRateLimit(ctx context.Context, email, model string) {
	m.mu.Lock()
	acc := m.findLocked(email)
	if acc != nil && acc.ModelRateLimits != nil {
		delete(acc.ModelRateLimits, model)
	}
	m.mu.Unlock()

	if acc != nil && m.store != nil {
		_ = m.store.ClearRateLimit(ctx, email, model)
	}
}

// MarkInvalid sidelines an account permanently (revoked grant etc).
func (m *Manager) MarkInvalid(ctx context.Context, email, reason string) {
	m.mu.Lock()
	acc := m.findLocked(email)
	if acc != nil {
		acc.IsInvalid = true
		acc.InvalidReason = reason
	}
	m.mu.Unlock()

	if acc != nil {
		utils.Error("[Accounts] %s marked invalid: %s", utils.MaskEmail(email), reason)
		if m.store != nil {
			_ = m.store.SaveAccount(ctx, acc)
		}
	}
}

// NoteQuotaExhausted records a zero-remaining quota snapshot for the
// account/model pair, observed from an upstream quota-exhausted 429.
func (m *Manager) NoteQuotaExhausted(ctx context.Context, email, model string) {
	m.mu.Lock()
	acc := m.findLocked(email)
	var quota *redis.QuotaInfo
	if acc != nil {
		if acc.Quota == nil {
			acc.Quota = &redis.QuotaInfo{}
		}
		if acc.Quota.Models == nil {
			acc.Quota.Models = make(map[string]*redis.ModelQuotaInfo)
		}
		acc.Quota.Models[model] = &redis.ModelQuotaInfo{RemainingFraction: 0}
		acc.Quota.LastChecked = m.now().UnixMilli()
		quota = acc.Quota
	}
	m.mu.Unlock()

	if quota != nil && m.store != nil {
		_ = m.store.SaveQuota(ctx, email, quota)
	}
}

// ClearExpiredLimits drops every ledger entry whose reset time has passed.
func (m *Manager) ClearExpiredLimits() {
	now := m.now().UnixMilli()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, acc := range m.accounts {
		for model, info := range acc.ModelRateLimits {
			if info == nil || !info.IsRateLimited || info.ResetTime <= now {
				delete(acc.ModelRateLimits, model)
			}
		}
	}
}

// IsAllRateLimited reports whether every enabled, valid account currently
// has an active ledger entry for the model. False when the pool has no
// enabled valid accounts at all; that is a different failure.
func (m *Manager) IsAllRateLimited(model string) bool {
	now := m.now().UnixMilli()
	m.mu.RLock()
	defer m.mu.RUnlock()

	eligible := 0
	for _, acc := range m.accounts {
		if !acc.Enabled || acc.IsInvalid {
			continue
		}
		eligible++
		info := acc.ModelRateLimits[model]
		if info == nil || !info.IsRateLimited || info.ResetTime <= now {
			return false
		}
	}
	return eligible > 0
}

// GetMinWaitTimeMs returns the smallest remaining wait across enabled valid
// accounts for the model; 0 when some account is free.
func (m *Manager) GetMinWaitTimeMs(model string) int64 {
	now := m.now().UnixMilli()
	m.mu.RLock()
	defer m.mu.RUnlock()

	var minWait int64 = -1
	for _, acc := range m.accounts {
		if !acc.Enabled || acc.IsInvalid {
			continue
		}
		info := acc.ModelRateLimits[model]
		if info == nil || !info.IsRateLimited {
			return 0
		}
		wait := info.ResetTime - now
		if wait <= 0 {
			return 0
		}
		if minWait < 0 || wait < minWait {
			minWait = wait
		}
	}
	if minWait < 0 {
		return 0
	}
	return minWait
}

// NotifySuccess feeds a completed request back to the strategy.
func (m *Manager) NotifySuccess(ctx context.Context, email, model string) {
	m.strategyHook().OnSuccess(email, model)
	if m.store != nil {
		_ = m.store.IncrUsage(ctx, email, "success")
	}
}

// NotifyRateLimit feeds an observed 429 back to the strategy.
func (m *Manager) NotifyRateLimit(ctx context.Context, email, model string) {
	m.strategyHook().OnRateLimit(email, model)
	if m.store != nil {
		_ = m.store.IncrUsage(ctx, email, "rate_limited")
	}
}

// NotifyFailure feeds a server/network failure back to the strategy and
// returns the account's consecutive failure count.
func (m *Manager) NotifyFailure(ctx context.Context, email, model string) int {
	n := m.strategyHook().OnFailure(email, model)
	if m.store != nil {
		_ = m.store.IncrUsage(ctx, email, "failure")
	}
	return n
}

// Usage returns the persisted usage counters for an account; nil without a
// store.
func (m *Manager) Usage(ctx context.Context, email string) map[string]string {
	if m.store == nil {
		return nil
	}
	usage, err := m.store.GetUsage(ctx, email)
	if err != nil || len(usage) == 0 {
		return nil
	}
	return usage
}

func (m *Manager) strategyHook() strategies.Strategy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.strategy
}

// TokenFor returns an access token for the account.
func (m *Manager) TokenFor(ctx context.Context, acc *redis.Account) (string, error) {
	return m.creds.GetAccessToken(ctx, acc)
}

// ProjectFor returns the account's project ID, discovering and caching it
// on first use.
func (m *Manager) ProjectFor(ctx context.Context, acc *redis.Account) (string, error) {
	if acc.ProjectID != "" {
		return acc.ProjectID, nil
	}
	if m.store != nil {
		if cached, err := m.store.GetCachedProject(ctx, acc.Email); err == nil && cached != "" {
			return cached, nil
		}
	}

	token, err := m.creds.GetAccessToken(ctx, acc)
	if err != nil {
		return "", err
	}
	projectID, err := auth.DiscoverProjectID(ctx, token)
	if err != nil || projectID == "" {
		return config.DefaultProjectID, nil
	}
	if m.store != nil {
		_ = m.store.SetCachedProject(ctx, acc.Email, projectID)
	}
	return projectID, nil
}

// ClearTokenCache drops cached tokens for an account after a 401.
func (m *Manager) ClearTokenCache(ctx context.Context, email string) {
	m.creds.ClearCacheForAccount(ctx, email)
}

// ClearProjectCache drops the cached project ID for an account.
func (m *Manager) ClearProjectCache(ctx context.Context, email string) {
	if m.store != nil {
		_ = m.store.ClearProjectCache(ctx, email)
	}
}

// Status summarizes the pool for health endpoints.
type Status struct {
	Total       int    `json:"total"`
	Usable      int    `json:"usable"`
	RateLimited int    `json:"rateLimited"`
	Invalid     int    `json:"invalid"`
	Strategy    string `json:"strategy"`
	Summary     string `json:"summary"`
}

// GetStatus returns a pool summary. An account counts as rate-limited when
// any model entry is active.
func (m *Manager) GetStatus() Status {
	now := m.now().UnixMilli()
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Status{Total: len(m.accounts)}
	if m.strategy != nil {
		st.Strategy = m.strategy.Name()
	}
	for _, acc := range m.accounts {
		switch {
		case acc.IsInvalid:
			st.Invalid++
		case !acc.Enabled:
		default:
			limited := false
			for _, info := range acc.ModelRateLimits {
				if info != nil && info.IsRateLimited && info.ResetTime > now {
					limited = true
					break
				}
			}
			if limited {
				st.RateLimited++
			} else {
				st.Usable++
			}
		}
	}
	st.Summary = fmt.Sprintf("%d/%d usable, %d rate limited, %d invalid",
		st.Usable, st.Total, st.RateLimited, st.Invalid)
	return st
}

// findLocked returns the account with the given email. Caller holds a lock.
func (m *Manager) findLocked(email string) *redis.Account {
	for _, acc := range m.accounts {
		if acc.Email == email {
			return acc
		}
	}
	return nil
}
