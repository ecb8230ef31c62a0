package redis

import (
	"context"
	"fmt"
	"time"
)

// RateLimitInfo is one ledger entry for an account/model pair.
type RateLimitInfo struct {
	IsRateLimited bool  `json:"isRateLimited"`
	ResetTime     int64 `json:"resetTime"` // unix ms
}

// ModelQuotaInfo is the remaining-fraction snapshot for one model.
type ModelQuotaInfo struct {
	RemainingFraction float64 `json:"remainingFraction"`
}

// QuotaInfo holds per-model quota snapshots with their refresh time.
type QuotaInfo struct {
	Models      map[string]*ModelQuotaInfo `json:"models"`
	LastChecked int64                      `json:"lastChecked"` // unix ms
}

// Account is one Cloud Code account in the pool.
type Account struct {
	Email        string `json:"email"`
	Source       string `json:"source"` // oauth | manual | database
	Enabled      bool   `json:"enabled"`
	RefreshToken string `json:"refreshToken,omitempty"`
	APIKey       string `json:"apiKey,omitempty"`
	ProjectID    string `json:"projectId,omitempty"`

	Quota           *QuotaInfo                `json:"quota,omitempty"`
	ModelRateLimits map[string]*RateLimitInfo `json:"modelRateLimits,omitempty"`

	LastUsed      int64  `json:"lastUsed,omitempty"` // unix ms
	IsInvalid     bool   `json:"isInvalid,omitempty"`
	InvalidReason string `json:"invalidReason,omitempty"`
	AddedAt       int64  `json:"addedAt,omitempty"`
}

// CachedToken is a mirrored OAuth access token.
type CachedToken struct {
	AccessToken string    `json:"accessToken"`
	ExtractedAt time.Time `json:"extractedAt"`
}

// AccountStore persists accounts and dispatch bookkeeping.
type AccountStore struct {
	client *Client
}

// NewAccountStore creates a store on the given client.
func NewAccountStore(client *Client) *AccountStore {
	return &AccountStore{client: client}
}

// SaveAccount persists an account and indexes it.
func (s *AccountStore) SaveAccount(ctx context.Context, acc *Account) error {
	if err := s.client.Set(ctx, PrefixAccounts+acc.Email, acc, 0); err != nil {
		return err
	}
	return s.client.SAdd(ctx, KeyAccountIndex, acc.Email)
}

// GetAccount loads one account; returns nil when missing.
func (s *AccountStore) GetAccount(ctx context.Context, email string) (*Account, error) {
	var acc Account
	err := s.client.Get(ctx, PrefixAccounts+email, &acc)
	if IsNil(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

// ListAccounts loads every indexed account.
func (s *AccountStore) ListAccounts(ctx context.Context) ([]*Account, error) {
	emails, err := s.client.SMembers(ctx, KeyAccountIndex)
	if err != nil {
		return nil, err
	}
	accounts := make([]*Account, 0, len(emails))
	for _, email := range emails {
		acc, err := s.GetAccount(ctx, email)
		if err != nil {
			return nil, err
		}
		if acc != nil {
			accounts = append(accounts, acc)
		}
	}
	return accounts, nil
}

// RemoveAccount deletes an account and its bookkeeping.
func (s *AccountStore) RemoveAccount(ctx context.Context, email string) error {
	if err := s.client.SRem(ctx, KeyAccountIndex, email); err != nil {
		return err
	}
	keys, err := s.client.ScanAll(ctx, PrefixRateLimits+email+":*")
	if err == nil && len(keys) > 0 {
		_ = s.client.Delete(ctx, keys...)
	}
	return s.client.Delete(ctx,
		PrefixAccounts+email,
		PrefixQuotas+email,
		PrefixTokenCache+email,
		PrefixProjectCache+email,
		PrefixUsage+email,
	)
}

// SaveRateLimit mirrors one ledger entry. The key carries a TTL slightly
// past the reset so stale mirrors age out on their own.
func (s *AccountStore) SaveRateLimit(ctx context.Context, email, model string, info *RateLimitInfo) error {
	key := fmt.Sprintf("%s%s:%s", PrefixRateLimits, email, model)
	ttl := time.Duration(info.ResetTime-time.Now().UnixMilli())*time.Millisecond + time.Minute
	if ttl < time.Minute {
		ttl = time.Minute
	}
	return s.client.Set(ctx, key, info, ttl)
}

// ClearRateLimit removes the mirror for one account/model pair.
func (s *AccountStore) ClearRateLimit(ctx context.Context, email, model string) error {
	return s.client.Delete(ctx, fmt.Sprintf("%s%s:%s", PrefixRateLimits, email, model))
}

// LoadRateLimits returns all mirrored entries for an account, keyed by model.
func (s *AccountStore) LoadRateLimits(ctx context.Context, email string) (map[string]*RateLimitInfo, error) {
	prefix := fmt.Sprintf("%s%s:", PrefixRateLimits, email)
	keys, err := s.client.ScanAll(ctx, prefix+"*")
	if err != nil {
		return nil, err
	}
	limits := make(map[string]*RateLimitInfo, len(keys))
	for _, key := range keys {
		var info RateLimitInfo
		if err := s.client.Get(ctx, key, &info); err != nil {
			continue
		}
		limits[key[len(prefix):]] = &info
	}
	return limits, nil
}

// SaveQuota mirrors an account's quota snapshot.
func (s *AccountStore) SaveQuota(ctx context.Context, email string, quota *QuotaInfo) error {
	return s.client.Set(ctx, PrefixQuotas+email, quota, 0)
}

// GetQuota loads an account's quota snapshot; nil when missing.
func (s *AccountStore) GetQuota(ctx context.Context, email string) (*QuotaInfo, error) {
	var q QuotaInfo
	err := s.client.Get(ctx, PrefixQuotas+email, &q)
	if IsNil(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// SetCachedToken mirrors a refreshed access token.
func (s *AccountStore) SetCachedToken(ctx context.Context, email, token string, ttl time.Duration) error {
	return s.client.Set(ctx, PrefixTokenCache+email, &CachedToken{
		AccessToken: token,
		ExtractedAt: time.Now(),
	}, ttl)
}

// GetCachedToken loads a mirrored access token; nil when missing.
func (s *AccountStore) GetCachedToken(ctx context.Context, email string) (*CachedToken, error) {
	var tok CachedToken
	err := s.client.Get(ctx, PrefixTokenCache+email, &tok)
	if IsNil(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tok, nil
}

// ClearTokenCache drops the mirrored token for an account.
func (s *AccountStore) ClearTokenCache(ctx context.Context, email string) error {
	return s.client.Delete(ctx, PrefixTokenCache+email)
}

// SetCachedProject mirrors a discovered project ID.
func (s *AccountStore) SetCachedProject(ctx context.Context, email, projectID string) error {
	return s.client.SetString(ctx, PrefixProjectCache+email, projectID, 0)
}

// GetCachedProject loads a mirrored project ID; "" when missing.
func (s *AccountStore) GetCachedProject(ctx context.Context, email string) (string, error) {
	v, err := s.client.GetString(ctx, PrefixProjectCache+email)
	if IsNil(err) {
		return "", nil
	}
	return v, err
}

// ClearProjectCache drops the mirrored project ID for an account.
func (s *AccountStore) ClearProjectCache(ctx context.Context, email string) error {
	return s.client.Delete(ctx, PrefixProjectCache+email)
}

// IncrUsage bumps a per-account usage counter ("success", "rate_limited",
// "failure").
func (s *AccountStore) IncrUsage(ctx context.Context, email, outcome string) error {
	_, err := s.client.HIncrBy(ctx, PrefixUsage+email, outcome, 1)
	return err
}

// GetUsage returns the usage counters for an account.
func (s *AccountStore) GetUsage(ctx context.Context, email string) (map[string]string, error) {
	return s.client.HGetAll(ctx, PrefixUsage+email)
}

// SaveActiveIndex persists the sticky strategy's current index.
func (s *AccountStore) SaveActiveIndex(ctx context.Context, index int) error {
	return s.client.SetString(ctx, KeyActiveIndex, fmt.Sprintf("%d", index), 0)
}

// GetActiveIndex loads the sticky index; -1 when unset.
func (s *AccountStore) GetActiveIndex(ctx context.Context) (int, error) {
	v, err := s.client.GetString(ctx, KeyActiveIndex)
	if IsNil(err) {
		return -1, nil
	}
	if err != nil {
		return -1, err
	}
	var index int
	if _, err := fmt.Sscanf(v, "%d", &index); err != nil {
		return -1, nil
	}
	return index, nil
}
