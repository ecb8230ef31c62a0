package account

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/poemonsense/cloudcode-relay/internal/auth"
	"github.com/poemonsense/cloudcode-relay/internal/config"
	"github.com/poemonsense/cloudcode-relay/internal/utils"
	"github.com/poemonsense/cloudcode-relay/pkg/redis"
)

type cachedToken struct {
	token     string
	expiresAt time.Time
}

// Credentials resolves access tokens for accounts, with a two-level cache:
// in-memory for the hot path and redis so restarts reuse unexpired tokens.
type Credentials struct {
	mu    sync.RWMutex
	store *redis.AccountStore
	cache map[string]*cachedToken
}

// NewCredentials creates a credentials manager. store may be nil.
func NewCredentials(store *redis.AccountStore) *Credentials {
	return &Credentials{
		store: store,
		cache: make(map[string]*cachedToken),
	}
}

// GetAccessToken returns a valid access token for the account.
func (c *Credentials) GetAccessToken(ctx context.Context, acc *redis.Account) (string, error) {
	if acc == nil {
		return "", fmt.Errorf("account is nil")
	}

	c.mu.RLock()
	cached, ok := c.cache[acc.Email]
	c.mu.RUnlock()
	if ok && cached.expiresAt.After(time.Now()) {
		return cached.token, nil
	}

	ttl := time.Duration(config.TokenCacheTTLMs) * time.Millisecond

	if c.store != nil {
		mirrored, err := c.store.GetCachedToken(ctx, acc.Email)
		if err == nil && mirrored != nil && mirrored.AccessToken != "" &&
			time.Since(mirrored.ExtractedAt) < ttl {
			c.put(acc.Email, mirrored.AccessToken, ttl)
			return mirrored.AccessToken, nil
		}
	}

	token, err := c.freshToken(ctx, acc)
	if err != nil {
		return "", err
	}

	c.put(acc.Email, token, ttl)
	if c.store != nil {
		_ = c.store.SetCachedToken(ctx, acc.Email, token, ttl)
	}
	return token, nil
}

func (c *Credentials) freshToken(ctx context.Context, acc *redis.Account) (string, error) {
	switch acc.Source {
	case "oauth", "database":
		if acc.RefreshToken == "" {
			return "", fmt.Errorf("no refresh token for account %s", acc.Email)
		}
		utils.Debug("[Credentials] Refreshing OAuth token for %s", utils.MaskEmail(acc.Email))
		result, err := auth.RefreshAccessToken(ctx, acc.RefreshToken)
		if err != nil {
			utils.Error("[Credentials] Token refresh failed for %s: %v", utils.MaskEmail(acc.Email), err)
			return "", err
		}
		return result.AccessToken, nil

	case "manual":
		if acc.APIKey != "" {
			return acc.APIKey, nil
		}
		return "", fmt.Errorf("no API key for manual account %s", acc.Email)

	default:
		return "", fmt.Errorf("unknown account source %q", acc.Source)
	}
}

func (c *Credentials) put(email, token string, ttl time.Duration) {
	c.mu.Lock()
	c.cache[email] = &cachedToken{token: token, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
}

// ClearCacheForAccount drops both cache levels for an account.
func (c *Credentials) ClearCacheForAccount(ctx context.Context, email string) {
	c.mu.Lock()
	delete(c.cache, email)
	c.mu.Unlock()
	if c.store != nil {
		_ = c.store.ClearTokenCache(ctx, email)
	}
}
