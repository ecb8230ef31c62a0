// Package auth handles Google OAuth for pool accounts: PKCE onboarding,
// access-token refresh, and project discovery.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/poemonsense/cloudcode-relay/internal/config"
	"github.com/poemonsense/cloudcode-relay/internal/utils"
)

// RefreshParts are the components of a composite refresh token:
// refreshToken|projectId|managedProjectId.
type RefreshParts struct {
	RefreshToken     string
	ProjectID        string
	ManagedProjectID string
}

// ParseRefreshParts splits a composite refresh token.
func ParseRefreshParts(refresh string) RefreshParts {
	parts := strings.Split(refresh, "|")
	result := RefreshParts{}
	if len(parts) > 0 {
		result.RefreshToken = parts[0]
	}
	if len(parts) > 1 {
		result.ProjectID = parts[1]
	}
	if len(parts) > 2 {
		result.ManagedProjectID = parts[2]
	}
	return result
}

// PKCE holds a code verifier/challenge pair.
type PKCE struct {
	Verifier  string
	Challenge string
}

// GeneratePKCE creates a verifier and its S256 challenge.
func GeneratePKCE() (*PKCE, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("failed to generate verifier: %w", err)
	}
	verifier := base64.RawURLEncoding.EncodeToString(raw)
	hash := sha256.Sum256([]byte(verifier))
	return &PKCE{
		Verifier:  verifier,
		Challenge: base64.RawURLEncoding.EncodeToString(hash[:]),
	}, nil
}

// AuthorizationURL builds the consent URL and returns it with the PKCE
// verifier and CSRF state.
func AuthorizationURL() (authURL, verifier, state string, err error) {
	pkce, err := GeneratePKCE()
	if err != nil {
		return "", "", "", err
	}
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", "", "", err
	}
	state = hex.EncodeToString(raw)

	params := url.Values{
		"client_id":             {config.OAuthClientID},
		"redirect_uri":          {fmt.Sprintf("http://localhost:%d/oauth-callback", config.OAuthCallbackPort)},
		"response_type":         {"code"},
		"scope":                 {strings.Join(config.OAuthScopes, " ")},
		"access_type":           {"offline"},
		"prompt":                {"consent"},
		"code_challenge":        {pkce.Challenge},
		"code_challenge_method": {"S256"},
		"state":                 {state},
	}
	return config.OAuthAuthURL + "?" + params.Encode(), pkce.Verifier, state, nil
}

func postForm(ctx context.Context, data url.Values) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, config.OAuthTokenURL,
		strings.NewReader(data.Encode()))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	return body, resp.StatusCode, err
}

// Tokens is the token-endpoint response.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// ExchangeCode trades an authorization code for tokens.
func ExchangeCode(ctx context.Context, code, verifier string) (*Tokens, error) {
	body, status, err := postForm(ctx, url.Values{
		"client_id":     {config.OAuthClientID},
		"client_secret": {config.OAuthClientSecret},
		"code":          {code},
		"code_verifier": {verifier},
		"grant_type":    {"authorization_code"},
		"redirect_uri":  {fmt.Sprintf("http://localhost:%d/oauth-callback", config.OAuthCallbackPort)},
	})
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("token exchange failed: %s", string(body))
	}

	var tokens Tokens
	if err := json.Unmarshal(body, &tokens); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tokens.AccessToken == "" {
		return nil, fmt.Errorf("no access token in response")
	}
	return &tokens, nil
}

// RefreshResult is the outcome of an access-token refresh.
type RefreshResult struct {
	AccessToken string
	ExpiresIn   int
}

// RefreshAccessToken refreshes an access token. Composite refresh tokens
// (refreshToken|projectId|...) are accepted.
func RefreshAccessToken(ctx context.Context, compositeRefresh string) (*RefreshResult, error) {
	parts := ParseRefreshParts(compositeRefresh)
	body, status, err := postForm(ctx, url.Values{
		"client_id":     {config.OAuthClientID},
		"client_secret": {config.OAuthClientSecret},
		"refresh_token": {parts.RefreshToken},
		"grant_type":    {"refresh_token"},
	})
	if err != nil {
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("token refresh failed: %s", string(body))
	}

	var result RefreshResult
	var parsed struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	result.AccessToken = parsed.AccessToken
	result.ExpiresIn = parsed.ExpiresIn
	return &result, nil
}

// GetUserEmail resolves the email behind an access token.
func GetUserEmail(ctx context.Context, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, config.OAuthUserInfoURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("user info request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("user info request failed with status %d", resp.StatusCode)
	}
	var userInfo struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&userInfo); err != nil {
		return "", fmt.Errorf("failed to parse user info: %w", err)
	}
	return userInfo.Email, nil
}

// DiscoverProjectID finds the account's Cloud Code project via
// loadCodeAssist, onboarding the user onto the default tier when no project
// exists yet. Returns "" when discovery fails everywhere.
func DiscoverProjectID(ctx context.Context, accessToken string) (string, error) {
	var lastData map[string]interface{}

	for _, endpoint := range config.EndpointFallbacks {
		projectID, data, err := loadCodeAssist(ctx, accessToken, endpoint)
		if err != nil {
			utils.Warn("[OAuth] Project discovery failed at %s: %v", endpoint, err)
			continue
		}
		if projectID != "" {
			return projectID, nil
		}
		lastData = data
		break
	}

	if lastData != nil {
		tierID := defaultTierID(lastData)
		if tierID == "" {
			tierID = "FREE"
		}
		utils.Info("[OAuth] No project found, onboarding with tier %s", tierID)
		if projectID, err := onboardUser(ctx, accessToken, tierID); err == nil && projectID != "" {
			return projectID, nil
		}
	}
	return "", nil
}

func loadCodeAssist(ctx context.Context, accessToken, endpoint string) (string, map[string]interface{}, error) {
	reqBody := map[string]interface{}{
		"metadata": map[string]string{
			"ideType":    "IDE_UNSPECIFIED",
			"platform":   "PLATFORM_UNSPECIFIED",
			"pluginType": "GEMINI",
		},
	}
	data, err := cloudCodePost(ctx, accessToken, endpoint+"/v1internal:loadCodeAssist", reqBody)
	if err != nil {
		return "", nil, err
	}

	if projectID, ok := data["cloudaicompanionProject"].(string); ok && projectID != "" {
		return projectID, data, nil
	}
	if obj, ok := data["cloudaicompanionProject"].(map[string]interface{}); ok {
		if projectID, ok := obj["id"].(string); ok && projectID != "" {
			return projectID, data, nil
		}
	}
	return "", data, nil
}

func onboardUser(ctx context.Context, accessToken, tierID string) (string, error) {
	reqBody := map[string]interface{}{
		"tierId": tierID,
		"metadata": map[string]string{
			"ideType":    "IDE_UNSPECIFIED",
			"platform":   "PLATFORM_UNSPECIFIED",
			"pluginType": "GEMINI",
		},
	}
	for _, endpoint := range config.EndpointFallbacks {
		data, err := cloudCodePost(ctx, accessToken, endpoint+"/v1internal:onboardUser", reqBody)
		if err != nil {
			continue
		}
		if resp, ok := data["response"].(map[string]interface{}); ok {
			if proj, ok := resp["cloudaicompanionProject"].(map[string]interface{}); ok {
				if id, ok := proj["id"].(string); ok && id != "" {
					return id, nil
				}
			}
		}
	}
	return "", fmt.Errorf("onboarding produced no project")
}

func cloudCodePost(ctx context.Context, accessToken, url string, body interface{}) (map[string]interface{}, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(jsonBody)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	for k, v := range config.CloudCodeHeaders() {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	var data map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, err
	}
	return data, nil
}

func defaultTierID(data map[string]interface{}) string {
	tiers, ok := data["allowedTiers"].([]interface{})
	if !ok || len(tiers) == 0 {
		return ""
	}
	for _, tier := range tiers {
		m, ok := tier.(map[string]interface{})
		if !ok {
			continue
		}
		if isDefault, _ := m["isDefault"].(bool); isDefault {
			if id, ok := m["id"].(string); ok {
				return id
			}
		}
	}
	if first, ok := tiers[0].(map[string]interface{}); ok {
		if id, ok := first["id"].(string); ok {
			return id
		}
	}
	return ""
}
