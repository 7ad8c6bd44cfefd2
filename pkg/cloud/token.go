package cloud

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/oauth2"

	"github.com/weaveproject/weave/pkg/errs"
	"github.com/weaveproject/weave/pkg/provider"
	"github.com/weaveproject/weave/pkg/settings"
)

// ensureAccessToken returns a valid access token, refreshing first if
// the cached one is absent or expired.
func (e *Engine) ensureAccessToken(ctx context.Context) (string, error) {
	e.mu.Lock()
	tok := e.token
	e.mu.Unlock()

	if tok != nil && tok.Valid() {
		return tok.AccessToken, nil
	}
	return e.refreshToken(ctx)
}

func (e *Engine) invalidateAccessToken() {
	e.mu.Lock()
	e.token = nil
	e.mu.Unlock()
}

// refreshToken implements spec.md §4.7's token refresh: POST
// {oauth_url}token with grant_type=refresh_token, retried on
// transient failure with its own independent exponential backoff
// (separate from the cloud-request Backoff, since a token refresh
// failure doesn't necessarily mean the underlying resource call should
// also back off). error=invalid_grant wipes credentials and moves the
// engine to InvalidCredentials.
func (e *Engine) refreshToken(ctx context.Context) (string, error) {
	cfg := e.settings.Current()
	if cfg.RefreshToken == "" {
		return "", errs.New(errs.DomainCloud, errs.CodeCredentialsMissing, "cloud.refreshToken", "no refresh token")
	}

	for attempt := 0; attempt < maxRetries; attempt++ {
		body := formEncode(map[string]string{
			"grant_type":    "refresh_token",
			"refresh_token": cfg.RefreshToken,
			"client_id":     cfg.ClientID,
			"client_secret": cfg.ClientSecret,
		})
		headers := map[string]string{"Content-Type": "application/x-www-form-urlencoded"}
		resp, err := awaitResponse(ctx, e.http, provider.MethodPOST, cfg.OAuthURL+"token", headers, body)
		if err != nil {
			time.Sleep(e.tokenBackoff.Next())
			continue
		}

		var parsed struct {
			AccessToken string `json:"access_token"`
			ExpiresIn   int64  `json:"expires_in"`
			Error       string `json:"error"`
		}
		_ = json.Unmarshal(resp.Data, &parsed)

		if parsed.Error == "invalid_grant" {
			e.clearCredentials()
			e.setState(InvalidCredentials)
			return "", errs.New(errs.DomainCloud, errs.CodeInvalidGrant, "cloud.refreshToken", "refresh token rejected")
		}
		if resp.StatusCode >= 500 {
			time.Sleep(e.tokenBackoff.Next())
			continue
		}
		if parsed.AccessToken == "" {
			return "", errs.New(errs.DomainCloud, errs.CodeUnexpectedResponse, "cloud.refreshToken", "token response missing access_token")
		}

		e.tokenBackoff.Reset()
		tok := &oauth2.Token{
			AccessToken: parsed.AccessToken,
			TokenType:   "Bearer",
			Expiry:      time.Now().Add(time.Duration(parsed.ExpiresIn) * time.Second),
		}
		e.mu.Lock()
		e.token = tok
		e.mu.Unlock()
		return tok.AccessToken, nil
	}
	return "", errs.New(errs.DomainCloud, errs.CodeUnexpectedResponse, "cloud.refreshToken", "exhausted retries refreshing token")
}

// clearCredentials wipes the persisted cloud identity, used when the
// refresh token is rejected outright.
func (e *Engine) clearCredentials() {
	tx := e.settings.Begin().Set(func(s *settings.Settings) {
		s.RefreshToken = ""
		s.CloudID = ""
		s.RobotAccount = ""
	})
	_ = tx.Commit()
	e.mu.Lock()
	e.token = nil
	e.mu.Unlock()
}
