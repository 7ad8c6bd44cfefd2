package privet

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"time"

	"github.com/weaveproject/weave/pkg/authscope"
	"github.com/weaveproject/weave/pkg/errs"
	"github.com/weaveproject/weave/pkg/macaroon"
)

func (m *Manager) createAnonymousToken(desiredScope authscope.Scope) (string, authscope.Scope, time.Duration, error) {
	cfg := m.settings.Current()
	granted := authscope.Min(cfg.LocalAnonymousAccessRole, desiredScope)
	token := macaroon.NewAccessToken(cfg.Secret[:], granted, "", time.Now())
	return token, granted, macaroon.AccessTokenTTL, nil
}

func (m *Manager) createPairingToken(authCode string, desiredScope authscope.Scope) (string, authscope.Scope, time.Duration, error) {
	m.mu.Lock()
	var matched *session
	for _, s := range m.confirmed {
		expected := hmac.New(sha256.New, s.sharedKey)
		expected.Write([]byte(s.id))
		sum := expected.Sum(nil)
		if hmac.Equal(sum, decodeOrRaw(authCode)) {
			matched = s
			break
		}
	}
	m.mu.Unlock()

	if matched == nil {
		return "", authscope.None, 0, errs.New(errs.DomainAuth, errs.CodeInvalidAuthCode, "privet.createPairingToken", "no confirmed session matches auth code")
	}

	m.mu.Lock()
	m.failures = 0
	m.blockedUntil = time.Time{}
	m.mu.Unlock()

	cfg := m.settings.Current()
	granted := authscope.Min(authscope.Owner, desiredScope)
	token := macaroon.NewAccessToken(cfg.Secret[:], granted, matched.id, time.Now())
	return token, granted, macaroon.AccessTokenTTL, nil
}

func decodeOrRaw(s string) []byte {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b
	}
	return []byte(s)
}
