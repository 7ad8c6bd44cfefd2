package macaroon

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/weaveproject/weave/pkg/authscope"
)

// AccessTokenTTL is the fixed lifetime of every minted access token
// (spec.md §5).
const AccessTokenTTL = time.Hour

const accessTokenMACSize = sha256.Size // 32 bytes, per spec.md §3

// NewAccessToken mints spec.md §4.4's access-token scheme:
// HMAC(root_secret, "scope:user_id:unix_time") || "scope:user_id:unix_time",
// base64-encoded.
func NewAccessToken(rootSecret []byte, scope authscope.Scope, userID string, issuedAt time.Time) string {
	payload := payloadString(scope, userID, issuedAt)
	mac := hmac.New(sha256.New, rootSecret)
	mac.Write([]byte(payload))
	sum := mac.Sum(nil)
	raw := append(sum, []byte(payload)...)
	return base64.StdEncoding.EncodeToString(raw)
}

func payloadString(scope authscope.Scope, userID string, issuedAt time.Time) string {
	return fmt.Sprintf("%s:%s:%d", scope.String(), userID, issuedAt.Unix())
}

// ParseAccessToken validates and decodes an access token minted by
// NewAccessToken, rejecting tampered tokens and tokens past their
// 1-hour TTL.
func ParseAccessToken(rootSecret []byte, token string) (scope authscope.Scope, userID string, issuedAt time.Time, err error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return authscope.None, "", time.Time{}, fmt.Errorf("macaroon: invalid access token encoding: %w", err)
	}
	if len(raw) <= accessTokenMACSize {
		return authscope.None, "", time.Time{}, fmt.Errorf("macaroon: access token too short")
	}
	sum, payload := raw[:accessTokenMACSize], raw[accessTokenMACSize:]

	mac := hmac.New(sha256.New, rootSecret)
	mac.Write(payload)
	expected := mac.Sum(nil)
	if !hmac.Equal(sum, expected) {
		return authscope.None, "", time.Time{}, fmt.Errorf("macaroon: access token MAC mismatch")
	}

	parts := strings.SplitN(string(payload), ":", 3)
	if len(parts) != 3 {
		return authscope.None, "", time.Time{}, fmt.Errorf("macaroon: malformed access token payload")
	}
	scope, err = authscope.ParseScope(parts[0])
	if err != nil {
		return authscope.None, "", time.Time{}, err
	}
	userID = parts[1]
	unixSecs, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return authscope.None, "", time.Time{}, fmt.Errorf("macaroon: malformed access token timestamp: %w", err)
	}
	issuedAt = time.Unix(unixSecs, 0)

	if time.Since(issuedAt) > AccessTokenTTL {
		return authscope.None, "", time.Time{}, fmt.Errorf("macaroon: access token expired")
	}
	return scope, userID, issuedAt, nil
}
