package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/weaveproject/weave/pkg/errs"
	"github.com/weaveproject/weave/pkg/provider"
)

// awaitResponse turns provider.HTTPClient's callback-based SendRequest
// into a blocking call, so the rest of the engine reads as plain
// sequential Go instead of a chain of continuations — the host's
// client is free to implement SendRequest with its own goroutines;
// this just waits on the one response that matters to the caller.
func awaitResponse(ctx context.Context, client provider.HTTPClient, method provider.Method, url string, headers map[string]string, body []byte) (*provider.Response, error) {
	type result struct {
		resp *provider.Response
		err  error
	}
	ch := make(chan result, 1)
	client.SendRequest(ctx, method, url, headers, body, func(resp *provider.Response, err error) {
		ch <- result{resp, err}
	})
	select {
	case r := <-ch:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// doCloudRequest implements spec.md §4.7's do_cloud_request: attaches
// bearer auth, retries once on 401 after a token refresh, and retries
// on 5xx / rate-limited 403 after informing the backoff. Credential
// invalidation (invalid_grant during refresh) surfaces as
// errs.CodeInvalidGrant and clears the stored credentials, so later
// calls fail with errs.CodeCredentialsMissing.
func (e *Engine) doCloudRequest(ctx context.Context, method provider.Method, reqURL string, body []byte) (*apiResponse, error) {
	for attempt := 0; ; attempt++ {
		cfg := e.settings.Current()
		if cfg.RefreshToken == "" {
			return nil, errs.New(errs.DomainCloud, errs.CodeCredentialsMissing, "cloud.doCloudRequest", "no credentials")
		}

		token, err := e.ensureAccessToken(ctx)
		if err != nil {
			return nil, err
		}

		headers := map[string]string{
			"Authorization": "Bearer " + token,
			"Content-Type":  "application/json",
		}
		resp, err := awaitResponse(ctx, e.http, method, reqURL, headers, body)
		if err != nil {
			return nil, errs.Wrap(errs.DomainProvider, errs.CodeTransportFailed, "cloud.doCloudRequest", "http transport failure", err)
		}

		switch {
		case resp.StatusCode == 401 && attempt == 0:
			e.invalidateAccessToken()
			continue
		case resp.StatusCode >= 500 || isRateLimited(resp):
			delay := e.backoff.Next()
			if attempt < maxRetries {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
				continue
			}
			return nil, errs.New(errs.DomainCloud, errs.CodeRateLimited, "cloud.doCloudRequest", fmt.Sprintf("retried %d times, still failing (%d)", attempt, resp.StatusCode))
		case resp.StatusCode >= 400:
			parsed := parseAPIResponse(resp)
			if parsed.ErrorCode == errs.CodeInvalidLastUpdateTs {
				return parsed, nil
			}
			return nil, errs.New(errs.DomainCloud, errs.CodeUnexpectedResponse, "cloud.doCloudRequest", fmt.Sprintf("http %d: %s", resp.StatusCode, parsed.ErrorCode))
		default:
			e.backoff.Reset()
			e.setState(Connected)
			return parseAPIResponse(resp), nil
		}
	}
}

const maxRetries = 5

func isRateLimited(resp *provider.Response) bool {
	if resp.StatusCode != 403 {
		return false
	}
	parsed := parseAPIResponse(resp)
	return parsed.ErrorCode == "rateLimitExceeded"
}

// apiResponse is the minimally-parsed shape of a cloud JSON response.
type apiResponse struct {
	StatusCode int
	ErrorCode  string
	Raw        map[string]any
}

func parseAPIResponse(resp *provider.Response) *apiResponse {
	var raw map[string]any
	_ = json.Unmarshal(resp.Data, &raw)
	errCode := ""
	if errObj, ok := raw["error"].(map[string]any); ok {
		if code, ok := errObj["code"].(string); ok {
			errCode = code
		}
	} else if code, ok := raw["error"].(string); ok {
		errCode = code
	}
	return &apiResponse{StatusCode: resp.StatusCode, ErrorCode: errCode, Raw: raw}
}

func formEncode(values map[string]string) []byte {
	v := url.Values{}
	for k, val := range values {
		v.Set(k, val)
	}
	return []byte(v.Encode())
}

func withQuery(base string, params map[string]string) string {
	var b strings.Builder
	b.WriteString(base)
	first := true
	for k, v := range params {
		if first {
			b.WriteByte('?')
			first = false
		} else {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(v))
	}
	return b.String()
}
