package cloud

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/weaveproject/weave/pkg/errs"
	"github.com/weaveproject/weave/pkg/provider"
	"github.com/weaveproject/weave/pkg/settings"
)

type fakeConfigStore struct{ blob string }

func (f *fakeConfigStore) LoadDefaults(map[string]any)    {}
func (f *fakeConfigStore) LoadSettings() (string, error)  { return f.blob, nil }
func (f *fakeConfigStore) SaveSettings(blob string) error { f.blob = blob; return nil }

type scheduledTask struct {
	delay time.Duration
	task  func()
}

type fakeRunner struct {
	mu    sync.Mutex
	tasks []*scheduledTask
}

func (r *fakeRunner) PostDelayed(fromHere string, task func(), delay time.Duration) provider.CancelFunc {
	t := &scheduledTask{delay: delay, task: task}
	r.mu.Lock()
	r.tasks = append(r.tasks, t)
	r.mu.Unlock()
	return func() { t.task = nil }
}

type fakeCall struct {
	method  provider.Method
	url     string
	headers map[string]string
	body    []byte
}

type fakeResponse struct {
	resp *provider.Response
	err  error
}

// fakeHTTPClient answers SendRequest synchronously from a queue of
// canned responses, consumed in call order — doCloudRequest and
// refreshToken both block on the callback via awaitResponse, so a
// synchronous callback is equivalent to a real async transport here.
type fakeHTTPClient struct {
	mu        sync.Mutex
	responses []fakeResponse
	calls     []fakeCall
}

func (c *fakeHTTPClient) enqueue(statusCode int, body string) {
	c.mu.Lock()
	c.responses = append(c.responses, fakeResponse{resp: &provider.Response{StatusCode: statusCode, Data: []byte(body)}})
	c.mu.Unlock()
}

func (c *fakeHTTPClient) SendRequest(ctx context.Context, method provider.Method, url string, headers map[string]string, body []byte, cb provider.HTTPClientCallback) {
	c.mu.Lock()
	c.calls = append(c.calls, fakeCall{method, url, headers, body})
	var r fakeResponse
	if len(c.responses) > 0 {
		r = c.responses[0]
		c.responses = c.responses[1:]
	} else {
		r = fakeResponse{resp: &provider.Response{StatusCode: 200, Data: []byte(`{}`)}}
	}
	c.mu.Unlock()
	cb(r.resp, r.err)
}

// newTestEngine builds an Engine with a fast backoff (so retry tests
// don't actually wait out the real 1s->30s sequence) and credentials
// already configured, ready for doCloudRequest.
func newTestEngine(t *testing.T) (*Engine, *fakeHTTPClient, *fakeRunner) {
	t.Helper()
	http := &fakeHTTPClient{}
	runner := &fakeRunner{}
	st, err := settings.New(&fakeConfigStore{}, nil)
	if err != nil {
		t.Fatalf("settings.New: %v", err)
	}
	e := New(st, http, runner, nil, nil, nil, nil, nil)
	e.backoff.Initial = time.Millisecond
	e.backoff.Max = time.Millisecond
	e.tokenBackoff.Initial = time.Millisecond
	e.tokenBackoff.Max = time.Millisecond
	return e, http, runner
}

func configureCredentials(t *testing.T, e *Engine) {
	t.Helper()
	err := e.settings.Begin().Set(func(s *settings.Settings) {
		s.OAuthURL = "https://oauth.example/"
		s.ServiceURL = "https://cloud.example/"
		s.ClientID = "client-id"
		s.ClientSecret = "client-secret"
		s.RefreshToken = "refresh-token"
		s.CloudID = "device-1"
	}).Commit()
	if err != nil {
		t.Fatalf("configureCredentials: %v", err)
	}
}

func TestDoCloudRequestRetriesOn500ThenSucceeds(t *testing.T) {
	e, http, _ := newTestEngine(t)
	configureCredentials(t, e)

	http.enqueue(200, `{"access_token":"token-a","expires_in":3600}`)
	http.enqueue(500, `{}`)
	http.enqueue(500, `{}`)
	http.enqueue(200, `{"commands":[]}`)

	resp, err := e.doCloudRequest(context.Background(), provider.MethodGET, "https://cloud.example/devices/device-1/commands", nil)
	if err != nil {
		t.Fatalf("doCloudRequest: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected final status 200, got %d", resp.StatusCode)
	}
	if e.State() != Connected {
		t.Fatalf("expected state Connected after success, got %v", e.State())
	}
}

func TestDoCloudRequestRefreshesTokenOn401Once(t *testing.T) {
	e, http, _ := newTestEngine(t)
	configureCredentials(t, e)

	http.enqueue(200, `{"access_token":"token-a","expires_in":3600}`)
	http.enqueue(401, `{}`)
	http.enqueue(200, `{"access_token":"token-b","expires_in":3600}`)
	http.enqueue(200, `{"ok":true}`)

	_, err := e.doCloudRequest(context.Background(), provider.MethodGET, "https://cloud.example/devices/device-1", nil)
	if err != nil {
		t.Fatalf("doCloudRequest: %v", err)
	}
	if len(http.calls) != 4 {
		t.Fatalf("expected 4 HTTP calls (token, 401, token, retry), got %d", len(http.calls))
	}
	if http.calls[3].headers["Authorization"] != "Bearer token-b" {
		t.Fatalf("expected the retried request to use the refreshed token, got %q", http.calls[3].headers["Authorization"])
	}
}

func TestDoCloudRequestExhaustsRetries(t *testing.T) {
	e, http, _ := newTestEngine(t)
	configureCredentials(t, e)

	http.enqueue(200, `{"access_token":"token-a","expires_in":3600}`)
	for i := 0; i < maxRetries+1; i++ {
		http.enqueue(503, `{}`)
	}

	_, err := e.doCloudRequest(context.Background(), provider.MethodGET, "https://cloud.example/devices/device-1", nil)
	if err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	if !errs.Is(err, errs.CodeRateLimited) {
		t.Fatalf("expected CodeRateLimited, got %v", err)
	}
}

func TestDoCloudRequestNoCredentials(t *testing.T) {
	e, _, _ := newTestEngine(t)
	_, err := e.doCloudRequest(context.Background(), provider.MethodGET, "https://cloud.example/devices/device-1", nil)
	if !errs.Is(err, errs.CodeCredentialsMissing) {
		t.Fatalf("expected CodeCredentialsMissing with no refresh token, got %v", err)
	}
}

func TestRegisterAttachesAPIKeyAndPersistsCredentials(t *testing.T) {
	e, http, runner := newTestEngine(t)
	_ = e.settings.Begin().Set(func(s *settings.Settings) {
		s.APIKey = "test-api-key"
	}).Commit()

	http.enqueue(200, `{}`)
	http.enqueue(200, `{"robotAccountEmail":"robot@example.com","robotAccountAuthorizationCode":"auth-code","deviceDraft":{"id":"device-1"}}`)
	http.enqueue(200, `{"refresh_token":"new-refresh-token"}`)

	err := e.Register(context.Background(), RegistrationData{
		TicketID:     "ticket-1",
		OAuthURL:     "https://oauth.example/",
		ServiceURL:   "https://cloud.example/",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if len(http.calls) != 3 {
		t.Fatalf("expected 3 HTTP calls (patch, finalize, token exchange), got %d", len(http.calls))
	}
	wantPatch := "https://cloud.example/registrationTickets/ticket-1?key=test-api-key"
	if http.calls[0].url != wantPatch {
		t.Fatalf("expected PATCH url %q, got %q", wantPatch, http.calls[0].url)
	}
	wantFinalize := "https://cloud.example/registrationTickets/ticket-1/finalize?key=test-api-key"
	if http.calls[1].url != wantFinalize {
		t.Fatalf("expected finalize url %q, got %q", wantFinalize, http.calls[1].url)
	}

	cfg := e.settings.Current()
	if cfg.CloudID != "device-1" || cfg.RobotAccount != "robot@example.com" || cfg.RefreshToken != "new-refresh-token" {
		t.Fatalf("expected registration to persist cloud identity, got %+v", cfg)
	}
	if e.State() != Connecting {
		t.Fatalf("expected state Connecting after registration, got %v", e.State())
	}

	// afterConnect schedules reconciliation on the runner rather than
	// running it inline, so no extra HTTP calls happen until it fires.
	if len(runner.tasks) == 0 {
		t.Fatal("expected afterConnect to schedule at least one task on the runner")
	}
}

func TestRegisterMissingTicketID(t *testing.T) {
	e, http, _ := newTestEngine(t)
	err := e.Register(context.Background(), RegistrationData{})
	if !errs.Is(err, errs.CodeCredentialsMissing) {
		t.Fatalf("expected CodeCredentialsMissing for a missing ticket id, got %v", err)
	}
	if len(http.calls) != 0 {
		t.Fatalf("expected no HTTP calls for a rejected registration, got %d", len(http.calls))
	}
}

func TestRegisterFinalizeFailure(t *testing.T) {
	e, http, _ := newTestEngine(t)
	http.enqueue(200, `{}`)
	http.enqueue(400, `{"error":"invalid_ticket"}`)

	err := e.Register(context.Background(), RegistrationData{
		TicketID:   "ticket-1",
		OAuthURL:   "https://oauth.example/",
		ServiceURL: "https://cloud.example/",
	})
	if !errs.Is(err, errs.CodeUnexpectedResponse) {
		t.Fatalf("expected CodeUnexpectedResponse on a rejected finalize, got %v", err)
	}
}

func TestRefreshTokenInvalidGrantClearsCredentials(t *testing.T) {
	e, http, _ := newTestEngine(t)
	configureCredentials(t, e)
	http.enqueue(200, `{"error":"invalid_grant"}`)

	_, err := e.refreshToken(context.Background())
	if !errs.Is(err, errs.CodeInvalidGrant) {
		t.Fatalf("expected CodeInvalidGrant, got %v", err)
	}
	cfg := e.settings.Current()
	if cfg.RefreshToken != "" || cfg.CloudID != "" {
		t.Fatalf("expected invalid_grant to clear persisted credentials, got %+v", cfg)
	}
	if e.State() != InvalidCredentials {
		t.Fatalf("expected state InvalidCredentials, got %v", e.State())
	}
}
