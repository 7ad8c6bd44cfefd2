package cloud

import (
	"context"
	"encoding/json"

	"github.com/weaveproject/weave/pkg/errs"
	"github.com/weaveproject/weave/pkg/jsonval"
	"github.com/weaveproject/weave/pkg/provider"
	"github.com/weaveproject/weave/pkg/settings"
)

// RegistrationData is the out-of-band information the registration
// flow needs beyond what's already in Settings: the ticket id a
// companion app created by walking the user through OAuth2 consent,
// and the OAuth2 client credentials this device presents as itself.
type RegistrationData struct {
	TicketID     string
	OAuthURL     string
	ServiceURL   string
	ClientID     string
	ClientSecret string
}

// Register implements spec.md §4.7's device registration: claim the
// registration ticket with this device's draft resource, finalize it,
// exchange the returned authorization code for OAuth2 tokens, and
// persist the resulting cloud identity. On success the engine moves to
// Connecting and starts its notification channels.
func (e *Engine) Register(ctx context.Context, data RegistrationData) error {
	if data.TicketID == "" {
		return errs.New(errs.DomainCloud, errs.CodeCredentialsMissing, "cloud.Register", "missing registration ticket id")
	}

	e.settings.Begin().Set(func(s *settings.Settings) {
		s.OAuthURL = data.OAuthURL
		s.ServiceURL = data.ServiceURL
		s.ClientID = data.ClientID
		s.ClientSecret = data.ClientSecret
	}).Commit()

	ticketURL := data.ServiceURL + "registrationTickets/" + data.TicketID
	draft := jsonval.Object()
	if e.snapshot != nil {
		draft = draft.Set("state", e.snapshot())
	}
	patchBody, _ := jsonval.Object().Set("deviceDraft", draft).MarshalJSON()

	apiKey := e.settings.Current().APIKey
	patchURL := ticketURL
	finalizeURL := ticketURL + "/finalize"
	if apiKey != "" {
		patchURL = withQuery(ticketURL, map[string]string{"key": apiKey})
		finalizeURL = withQuery(ticketURL+"/finalize", map[string]string{"key": apiKey})
	}

	if _, err := e.unauthenticatedRequest(ctx, provider.MethodPATCH, patchURL, patchBody); err != nil {
		return errs.Wrap(errs.DomainCloud, errs.CodeUnexpectedResponse, "cloud.Register", "failed to patch registration ticket", err)
	}

	finalizeResp, err := e.unauthenticatedRequest(ctx, provider.MethodPOST, finalizeURL, nil)
	if err != nil {
		return errs.Wrap(errs.DomainCloud, errs.CodeUnexpectedResponse, "cloud.Register", "failed to finalize registration ticket", err)
	}

	var parsed struct {
		RobotAccountEmail string `json:"robotAccountEmail"`
		AuthorizationCode string `json:"robotAccountAuthorizationCode"`
		DeviceDraft       struct {
			ID string `json:"id"`
		} `json:"deviceDraft"`
	}
	if err := json.Unmarshal(finalizeResp.Data, &parsed); err != nil {
		return errs.Wrap(errs.DomainCloud, errs.CodeUnexpectedResponse, "cloud.Register", "malformed finalize response", err)
	}
	if parsed.AuthorizationCode == "" || parsed.DeviceDraft.ID == "" {
		return errs.New(errs.DomainCloud, errs.CodeUnexpectedResponse, "cloud.Register", "finalize response missing authorization code or device id")
	}

	refreshToken, err := e.exchangeAuthorizationCode(ctx, data, parsed.AuthorizationCode)
	if err != nil {
		return err
	}

	e.settings.Begin().Set(func(s *settings.Settings) {
		s.CloudID = parsed.DeviceDraft.ID
		s.RobotAccount = parsed.RobotAccountEmail
		s.RefreshToken = refreshToken
	}).Commit()

	e.setState(Connecting)
	e.afterConnect(ctx)
	return nil
}

// exchangeAuthorizationCode trades the robot account's authorization
// code for a refresh token via the standard OAuth2 grant_type=
// authorization_code flow.
func (e *Engine) exchangeAuthorizationCode(ctx context.Context, data RegistrationData, code string) (string, error) {
	body := formEncode(map[string]string{
		"grant_type":    "authorization_code",
		"code":          code,
		"client_id":     data.ClientID,
		"client_secret": data.ClientSecret,
	})
	headers := map[string]string{"Content-Type": "application/x-www-form-urlencoded"}
	resp, err := awaitResponse(ctx, e.http, provider.MethodPOST, data.OAuthURL+"token", headers, body)
	if err != nil {
		return "", errs.Wrap(errs.DomainProvider, errs.CodeTransportFailed, "cloud.exchangeAuthorizationCode", "token exchange transport failure", err)
	}
	var parsed struct {
		RefreshToken string `json:"refresh_token"`
		Error        string `json:"error"`
	}
	_ = json.Unmarshal(resp.Data, &parsed)
	if parsed.Error != "" || parsed.RefreshToken == "" {
		return "", errs.New(errs.DomainCloud, errs.CodeUnexpectedResponse, "cloud.exchangeAuthorizationCode", "token exchange rejected: "+parsed.Error)
	}
	return parsed.RefreshToken, nil
}

// unauthenticatedRequest is do_cloud_request's plain counterpart for
// the two registration calls made before this device has an access
// token of its own.
func (e *Engine) unauthenticatedRequest(ctx context.Context, method provider.Method, url string, body []byte) (*provider.Response, error) {
	headers := map[string]string{"Content-Type": "application/json"}
	resp, err := awaitResponse(ctx, e.http, method, url, headers, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, errs.New(errs.DomainCloud, errs.CodeUnexpectedResponse, "cloud.unauthenticatedRequest", "registration call failed")
	}
	return resp, nil
}
