package weave

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/weaveproject/weave/pkg/authscope"
	"github.com/weaveproject/weave/pkg/cloud"
	"github.com/weaveproject/weave/pkg/command"
	"github.com/weaveproject/weave/pkg/errs"
	"github.com/weaveproject/weave/pkg/jsonval"
	"github.com/weaveproject/weave/pkg/macaroon"
	"github.com/weaveproject/weave/pkg/provider"
)

// registerWireSurface wires the Privet endpoints handler.go leaves
// unrouted (spec.md §6): /privet/info, /privet/v3/state,
// /privet/v3/commandDefs, /privet/v3/checkForUpdates,
// /privet/v3/commands/*, and /privet/v3/setup/*. The pairing and auth
// endpoints are registered by privet.Handler itself.
func (d *Device) registerWireSurface() {
	if d.httpServer == nil {
		return
	}

	d.httpServer.AddHTTPRequestHandler("/privet/info", d.serveInfo)
	d.httpServer.AddHTTPSRequestHandler("/privet/info", d.serveInfo)
	d.privetHandler.Register(d.httpServer)

	d.httpServer.AddHTTPSRequestHandler("/privet/v3/state", d.withAuth(authscope.Viewer, d.serveState))
	d.httpServer.AddHTTPSRequestHandler("/privet/v3/commandDefs", d.withAuth(authscope.Viewer, d.serveCommandDefs))
	d.httpServer.AddHTTPSRequestHandler("/privet/v3/checkForUpdates", d.withAuth(authscope.Viewer, d.serveCheckForUpdates))
	d.httpServer.AddHTTPSRequestHandler("/privet/v3/commands/execute", d.withAuth(authscope.User, d.serveCommandsExecute))
	d.httpServer.AddHTTPSRequestHandler("/privet/v3/commands/status", d.withAuth(authscope.Viewer, d.serveCommandsStatus))
	d.httpServer.AddHTTPSRequestHandler("/privet/v3/commands/cancel", d.withAuth(authscope.User, d.serveCommandsCancel))
	d.httpServer.AddHTTPSRequestHandler("/privet/v3/commands/list", d.withAuth(authscope.Viewer, d.serveCommandsList))
	d.httpServer.AddHTTPSRequestHandler("/privet/v3/setup/start", d.withAuth(authscope.Manager, d.serveSetupStart))
	d.httpServer.AddHTTPSRequestHandler("/privet/v3/setup/status", d.withAuth(authscope.Viewer, d.serveSetupStatus))
}

// withAuth enforces spec.md §6's "Authorization: Privet <access_token>"
// rule and the per-endpoint minimum scope, then hands off to next with
// the token's granted scope and delegated user id. Local access tokens
// never carry an applicationId (only cloud-delegated commands do), so
// this never consults pkg/revocation — that check belongs to the cloud
// engine's command intake, not local Privet auth.
func (d *Device) withAuth(minRole authscope.Scope, next func(scope authscope.Scope, userID string, w provider.ResponseWriter, r *provider.Request)) provider.RequestHandlerFunc {
	return func(w provider.ResponseWriter, r *provider.Request) {
		token := bearerToken(r.Headers)
		if token == "" {
			d.logAccessDecision("", false, "missing Authorization header")
			writeWireError(w, http.StatusUnauthorized, errs.New(errs.DomainAuth, errs.CodeInvalidAuthz, "weave.withAuth", "missing Authorization header"))
			return
		}
		cfg := d.Settings.Current()
		scope, userID, _, err := macaroon.ParseAccessToken(cfg.Secret[:], token)
		if err != nil {
			d.logAccessDecision("", false, "invalid access token")
			writeWireError(w, http.StatusForbidden, errs.Wrap(errs.DomainAuth, errs.CodeInvalidAuthz, "weave.withAuth", "invalid access token", err))
			return
		}
		if !scope.Meets(minRole) {
			d.logAccessDecision(userID, false, "token scope below endpoint's minimum")
			writeWireError(w, http.StatusForbidden, errs.New(errs.DomainAuth, errs.CodeAccessDenied, "weave.withAuth", "token scope below endpoint's minimum"))
			return
		}
		d.logAccessDecision(userID, true, "")
		next(scope, userID, w, r)
	}
}

func bearerToken(headers map[string]string) string {
	auth := headers["Authorization"]
	const prefix = "Privet "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return strings.TrimPrefix(auth, prefix)
}

type infoResponse struct {
	Version           string   `json:"version"`
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Description       string   `json:"description,omitempty"`
	URLBase           string   `json:"urlBase"`
	Type              []string `json:"type"`
	GCDState          string   `json:"gcdState"`
	ModelManifestID   string   `json:"modelManifestId"`
	BasicAuthEnabled  bool     `json:"basicAuthEnabled"`
	PairingModes      []string `json:"pairing"`
	APIVersion        string   `json:"apiVersion"`
}

func (d *Device) serveInfo(w provider.ResponseWriter, r *provider.Request) {
	cfg := d.Settings.Current()
	modes := make([]string, len(cfg.PairingModes))
	for i, m := range cfg.PairingModes {
		modes[i] = string(m)
	}
	writeWireJSON(w, http.StatusOK, infoResponse{
		Version:          "3.0",
		ID:               cfg.DeviceID,
		Name:             cfg.Name,
		Description:      cfg.Description,
		URLBase:          "/privet",
		Type:             d.Schema.Names(),
		GCDState:         d.Cloud.State().String(),
		ModelManifestID:  cfg.ModelID,
		BasicAuthEnabled: cfg.LocalAccessEnabled,
		PairingModes:     modes,
		APIVersion:       "3",
	})
}

func (d *Device) serveState(scope authscope.Scope, userID string, w provider.ResponseWriter, r *provider.Request) {
	writeWireJSON(w, http.StatusOK, d.Tree.Dump())
}

func (d *Device) serveCommandDefs(scope authscope.Scope, userID string, w provider.ResponseWriter, r *provider.Request) {
	defs := jsonval.Object()
	for _, name := range d.Schema.Names() {
		if def, ok := d.Schema.Find(name); ok {
			defs = defs.Set(name, def)
		}
	}
	writeWireJSON(w, http.StatusOK, defs)
}

func (d *Device) serveCheckForUpdates(scope authscope.Scope, userID string, w provider.ResponseWriter, r *provider.Request) {
	// No firmware-update channel exists on this device yet; answer the
	// wire shape spec.md §6 names with "nothing to do" until one does.
	writeWireJSON(w, http.StatusOK, jsonval.Object().Set("updateAvailable", jsonval.Bool(false)))
}

type executeRequest struct {
	Name       string         `json:"name"`
	Component  string         `json:"component"`
	Parameters map[string]any `json:"parameters"`
}

func (d *Device) serveCommandsExecute(scope authscope.Scope, userID string, w provider.ResponseWriter, r *provider.Request) {
	var req executeRequest
	if err := json.Unmarshal(r.Body, &req); err != nil {
		writeWireError(w, http.StatusBadRequest, errs.Wrap(errs.DomainCommand, errs.CodeInvalidFormat, "weave.serveCommandsExecute", "malformed request body", err))
		return
	}
	dict := jsonval.Object().Set("name", jsonval.String(req.Name))
	if req.Component != "" {
		dict = dict.Set("component", jsonval.String(req.Component))
	}
	if req.Parameters != nil {
		params, err := jsonval.FromAny(req.Parameters)
		if err != nil {
			writeWireError(w, http.StatusBadRequest, errs.Wrap(errs.DomainCommand, errs.CodeInvalidFormat, "weave.serveCommandsExecute", "malformed parameters", err))
			return
		}
		dict = dict.Set("parameters", params)
	}
	inst, err := d.Commands.AddCommand(dict, scope, command.OriginLocal)
	if err != nil {
		writeWireError(w, http.StatusBadRequest, err)
		return
	}
	writeWireJSON(w, http.StatusOK, instanceWire(inst))
}

type idRequest struct {
	ID string `json:"id"`
}

func (d *Device) serveCommandsStatus(scope authscope.Scope, userID string, w provider.ResponseWriter, r *provider.Request) {
	var req idRequest
	if err := json.Unmarshal(r.Body, &req); err != nil {
		writeWireError(w, http.StatusBadRequest, errs.Wrap(errs.DomainCommand, errs.CodeInvalidFormat, "weave.serveCommandsStatus", "malformed request body", err))
		return
	}
	inst, ok := d.Commands.Find(req.ID)
	if !ok {
		writeWireError(w, http.StatusNotFound, errs.New(errs.DomainCommand, errs.CodeNotFound, "weave.serveCommandsStatus", "no such command"))
		return
	}
	writeWireJSON(w, http.StatusOK, instanceWire(inst))
}

func (d *Device) serveCommandsCancel(scope authscope.Scope, userID string, w provider.ResponseWriter, r *provider.Request) {
	var req idRequest
	if err := json.Unmarshal(r.Body, &req); err != nil {
		writeWireError(w, http.StatusBadRequest, errs.Wrap(errs.DomainCommand, errs.CodeInvalidFormat, "weave.serveCommandsCancel", "malformed request body", err))
		return
	}
	inst, ok := d.Commands.Find(req.ID)
	if !ok {
		writeWireError(w, http.StatusNotFound, errs.New(errs.DomainCommand, errs.CodeNotFound, "weave.serveCommandsCancel", "no such command"))
		return
	}
	if err := inst.Cancel(); err != nil {
		writeWireError(w, http.StatusConflict, err)
		return
	}
	writeWireJSON(w, http.StatusOK, instanceWire(inst))
}

func (d *Device) serveCommandsList(scope authscope.Scope, userID string, w provider.ResponseWriter, r *provider.Request) {
	insts := d.Commands.List()
	items := make([]jsonval.Value, len(insts))
	for i, inst := range insts {
		items[i] = instanceWire(inst)
	}
	writeWireJSON(w, http.StatusOK, jsonval.Object().Set("commands", jsonval.Array(items)))
}

func instanceWire(inst *command.Instance) jsonval.Value {
	v := jsonval.Object().
		Set("id", jsonval.String(inst.ID)).
		Set("name", jsonval.String(inst.Name)).
		Set("component", jsonval.String(inst.Component)).
		Set("state", jsonval.String(inst.State.String())).
		Set("parameters", inst.Parameters).
		Set("progress", inst.Progress).
		Set("results", inst.Results)
	if inst.Err != nil {
		v = v.Set("error", jsonval.Object().
			Set("code", jsonval.String(inst.Err.Code)).
			Set("message", jsonval.String(inst.Err.Message)))
	}
	return v
}

type setupStartRequest struct {
	SSID       string `json:"wifiSsid"`
	Passphrase string `json:"wifiPassphrase"`

	TicketID     string `json:"ticketId"`
	OAuthURL     string `json:"oauthUrl"`
	ServiceURL   string `json:"serviceUrl"`
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

// serveSetupStart implements the Wi-Fi and GCD provisioning spec.md
// §6 groups under one endpoint: an ssid submission hands off to
// pkg/wifi's Configure, a registration ticket hands off to
// pkg/cloud's Register. Either, both, or neither may be present in one
// call.
func (d *Device) serveSetupStart(scope authscope.Scope, userID string, w provider.ResponseWriter, r *provider.Request) {
	var req setupStartRequest
	if err := json.Unmarshal(r.Body, &req); err != nil {
		writeWireError(w, http.StatusBadRequest, errs.Wrap(errs.DomainProvider, errs.CodeInvalidFormat, "weave.serveSetupStart", "malformed request body", err))
		return
	}

	if req.SSID != "" {
		if err := d.WiFi.Configure(req.SSID, req.Passphrase); err != nil {
			writeWireError(w, http.StatusConflict, err)
			return
		}
	}

	if req.TicketID != "" {
		data := cloud.RegistrationData{
			TicketID:     req.TicketID,
			OAuthURL:     req.OAuthURL,
			ServiceURL:   req.ServiceURL,
			ClientID:     req.ClientID,
			ClientSecret: req.ClientSecret,
		}
		if err := d.Cloud.Register(context.Background(), data); err != nil {
			writeWireError(w, http.StatusBadGateway, err)
			return
		}
	}

	writeWireJSON(w, http.StatusOK, struct{}{})
}

func (d *Device) serveSetupStatus(scope authscope.Scope, userID string, w provider.ResponseWriter, r *provider.Request) {
	wifiStatus := jsonval.Object().Set("state", jsonval.String(d.WiFi.State().String()))
	if lastErr := d.WiFi.LastError(); lastErr != nil {
		wifiStatus = wifiStatus.Set("error", jsonval.String(lastErr.Code))
	}
	status := jsonval.Object().
		Set("wifi", wifiStatus).
		Set("gcd", jsonval.Object().Set("state", jsonval.String(d.Cloud.State().String())))
	writeWireJSON(w, http.StatusOK, status)
}

func writeWireJSON(w provider.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

type wireErrorBody struct {
	Error string `json:"error"`
}

func writeWireError(w provider.ResponseWriter, status int, err error) {
	writeWireJSON(w, status, wireErrorBody{Error: err.Error()})
}

// publishDiscovery advertises this device over DNS-SD with the TXT
// record fields spec.md §6 documents, if a DNSSD provider was given.
func (d *Device) publishDiscovery() {
	if d.dnssd == nil {
		return
	}
	port := 0
	if d.httpServer != nil {
		port = d.httpServer.HTTPSPort()
		if port == 0 {
			port = d.httpServer.HTTPPort()
		}
	}

	cfg := d.Settings.Current()
	services := strings.Join(d.Schema.Names(), ",")
	flags := 0 // idle/no-error; spec.md's "status code" is a bitmask the host's UI decodes
	txt := []string{
		"txtvers=3",
		"ty=" + cfg.Name,
		"services=" + services,
		"id=" + d.dnssd.ID(),
		"mmid=" + fiveCharModelID(cfg.ModelID),
		"flags=" + strconv.Itoa(flags),
	}
	if cfg.CloudID != "" {
		txt = append(txt, "gcd_id="+cfg.CloudID)
	}
	if cfg.Description != "" {
		txt = append(txt, "note="+cfg.Description)
	}

	if err := d.dnssd.PublishService("_privet._tcp", port, txt); err != nil {
		d.logger.Warn("failed to publish DNS-SD discovery", "err", err)
	}
}

func fiveCharModelID(id string) string {
	if len(id) >= 5 {
		return id[:5]
	}
	return (id + "     ")[:5]
}
