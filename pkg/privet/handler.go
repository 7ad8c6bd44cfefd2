package privet

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/weaveproject/weave/pkg/authscope"
	"github.com/weaveproject/weave/pkg/errs"
	"github.com/weaveproject/weave/pkg/provider"
	"github.com/weaveproject/weave/pkg/settings"
)

// Handler maps the pairing and auth subset of the Privet v3 wire
// surface (spec.md §6) onto a Manager. The state/commandDefs/commands
// endpoints are wired separately by pkg/weave, which owns the
// component tree and command queue this handler doesn't know about.
type Handler struct {
	manager *Manager
}

// NewHandler wraps manager for HTTP(S) registration.
func NewHandler(manager *Manager) *Handler { return &Handler{manager: manager} }

// Register installs this handler's routes on srv: "/privet/v3/pairing/*"
// on both the HTTP and HTTPS listeners per spec.md §6
// ("/privet/v3/pairing/start|confirm|cancel (HTTP and HTTPS)"), and
// "/privet/v3/auth" on the HTTPS listener only.
func (h *Handler) Register(srv provider.HTTPServer) {
	srv.AddHTTPRequestHandler("/privet/v3/pairing/", h.routePairing)
	srv.AddHTTPSRequestHandler("/privet/v3/pairing/", h.routePairing)
	srv.AddHTTPSRequestHandler("/privet/v3/auth", h.serveAuth)
}

func (h *Handler) routePairing(w provider.ResponseWriter, r *provider.Request) {
	switch r.Path {
	case "/privet/v3/pairing/start":
		h.serveStart(w, r)
	case "/privet/v3/pairing/confirm":
		h.serveConfirm(w, r)
	case "/privet/v3/pairing/cancel":
		h.serveCancel(w, r)
	default:
		writeError(w, http.StatusNotFound, errs.New(errs.DomainProvider, errs.CodeNotFound, "privet.routePairing", "unknown pairing endpoint"))
	}
}

type startRequest struct {
	PairingType string `json:"pairingType"`
	CryptoType  string `json:"cryptoType"`
}

type startResponse struct {
	SessionID        string `json:"sessionId"`
	DeviceCommitment string `json:"deviceCommitment"`
}

func (h *Handler) serveStart(w provider.ResponseWriter, r *provider.Request) {
	var req startRequest
	if err := json.Unmarshal(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, errs.Wrap(errs.DomainAuth, errs.CodeInvalidFormat, "privet.serveStart", "malformed request body", err))
		return
	}
	sid, commitment, err := h.manager.StartPairing(settings.PairingType(req.PairingType), CryptoType(req.CryptoType))
	if err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, startResponse{SessionID: sid, DeviceCommitment: commitment})
}

type confirmRequest struct {
	SessionID        string `json:"sessionId"`
	ClientCommitment string `json:"clientCommitment"`
}

type confirmResponse struct {
	CertFingerprint string `json:"certFingerprint"`
	Signature       string `json:"deviceSignature"`
}

func (h *Handler) serveConfirm(w provider.ResponseWriter, r *provider.Request) {
	var req confirmRequest
	if err := json.Unmarshal(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, errs.Wrap(errs.DomainAuth, errs.CodeInvalidFormat, "privet.serveConfirm", "malformed request body", err))
		return
	}
	clientCommitment, err := base64.StdEncoding.DecodeString(req.ClientCommitment)
	if err != nil {
		writeError(w, http.StatusBadRequest, errs.Wrap(errs.DomainAuth, errs.CodeInvalidFormat, "privet.serveConfirm", "malformed client commitment", err))
		return
	}
	fp, sig, err := h.manager.ConfirmPairing(req.SessionID, clientCommitment)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, confirmResponse{
		CertFingerprint: base64.StdEncoding.EncodeToString(fp),
		Signature:       base64.StdEncoding.EncodeToString(sig),
	})
}

type cancelRequest struct {
	SessionID string `json:"sessionId"`
}

func (h *Handler) serveCancel(w provider.ResponseWriter, r *provider.Request) {
	var req cancelRequest
	if err := json.Unmarshal(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, errs.Wrap(errs.DomainAuth, errs.CodeInvalidFormat, "privet.serveCancel", "malformed request body", err))
		return
	}
	if err := h.manager.CancelPairing(req.SessionID); err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

type authRequest struct {
	AuthCode     string `json:"authCode"`
	Mode         string `json:"mode"`
	RequestedScope string `json:"requestedScope"`
}

type authResponse struct {
	AccessToken string `json:"accessToken"`
	TokenType   string `json:"tokenType"`
	Scope       string `json:"scope"`
	ExpiresIn   int64  `json:"expiresIn"`
}

func (h *Handler) serveAuth(w provider.ResponseWriter, r *provider.Request) {
	var req authRequest
	if err := json.Unmarshal(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, errs.Wrap(errs.DomainAuth, errs.CodeInvalidFormat, "privet.serveAuth", "malformed request body", err))
		return
	}
	scope, err := authscope.ParseScope(req.RequestedScope)
	if err != nil {
		scope = authscope.Viewer
	}
	token, granted, ttl, err := h.manager.CreateAccessToken(AuthType(req.Mode), req.AuthCode, scope)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{
		AccessToken: token,
		TokenType:   "Privet",
		Scope:       granted.String(),
		ExpiresIn:   int64(ttl.Seconds()),
	})
}

func writeJSON(w provider.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w provider.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeManagerError(w provider.ResponseWriter, err error) {
	status := http.StatusBadRequest
	if e, ok := err.(*errs.Error); ok {
		switch e.Code {
		case errs.CodeDeviceBusy:
			status = http.StatusServiceUnavailable
		case errs.CodeUnknownSession, errs.CodeNotFound:
			status = http.StatusNotFound
		case errs.CodeCommitmentMismatch, errs.CodeInvalidAuthCode, errs.CodeUnsupportedAuthMode, errs.CodeInvalidFormat:
			status = http.StatusForbidden
		}
	}
	writeError(w, status, err)
}
