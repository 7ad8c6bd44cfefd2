// Package privet implements the local security manager from
// spec.md §4.6: SPAKE2-P224 pairing, anti-brute-force throttling, and
// the anonymous/pairing access-token exchange. The HTTP(S) wire surface
// that maps onto this manager lives in handler.go.
package privet

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/weaveproject/weave/pkg/authscope"
	"github.com/weaveproject/weave/pkg/errs"
	"github.com/weaveproject/weave/pkg/provider"
	"github.com/weaveproject/weave/pkg/settings"
)

const (
	pendingTimeout   = 5 * time.Minute
	confirmedIdle    = 5 * time.Minute
	failureThreshold = 3
	blockDuration    = time.Minute
)

// AuthType names the credential kind presented to CreateAccessToken
// (spec.md §4.6).
type AuthType string

const (
	AuthAnonymous AuthType = "anonymous"
	AuthPairing   AuthType = "pairing"
)

// CertFingerprint is the host's HTTPS certificate fingerprint provider,
// trimmed from the teacher's pkg/relay/mtls.go certificate-introspection
// helpers to the one thing Privet needs — a raw digest to render and
// sign, since concrete certificate generation belongs to the host.
type CertFingerprint func() []byte

// Manager is the pairing and access-token authority for one device.
type Manager struct {
	mu       sync.Mutex
	settings *settings.Store
	runner   provider.TaskRunner
	certFP   CertFingerprint
	logger   *slog.Logger

	pending   *session
	confirmed map[string]*session

	failures     int
	blockedUntil time.Time

	onPairingStart   []func(sessionID string, mode settings.PairingType, code string)
	onPairingChange  []func(begin bool)
	onPairingOutcome []func(sessionID string, confirmed bool, errMsg string)

	newSessionID func() string
	now          func() time.Time
}

// New creates a security manager bound to st and runner.
func New(st *settings.Store, runner provider.TaskRunner, certFP CertFingerprint, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		settings:     st,
		runner:       runner,
		certFP:       certFP,
		logger:       logger,
		confirmed:    make(map[string]*session),
		newSessionID: func() string { return uuid.NewString() },
		now:          time.Now,
	}
}

// OnPairingStart registers cb, fired whenever StartPairing succeeds
// so the host can display the pairing code.
func (m *Manager) OnPairingStart(cb func(sessionID string, mode settings.PairingType, code string)) {
	m.mu.Lock()
	m.onPairingStart = append(m.onPairingStart, cb)
	m.mu.Unlock()
}

// OnPairingChanged registers cb, fired with begin=true when a session
// starts and begin=false when it ends (confirmed, cancelled, or
// expired).
func (m *Manager) OnPairingChanged(cb func(begin bool)) {
	m.mu.Lock()
	m.onPairingChange = append(m.onPairingChange, cb)
	m.mu.Unlock()
}

// OnPairingOutcome registers cb, fired once ConfirmPairing resolves a
// session either way: confirmed=true on success, confirmed=false with
// errMsg set on a commitment mismatch.
func (m *Manager) OnPairingOutcome(cb func(sessionID string, confirmed bool, errMsg string)) {
	m.mu.Lock()
	m.onPairingOutcome = append(m.onPairingOutcome, cb)
	m.mu.Unlock()
}

// StartPairing begins a new pairing session, closing any existing
// pending one first.
func (m *Manager) StartPairing(mode settings.PairingType, crypto CryptoType) (sessionID, deviceCommitment string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if now.Before(m.blockedUntil) {
		return "", "", errs.New(errs.DomainAuth, errs.CodeDeviceBusy, "privet.StartPairing", "too many failed pairing attempts")
	}

	if m.pending != nil {
		m.closePendingLocked()
	}

	code, err := m.pickCode(mode)
	if err != nil {
		return "", "", err
	}

	cfg := m.settings.Current()
	password := code
	if cfg.DisableSecurity {
		crypto = CryptoInsecureIdentity
	}
	ex, err := newExchanger(crypto, password)
	if err != nil {
		return "", "", errs.Wrap(errs.DomainAuth, errs.CodeUnsupportedAuthMode, "privet.StartPairing", "unsupported crypto type", err)
	}

	commitment, err := ex.Start()
	if err != nil {
		return "", "", errs.Wrap(errs.DomainAuth, errs.CodeInvalidFormat, "privet.StartPairing", "key exchange start failed", err)
	}

	id := m.newSessionID()
	s := &session{id: id, mode: mode, code: code, state: sessionPending, exchanger: ex, createdAt: now}
	if m.runner != nil {
		s.cancelFunc = m.runner.PostDelayed("privet.pairing."+id, func() { m.expirePending(id) }, pendingTimeout)
	}
	m.pending = s

	encodedCommitment := base64.StdEncoding.EncodeToString(commitment)
	m.logger.Info("pairing started", "session_id", id, "mode", mode)

	startCbs := append([]func(string, settings.PairingType, string){}, m.onPairingStart...)
	changeCbs := append([]func(bool){}, m.onPairingChange...)
	m.postCallback("privet.pairingStarted."+id, func() {
		for _, cb := range startCbs {
			cb(id, mode, code)
		}
		for _, cb := range changeCbs {
			cb(true)
		}
	})

	return id, encodedCommitment, nil
}

func (m *Manager) pickCode(mode settings.PairingType) (string, error) {
	cfg := m.settings.Current()
	switch mode {
	case settings.PairingPinCode:
		n, err := rand.Int(rand.Reader, big.NewInt(10000))
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%04d", n.Int64()), nil
	case settings.PairingEmbeddedCode:
		if cfg.EmbeddedCode == "" {
			return "", errs.New(errs.DomainAuth, errs.CodeUnsupportedAuthMode, "privet.pickCode", "no embedded code configured")
		}
		return cfg.EmbeddedCode, nil
	default:
		return "", errs.New(errs.DomainAuth, errs.CodeUnsupportedAuthMode, "privet.pickCode", fmt.Sprintf("unsupported pairing mode %q", mode))
	}
}

// ConfirmPairing processes the peer's commitment, promoting the
// session to confirmed on success.
func (m *Manager) ConfirmPairing(sessionID string, clientCommitment []byte) (certFingerprint, signature []byte, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending == nil || m.pending.id != sessionID {
		return nil, nil, errs.New(errs.DomainAuth, errs.CodeUnknownSession, "privet.ConfirmPairing", "no such pending session")
	}
	s := m.pending

	key, err := s.exchanger.Finish(clientCommitment)
	if err != nil {
		m.closePendingLocked()
		m.recordFailureLocked()
		outcomeCbs := append([]func(string, bool, string){}, m.onPairingOutcome...)
		errMsg := err.Error()
		m.postCallback("privet.pairingFailed."+sessionID, func() {
			for _, cb := range outcomeCbs {
				cb(sessionID, false, errMsg)
			}
		})
		return nil, nil, errs.Wrap(errs.DomainAuth, errs.CodeCommitmentMismatch, "privet.ConfirmPairing", "commitment mismatch", err)
	}

	var fp []byte
	if m.certFP != nil {
		fp = m.certFP()
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(fp)
	sig := mac.Sum(nil)

	s.sharedKey = key
	s.state = sessionConfirmed
	if s.cancelFunc != nil {
		s.cancelFunc()
	}
	if m.runner != nil {
		s.cancelFunc = m.runner.PostDelayed("privet.confirmed."+s.id, func() { m.expireConfirmed(s.id) }, confirmedIdle)
	}
	m.confirmed[s.id] = s
	m.pending = nil

	m.failures = 0
	m.blockedUntil = time.Time{}

	m.logger.Info("pairing confirmed", "session_id", s.id)

	outcomeCbs := append([]func(string, bool, string){}, m.onPairingOutcome...)
	changeCbs := append([]func(bool){}, m.onPairingChange...)
	m.postCallback("privet.pairingConfirmed."+s.id, func() {
		for _, cb := range outcomeCbs {
			cb(s.id, true, "")
		}
		for _, cb := range changeCbs {
			cb(false)
		}
	})

	return fp, sig, nil
}

// CancelPairing closes the pending session if its id matches, with no
// effect (and no error) otherwise.
func (m *Manager) CancelPairing(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending != nil && m.pending.id == sessionID {
		m.closePendingLocked()
	}
	return nil
}

// closePendingLocked cancels the pending session's expiry timer and
// drops it. Caller holds m.mu.
func (m *Manager) closePendingLocked() {
	if m.pending.cancelFunc != nil {
		m.pending.cancelFunc()
	}
	m.pending = nil
	cbs := append([]func(bool){}, m.onPairingChange...)
	m.postCallback("privet.pairingEnded", func() {
		for _, cb := range cbs {
			cb(false)
		}
	})
}

// postCallback runs task on the host's task runner (spec.md §5: the
// library never spawns its own threads, every asynchronous fan-out is
// cooperative on the single runner the host supplies). Falls back to
// running task inline if no runner was configured.
func (m *Manager) postCallback(fromHere string, task func()) {
	if m.runner == nil {
		task()
		return
	}
	m.runner.PostDelayed(fromHere, task, 0)
}

func (m *Manager) recordFailureLocked() {
	m.failures++
	if m.failures >= failureThreshold {
		m.blockedUntil = m.now().Add(blockDuration)
	}
}

func (m *Manager) expirePending(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending != nil && m.pending.id == sessionID {
		m.pending = nil
		cbs := append([]func(bool){}, m.onPairingChange...)
		m.postCallback("privet.pairingExpired."+sessionID, func() {
			for _, cb := range cbs {
				cb(false)
			}
		})
	}
}

func (m *Manager) expireConfirmed(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.confirmed, sessionID)
}

// CreateAccessToken mints an access token for anonymous or pairing
// credentials (spec.md §4.6); any other auth type is rejected as
// unsupported at this layer.
func (m *Manager) CreateAccessToken(authType AuthType, authCode string, desiredScope authscope.Scope) (token string, granted authscope.Scope, ttl time.Duration, err error) {
	switch authType {
	case AuthAnonymous:
		return m.createAnonymousToken(desiredScope)
	case AuthPairing:
		return m.createPairingToken(authCode, desiredScope)
	default:
		return "", authscope.None, 0, errs.New(errs.DomainAuth, errs.CodeUnsupportedAuthMode, "privet.CreateAccessToken", fmt.Sprintf("unsupported auth type %q", authType))
	}
}
