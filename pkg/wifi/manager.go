// Package wifi implements the Wi-Fi bootstrap state machine from
// spec.md §4.8: monitor → bootstrap → connect → monitor, with timed
// fallbacks driven entirely by the host's task runner.
//
// No teacher analog exists for a timed state machine like this; the
// shape is grounded on the teacher's pkg/fleet.NodeManager.RunGC
// ticker-driven background-reconciliation style, generalized from one
// ticker into the named states and timeouts
// original_source/libweave/src/privet/wifi_bootstrap_manager.cc
// documents (monitor-to-bootstrap at 2 minutes offline, bootstrap
// fallback at 10 minutes, connect timeout at 3 minutes).
package wifi

import (
	"log/slog"
	"sync"
	"time"

	"github.com/weaveproject/weave/pkg/errs"
	"github.com/weaveproject/weave/pkg/provider"
	"github.com/weaveproject/weave/pkg/settings"
)

const (
	offlineDeadline   = 2 * time.Minute
	bootstrapFallback = 10 * time.Minute
	connectTimeout    = 3 * time.Minute
)

// State is the bootstrap state machine's current state.
type State int

const (
	Disabled State = iota
	Bootstrapping
	Connecting
	Monitoring
)

func (s State) String() string {
	switch s {
	case Disabled:
		return "disabled"
	case Bootstrapping:
		return "bootstrapping"
	case Connecting:
		return "connecting"
	case Monitoring:
		return "monitoring"
	default:
		return "unknown"
	}
}

// SSIDNamer builds the access-point SSID this device advertises while
// bootstrapping (host-or-generated, encoding discovery flags per
// spec.md §4.8 — the actual flag encoding is a host/provisioning-app
// concern this module doesn't need to interpret).
type SSIDNamer func() string

// Manager drives the bootstrap state machine for one device.
type Manager struct {
	mu       sync.Mutex
	settings *settings.Store
	wifi     provider.WiFi
	network  provider.Network
	runner   provider.TaskRunner
	ssidFor  SSIDNamer
	logger   *slog.Logger

	state      State
	apSSID     string
	offlineAt  provider.CancelFunc
	fallbackAt provider.CancelFunc
	connectAt  provider.CancelFunc
	lastError  *errs.Error

	stateChanged []func(State)
}

// New creates a bootstrap manager. ssidFor defaults to a fixed literal
// if nil (tests and simple hosts don't need the real discovery-flag
// encoding).
func New(st *settings.Store, wifiProvider provider.WiFi, network provider.Network, runner provider.TaskRunner, ssidFor SSIDNamer, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if ssidFor == nil {
		ssidFor = func() string { return "weave-setup.prv" }
	}
	return &Manager{
		settings: st,
		wifi:     wifiProvider,
		network:  network,
		runner:   runner,
		ssidFor:  ssidFor,
		logger:   logger,
	}
}

// OnStateChanged registers cb, fired on every state transition.
func (m *Manager) OnStateChanged(cb func(State)) {
	m.mu.Lock()
	m.stateChanged = append(m.stateChanged, cb)
	m.mu.Unlock()
}

// State returns the current bootstrap state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start enters Monitoring if a Wi-Fi network is already persisted, or
// Bootstrapping otherwise (spec.md §4.8's "on start" rule).
func (m *Manager) Start() {
	cfg := m.settings.Current()
	if m.network != nil {
		m.network.AddConnectionChangedCallback(m.onConnectionChanged)
	}
	if cfg.LastConfiguredSSID != "" {
		m.enterMonitoring()
	} else {
		m.enterBootstrapping()
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	cbs := append([]func(State){}, m.stateChanged...)
	m.mu.Unlock()
	m.logger.Info("wifi bootstrap state changed", "state", s.String())
	for _, cb := range cbs {
		cb(s)
	}
}

// cancelPendingLocked cancels every timed task this state may have
// scheduled — spec.md §4.8/§5's "leaving a state cancels its pending
// timed tasks". Caller holds m.mu.
func (m *Manager) cancelPendingLocked() {
	for _, c := range []*provider.CancelFunc{&m.offlineAt, &m.fallbackAt, &m.connectAt} {
		if *c != nil {
			(*c)()
			*c = nil
		}
	}
}

func (m *Manager) enterMonitoring() {
	m.mu.Lock()
	m.cancelPendingLocked()
	m.mu.Unlock()
	m.setState(Monitoring)

	if m.network != nil && m.network.ConnectionState() == provider.ConnectionOffline {
		m.scheduleOfflineDeadline()
	}
}

func (m *Manager) onConnectionChanged(state provider.ConnectionState) {
	m.mu.Lock()
	if m.state != Monitoring {
		m.mu.Unlock()
		return
	}
	if state == provider.ConnectionOffline {
		hasDeadline := m.offlineAt != nil
		m.mu.Unlock()
		if !hasDeadline {
			m.scheduleOfflineDeadline()
		}
		return
	}
	if m.offlineAt != nil {
		m.offlineAt()
		m.offlineAt = nil
	}
	m.mu.Unlock()
}

func (m *Manager) scheduleOfflineDeadline() {
	if m.runner == nil {
		return
	}
	cancel := m.runner.PostDelayed("wifi.offlineDeadline", func() {
		m.mu.Lock()
		m.offlineAt = nil
		m.mu.Unlock()
		m.enterBootstrapping()
	}, offlineDeadline)
	m.mu.Lock()
	m.offlineAt = cancel
	m.mu.Unlock()
}

func (m *Manager) enterBootstrapping() {
	m.mu.Lock()
	m.cancelPendingLocked()
	cfg := m.settings.Current()
	ssid := m.ssidFor()
	m.apSSID = ssid
	m.mu.Unlock()

	m.setState(Bootstrapping)

	if m.wifi != nil {
		if err := m.wifi.StartAccessPoint(ssid); err != nil {
			m.mu.Lock()
			m.lastError = errs.Wrap(errs.DomainProvider, errs.CodeNetworkOffline, "wifi.enterBootstrapping", "failed to start access point", err)
			m.mu.Unlock()
		}
	}

	if cfg.LastConfiguredSSID != "" && m.runner != nil {
		cancel := m.runner.PostDelayed("wifi.bootstrapFallback", func() {
			m.mu.Lock()
			m.fallbackAt = nil
			m.mu.Unlock()
			m.enterMonitoring()
		}, bootstrapFallback)
		m.mu.Lock()
		m.fallbackAt = cancel
		m.mu.Unlock()
	}
}

// Configure handles the Privet setup endpoint's (ssid, passphrase)
// submission, moving the state machine from Bootstrapping to
// Connecting.
func (m *Manager) Configure(ssid, passphrase string) error {
	m.mu.Lock()
	if m.state != Bootstrapping {
		m.mu.Unlock()
		return errs.New(errs.DomainProvider, errs.CodeInvalidFormat, "wifi.Configure", "not currently bootstrapping")
	}
	m.cancelPendingLocked()
	m.mu.Unlock()

	m.setState(Connecting)

	if m.wifi != nil {
		_ = m.wifi.StopAccessPoint()
		m.wifi.Connect(ssid, passphrase, func(err error) {
			m.onConnectResult(ssid, err)
		})
	}

	if m.runner != nil {
		cancel := m.runner.PostDelayed("wifi.connectTimeout", func() {
			m.onConnectResult(ssid, errs.New(errs.DomainProvider, errs.CodeNetworkOffline, "wifi.connectTimeout", "connect attempt timed out"))
		}, connectTimeout)
		m.mu.Lock()
		m.connectAt = cancel
		m.mu.Unlock()
	}
	return nil
}

func (m *Manager) onConnectResult(ssid string, err error) {
	m.mu.Lock()
	if m.state != Connecting {
		m.mu.Unlock()
		return
	}
	if m.connectAt != nil {
		m.connectAt()
		m.connectAt = nil
	}
	m.mu.Unlock()

	if err != nil {
		m.mu.Lock()
		if e, ok := err.(*errs.Error); ok {
			m.lastError = e
		} else {
			m.lastError = errs.Wrap(errs.DomainProvider, errs.CodeNetworkOffline, "wifi.onConnectResult", "connect failed", err)
		}
		m.mu.Unlock()
		m.enterBootstrapping()
		return
	}

	m.settings.Begin().Set(func(s *settings.Settings) { s.LastConfiguredSSID = ssid }).Commit()
	m.mu.Lock()
	m.lastError = nil
	m.mu.Unlock()
	m.enterMonitoring()
}

// LastError returns the most recent setup error, if any (surfaced by
// the Privet setup/status endpoint).
func (m *Manager) LastError() *errs.Error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastError
}
