package cloud

// GCDState is the cloud engine's connection state (spec.md §4.7's
// "gcd_state" naming survives from the original device-to-cloud
// protocol this replaces).
type GCDState int

const (
	Unconfigured GCDState = iota
	Connecting
	Connected
	InvalidCredentials
)

func (s GCDState) String() string {
	switch s {
	case Unconfigured:
		return "unconfigured"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case InvalidCredentials:
		return "invalidCredentials"
	default:
		return "unknown"
	}
}

// OnGCDStateChanged registers cb, fired whenever setState moves the
// engine to a new state (not on every call — only on an actual change).
func (e *Engine) OnGCDStateChanged(cb func(GCDState)) {
	e.mu.Lock()
	e.stateChanged = append(e.stateChanged, cb)
	e.mu.Unlock()
}

func (e *Engine) setState(s GCDState) {
	e.mu.Lock()
	if e.state == s {
		e.mu.Unlock()
		return
	}
	e.state = s
	cbs := append([]func(GCDState){}, e.stateChanged...)
	e.mu.Unlock()

	e.logger.Info("cloud state changed", "state", s.String())
	if s == Unconfigured || s == InvalidCredentials {
		e.stopPolling()
	}
	for _, cb := range cbs {
		cb(s)
	}
}

// State returns the engine's current connection state.
func (e *Engine) State() GCDState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}
