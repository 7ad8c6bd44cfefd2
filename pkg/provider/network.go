package provider

import "io"

// ConnectionState mirrors the host's view of network connectivity.
type ConnectionState int

const (
	ConnectionOffline ConnectionState = iota
	ConnectionConnecting
	ConnectionConnected
	ConnectionFailure
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionOffline:
		return "offline"
	case ConnectionConnecting:
		return "connecting"
	case ConnectionConnected:
		return "connected"
	case ConnectionFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// ConnectionChangedFunc is invoked whenever the host's connectivity
// state changes.
type ConnectionChangedFunc func(state ConnectionState)

// Network is the host's view of connectivity: whether it's online, and
// a raw encrypted stream for protocols this module doesn't own (e.g.
// the cloud engine's future transports). Concrete TLS stream
// implementation is explicitly out of scope (Non-goal) — Stream is
// whatever io.ReadWriteCloser the host's TLS library produces.
type Network interface {
	AddConnectionChangedCallback(cb ConnectionChangedFunc) CancelFunc
	ConnectionState() ConnectionState
	OpenSSLSocket(host string, port int) (io.ReadWriteCloser, error)
}
