package privet

import (
	"time"

	"github.com/weaveproject/weave/pkg/provider"
	"github.com/weaveproject/weave/pkg/settings"
)

type sessionState int

const (
	sessionPending sessionState = iota
	sessionConfirmed
)

// session is one in-flight or confirmed pairing attempt.
type session struct {
	id    string
	mode  settings.PairingType
	code  string
	state sessionState

	exchanger  exchanger
	sharedKey  []byte
	createdAt  time.Time
	cancelFunc provider.CancelFunc
}
