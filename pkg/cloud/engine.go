// Package cloud implements the device-to-cloud sync engine from
// spec.md §4.7: OAuth2 device registration, authenticated REST calls
// with refresh-and-retry, device-resource and command-queue
// coalescing, and the state-publish/command-fetch notification loop.
//
// Grounded on the teacher's pkg/fleet.NodeManager for the mutex-guarded
// "one live struct, subscribe to its transitions" shape, and on
// pkg/relay's reconnect/backoff loop for the retry and polling-fallback
// behavior; the OAuth2 and REST-resource specifics have no corpus
// analog and are built directly against spec.md §4.7 using
// golang.org/x/oauth2's Token type for the wire shape.
package cloud

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/oauth2"

	"github.com/weaveproject/weave/pkg/command"
	"github.com/weaveproject/weave/pkg/jsonval"
	"github.com/weaveproject/weave/pkg/provider"
	"github.com/weaveproject/weave/pkg/resilience"
	"github.com/weaveproject/weave/pkg/settings"
	"github.com/weaveproject/weave/pkg/statequeue"
)

// StateSnapshot builds the full device-resource "state" document sent
// on registration and whenever a fresh baseline is needed, decoupling
// this package from pkg/component's tree type.
type StateSnapshot func() jsonval.Value

// Engine is the device-to-cloud sync engine for one device.
type Engine struct {
	settings *settings.Store
	http     provider.HTTPClient
	runner   provider.TaskRunner
	queue    *command.Queue
	stateQ   *statequeue.Queue
	snapshot StateSnapshot
	channel  PushChannel
	logger   *slog.Logger

	backoff      *resilience.Backoff
	tokenBackoff *resilience.Backoff
	coalescer    *resilience.Coalescer

	mu               sync.Mutex
	token            *oauth2.Token
	state            GCDState
	stateChanged     []func(GCDState)
	lastUpdateTimeMs *int64
	pollCancel       provider.CancelFunc
	pollInterval     int
	xmppUp           bool
	stateInFlight    bool
}

// New creates a cloud engine bound to st, the host HTTP client and task
// runner, the local command queue and state-change log, and snapshot
// for building the device resource's state document. channel may be
// nil (polling-only).
func New(st *settings.Store, http provider.HTTPClient, runner provider.TaskRunner, queue *command.Queue, stateQ *statequeue.Queue, snapshot StateSnapshot, channel PushChannel, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		settings:     st,
		http:         http,
		runner:       runner,
		queue:        queue,
		stateQ:       stateQ,
		snapshot:     snapshot,
		channel:      channel,
		logger:       logger,
		backoff:      resilience.NewBackoff(),
		tokenBackoff: resilience.NewBackoff(),
		coalescer:    &resilience.Coalescer{},
		pollInterval: pollIntervalDisconnected,
	}
	return e
}

// Start brings the engine up from whatever the persisted settings say:
// Connecting (and kicking off channels + reconciliation) if credentials
// already exist, Unconfigured otherwise. Register (in register.go)
// transitions an Unconfigured device to Connecting on success.
func (e *Engine) Start(ctx context.Context) {
	cfg := e.settings.Current()
	if cfg.RefreshToken == "" {
		e.setState(Unconfigured)
		return
	}
	e.setState(Connecting)
	e.afterConnect(ctx)
}

// afterConnect starts the notification channels and runs the one-time
// initial command reconciliation (spec.md §4.7 / §9) once a device has
// (or regains) credentials.
func (e *Engine) afterConnect(ctx context.Context) {
	e.startPolling(ctx)
	if e.channel != nil {
		e.channel.Connect(e)
	}
	if e.runner != nil {
		e.runner.PostDelayed("cloud.reconcileCommands", func() { e.reconcileCommands(ctx) }, 0)
	} else {
		e.reconcileCommands(ctx)
	}
}
