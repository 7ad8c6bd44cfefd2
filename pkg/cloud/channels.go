package cloud

import (
	"context"
	"time"

	"github.com/weaveproject/weave/pkg/jsonval"
)

// pollIntervalDisconnected/XMPPUp are the command-fetch polling
// periods spec.md §4.7 falls back to: fast (7s) while no push channel
// is up, slow (30s) once one is, since the channel is expected to push
// commandCreated notifications instead.
const (
	pollIntervalDisconnected = 7
	pollIntervalXMPPUp       = 30
)

// PushChannel is the host-implemented realtime notification channel
// (an XMPP connection in the original protocol this replaces) — this
// module never opens that connection itself, only reacts to it
// (spec.md §6's provider boundary).
type PushChannel interface {
	Connect(handler ChannelHandler)
	Disconnect()
}

// ChannelHandler receives PushChannel lifecycle and payload events.
// Engine implements this directly so PushChannel implementations just
// call back into the engine.
type ChannelHandler interface {
	Connected()
	Disconnected()
	PermanentFailure()
	CommandCreated(payload jsonval.Value)
	DeviceDeleted(cloudID string)
}

// Connected switches polling to the slow interval — the channel is now
// expected to push command notifications directly.
func (e *Engine) Connected() {
	e.mu.Lock()
	e.xmppUp = true
	e.pollInterval = pollIntervalXMPPUp
	e.mu.Unlock()
	e.logger.Info("push channel connected")
}

// Disconnected reverts polling to the fast interval.
func (e *Engine) Disconnected() {
	e.mu.Lock()
	e.xmppUp = false
	e.pollInterval = pollIntervalDisconnected
	e.mu.Unlock()
	e.logger.Info("push channel disconnected")
}

// PermanentFailure means the channel's own credentials are stale —
// triggers an access-token refresh so the next reconnect attempt uses a
// fresh one.
func (e *Engine) PermanentFailure() {
	e.logger.Warn("push channel permanent failure, invalidating access token")
	e.invalidateAccessToken()
}

// CommandCreated handles a commandCreated push: if the notification
// carries the full command payload, publish it straight into the local
// queue; otherwise fall back to a fetch.
func (e *Engine) CommandCreated(payload jsonval.Value) {
	ctx := context.Background()
	if payload.Kind() == jsonval.KindObject {
		if _, ok := payload.Get("name"); ok {
			e.publishCloudCommand(payload)
			return
		}
	}
	e.fetchCommands(ctx)
}

// DeviceDeleted clears credentials if cloudID matches this device,
// since the resource it was syncing against no longer exists.
func (e *Engine) DeviceDeleted(cloudID string) {
	cfg := e.settings.Current()
	if cfg.CloudID == "" || cfg.CloudID != cloudID {
		return
	}
	e.clearCredentials()
	e.setState(InvalidCredentials)
}

// startPolling runs the command-fetch polling loop via the host task
// runner, rescheduling itself at whatever interval Connected/
// Disconnected last set.
func (e *Engine) startPolling(ctx context.Context) {
	if e.runner == nil {
		return
	}
	var tick func()
	tick = func() {
		e.mu.Lock()
		interval := e.pollInterval
		e.mu.Unlock()
		if e.State() == Connected || e.State() == Connecting {
			e.fetchCommands(ctx)
		}
		e.mu.Lock()
		e.pollCancel = e.runner.PostDelayed("cloud.poll", tick, time.Duration(interval)*time.Second)
		e.mu.Unlock()
	}
	e.mu.Lock()
	e.pollCancel = e.runner.PostDelayed("cloud.poll", tick, time.Duration(e.pollInterval)*time.Second)
	e.mu.Unlock()
}

// stopPolling cancels the polling loop, used when the engine drops back
// to Unconfigured.
func (e *Engine) stopPolling() {
	e.mu.Lock()
	cancel := e.pollCancel
	e.pollCancel = nil
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
