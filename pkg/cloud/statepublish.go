package cloud

import (
	"context"
	"time"

	"github.com/weaveproject/weave/pkg/jsonval"
	"github.com/weaveproject/weave/pkg/provider"
	"github.com/weaveproject/weave/pkg/statequeue"
)

// PublishState drains the pending state-change log and POSTs it as one
// patchState batch. A publish already in flight when a new state change
// arrives isn't started again here — the caller (pkg/weave, subscribed
// to the queue via statequeue.Queue.OnChange) is expected to call this
// once per drain-worthy change and rely on stateInFlight to skip
// overlapping publishes, matching spec.md §4.7's "mark not-in-flight on
// failure so the next change re-triggers" rule.
func (e *Engine) PublishState(ctx context.Context) error {
	e.mu.Lock()
	if e.stateInFlight {
		e.mu.Unlock()
		return nil
	}
	e.stateInFlight = true
	e.mu.Unlock()

	upToID, changes := e.stateQ.Drain()
	if len(changes) == 0 {
		e.mu.Lock()
		e.stateInFlight = false
		e.mu.Unlock()
		return nil
	}

	err := e.postPatchState(ctx, changes)

	e.mu.Lock()
	e.stateInFlight = false
	e.mu.Unlock()

	if err != nil {
		return err
	}
	e.stateQ.NotifyStateUpdatedOnServer(upToID)
	return nil
}

func (e *Engine) postPatchState(ctx context.Context, changes []statequeue.Change) error {
	cfg := e.settings.Current()
	if cfg.CloudID == "" {
		return nil
	}

	patches := make([]jsonval.Value, len(changes))
	for i, c := range changes {
		patches[i] = jsonval.Object().
			Set("timeMs", jsonval.Int(c.Timestamp.UnixMilli())).
			Set("patch", c.Patch)
	}
	body := jsonval.Object().
		Set("requestTimeMs", jsonval.Int(time.Now().UnixMilli())).
		Set("patches", jsonval.Array(patches))
	data, err := body.MarshalJSON()
	if err != nil {
		return err
	}

	url := deviceURL(cfg) + "/patchState"
	_, err = e.doCloudRequest(ctx, provider.MethodPOST, url, data)
	return err
}
