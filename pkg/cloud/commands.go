package cloud

import (
	"context"
	"fmt"

	"github.com/weaveproject/weave/pkg/authscope"
	"github.com/weaveproject/weave/pkg/command"
	"github.com/weaveproject/weave/pkg/jsonval"
	"github.com/weaveproject/weave/pkg/provider"
	"github.com/weaveproject/weave/pkg/settings"
)

func commandsURL(cfg settings.Settings) string {
	return cfg.ServiceURL + "devices/" + cfg.CloudID + "/commands"
}

// fetchCommands pulls queued commands for this device, coalesced so a
// push notification and the polling loop landing at the same moment
// only trigger one GET (spec.md §4.7).
func (e *Engine) fetchCommands(ctx context.Context) {
	_, _ = e.coalescer.Do("fetchCommands", func() (any, error) {
		cfg := e.settings.Current()
		if cfg.CloudID == "" {
			return nil, nil
		}
		resp, err := e.doCloudRequest(ctx, provider.MethodGET, withQuery(commandsURL(cfg), map[string]string{"state": "queued"}), nil)
		if err != nil {
			e.logger.Warn("fetchCommands failed", "err", err)
			return nil, err
		}
		for _, c := range commandsFromResponse(resp) {
			e.publishCloudCommand(c)
		}
		return nil, nil
	})
}

// reconcileCommands runs once, right after the device first connects
// (or reconnects): every command the server still shows as
// inProgress, paused, or error gets aborted directly against the cloud
// resource, since a restarted device has lost whatever local state
// backed that command. Everything else is published into the local
// queue as if freshly created.
//
// The abort condition is a plain OR across the three states. The
// original reconciliation logic ANDed them, which no command (having
// exactly one state) can ever match; the OR form replaces that bug.
func (e *Engine) reconcileCommands(ctx context.Context) {
	cfg := e.settings.Current()
	if cfg.CloudID == "" {
		return
	}
	resp, err := e.doCloudRequest(ctx, provider.MethodGET, commandsURL(cfg), nil)
	if err != nil {
		e.logger.Warn("initial command reconciliation failed", "err", err)
		return
	}
	for _, c := range commandsFromResponse(resp) {
		state, _ := stringField(c, "state")
		if state == "inProgress" || state == "paused" || state == "error" {
			e.abortCloudCommand(ctx, c)
			continue
		}
		e.publishCloudCommand(c)
	}
}

func (e *Engine) publishCloudCommand(c jsonval.Value) {
	if _, err := e.queue.AddCommand(c, authscope.Owner, command.OriginCloud); err != nil {
		e.logger.Warn("failed to publish cloud command", "err", err)
	}
}

func (e *Engine) abortCloudCommand(ctx context.Context, c jsonval.Value) {
	id, _ := stringField(c, "id")
	if id == "" {
		return
	}
	body := jsonval.Object().Set("state", jsonval.String("aborted")).Set("id", jsonval.String(id))
	data, _ := body.MarshalJSON()
	cfg := e.settings.Current()
	url := fmt.Sprintf("%s/%s", commandsURL(cfg), id)
	if _, err := e.doCloudRequest(ctx, provider.MethodPUT, url, data); err != nil {
		e.logger.Warn("failed to abort stale cloud command", "id", id, "err", err)
	}
}

func commandsFromResponse(resp *apiResponse) []jsonval.Value {
	if resp == nil {
		return nil
	}
	raw, ok := resp.Raw["commands"].([]any)
	if !ok {
		return nil
	}
	out := make([]jsonval.Value, 0, len(raw))
	for _, r := range raw {
		v, err := jsonval.FromAny(r)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}

func stringField(v jsonval.Value, key string) (string, bool) {
	f, ok := v.Get(key)
	if !ok {
		return "", false
	}
	return f.AsString()
}
