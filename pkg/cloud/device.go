package cloud

import (
	"context"

	"github.com/weaveproject/weave/pkg/errs"
	"github.com/weaveproject/weave/pkg/jsonval"
	"github.com/weaveproject/weave/pkg/provider"
	"github.com/weaveproject/weave/pkg/settings"
)

func deviceURL(cfg settings.Settings) string {
	return cfg.ServiceURL + "devices/" + cfg.CloudID
}

// UpdateDeviceResource PUTs the current device-resource snapshot to the
// cloud, coalesced per spec.md §4.7 so concurrent callers collapse to
// one in-flight PUT. lastUpdateTimeMs threading: a device that doesn't
// yet know the server's last-update timestamp GETs it first; a PUT the
// server rejects for a stale timestamp re-GETs and retries exactly
// once.
func (e *Engine) UpdateDeviceResource(ctx context.Context) error {
	_, err := e.coalescer.Do("updateDeviceResource", func() (any, error) {
		return nil, e.updateDeviceResourceOnce(ctx, true)
	})
	return err
}

func (e *Engine) updateDeviceResourceOnce(ctx context.Context, allowRetry bool) error {
	cfg := e.settings.Current()
	if cfg.CloudID == "" {
		return errs.New(errs.DomainCloud, errs.CodeCredentialsMissing, "cloud.UpdateDeviceResource", "device not registered")
	}

	e.mu.Lock()
	ts := e.lastUpdateTimeMs
	e.mu.Unlock()
	if ts == nil {
		if err := e.fetchLastUpdateTime(ctx, cfg); err != nil {
			return err
		}
		e.mu.Lock()
		ts = e.lastUpdateTimeMs
		e.mu.Unlock()
	}

	body := jsonval.Object()
	if e.snapshot != nil {
		body = body.Set("state", e.snapshot())
	}
	if ts != nil {
		body = body.Set("lastUpdateTimeMs", jsonval.Int(*ts))
	}
	data, err := body.MarshalJSON()
	if err != nil {
		return err
	}

	resp, err := e.doCloudRequest(ctx, provider.MethodPUT, deviceURL(cfg), data)
	if err != nil {
		return err
	}
	if resp.ErrorCode == errs.CodeInvalidLastUpdateTs {
		if !allowRetry {
			return errs.New(errs.DomainCloud, errs.CodeInvalidLastUpdateTs, "cloud.UpdateDeviceResource", "timestamp still stale after refetch")
		}
		e.mu.Lock()
		e.lastUpdateTimeMs = nil
		e.mu.Unlock()
		return e.updateDeviceResourceOnce(ctx, false)
	}

	if next, ok := resp.Raw["lastUpdateTimeMs"]; ok {
		e.mu.Lock()
		e.lastUpdateTimeMs = numberToInt64Ptr(next)
		e.mu.Unlock()
	}
	return nil
}

func (e *Engine) fetchLastUpdateTime(ctx context.Context, cfg settings.Settings) error {
	resp, err := e.doCloudRequest(ctx, provider.MethodGET, deviceURL(cfg), nil)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.lastUpdateTimeMs = numberToInt64Ptr(resp.Raw["lastUpdateTimeMs"])
	e.mu.Unlock()
	return nil
}

func numberToInt64Ptr(v any) *int64 {
	f, ok := v.(float64)
	if !ok {
		return nil
	}
	i := int64(f)
	return &i
}
