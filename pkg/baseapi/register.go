package baseapi

import (
	"log/slog"
	"time"

	"github.com/weaveproject/weave/pkg/authscope"
	"github.com/weaveproject/weave/pkg/command"
	"github.com/weaveproject/weave/pkg/component"
	"github.com/weaveproject/weave/pkg/jsonval"
	"github.com/weaveproject/weave/pkg/revocation"
	"github.com/weaveproject/weave/pkg/schema"
	"github.com/weaveproject/weave/pkg/settings"
	"github.com/weaveproject/weave/pkg/statequeue"
)

// apiVersion is the fixed Privet protocol version this device reports
// in its privet.apiVersion state (spec.md §6).
const apiVersion = "3"

// componentPath is the single component hosting every built-in trait.
const componentPath = "device"

// Register loads the built-in trait definitions, adds the hosting
// component, installs every command handler named in spec.md §4.9, and
// publishes the initial state snapshot.
func Register(tree *component.Tree, schemaStore *schema.Store, queue *command.Queue, stateQ *statequeue.Queue, st *settings.Store, revMgr *revocation.Manager, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handlers{tree: tree, queue: queue, stateQ: stateQ, settings: st, revocation: revMgr, logger: logger}

	if err := schemaStore.Load(traitDefinitions()); err != nil {
		return err
	}
	if err := tree.AddComponent("", componentPath, []string{"device", "privet", "_accessRevocationList"}); err != nil {
		return err
	}

	if err := queue.AddCommandHandler(componentPath, "device.setConfig", h.deviceSetConfig); err != nil {
		return err
	}
	if err := queue.AddCommandHandler(componentPath, "privet.setConfig", h.privetSetConfig); err != nil {
		return err
	}
	if err := queue.AddCommandHandler(componentPath, "_accessRevocationList.add", h.revocationAdd); err != nil {
		return err
	}
	if err := queue.AddCommandHandler(componentPath, "_accessRevocationList.list", h.revocationList); err != nil {
		return err
	}

	st.OnChanged(func(settings.Settings) { h.publishDeviceAndPrivetState() })
	if revMgr != nil {
		revMgr.OnChanged(func() { h.publishRevocationState() })
	}
	h.publishDeviceAndPrivetState()
	h.publishRevocationState()
	return nil
}

type handlers struct {
	tree       *component.Tree
	queue      *command.Queue
	stateQ     *statequeue.Queue
	settings   *settings.Store
	revocation *revocation.Manager
	logger     *slog.Logger
}

func (h *handlers) publishDeviceAndPrivetState() {
	cfg := h.settings.Current()
	patch := jsonval.Object().
		Set("device", jsonval.Object().
			Set("name", jsonval.String(cfg.Name)).
			Set("description", jsonval.String(cfg.Description)).
			Set("location", jsonval.String(cfg.Location)).
			Set("hardwareId", jsonval.String(cfg.DeviceID)).
			Set("serialNumber", jsonval.String(cfg.SerialNumber)).
			Set("firmwareVersion", jsonval.String(cfg.FirmwareVersion))).
		Set("privet", jsonval.Object().
			Set("apiVersion", jsonval.String(apiVersion)).
			Set("isLocalAccessEnabled", jsonval.Bool(cfg.LocalAccessEnabled)).
			Set("maxRoleForAnonymousAccess", jsonval.String(cfg.LocalAnonymousAccessRole.String())))
	if _, err := h.stateQ.NotifyPropertiesUpdated(componentPath, time.Now(), patch); err != nil {
		h.logger.Warn("failed to publish device/privet state", "err", err)
	}
}

func (h *handlers) publishRevocationState() {
	if h.revocation == nil {
		return
	}
	patch := jsonval.Object().Set("_accessRevocationList", jsonval.Object().
		Set("capacity", jsonval.Int(int64(h.revocation.Capacity()))))
	if _, err := h.stateQ.NotifyPropertiesUpdated(componentPath, time.Now(), patch); err != nil {
		h.logger.Warn("failed to publish revocation state", "err", err)
	}
}

func stringParam(v jsonval.Value, key string) (string, bool) {
	f, ok := v.Get(key)
	if !ok {
		return "", false
	}
	return f.AsString()
}

func (h *handlers) deviceSetConfig(hdl command.Handle) {
	inst, ok := hdl.Get()
	if !ok {
		return
	}
	_ = inst.SetProgress(jsonval.Object())

	h.settings.Begin().Set(func(s *settings.Settings) {
		if name, ok := stringParam(inst.Parameters, "name"); ok {
			s.Name = name
		}
		if desc, ok := stringParam(inst.Parameters, "description"); ok {
			s.Description = desc
		}
		if loc, ok := stringParam(inst.Parameters, "location"); ok {
			s.Location = loc
		}
	}).Commit()

	if err := inst.Complete(jsonval.Object()); err != nil {
		h.logger.Warn("device.setConfig: failed to complete", "err", err)
	}
}

func (h *handlers) privetSetConfig(hdl command.Handle) {
	inst, ok := hdl.Get()
	if !ok {
		return
	}
	_ = inst.SetProgress(jsonval.Object())

	var parseErr error
	h.settings.Begin().Set(func(s *settings.Settings) {
		if enabled, ok := inst.Parameters.Get("isLocalAccessEnabled"); ok {
			if b, ok := enabled.AsBool(); ok {
				s.LocalAccessEnabled = b
			}
		}
		if roleStr, ok := stringParam(inst.Parameters, "maxRoleForAnonymousAccess"); ok {
			role, err := authscope.ParseScope(roleStr)
			if err != nil {
				parseErr = err
				return
			}
			s.LocalAnonymousAccessRole = role
		}
	}).Commit()

	if parseErr != nil {
		_ = inst.SetError(nil)
		h.logger.Warn("privet.setConfig: invalid maxRoleForAnonymousAccess", "err", parseErr)
		return
	}
	if err := inst.Complete(jsonval.Object()); err != nil {
		h.logger.Warn("privet.setConfig: failed to complete", "err", err)
	}
}
