// Package weave is the top-level facade composing every device-side
// subsystem into one running device: the component tree and command
// queue, the cloud sync engine, the Privet local security manager and
// its HTTP(S) wire surface, and the Wi-Fi bootstrap state machine.
//
// Grounded on the teacher's cmd/devopsclaw/main.go composition root
// (build every subsystem, wire callbacks between them, expose one
// entrypoint) generalized from a CLI tool's wiring into a library
// constructor, since this module has no main of its own — the host
// application owns main() and just calls weave.New.
package weave

import (
	"context"
	"log/slog"

	"github.com/weaveproject/weave/pkg/audit"
	"github.com/weaveproject/weave/pkg/baseapi"
	"github.com/weaveproject/weave/pkg/cloud"
	"github.com/weaveproject/weave/pkg/command"
	"github.com/weaveproject/weave/pkg/component"
	"github.com/weaveproject/weave/pkg/jsonval"
	"github.com/weaveproject/weave/pkg/privet"
	"github.com/weaveproject/weave/pkg/provider"
	"github.com/weaveproject/weave/pkg/revocation"
	"github.com/weaveproject/weave/pkg/schema"
	"github.com/weaveproject/weave/pkg/settings"
	"github.com/weaveproject/weave/pkg/statequeue"
	"github.com/weaveproject/weave/pkg/wifi"
)

// Config collects every host-provided collaborator and factory-time
// default spec.md §6 requires before a Device can be built.
type Config struct {
	ConfigStore provider.ConfigStore
	HTTPClient  provider.HTTPClient
	HTTPServer  provider.HTTPServer
	DNSSD       provider.DNSSD // optional, skips discovery if nil
	Network     provider.Network
	TaskRunner  provider.TaskRunner
	WiFi        provider.WiFi

	// PushChannel is the optional realtime notification channel
	// (spec.md §4.7); nil falls back to polling-only.
	PushChannel cloud.PushChannel

	// CertFingerprint overrides the HTTPS certificate fingerprint
	// Privet signs pairing confirmations with. Defaults to
	// HTTPServer.HTTPSCertificateFingerprint.
	CertFingerprint privet.CertFingerprint

	// SSIDNamer overrides the access-point SSID advertised while
	// Wi-Fi bootstrapping. Defaults to wifi.New's built-in literal.
	SSIDNamer wifi.SSIDNamer

	// AuditDir, if set, turns on a JSONL audit trail under this
	// directory (spec.md §7's security-event trail). Leave empty to
	// disable auditing.
	AuditDir string

	// Defaults seeds Settings fields the host knows at factory time
	// (oemName, modelId, serialNumber, deviceId, ...) before any
	// persisted blob is applied on top.
	Defaults map[string]any

	Logger *slog.Logger
}

// Device is one running instance of this library: every subsystem
// wired together and ready for Start.
type Device struct {
	Schema     *schema.Store
	Tree       *component.Tree
	Commands   *command.Queue
	StateLog   *statequeue.Queue
	Settings   *settings.Store
	Revocation *revocation.Manager
	Privet     *privet.Manager
	Cloud      *cloud.Engine
	WiFi       *wifi.Manager
	Audit      audit.Store

	privetHandler *privet.Handler
	httpServer    provider.HTTPServer
	dnssd         provider.DNSSD
	runner        provider.TaskRunner
	logger        *slog.Logger
	auditLogger   *audit.Logger
}

// New builds a Device from cfg: loads persisted settings, registers
// the built-in traits and command handlers (pkg/baseapi), and
// constructs every subsystem manager without starting any of them —
// call Start to bring the device up.
func New(cfg Config) (*Device, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	schemaStore := schema.New(logger)
	tree := component.New(schemaStore)
	queue := command.New(schemaStore, tree, cfg.TaskRunner)
	stateQ := statequeue.New(tree, 0)

	st, err := settings.New(cfg.ConfigStore, cfg.Defaults)
	if err != nil {
		return nil, err
	}

	revMgr, err := revocation.New(&settingsRevocationPersister{settings: st}, 0)
	if err != nil {
		return nil, err
	}

	if err := baseapi.Register(tree, schemaStore, queue, stateQ, st, revMgr, logger); err != nil {
		return nil, err
	}

	certFP := cfg.CertFingerprint
	if certFP == nil && cfg.HTTPServer != nil {
		certFP = cfg.HTTPServer.HTTPSCertificateFingerprint
	}
	privetMgr := privet.New(st, cfg.TaskRunner, certFP, logger)

	snapshot := func() jsonval.Value { return tree.Dump() }
	cloudEngine := cloud.New(st, cfg.HTTPClient, cfg.TaskRunner, queue, stateQ, snapshot, cfg.PushChannel, logger)

	wifiMgr := wifi.New(st, cfg.WiFi, cfg.Network, cfg.TaskRunner, cfg.SSIDNamer, logger)

	var auditStore audit.Store
	if cfg.AuditDir != "" {
		auditStore = audit.NewFileStore(cfg.AuditDir)
	}

	d := &Device{
		Schema:        schemaStore,
		Tree:          tree,
		Commands:      queue,
		StateLog:      stateQ,
		Settings:      st,
		Revocation:    revMgr,
		Privet:        privetMgr,
		Cloud:         cloudEngine,
		WiFi:          wifiMgr,
		Audit:         auditStore,
		privetHandler: privet.NewHandler(privetMgr),
		httpServer:    cfg.HTTPServer,
		dnssd:         cfg.DNSSD,
		runner:        cfg.TaskRunner,
		logger:        logger,
	}

	d.wireAudit()
	stateQ.OnChange(func() {
		d.postCallback("weave.publishState", func() {
			if err := cloudEngine.PublishState(context.Background()); err != nil {
				logger.Warn("state publish failed", "err", err)
			}
		})
	})

	return d, nil
}

// Start brings every subsystem up: the cloud engine resumes from
// persisted credentials, the Wi-Fi bootstrap machine starts from
// whatever network is configured, the Privet wire surface is
// registered on the host's HTTP(S) server, and (if a DNSSD provider was
// given) discovery is published.
func (d *Device) Start(ctx context.Context) {
	d.Cloud.Start(ctx)
	d.WiFi.Start()
	d.registerWireSurface()
	d.publishDiscovery()
}

// postCallback runs task on the host's task runner instead of spawning
// a goroutine — spec.md §5's "the library owns no threads" invariant
// applies to every fan-out, not just the ones with a delay.
func (d *Device) postCallback(fromHere string, task func()) {
	if d.runner == nil {
		task()
		return
	}
	d.runner.PostDelayed(fromHere, task, 0)
}

// wireAudit subscribes the audit trail to every lifecycle hook the
// command queue, Privet pairing, the cloud engine, and revocation
// expose, using audit.Logger's domain-specific convenience methods
// instead of hand-building Events at each call site.
func (d *Device) wireAudit() {
	if d.Audit == nil {
		return
	}
	logger := audit.NewLogger(d.Audit)
	d.auditLogger = logger
	ctx := context.Background()

	d.Commands.OnCommandCreated(func(inst *command.Instance) {
		_ = logger.LogCommandCreated(ctx, inst.Component, inst.Name, string(inst.Origin))
	})
	d.Commands.OnCommandStateChanged(func(inst *command.Instance) {
		_ = logger.LogCommandStateChange(ctx, inst.Component, inst.Name, inst.State.String())
	})

	d.Privet.OnPairingStart(func(sessionID string, mode settings.PairingType, code string) {
		_ = logger.LogPairingStarted(ctx, sessionID, string(mode))
	})
	d.Privet.OnPairingOutcome(func(sessionID string, confirmed bool, errMsg string) {
		_ = logger.LogPairingOutcome(ctx, sessionID, confirmed, errMsg)
	})

	d.Cloud.OnGCDStateChanged(func(s cloud.GCDState) {
		_ = logger.LogCloudStateChange(ctx, s.String())
	})

	// No Logger convenience method covers a revocation-list change, so
	// this one still goes through Store.Append directly.
	d.Revocation.OnChanged(func() {
		d.append(audit.EventAccessRevoked, "system", "_accessRevocationList.add", nil, nil)
	})
}

func (d *Device) append(typ audit.EventType, actor, action string, target *audit.EventTarget, result *audit.EventResult) {
	_ = d.Audit.Append(context.Background(), &audit.Event{
		Type:   typ,
		Actor:  actor,
		Action: action,
		Target: target,
		Result: result,
	})
}

// logAccessDecision records a local wire-surface authorization outcome
// (spec.md §6's Privet auth gate); a no-op when auditing is disabled.
func (d *Device) logAccessDecision(userID string, allowed bool, reason string) {
	if d.auditLogger == nil {
		return
	}
	_ = d.auditLogger.LogAccessDecision(context.Background(), userID, "", allowed, reason)
}
