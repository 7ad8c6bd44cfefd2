package baseapi

import (
	"encoding/base64"
	"testing"

	"github.com/weaveproject/weave/pkg/authscope"
	"github.com/weaveproject/weave/pkg/command"
	"github.com/weaveproject/weave/pkg/component"
	"github.com/weaveproject/weave/pkg/jsonval"
	"github.com/weaveproject/weave/pkg/revocation"
	"github.com/weaveproject/weave/pkg/schema"
	"github.com/weaveproject/weave/pkg/settings"
	"github.com/weaveproject/weave/pkg/statequeue"
)

type fakeConfig struct{ blob string }

func (f *fakeConfig) LoadDefaults(map[string]any)    {}
func (f *fakeConfig) LoadSettings() (string, error)  { return f.blob, nil }
func (f *fakeConfig) SaveSettings(blob string) error { f.blob = blob; return nil }

type fakePersister struct{ entries []revocation.Entry }

func (p *fakePersister) Load() ([]revocation.Entry, error) { return p.entries, nil }
func (p *fakePersister) Save(e []revocation.Entry) error   { p.entries = e; return nil }

func newTestRig(t *testing.T) (*component.Tree, *schema.Store, *command.Queue, *statequeue.Queue, *settings.Store, *revocation.Manager) {
	t.Helper()
	schemaStore := schema.New(nil)
	tree := component.New(schemaStore)
	queue := command.New(schemaStore, tree, nil)
	stateQ := statequeue.New(tree, 0)
	st, err := settings.New(&fakeConfig{}, nil)
	if err != nil {
		t.Fatalf("settings.New: %v", err)
	}
	revMgr, err := revocation.New(&fakePersister{}, 4)
	if err != nil {
		t.Fatalf("revocation.New: %v", err)
	}
	return tree, schemaStore, queue, stateQ, st, revMgr
}

func TestRegisterAddsComponentAndTraitDefs(t *testing.T) {
	tree, schemaStore, queue, stateQ, st, revMgr := newTestRig(t)
	if err := Register(tree, schemaStore, queue, stateQ, st, revMgr, nil); err != nil {
		t.Fatalf("Register: %v", err)
	}
	view, err := tree.FindComponent(componentPath)
	if err != nil {
		t.Fatalf("FindComponent: %v", err)
	}
	want := map[string]bool{"device": false, "privet": false, "_accessRevocationList": false}
	for _, tr := range view.Traits {
		want[tr] = true
	}
	for tr, found := range want {
		if !found {
			t.Fatalf("expected component to carry trait %q", tr)
		}
	}
}

func TestDeviceSetConfigUpdatesSettings(t *testing.T) {
	tree, schemaStore, queue, stateQ, st, revMgr := newTestRig(t)
	if err := Register(tree, schemaStore, queue, stateQ, st, revMgr, nil); err != nil {
		t.Fatalf("Register: %v", err)
	}

	dict := jsonval.Object().
		Set("name", jsonval.String("device.setConfig")).
		Set("id", jsonval.String("1")).
		Set("parameters", jsonval.Object().Set("name", jsonval.String("kitchen-light")))
	inst, err := queue.AddCommand(dict, authscope.Owner, command.OriginLocal)
	if err != nil {
		t.Fatalf("AddCommand: %v", err)
	}
	if inst.State != command.Done {
		t.Fatalf("expected command to complete, got state %v", inst.State)
	}
	if st.Current().Name != "kitchen-light" {
		t.Fatalf("expected settings.Name updated, got %q", st.Current().Name)
	}
}

func TestPrivetSetConfigValidatesRole(t *testing.T) {
	tree, schemaStore, queue, stateQ, st, revMgr := newTestRig(t)
	if err := Register(tree, schemaStore, queue, stateQ, st, revMgr, nil); err != nil {
		t.Fatalf("Register: %v", err)
	}

	dict := jsonval.Object().
		Set("name", jsonval.String("privet.setConfig")).
		Set("id", jsonval.String("2")).
		Set("parameters", jsonval.Object().
			Set("isLocalAccessEnabled", jsonval.Bool(true)).
			Set("maxRoleForAnonymousAccess", jsonval.String("manager")))
	inst, err := queue.AddCommand(dict, authscope.Owner, command.OriginLocal)
	if err != nil {
		t.Fatalf("AddCommand: %v", err)
	}
	if inst.State != command.Done {
		t.Fatalf("expected command to complete, got state %v", inst.State)
	}
	cfg := st.Current()
	if !cfg.LocalAccessEnabled || cfg.LocalAnonymousAccessRole != authscope.Manager {
		t.Fatalf("expected settings updated, got %+v", cfg)
	}
}

func TestRevocationAddAndList(t *testing.T) {
	tree, schemaStore, queue, stateQ, st, revMgr := newTestRig(t)
	if err := Register(tree, schemaStore, queue, stateQ, st, revMgr, nil); err != nil {
		t.Fatalf("Register: %v", err)
	}

	userID := base64.StdEncoding.EncodeToString([]byte("user-1"))
	appID := base64.StdEncoding.EncodeToString([]byte("app-1"))
	dict := jsonval.Object().
		Set("name", jsonval.String("_accessRevocationList.add")).
		Set("id", jsonval.String("3")).
		Set("parameters", jsonval.Object().
			Set("userId", jsonval.String(userID)).
			Set("applicationId", jsonval.String(appID)).
			Set("revocationTimestamp", jsonval.Float(100)))
	inst, err := queue.AddCommand(dict, authscope.Owner, command.OriginLocal)
	if err != nil {
		t.Fatalf("AddCommand: %v", err)
	}
	if inst.State != command.Done {
		t.Fatalf("expected add to complete, got state %v", inst.State)
	}

	listDict := jsonval.Object().Set("name", jsonval.String("_accessRevocationList.list")).Set("id", jsonval.String("4"))
	listInst, err := queue.AddCommand(listDict, authscope.Owner, command.OriginLocal)
	if err != nil {
		t.Fatalf("AddCommand (list): %v", err)
	}
	if listInst.State != command.Done {
		t.Fatalf("expected list to complete, got state %v", listInst.State)
	}
	revocations, ok := listInst.Results.Get("revocations")
	if !ok {
		t.Fatalf("expected results to contain revocations")
	}
	items, _ := revocations.AsArray()
	if len(items) != 1 {
		t.Fatalf("expected 1 revocation entry, got %d", len(items))
	}
}

func TestRevocationAddRejectsBadUserID(t *testing.T) {
	tree, schemaStore, queue, stateQ, st, revMgr := newTestRig(t)
	if err := Register(tree, schemaStore, queue, stateQ, st, revMgr, nil); err != nil {
		t.Fatalf("Register: %v", err)
	}

	dict := jsonval.Object().
		Set("name", jsonval.String("_accessRevocationList.add")).
		Set("id", jsonval.String("5")).
		Set("parameters", jsonval.Object().
			Set("userId", jsonval.String("not-base64!!")).
			Set("applicationId", jsonval.String(base64.StdEncoding.EncodeToString([]byte("app-1")))).
			Set("revocationTimestamp", jsonval.Float(100)))
	inst, err := queue.AddCommand(dict, authscope.Owner, command.OriginLocal)
	if err != nil {
		t.Fatalf("AddCommand: %v", err)
	}
	if inst.State != command.Error {
		t.Fatalf("expected command to land in error state, got %v", inst.State)
	}
}
