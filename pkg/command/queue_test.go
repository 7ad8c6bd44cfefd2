package command

import (
	"testing"
	"time"

	"github.com/weaveproject/weave/pkg/authscope"
	"github.com/weaveproject/weave/pkg/component"
	"github.com/weaveproject/weave/pkg/errs"
	"github.com/weaveproject/weave/pkg/jsonval"
	"github.com/weaveproject/weave/pkg/provider"
	"github.com/weaveproject/weave/pkg/schema"
)

type fakeRunner struct {
	posted []func()
}

func (f *fakeRunner) PostDelayed(fromHere string, task func(), delay time.Duration) provider.CancelFunc {
	f.posted = append(f.posted, task)
	return func() {}
}

func (f *fakeRunner) runAll() {
	tasks := f.posted
	f.posted = nil
	for _, t := range tasks {
		t()
	}
}

func parseV(t *testing.T, s string) jsonval.Value {
	t.Helper()
	v, err := jsonval.Parse([]byte(s))
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return v
}

func newTestQueue(t *testing.T, traitJSON string) (*Queue, *schema.Store, *component.Tree, *fakeRunner) {
	t.Helper()
	st := schema.New(nil)
	if err := st.Load(parseV(t, traitJSON)); err != nil {
		t.Fatalf("load traits: %v", err)
	}
	tree := component.New(st)
	runner := &fakeRunner{}
	q := New(st, tree, runner)
	return q, st, tree, runner
}

func TestAddCommandRoutesByTrait(t *testing.T) {
	q, _, tree, _ := newTestQueue(t, `{
		"t1":{"commands":{"c":{"minimalRole":"user"}}},
		"t2":{"commands":{"c":{"minimalRole":"user"}}}
	}`)
	if err := tree.AddComponent("", "comp1", []string{"t1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tree.AddComponent("", "comp2", []string{"t2"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fired := false
	if err := q.AddCommandHandler("comp2", "t2.c", func(h Handle) {
		fired = true
		inst, ok := h.Get()
		if !ok {
			t.Fatalf("expected instance to resolve")
		}
		if err := inst.SetProgress(jsonval.Object()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := inst.Complete(jsonval.Object()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	dict := parseV(t, `{"name":"t2.c"}`)
	inst, err := q.AddCommand(dict, authscope.User, OriginLocal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inst.Component != "comp2" {
		t.Fatalf("expected routing to comp2, got %q", inst.Component)
	}
	if !fired {
		t.Fatalf("expected handler to fire")
	}
	if inst.State != Done {
		t.Fatalf("expected done, got %v", inst.State)
	}
}

func TestAddCommandAccessDenied(t *testing.T) {
	q, _, tree, _ := newTestQueue(t, `{"t1":{"commands":{"c":{"minimalRole":"owner"}}}}`)
	if err := tree.AddComponent("", "comp1", []string{"t1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dict := parseV(t, `{"name":"t1.c"}`)
	_, err := q.AddCommand(dict, authscope.User, OriginLocal)
	if !errs.Is(err, errs.CodeAccessDenied) {
		t.Fatalf("expected access denied, got %v", err)
	}
}

func TestAddCommandParameterValidation(t *testing.T) {
	q, _, tree, _ := newTestQueue(t, `{
		"printer":{"commands":{"print":{"minimalRole":"user","parameters":{"type":"object","properties":{"sheets":{"type":"integer","minimum":1}}}}}}
	}`)
	if err := tree.AddComponent("", "p", []string{"printer"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bad := parseV(t, `{"name":"printer.print","parameters":{"sheets":0}}`)
	if _, err := q.AddCommand(bad, authscope.User, OriginLocal); !errs.Is(err, errs.CodeInvalidParameter) {
		t.Fatalf("expected invalid parameter error, got %v", err)
	}
	good := parseV(t, `{"name":"printer.print","parameters":{"sheets":3}}`)
	if _, err := q.AddCommand(good, authscope.User, OriginLocal); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAddCommandQueuedUntilHandlerRegisters(t *testing.T) {
	q, _, tree, _ := newTestQueue(t, `{"t1":{"commands":{"c":{"minimalRole":"user"}}}}`)
	if err := tree.AddComponent("", "comp1", []string{"t1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dict := parseV(t, `{"name":"t1.c"}`)
	inst, err := q.AddCommand(dict, authscope.User, OriginLocal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inst.State != Queued {
		t.Fatalf("expected queued, got %v", inst.State)
	}

	fired := false
	if err := q.AddCommandHandler("comp1", "t1.c", func(h Handle) { fired = true }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fired {
		t.Fatalf("expected queued command to fire once handler registers")
	}
}

func TestAddCommandLocalIDsAreMonotonic(t *testing.T) {
	q, _, tree, _ := newTestQueue(t, `{"t1":{"commands":{"c":{"minimalRole":"user"}}}}`)
	if err := tree.AddComponent("", "comp1", []string{"t1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dict := parseV(t, `{"name":"t1.c"}`)
	i1, err := q.AddCommand(dict, authscope.User, OriginLocal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	i2, err := q.AddCommand(dict, authscope.User, OriginLocal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if i1.ID == i2.ID {
		t.Fatalf("expected distinct ids, got %q twice", i1.ID)
	}
}

func TestAddCommandCloudRequiresID(t *testing.T) {
	q, _, tree, _ := newTestQueue(t, `{"t1":{"commands":{"c":{"minimalRole":"user"}}}}`)
	if err := tree.AddComponent("", "comp1", []string{"t1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dict := parseV(t, `{"name":"t1.c"}`)
	if _, err := q.AddCommand(dict, authscope.User, OriginCloud); !errs.Is(err, errs.CodeInvalidCommandName) {
		t.Fatalf("expected error requiring id, got %v", err)
	}
	withID := parseV(t, `{"name":"t1.c","id":"server-123"}`)
	inst, err := q.AddCommand(withID, authscope.User, OriginCloud)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inst.ID != "server-123" {
		t.Fatalf("expected server-supplied id, got %q", inst.ID)
	}
}

func TestCommandRemovalAfterGracePeriod(t *testing.T) {
	q, _, tree, runner := newTestQueue(t, `{"t1":{"commands":{"c":{"minimalRole":"user"}}}}`)
	if err := tree.AddComponent("", "comp1", []string{"t1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dict := parseV(t, `{"name":"t1.c"}`)
	inst, err := q.AddCommand(dict, authscope.User, OriginLocal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := inst.SetProgress(jsonval.Object()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := inst.Complete(jsonval.Object()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := q.Find(inst.ID); !ok {
		t.Fatalf("expected instance to still resolve before grace period elapses")
	}
	runner.runAll()
	if _, ok := q.Find(inst.ID); ok {
		t.Fatalf("expected instance to be removed after grace period")
	}
}

func TestStateMachineTransitions(t *testing.T) {
	q, _, tree, _ := newTestQueue(t, `{"t1":{"commands":{"c":{"minimalRole":"user"}}}}`)
	if err := tree.AddComponent("", "comp1", []string{"t1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dict := parseV(t, `{"name":"t1.c"}`)
	inst, err := q.AddCommand(dict, authscope.User, OriginLocal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := inst.Complete(jsonval.Object()); !errs.Is(err, errs.CodeInvalidTransition) {
		t.Fatalf("expected invalid transition queued->done, got %v", err)
	}
	if err := inst.SetProgress(jsonval.Object()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := inst.Pause(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inst.State != Paused {
		t.Fatalf("expected paused, got %v", inst.State)
	}
	if err := inst.SetProgress(jsonval.Object()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := inst.Complete(jsonval.Object()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := inst.Cancel(); !errs.Is(err, errs.CodeInvalidTransition) {
		t.Fatalf("expected terminal state to reject further transitions, got %v", err)
	}
}
