package schema

import (
	"testing"

	"github.com/weaveproject/weave/pkg/authscope"
	"github.com/weaveproject/weave/pkg/errs"
	"github.com/weaveproject/weave/pkg/jsonval"
)

func TestLoadThenFind(t *testing.T) {
	s := New(nil)
	defs := mustParse(t, `{
		"printer":{
			"commands":{
				"print":{"minimalRole":"user","parameters":{"type":"object"}}
			},
			"state":{"properties":{"state":{"type":"string"}}}
		}
	}`)
	if err := s.Load(defs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.Has("printer") {
		t.Fatalf("expected printer trait to be registered")
	}
	if got := s.Names(); len(got) != 1 || got[0] != "printer" {
		t.Fatalf("unexpected Names(): %v", got)
	}
}

// Scenario 1 from spec.md §8: redefining a trait with different
// contents is rejected, and rejected atomically — the store keeps the
// original definition, not a partial merge of old and new.
func TestLoadRejectsConflictingRedefinition(t *testing.T) {
	s := New(nil)
	first := mustParse(t, `{"printer":{"commands":{"print":{"minimalRole":"user"}}}}`)
	if err := s.Load(first); err != nil {
		t.Fatalf("unexpected error on first load: %v", err)
	}

	conflicting := mustParse(t, `{"printer":{"commands":{"print":{"minimalRole":"manager"}}}}`)
	err := s.Load(conflicting)
	if !errs.Is(err, errs.CodeConflict) {
		t.Fatalf("expected conflict error, got %v", err)
	}

	def, _ := s.Find("printer")
	cmds, _ := def.Get("commands")
	printCmd, _ := cmds.Get("print")
	role, _ := printCmd.Get("minimalRole")
	got, _ := role.AsString()
	if got != "user" {
		t.Fatalf("store mutated despite rejected conflict: minimalRole = %q", got)
	}
}

// Redefining a trait with byte-for-byte (structurally) identical
// contents is idempotent, not a conflict.
func TestLoadAllowsIdenticalRedefinition(t *testing.T) {
	s := New(nil)
	defs := mustParse(t, `{"printer":{"commands":{"print":{"minimalRole":"user"}}}}`)
	if err := s.Load(defs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sameAgain := mustParse(t, `{"printer":{"commands":{"print":{"minimalRole":"user"}}}}`)
	if err := s.Load(sameAgain); err != nil {
		t.Fatalf("identical redefinition should be accepted, got %v", err)
	}
}

func TestLoadIsAllOrNothing(t *testing.T) {
	s := New(nil)
	valid := mustParse(t, `{"printer":{"commands":{}}}`)
	if err := s.Load(valid); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mixed := mustParse(t, `{"scanner":{"commands":{}},"printer":{"commands":{"print":{"minimalRole":"owner"}}}}`)
	if err := s.Load(mixed); !errs.Is(err, errs.CodeConflict) {
		t.Fatalf("expected conflict error, got %v", err)
	}
	if s.Has("scanner") {
		t.Fatalf("scanner should not have been committed when printer conflicted")
	}
}

func TestCommandLookup(t *testing.T) {
	s := New(nil)
	defs := mustParse(t, `{
		"printer":{
			"commands":{
				"print":{
					"minimalRole":"manager",
					"parameters":{"type":"object","properties":{"sheets":{"type":"integer"}}}
				}
			}
		}
	}`)
	if err := s.Load(defs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cmd, err := s.Command("printer", "print")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.Name != "printer.print" {
		t.Fatalf("unexpected command name: %q", cmd.Name)
	}
	if cmd.MinimalRole != authscope.Manager {
		t.Fatalf("expected Manager role, got %v", cmd.MinimalRole)
	}

	if _, err := s.Command("printer", "scan"); !errs.Is(err, errs.CodeInvalidCommandName) {
		t.Fatalf("expected invalid-command-name error, got %v", err)
	}
	if _, err := s.Command("scanner", "scan"); !errs.Is(err, errs.CodeUnknownTrait) {
		t.Fatalf("expected unknown-trait error, got %v", err)
	}
}

func TestCommandDefaultsToUserRole(t *testing.T) {
	s := New(nil)
	defs := mustParse(t, `{"printer":{"commands":{"print":{}}}}`)
	if err := s.Load(defs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cmd, err := s.Command("printer", "print")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.MinimalRole != authscope.User {
		t.Fatalf("expected default User role, got %v", cmd.MinimalRole)
	}
}

func TestOnTraitDefsChangedFiresImmediatelyAndOnLoad(t *testing.T) {
	s := New(nil)
	calls := 0
	s.OnTraitDefsChanged(func() { calls++ })
	if calls != 1 {
		t.Fatalf("expected immediate call, got %d calls", calls)
	}
	defs := mustParse(t, `{"printer":{"commands":{}}}`)
	if err := s.Load(defs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected callback on Load, got %d calls", calls)
	}
}

func TestStateLookup(t *testing.T) {
	s := New(nil)
	defs := mustParse(t, `{"printer":{"state":{"properties":{"state":{"type":"string"}}}}}`)
	if err := s.Load(defs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	st, ok := s.State("printer")
	if !ok {
		t.Fatalf("expected state schema to be present")
	}
	if st.Kind() != jsonval.KindObject {
		t.Fatalf("expected object kind, got %v", st.Kind())
	}
	if _, ok := s.State("scanner"); ok {
		t.Fatalf("expected no state schema for undeclared trait")
	}
}
