// Package schema implements the trait-definition store and the
// JSON-schema-subset validator from spec.md §4.1: trait dictionaries
// (commands + state) are loaded, redefinitions are rejected unless
// byte-identical, and command parameters/progress/results are validated
// against the command's declared schema.
//
// No JSON-schema library exists anywhere in the example corpus, so this
// validator is hand-written against pkg/jsonval — flagged in DESIGN.md
// as the one module with no corpus library to ground the validator
// itself on (the store/load/subscribe shape is grounded on the
// teacher's pkg/fleet.NodeManager: a mutex-guarded map with a watcher
// list notified on every change).
package schema

import (
	"log/slog"
	"sync"

	"github.com/weaveproject/weave/pkg/authscope"
	"github.com/weaveproject/weave/pkg/errs"
	"github.com/weaveproject/weave/pkg/jsonval"
)

// CommandDef is one trait's command entry: minimalRole plus the
// parameters/progress/results schema dictionaries.
type CommandDef struct {
	Name        string
	MinimalRole authscope.Scope
	Parameters  jsonval.Value
	Progress    jsonval.Value
	Results     jsonval.Value
}

// Store holds all registered trait definitions.
type Store struct {
	mu     sync.RWMutex
	traits map[string]jsonval.Value
	logger *slog.Logger

	traitDefsChanged []func()
}

// New creates an empty trait-definition store.
func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		traits: make(map[string]jsonval.Value),
		logger: logger,
	}
}

// Load merges a trait-definition dictionary into the store. Every entry
// is validated (and checked for conflicting redefinition) before any
// mutation happens, so a single bad entry leaves the store entirely
// untouched — spec.md §7: "Schema errors at load time abort the
// operation without mutating state."
func (s *Store) Load(defs jsonval.Value) error {
	if defs.Kind() != jsonval.KindObject {
		return errs.New(errs.DomainSchema, errs.CodeTypeMismatch, "schema.Load", "trait definitions must be a JSON object")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, name := range defs.Keys() {
		val, _ := defs.Get(name)
		if val.Kind() != jsonval.KindObject {
			return errs.New(errs.DomainSchema, errs.CodeTypeMismatch, "schema.Load", "trait \""+name+"\" definition must be a JSON object")
		}
		if existing, ok := s.traits[name]; ok && !jsonval.Equal(existing, val) {
			return errs.New(errs.DomainSchema, errs.CodeConflict, "schema.Load", "trait \""+name+"\" redefined with different contents")
		}
	}

	for _, name := range defs.Keys() {
		val, _ := defs.Get(name)
		s.traits[name] = val
	}

	s.logger.Info("trait definitions loaded", "count", len(defs.Keys()))
	for _, cb := range s.traitDefsChanged {
		cb()
	}
	return nil
}

// Find returns the raw trait definition dict for name.
func (s *Store) Find(name string) (jsonval.Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.traits[name]
	return v, ok
}

// Has reports whether trait name is registered.
func (s *Store) Has(name string) bool {
	_, ok := s.Find(name)
	return ok
}

// Names returns every registered trait name.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.traits))
	for n := range s.traits {
		out = append(out, n)
	}
	return out
}

// Command looks up trait.command, returning errs.CodeUnknownTrait or
// errs.CodeInvalidCommandName when the trait or command isn't declared.
// This is the enforcement point for spec.md §9's open question: a
// command naming an undeclared trait or command is rejected here, at
// parse time, rather than silently accepted.
func (s *Store) Command(trait, command string) (CommandDef, error) {
	def, ok := s.Find(trait)
	if !ok {
		return CommandDef{}, errs.New(errs.DomainSchema, errs.CodeUnknownTrait, "schema.Command", "unknown trait \""+trait+"\"")
	}
	cmds, ok := def.Get("commands")
	if !ok || cmds.Kind() != jsonval.KindObject {
		return CommandDef{}, errs.New(errs.DomainCommand, errs.CodeInvalidCommandName, "schema.Command", "trait \""+trait+"\" declares no commands")
	}
	cmdDef, ok := cmds.Get(command)
	if !ok || cmdDef.Kind() != jsonval.KindObject {
		return CommandDef{}, errs.New(errs.DomainCommand, errs.CodeInvalidCommandName, "schema.Command", "trait \""+trait+"\" has no command \""+command+"\"")
	}

	roleStr := "user"
	if rv, ok := cmdDef.Get("minimalRole"); ok {
		if s, ok := rv.AsString(); ok {
			roleStr = s
		}
	}
	role, err := authscope.ParseScope(roleStr)
	if err != nil {
		return CommandDef{}, errs.Wrap(errs.DomainSchema, errs.CodeTypeMismatch, "schema.Command", "invalid minimalRole", err)
	}

	params, _ := cmdDef.Get("parameters")
	progress, _ := cmdDef.Get("progress")
	results, _ := cmdDef.Get("results")

	return CommandDef{
		Name:        trait + "." + command,
		MinimalRole: role,
		Parameters:  params,
		Progress:    progress,
		Results:     results,
	}, nil
}

// State returns the state property schema dict for a trait ("state" key).
func (s *Store) State(trait string) (jsonval.Value, bool) {
	def, ok := s.Find(trait)
	if !ok {
		return jsonval.Value{}, false
	}
	return def.Get("state")
}

// OnTraitDefsChanged registers cb, invoking it immediately and again on
// every subsequent successful Load — matching spec.md §4.1's
// subscribe_trait_defs_changed contract.
func (s *Store) OnTraitDefsChanged(cb func()) {
	s.mu.Lock()
	s.traitDefsChanged = append(s.traitDefsChanged, cb)
	s.mu.Unlock()
	cb()
}
