package command

import (
	"strconv"
	"sync"
	"time"

	"github.com/weaveproject/weave/pkg/authscope"
	"github.com/weaveproject/weave/pkg/component"
	"github.com/weaveproject/weave/pkg/errs"
	"github.com/weaveproject/weave/pkg/jsonval"
	"github.com/weaveproject/weave/pkg/provider"
	"github.com/weaveproject/weave/pkg/schema"
)

// removalGrace is how long a terminal command lingers in the queue
// before the queue destroys it (spec.md §4.2).
const removalGrace = 5 * time.Minute

// HandlerFunc handles a routed command via a non-owning Handle.
type HandlerFunc func(Handle)

type handlerKey struct {
	component string
	name      string
}

// CommandSchema is the subset of pkg/schema.Store the queue needs.
type CommandSchema interface {
	Command(trait, command string) (schema.CommandDef, error)
}

// ComponentLookup is the subset of pkg/component.Tree the queue needs.
type ComponentLookup interface {
	FindComponent(path string) (component.View, error)
	FindComponentWithTrait(trait string) string
}

// Queue holds all live command instances for one device.
type Queue struct {
	mu       sync.Mutex
	nextID   int64
	byID     map[string]*Instance
	order    []string
	handlers map[handlerKey]HandlerFunc
	hasDefault bool

	schema  CommandSchema
	tree    ComponentLookup
	runner  provider.TaskRunner
	removed []func(id string)
	created []func(inst *Instance)
	changed []func(inst *Instance)
}

// New creates an empty queue.
func New(schemaStore CommandSchema, tree ComponentLookup, runner provider.TaskRunner) *Queue {
	return &Queue{
		byID:     make(map[string]*Instance),
		handlers: make(map[handlerKey]HandlerFunc),
		schema:   schemaStore,
		tree:     tree,
		runner:   runner,
	}
}

// AddCommandHandler installs handler for (componentPath, commandName).
// An empty pair registers the default handler, which may be installed
// at most once and must be the last handler registered — spec.md §4.2.
func (q *Queue) AddCommandHandler(componentPath, commandName string, handler HandlerFunc) error {
	q.mu.Lock()

	key := handlerKey{component: componentPath, name: commandName}
	isDefault := componentPath == "" && commandName == ""
	if isDefault {
		if q.hasDefault {
			q.mu.Unlock()
			return errs.New(errs.DomainCommand, errs.CodeAlreadyExists, "command.AddCommandHandler", "default handler already installed")
		}
		q.hasDefault = true
	} else if _, exists := q.handlers[key]; exists {
		q.mu.Unlock()
		return errs.New(errs.DomainCommand, errs.CodeAlreadyExists, "command.AddCommandHandler", "handler already installed for "+componentPath+"/"+commandName)
	}
	q.handlers[key] = handler

	var toDispatch []*Instance
	for _, id := range q.order {
		inst := q.byID[id]
		if inst.State != Queued {
			continue
		}
		if matches(key, inst) {
			toDispatch = append(toDispatch, inst)
		}
	}
	q.mu.Unlock()

	for _, inst := range toDispatch {
		q.dispatch(inst)
	}
	return nil
}

func matches(key handlerKey, inst *Instance) bool {
	if key.component == "" && key.name == "" {
		return true // default handler key, caller already filtered queued state
	}
	return key.component == inst.Component && key.name == inst.Name
}

// AddCommand parses a command instance from dict and enqueues it.
// dict must contain "name" ("trait.command") and may contain
// "component", "parameters", and "id" (required for cloud origin).
func (q *Queue) AddCommand(dict jsonval.Value, role authscope.Scope, origin Origin) (*Instance, error) {
	nameV, ok := dict.Get("name")
	if !ok {
		return nil, errs.New(errs.DomainCommand, errs.CodeInvalidCommandName, "command.AddCommand", "missing \"name\"")
	}
	name, _ := nameV.AsString()
	trait, cmd, err := splitCommandName(name)
	if err != nil {
		return nil, err
	}

	def, err := q.schema.Command(trait, cmd)
	if err != nil {
		return nil, err
	}

	params, _ := dict.Get("parameters")
	if err := validateAgainst(params, def.Parameters); err != nil {
		return nil, err
	}

	compPath := ""
	if cv, ok := dict.Get("component"); ok {
		compPath, _ = cv.AsString()
	}
	if compPath == "" {
		compPath = q.tree.FindComponentWithTrait(trait)
		if compPath == "" {
			return nil, errs.New(errs.DomainCommand, errs.CodeUnrouted, "command.AddCommand", "no component carries trait \""+trait+"\"")
		}
	} else {
		view, err := q.tree.FindComponent(compPath)
		if err != nil {
			return nil, err
		}
		found := false
		for _, t := range view.Traits {
			if t == trait {
				found = true
				break
			}
		}
		if !found {
			return nil, errs.New(errs.DomainSchema, errs.CodeUnknownTrait, "command.AddCommand", "component \""+compPath+"\" does not carry trait \""+trait+"\"")
		}
	}

	if !role.Meets(def.MinimalRole) {
		return nil, errs.New(errs.DomainAuth, errs.CodeAccessDenied, "command.AddCommand", "role below command's minimalRole")
	}

	var id string
	q.mu.Lock()
	if origin == OriginCloud {
		idV, ok := dict.Get("id")
		if !ok {
			q.mu.Unlock()
			return nil, errs.New(errs.DomainCommand, errs.CodeInvalidCommandName, "command.AddCommand", "cloud-origin command requires \"id\"")
		}
		id, _ = idV.AsString()
	} else {
		q.nextID++
		id = strconv.FormatInt(q.nextID, 10)
	}

	inst := &Instance{
		ID:           id,
		Name:         name,
		Component:    compPath,
		Origin:       origin,
		Parameters:   params,
		State:        Queued,
		CreationTime: time.Now(),
		def:          def,
		queue:        q,
	}
	q.byID[id] = inst
	q.order = append(q.order, id)
	createdCbs := append([]func(*Instance){}, q.created...)
	q.mu.Unlock()

	inst.OnChanged(q.fireStateChanged)

	for _, cb := range createdCbs {
		cb(inst)
	}
	q.dispatch(inst)

	return inst, nil
}

func (q *Queue) fireStateChanged(inst *Instance) {
	q.mu.Lock()
	cbs := append([]func(*Instance){}, q.changed...)
	q.mu.Unlock()
	for _, cb := range cbs {
		cb(inst)
	}
}

// dispatch fires the matching handler for a queued instance. Runs the
// handler with q.mu released, since handlers resolve their Handle back
// through Find, which locks q.mu itself.
func (q *Queue) dispatch(inst *Instance) {
	q.mu.Lock()
	key := handlerKey{component: inst.Component, name: inst.Name}
	h, ok := q.handlers[key]
	if !ok && q.hasDefault {
		h, ok = q.handlers[handlerKey{}]
	}
	q.mu.Unlock()
	if ok {
		h(inst.Handle())
	}
}

// Find looks up a live instance by id; ok is false once the instance
// has been removed.
func (q *Queue) Find(id string) (*Instance, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	inst, ok := q.byID[id]
	return inst, ok
}

// List returns every live instance, in creation order, for the Privet
// /privet/v3/commands/list endpoint.
func (q *Queue) List() []*Instance {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Instance, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, q.byID[id])
	}
	return out
}

func (q *Queue) scheduleRemoval(id string) {
	if q.runner == nil {
		return
	}
	q.runner.PostDelayed("command.scheduleRemoval", func() {
		q.mu.Lock()
		delete(q.byID, id)
		for i, oid := range q.order {
			if oid == id {
				q.order = append(q.order[:i], q.order[i+1:]...)
				break
			}
		}
		cbs := append([]func(string){}, q.removed...)
		q.mu.Unlock()
		for _, cb := range cbs {
			cb(id)
		}
	}, removalGrace)
}

// OnCommandRemoved registers cb, fired after an instance is destroyed.
func (q *Queue) OnCommandRemoved(cb func(id string)) {
	q.mu.Lock()
	q.removed = append(q.removed, cb)
	q.mu.Unlock()
}

// OnCommandCreated registers cb, fired once a new instance has been
// enqueued (before dispatch to its handler).
func (q *Queue) OnCommandCreated(cb func(inst *Instance)) {
	q.mu.Lock()
	q.created = append(q.created, cb)
	q.mu.Unlock()
}

// OnCommandStateChanged registers cb, fired after every instance on
// this queue completes a lifecycle transition.
func (q *Queue) OnCommandStateChanged(cb func(inst *Instance)) {
	q.mu.Lock()
	q.changed = append(q.changed, cb)
	q.mu.Unlock()
}

func splitCommandName(name string) (trait, cmd string, err error) {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return name[:i], name[i+1:], nil
		}
	}
	return "", "", errs.New(errs.DomainCommand, errs.CodeInvalidCommandName, "command.splitCommandName", "command name must be \"trait.command\"")
}
