// Package component implements the component tree from spec.md §4.1: a
// named tree of nodes, each declaring a set of schema-registered traits,
// addressable by dotted path with "[i]" array indices, with lazy growth
// under a reserved components sub-key.
//
// Grounded on the teacher's pkg/fleet.NodeManager (mutex-guarded map
// plus a watcher-callback list notified on every mutation) the same way
// pkg/schema.Store is; there's no tree/path-addressing analog in the
// corpus so the tree walk and path grammar are new code.
package component

import (
	"strconv"
	"sync"

	"github.com/weaveproject/weave/pkg/errs"
	"github.com/weaveproject/weave/pkg/jsonval"
	"github.com/weaveproject/weave/pkg/schema"
)

// TraitChecker reports whether a trait name is registered, so the tree
// can reject add_component calls naming undeclared traits without
// importing pkg/schema's concrete type (keeps component testable with a
// stub).
type TraitChecker interface {
	Has(name string) bool
}

// Tree is the component tree root.
type Tree struct {
	mu     sync.RWMutex
	root   *node
	schema TraitChecker

	treeChanged []func()
}

// New creates an empty tree whose components may only declare traits
// known to schemaStore.
func New(schemaStore *schema.Store) *Tree {
	return &Tree{
		root:   newNode(nil),
		schema: schemaStore,
	}
}

// AddComponent adds a scalar child named name under parentPath.
func (t *Tree) AddComponent(parentPath, name string, traits []string) error {
	return t.add(parentPath, name, traits)
}

// AddComponentArrayItem appends a new array entry named arrayName
// under parentPath, returning the path of the new entry
// ("parent.arrayName[i]").
func (t *Tree) AddComponentArrayItem(parentPath, arrayName string, traits []string) (string, error) {
	t.mu.Lock()
	if err := t.validateTraits(traits); err != nil {
		t.mu.Unlock()
		return "", err
	}
	parent, err := t.locate(parentPath)
	if err != nil {
		t.mu.Unlock()
		return "", err
	}
	slot, ok := parent.children[arrayName]
	if !ok {
		slot = &childSlot{isArray: true}
		parent.children[arrayName] = slot
	}
	if !slot.isArray {
		t.mu.Unlock()
		return "", errs.New(errs.DomainCommand, errs.CodeAlreadyExists, "component.AddComponentArrayItem", "\""+arrayName+"\" is not an array child")
	}
	idx := len(slot.array)
	slot.array = append(slot.array, newNode(traits))
	t.mu.Unlock()

	t.fireTreeChanged()

	resultPath := joinChild(parentPath, arrayName) + indexSuffix(idx)
	return resultPath, nil
}

func (t *Tree) add(parentPath, name string, traits []string) error {
	t.mu.Lock()
	if err := t.validateTraits(traits); err != nil {
		t.mu.Unlock()
		return err
	}
	parent, err := t.locate(parentPath)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	if _, exists := parent.children[name]; exists {
		t.mu.Unlock()
		return errs.New(errs.DomainCommand, errs.CodeAlreadyExists, "component.AddComponent", "\""+name+"\" already exists")
	}
	parent.children[name] = &childSlot{single: newNode(traits)}
	t.mu.Unlock()

	t.fireTreeChanged()
	return nil
}

func (t *Tree) validateTraits(traits []string) error {
	for _, tr := range traits {
		if !t.schema.Has(tr) {
			return errs.New(errs.DomainSchema, errs.CodeUnknownTrait, "component", "unknown trait \""+tr+"\"")
		}
	}
	return nil
}

// FindComponent resolves path to a View, a read-only snapshot of the
// component's traits and merged state.
func (t *Tree) FindComponent(path string) (View, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, err := t.locate(path)
	if err != nil {
		return View{}, err
	}
	return View{Path: path, Traits: append([]string(nil), n.traits...), State: n.state}, nil
}

// FindComponentWithTrait returns the path of the first component
// (depth-first, array entries in index order) that declares trait, or
// "" if none does. Named children are kept in a map, so the order in
// which sibling subtrees are searched is not defined: when several
// components declare trait, which one is returned may vary.
func (t *Tree) FindComponentWithTrait(trait string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	path, _ := findTrait(t.root, "", trait)
	return path
}

func findTrait(n *node, prefix, trait string) (string, bool) {
	if n.hasTrait(trait) {
		return prefix, true
	}
	for name, slot := range n.children {
		if slot.isArray {
			for i, child := range slot.array {
				childPath := joinChild(prefix, name) + indexSuffix(i)
				if path, ok := findTrait(child, childPath, trait); ok {
					return path, true
				}
			}
		} else if slot.single != nil {
			childPath := joinChild(prefix, name)
			if path, ok := findTrait(slot.single, childPath, trait); ok {
				return path, true
			}
		}
	}
	return "", false
}

func joinChild(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

func indexSuffix(i int) string {
	return "[" + strconv.Itoa(i) + "]"
}

// MergeState deep-merges patch into the component's state dict at path
// and returns the resulting full state, for pkg/statequeue's
// notify_properties_updated to persist against the tree.
func (t *Tree) MergeState(path string, patch jsonval.Value) (jsonval.Value, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, err := t.locate(path)
	if err != nil {
		return jsonval.Value{}, err
	}
	n.state = jsonval.Merge(n.state, patch)
	return n.state, nil
}

// locate resolves a dotted path to its node, creating nothing; caller
// must hold t.mu (read or write lock).
func (t *Tree) locate(path string) (*node, error) {
	segs, err := parsePath(path)
	if err != nil {
		return nil, err
	}
	cur := t.root
	for _, seg := range segs {
		slot, ok := cur.children[seg.name]
		if !ok {
			return nil, errs.New(errs.DomainCommand, errs.CodeNotFound, "component.locate", "no component named \""+seg.name+"\"")
		}
		if seg.hasIdx {
			if !slot.isArray {
				return nil, errs.New(errs.DomainSchema, errs.CodeTypeMismatch, "component.locate", "\""+seg.name+"\" is not an array")
			}
			if seg.idx < 0 || seg.idx >= len(slot.array) {
				return nil, errs.New(errs.DomainCommand, errs.CodeInvalidIndex, "component.locate", "index out of range for \""+seg.name+"\"")
			}
			cur = slot.array[seg.idx]
		} else {
			if slot.isArray {
				return nil, errs.New(errs.DomainSchema, errs.CodeTypeMismatch, "component.locate", "\""+seg.name+"\" is an array, index required")
			}
			cur = slot.single
		}
	}
	return cur, nil
}

// Dump renders the whole tree as one JSON document, each component's
// children nested under a "components" sub-key (spec.md §4.1), for the
// Privet /privet/v3/state endpoint.
func (t *Tree) Dump() jsonval.Value {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return dumpNode(t.root)
}

func dumpNode(n *node) jsonval.Value {
	doc := jsonval.Object().Set("state", n.state)
	if len(n.children) > 0 {
		children := jsonval.Object()
		for name, slot := range n.children {
			if slot.isArray {
				items := make([]jsonval.Value, len(slot.array))
				for i, c := range slot.array {
					items[i] = dumpNode(c)
				}
				children = children.Set(name, jsonval.Array(items))
			} else if slot.single != nil {
				children = children.Set(name, dumpNode(slot.single))
			}
		}
		doc = doc.Set("components", children)
	}
	return doc
}

// OnTreeChanged registers cb, invoking it immediately and again after
// every successful mutation, mirroring pkg/schema's subscribe contract.
func (t *Tree) OnTreeChanged(cb func()) {
	t.mu.Lock()
	t.treeChanged = append(t.treeChanged, cb)
	t.mu.Unlock()
	cb()
}

func (t *Tree) fireTreeChanged() {
	t.mu.RLock()
	cbs := append([]func(){}, t.treeChanged...)
	t.mu.RUnlock()
	for _, cb := range cbs {
		cb()
	}
}
