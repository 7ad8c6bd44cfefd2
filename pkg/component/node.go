package component

import "github.com/weaveproject/weave/pkg/jsonval"

// node is one component in the tree: an ordered set of traits, a
// state dict (trait -> prop -> value), and named children, each
// either a single component or an ordered array of components
// (spec.md §3's Component type).
type node struct {
	traits []string
	state  jsonval.Value

	// children holds both scalar and array children; isArray
	// distinguishes `components.lamp` from `components.lamps[i]`.
	children map[string]*childSlot
}

type childSlot struct {
	isArray bool
	single  *node
	array   []*node
}

func newNode(traits []string) *node {
	return &node{
		traits:   append([]string(nil), traits...),
		state:    jsonval.Object(),
		children: make(map[string]*childSlot),
	}
}

func (n *node) hasTrait(trait string) bool {
	for _, t := range n.traits {
		if t == trait {
			return true
		}
	}
	return false
}

// View is the externally visible snapshot of a component returned by
// find_component: its path, ordered traits, and merged state dict.
type View struct {
	Path   string
	Traits []string
	State  jsonval.Value
}
