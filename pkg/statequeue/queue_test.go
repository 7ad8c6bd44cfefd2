package statequeue

import (
	"testing"
	"time"

	"github.com/weaveproject/weave/pkg/jsonval"
)

type fakeTree struct {
	states map[string]jsonval.Value
}

func newFakeTree() *fakeTree {
	return &fakeTree{states: make(map[string]jsonval.Value)}
}

func (f *fakeTree) MergeState(path string, patch jsonval.Value) (jsonval.Value, error) {
	cur, ok := f.states[path]
	if !ok {
		cur = jsonval.Object()
	}
	merged := jsonval.Merge(cur, patch)
	f.states[path] = merged
	return merged, nil
}

func TestNotifyPropertiesUpdatedMergesAndIncrementsID(t *testing.T) {
	tree := newFakeTree()
	q := New(tree, 0)

	patch := jsonval.Object().Set("on", jsonval.Bool(true))
	id, err := q.NotifyPropertiesUpdated("lamp", time.Unix(100, 0), patch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != 1 {
		t.Fatalf("expected update id 1, got %d", id)
	}
	state := tree.states["lamp"]
	on, _ := state.Get("on")
	b, _ := on.AsBool()
	if !b {
		t.Fatalf("expected merged state to reflect patch")
	}

	id2, err := q.NotifyPropertiesUpdated("lamp", time.Unix(101, 0), jsonval.Object().Set("brightness", jsonval.Int(5)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id2 != 2 {
		t.Fatalf("expected update id 2, got %d", id2)
	}
}

func TestDrainReturnsSortedChanges(t *testing.T) {
	tree := newFakeTree()
	q := New(tree, 0)

	if _, err := q.NotifyPropertiesUpdated("lamp", time.Unix(200, 0), jsonval.Object().Set("b", jsonval.Int(2))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := q.NotifyPropertiesUpdated("lamp", time.Unix(100, 0), jsonval.Object().Set("a", jsonval.Int(1))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := q.NotifyPropertiesUpdated("fan", time.Unix(150, 0), jsonval.Object().Set("c", jsonval.Int(3))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lastID, changes := q.Drain()
	if lastID != 3 {
		t.Fatalf("expected last update id 3, got %d", lastID)
	}
	if len(changes) != 3 {
		t.Fatalf("expected 3 changes, got %d", len(changes))
	}
	for i := 1; i < len(changes); i++ {
		if changes[i].Timestamp.Before(changes[i-1].Timestamp) {
			t.Fatalf("changes not sorted by timestamp")
		}
	}

	_, drainedAgain := q.Drain()
	if len(drainedAgain) != 0 {
		t.Fatalf("expected drain to clear pending changes")
	}
}

func TestOverflowMergesOldestTwo(t *testing.T) {
	tree := newFakeTree()
	q := New(tree, 2)

	if _, err := q.NotifyPropertiesUpdated("lamp", time.Unix(100, 0), jsonval.Object().Set("a", jsonval.Int(1))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := q.NotifyPropertiesUpdated("lamp", time.Unix(101, 0), jsonval.Object().Set("b", jsonval.Int(2))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := q.NotifyPropertiesUpdated("lamp", time.Unix(102, 0), jsonval.Object().Set("c", jsonval.Int(3))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, changes := q.Drain()
	if len(changes) != 2 {
		t.Fatalf("expected overflow to merge down to 2 entries, got %d", len(changes))
	}
	first := changes[0]
	if !first.Timestamp.Equal(time.Unix(100, 0)) {
		t.Fatalf("expected merged entry to keep earlier timestamp, got %v", first.Timestamp)
	}
	if _, ok := first.Patch.Get("a"); !ok {
		t.Fatalf("expected merged entry to retain key a")
	}
	if _, ok := first.Patch.Get("b"); !ok {
		t.Fatalf("expected merged entry to retain key b")
	}
}

func TestOnStateAckedFiresImmediatelyWhenEmpty(t *testing.T) {
	tree := newFakeTree()
	q := New(tree, 0)

	var got int64 = -1
	q.OnStateAcked(func(id int64) { got = id })
	if got != 0 {
		t.Fatalf("expected immediate callback with update id 0, got %d", got)
	}
}

func TestNotifyStateUpdatedOnServerFiresSubscribers(t *testing.T) {
	tree := newFakeTree()
	q := New(tree, 0)
	if _, err := q.NotifyPropertiesUpdated("lamp", time.Unix(100, 0), jsonval.Object().Set("a", jsonval.Int(1))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var acked int64 = -1
	q.OnStateAcked(func(id int64) { acked = id })
	q.NotifyStateUpdatedOnServer(1)
	if acked != 1 {
		t.Fatalf("expected ack callback with id 1, got %d", acked)
	}
}
