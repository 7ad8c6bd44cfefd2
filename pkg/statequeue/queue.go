// Package statequeue implements the per-component state-change log from
// spec.md §4.3: every property update is merged into the component
// tree's state, recorded as a timestamped delta, and drained in
// timestamp order by the cloud sync engine. A process-wide UpdateID
// counter lets the sync engine and server agree on "acknowledged
// through" watermarks.
//
// Grounded on the teacher's pkg/fleet bounded-history-with-watcher
// shape; the oldest-two-merge overflow policy is new code (no ring
// buffer or similar bounded log exists in the corpus).
package statequeue

import (
	"sort"
	"sync"
	"time"

	"github.com/weaveproject/weave/pkg/jsonval"
)

// DefaultCapacity is the default per-component sub-queue bound
// (spec.md §3).
const DefaultCapacity = 100

// Change is one recorded state delta.
type Change struct {
	ComponentPath string
	Timestamp     time.Time
	Patch         jsonval.Value
	UpdateID      int64
}

// StateMerger is the subset of pkg/component.Tree the queue needs to
// apply a patch into the live component tree.
type StateMerger interface {
	MergeState(path string, patch jsonval.Value) (jsonval.Value, error)
}

type entry struct {
	timestamp time.Time
	patch     jsonval.Value
	updateID  int64
}

// Queue is the process-wide state-change log, partitioned per
// component path.
type Queue struct {
	mu       sync.Mutex
	capacity int
	updateID int64
	sub      map[string][]entry
	tree     StateMerger

	ackCallbacks    []func(upToID int64)
	changeCallbacks []func()
}

// New creates a queue with the given per-component capacity (0 uses
// DefaultCapacity) backed by tree for merging patches into live state.
func New(tree StateMerger, capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		capacity: capacity,
		sub:      make(map[string][]entry),
		tree:     tree,
	}
}

// NotifyPropertiesUpdated merges patch into componentPath's state, logs
// the delta, and increments the global UpdateID, returning the new id.
func (q *Queue) NotifyPropertiesUpdated(componentPath string, timestamp time.Time, patch jsonval.Value) (int64, error) {
	if _, err := q.tree.MergeState(componentPath, patch); err != nil {
		return 0, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.updateID++
	id := q.updateID
	entries := append(q.sub[componentPath], entry{timestamp: timestamp, patch: patch, updateID: id})
	for len(entries) > q.capacity {
		entries = mergeOldestTwo(entries)
	}
	q.sub[componentPath] = entries
	cbs := append([]func(){}, q.changeCallbacks...)
	q.mu.Unlock()
	for _, cb := range cbs {
		cb()
	}
	q.mu.Lock()
	return id, nil
}

// OnChange registers cb, fired after every successful
// NotifyPropertiesUpdated — pkg/weave uses this to trigger the cloud
// sync engine's PublishState without polling.
func (q *Queue) OnChange(cb func()) {
	q.mu.Lock()
	q.changeCallbacks = append(q.changeCallbacks, cb)
	q.mu.Unlock()
}

// mergeOldestTwo collapses the two oldest entries into one: changed
// properties union key-wise, the earlier timestamp and lower update id
// win (spec.md §4.3).
func mergeOldestTwo(entries []entry) []entry {
	if len(entries) < 2 {
		return entries
	}
	a, b := entries[0], entries[1]
	merged := entry{
		timestamp: a.timestamp,
		patch:     jsonval.Merge(a.patch, b.patch),
		updateID:  a.updateID,
	}
	out := make([]entry, 0, len(entries)-1)
	out = append(out, merged)
	out = append(out, entries[2:]...)
	return out
}

// Drain returns the current UpdateID and every pending change across
// all components, sorted by timestamp, then clears the pending log —
// the cloud sync engine calls this to pull the batch it's about to
// publish.
func (q *Queue) Drain() (int64, []Change) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var changes []Change
	for path, entries := range q.sub {
		for _, e := range entries {
			changes = append(changes, Change{ComponentPath: path, Timestamp: e.timestamp, Patch: e.patch, UpdateID: e.updateID})
		}
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Timestamp.Before(changes[j].Timestamp) })
	q.sub = make(map[string][]entry)
	return q.updateID, changes
}

// NotifyStateUpdatedOnServer informs subscribers that every change up
// through id has been durably acknowledged.
func (q *Queue) NotifyStateUpdatedOnServer(id int64) {
	q.mu.Lock()
	cbs := append([]func(int64){}, q.ackCallbacks...)
	q.mu.Unlock()
	for _, cb := range cbs {
		cb(id)
	}
}

// OnStateAcked registers cb, invoked on every NotifyStateUpdatedOnServer
// call. If the queue has no pending changes at subscribe time, cb fires
// immediately with the current UpdateID — spec.md §4.3's "subscribers
// added when the queue is empty are notified immediately" rule.
func (q *Queue) OnStateAcked(cb func(upToID int64)) {
	q.mu.Lock()
	q.ackCallbacks = append(q.ackCallbacks, cb)
	empty := true
	for _, entries := range q.sub {
		if len(entries) > 0 {
			empty = false
			break
		}
	}
	current := q.updateID
	q.mu.Unlock()
	if empty {
		cb(current)
	}
}

// CurrentUpdateID returns the latest assigned UpdateID.
func (q *Queue) CurrentUpdateID() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.updateID
}
