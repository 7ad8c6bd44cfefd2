// Package revocation implements the access revocation manager from
// spec.md §4.5: a bounded-capacity store of (user, app) revocation
// entries that collapses its oldest entries into a wildcard once full,
// trading precision for a hard memory bound.
//
// Grounded structurally on pkg/schema.Store and pkg/command.Queue's
// mutex-guarded-slice-plus-callback-list shape; the collapse-to-wildcard
// shrink algorithm is new code with no corpus analog.
package revocation

import (
	"sync"
	"time"
)

// DefaultCapacity is the manager's default entry bound (spec.md §3).
const DefaultCapacity = 1024

// Entry is one revocation record. Empty UserID/AppID means "wildcard"
// for that field (spec.md §3).
type Entry struct {
	UserID     string
	AppID      string
	Revocation time.Time
	Expiration time.Time // zero/far-future stands in for infinity
}

// Persister decouples revocation persistence from the shape of the
// shared config blob; pkg/weave's Device wires this to the provider's
// ConfigStore, composing the revocation list into the same JSON
// document Settings persists through (see DESIGN.md).
type Persister interface {
	Load() ([]Entry, error)
	Save([]Entry) error
}

// Manager holds the live revocation list.
type Manager struct {
	mu       sync.Mutex
	capacity int
	entries  []Entry
	persist  Persister
	now      func() time.Time

	changed []func()
}

// New creates a manager with the given capacity (0 uses
// DefaultCapacity), loading any persisted entries through persist.
func New(persist Persister, capacity int) (*Manager, error) {
	if capacity < 2 {
		capacity = DefaultCapacity
	}
	m := &Manager{capacity: capacity, persist: persist, now: time.Now}
	if persist != nil {
		entries, err := persist.Load()
		if err != nil {
			return nil, err
		}
		m.entries = entries
	}
	return m, nil
}

// Block records entry, rejecting entries that are already expired,
// merging with an existing exact (user_id, app_id) match by taking the
// max of both timestamps, and shrinking the store first if it's at
// capacity.
func (m *Manager) Block(entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if !entry.Expiration.IsZero() && !entry.Expiration.After(now) {
		return errAlreadyExpired
	}

	for i, e := range m.entries {
		if e.UserID == entry.UserID && e.AppID == entry.AppID {
			if entry.Revocation.After(e.Revocation) {
				m.entries[i].Revocation = entry.Revocation
			}
			if entry.Expiration.After(m.entries[i].Expiration) {
				m.entries[i].Expiration = entry.Expiration
			}
			return m.commit()
		}
	}

	if len(m.entries) >= m.capacity {
		m.shrink(now)
	}
	m.entries = append(m.entries, entry)
	return m.commit()
}

// shrink implements spec.md §4.5: drop expired entries; if still at
// capacity, collapse everything at or below the second-smallest
// revocation timestamp into one wildcard entry. Caller holds m.mu.
func (m *Manager) shrink(now time.Time) {
	alive := m.entries[:0:0]
	for _, e := range m.entries {
		if e.Expiration.IsZero() || e.Expiration.After(now) {
			alive = append(alive, e)
		}
	}
	m.entries = alive

	if len(m.entries) < m.capacity {
		return
	}

	_, t1 := smallestTwoRevocations(m.entries)
	var kept []Entry
	for _, e := range m.entries {
		if e.Revocation.After(t1) {
			kept = append(kept, e)
		}
	}
	wildcard := Entry{Revocation: t1, Expiration: time.Time{}}
	m.entries = append([]Entry{wildcard}, kept...)
}

func smallestTwoRevocations(entries []Entry) (t0, t1 time.Time) {
	t0, t1 = farFuture, farFuture
	for _, e := range entries {
		switch {
		case e.Revocation.Before(t0):
			t1 = t0
			t0 = e.Revocation
		case e.Revocation.Before(t1):
			t1 = e.Revocation
		}
	}
	return t0, t1
}

var farFuture = time.Unix(1<<62, 0)

// IsBlocked checks the four wildcard/specific key combinations spec.md
// §4.5 names, returning true if any matching entry's expiration is
// still in the future and its revocation timestamp is at or after
// delegationTS.
func (m *Manager) IsBlocked(userID, appID string, delegationTS time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()

	keys := [4][2]string{
		{"", ""},
		{userID, ""},
		{"", appID},
		{userID, appID},
	}
	for _, key := range keys {
		for _, e := range m.entries {
			if e.UserID != key[0] || e.AppID != key[1] {
				continue
			}
			expired := !e.Expiration.IsZero() && !e.Expiration.After(now)
			if !expired && !e.Revocation.Before(delegationTS) {
				return true
			}
		}
	}
	return false
}

func (m *Manager) commit() error {
	if m.persist != nil {
		if err := m.persist.Save(append([]Entry(nil), m.entries...)); err != nil {
			return err
		}
	}
	cbs := append([]func(){}, m.changed...)
	for _, cb := range cbs {
		cb()
	}
	return nil
}

// OnChanged registers cb, fired after every successful Block.
func (m *Manager) OnChanged(cb func()) {
	m.mu.Lock()
	m.changed = append(m.changed, cb)
	m.mu.Unlock()
}

// Capacity returns the manager's configured entry bound, exposed as
// _accessRevocationList.capacity state (spec.md §4.9).
func (m *Manager) Capacity() int {
	return m.capacity
}

// Entries returns a snapshot of every live entry, for
// _accessRevocationList.list.
func (m *Manager) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...)
}

type revocationError string

func (e revocationError) Error() string { return string(e) }

const errAlreadyExpired = revocationError("revocation: entry already expired")
