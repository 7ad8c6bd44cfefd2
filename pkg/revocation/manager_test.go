package revocation

import (
	"testing"
	"time"
)

type fakePersister struct {
	saved [][]Entry
}

func (f *fakePersister) Load() ([]Entry, error) { return nil, nil }
func (f *fakePersister) Save(entries []Entry) error {
	f.saved = append(f.saved, append([]Entry(nil), entries...))
	return nil
}

func farOff() time.Time { return time.Unix(1<<61, 0) }

func TestBlockRejectsAlreadyExpired(t *testing.T) {
	m, err := New(nil, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = m.Block(Entry{
		UserID:     "u1",
		AppID:      "a1",
		Revocation: time.Unix(100, 0),
		Expiration: time.Unix(50, 0),
	})
	if err == nil {
		t.Fatalf("expected already-expired entry to be rejected")
	}
}

func TestBlockMergesSameUserApp(t *testing.T) {
	m, err := New(nil, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := m.Block(Entry{UserID: "u1", AppID: "a1", Revocation: time.Unix(100, 0), Expiration: farOff()}); err != nil {
		t.Fatalf("Block: %v", err)
	}
	if err := m.Block(Entry{UserID: "u1", AppID: "a1", Revocation: time.Unix(200, 0), Expiration: farOff()}); err != nil {
		t.Fatalf("Block: %v", err)
	}
	if len(m.entries) != 1 {
		t.Fatalf("expected entries to merge into one, got %d", len(m.entries))
	}
	if !m.entries[0].Revocation.Equal(time.Unix(200, 0)) {
		t.Fatalf("expected merged revocation to be the max, got %v", m.entries[0].Revocation)
	}
}

func TestIsBlockedWildcardAndSpecificKeys(t *testing.T) {
	m, err := New(nil, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := m.Block(Entry{UserID: "u1", Revocation: time.Unix(100, 0), Expiration: farOff()}); err != nil {
		t.Fatalf("Block: %v", err)
	}
	if !m.IsBlocked("u1", "any-app", time.Unix(50, 0)) {
		t.Fatalf("expected user-scoped entry to block any app")
	}
	if m.IsBlocked("u1", "any-app", time.Unix(150, 0)) {
		t.Fatalf("expected delegation after revocation to pass")
	}
	if m.IsBlocked("other-user", "any-app", time.Unix(50, 0)) {
		t.Fatalf("expected unrelated user to pass")
	}
}

// TestShrinkCollapsesToWildcard exercises scenario 3: capacity=3, three
// entries inserted at revocation 100/200/300 (all non-expiring), then a
// fourth at revocation 400. The store must end up with a single
// wildcard entry at revocation=200 plus the entries with revocation >
// 200 (300 and the new 400).
func TestShrinkCollapsesToWildcard(t *testing.T) {
	persist := &fakePersister{}
	m, err := New(persist, 3)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	entries := []Entry{
		{UserID: "u1", AppID: "a1", Revocation: time.Unix(100, 0)},
		{UserID: "u2", AppID: "a2", Revocation: time.Unix(200, 0)},
		{UserID: "u3", AppID: "a3", Revocation: time.Unix(300, 0)},
	}
	for _, e := range entries {
		if err := m.Block(e); err != nil {
			t.Fatalf("Block: %v", err)
		}
	}

	if err := m.Block(Entry{UserID: "u4", AppID: "a4", Revocation: time.Unix(400, 0)}); err != nil {
		t.Fatalf("Block: %v", err)
	}

	if len(m.entries) != 3 {
		t.Fatalf("expected 3 entries after collapse, got %d: %+v", len(m.entries), m.entries)
	}

	var sawWildcard, saw300, saw400 bool
	for _, e := range m.entries {
		switch {
		case e.UserID == "" && e.AppID == "":
			sawWildcard = true
			if !e.Revocation.Equal(time.Unix(200, 0)) {
				t.Fatalf("expected wildcard revocation 200, got %v", e.Revocation)
			}
		case e.UserID == "u3":
			saw300 = true
		case e.UserID == "u4":
			saw400 = true
		}
	}
	if !sawWildcard || !saw300 || !saw400 {
		t.Fatalf("expected wildcard + u3 + u4 entries, got %+v", m.entries)
	}

	if !m.IsBlocked("anyone", "anyapp", time.Unix(150, 0)) {
		t.Fatalf("expected wildcard entry to block delegation before 200")
	}
	if m.IsBlocked("anyone", "anyapp", time.Unix(201, 0)) {
		t.Fatalf("expected wildcard entry to not block delegation after 200")
	}
	if !m.IsBlocked("u3", "a3", time.Unix(201, 0)) {
		t.Fatalf("expected u3/a3 entry to still block at 201")
	}

	if len(persist.saved) == 0 {
		t.Fatalf("expected persist.Save to be called")
	}
}

func TestShrinkDropsExpiredBeforeCollapsing(t *testing.T) {
	m, err := New(nil, 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.now = func() time.Time { return time.Unix(120, 0) }
	if err := m.Block(Entry{UserID: "u1", AppID: "a1", Revocation: time.Unix(100, 0), Expiration: time.Unix(150, 0)}); err != nil {
		t.Fatalf("Block: %v", err)
	}
	if err := m.Block(Entry{UserID: "u2", AppID: "a2", Revocation: time.Unix(200, 0), Expiration: farOff()}); err != nil {
		t.Fatalf("Block: %v", err)
	}

	m.now = func() time.Time { return time.Unix(1000, 0) }

	if err := m.Block(Entry{UserID: "u3", AppID: "a3", Revocation: time.Unix(300, 0), Expiration: farOff()}); err != nil {
		t.Fatalf("Block: %v", err)
	}

	if len(m.entries) != 2 {
		t.Fatalf("expected the already-expired u1 entry to be dropped, leaving 2, got %d", len(m.entries))
	}
}
