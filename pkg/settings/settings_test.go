package settings

import (
	"testing"

	"github.com/weaveproject/weave/pkg/authscope"
)

type fakeConfig struct {
	defaults map[string]any
	blob     string
	saves    int
}

func (f *fakeConfig) LoadDefaults(defaults map[string]any) { f.defaults = defaults }
func (f *fakeConfig) LoadSettings() (string, error)        { return f.blob, nil }
func (f *fakeConfig) SaveSettings(blob string) error {
	f.saves++
	f.blob = blob
	return nil
}

func TestNewWithNoPersistedBlob(t *testing.T) {
	cfg := &fakeConfig{}
	store, err := New(cfg, map[string]any{"serialNumber": "ABC123"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.Current().Name != "" {
		t.Fatalf("expected zero-value settings, got %+v", store.Current())
	}
	if cfg.defaults["serialNumber"] != "ABC123" {
		t.Fatalf("expected defaults forwarded to config store")
	}
}

func TestCommitPersistsExactlyOnce(t *testing.T) {
	cfg := &fakeConfig{}
	store, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var seen Settings
	calls := 0
	store.OnChanged(func(s Settings) { calls++; seen = s })

	tx := store.Begin().Set(func(s *Settings) {
		s.Name = "Living Room Lamp"
		s.LocalAnonymousAccessRole = authscope.Viewer
	})
	if err := tx.Commit(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.saves != 1 {
		t.Fatalf("expected exactly one SaveSettings call, got %d", cfg.saves)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one change callback, got %d", calls)
	}
	if seen.Name != "Living Room Lamp" {
		t.Fatalf("unexpected callback payload: %+v", seen)
	}
	if store.Current().Name != "Living Room Lamp" {
		t.Fatalf("expected committed settings to be visible, got %+v", store.Current())
	}
}

func TestReloadRoundTripsThroughWire(t *testing.T) {
	cfg := &fakeConfig{}
	store, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	secret := [32]byte{}
	for i := range secret {
		secret[i] = byte(i)
	}
	tx := store.Begin().Set(func(s *Settings) {
		s.DeviceID = "dev-1"
		s.PairingModes = []PairingType{PairingPinCode, PairingEmbeddedCode}
		s.Secret = secret
		s.LocalAnonymousAccessRole = authscope.Manager
	})
	if err := tx.Commit(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reloaded, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := reloaded.Current()
	if got.DeviceID != "dev-1" {
		t.Fatalf("expected DeviceID to round-trip, got %q", got.DeviceID)
	}
	if len(got.PairingModes) != 2 || got.PairingModes[0] != PairingPinCode {
		t.Fatalf("expected pairing modes to round-trip, got %v", got.PairingModes)
	}
	if got.Secret != secret {
		t.Fatalf("expected secret to round-trip")
	}
	if got.LocalAnonymousAccessRole != authscope.Manager {
		t.Fatalf("expected role to round-trip, got %v", got.LocalAnonymousAccessRole)
	}
}
