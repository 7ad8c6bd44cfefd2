// Package settings implements the persistable device record from
// spec.md §3: every mutable field the cloud and Privet subsystems need,
// written through a transaction object so a partial update never
// reaches the config provider, and every commit produces exactly one
// SaveSettings call (spec.md §5's write-through policy).
//
// Grounded on the teacher's pkg/fleet transactional-update pattern
// (NodeManager.UpdateNode copies, mutates, then swaps) generalized into
// an explicit Transaction type since Settings has many more fields than
// a fleet Node.
package settings

import (
	"encoding/json"
	"sync"

	"github.com/weaveproject/weave/pkg/authscope"
	"github.com/weaveproject/weave/pkg/provider"
)

// PairingType is a supported pairing mode (spec.md §4.6).
type PairingType string

const (
	PairingPinCode      PairingType = "pinCode"
	PairingEmbeddedCode PairingType = "embeddedCode"
)

// Settings is the persistable device record.
type Settings struct {
	Name              string
	Description       string
	Location          string
	FirmwareVersion   string
	OEMName           string
	ModelID           string
	SerialNumber      string
	DeviceID          string
	CloudID           string
	RefreshToken      string
	RobotAccount      string
	OAuthURL          string
	ServiceURL        string
	ClientID          string
	ClientSecret      string
	APIKey            string
	EmbeddedCode      string
	PairingModes      []PairingType
	LocalAnonymousAccessRole authscope.Scope
	LocalAccessEnabled       bool
	LocalDiscoveryEnabled    bool
	LocalPairingEnabled      bool
	Secret                   [32]byte
	LastConfiguredSSID       string
	DisableSecurity          bool

	// RevocationEntries is pkg/revocation's entry list, JSON-marshaled
	// opaquely so it rides in the same settings blob and the same
	// single-SaveSettings-per-commit guarantee rather than needing a
	// second ConfigStore surface from the host (see pkg/weave's
	// settingsRevocationPersister).
	RevocationEntries string
}

// wireSettings is the JSON-on-the-wire shape persisted by the config
// store; Settings.Secret is base64'd by encoding/json's default
// []byte handling once converted to a slice.
type wireSettings struct {
	Name                     string   `json:"name"`
	Description              string   `json:"description"`
	Location                 string   `json:"location"`
	FirmwareVersion          string   `json:"firmwareVersion"`
	OEMName                  string   `json:"oemName"`
	ModelID                  string   `json:"modelId"`
	SerialNumber             string   `json:"serialNumber"`
	DeviceID                 string   `json:"deviceId"`
	CloudID                  string   `json:"cloudId"`
	RefreshToken             string   `json:"refreshToken"`
	RobotAccount             string   `json:"robotAccount"`
	OAuthURL                 string   `json:"oauthUrl"`
	ServiceURL               string   `json:"serviceUrl"`
	ClientID                 string   `json:"clientId"`
	ClientSecret             string   `json:"clientSecret"`
	APIKey                   string   `json:"apiKey"`
	EmbeddedCode             string   `json:"embeddedCode"`
	PairingModes             []string `json:"pairingModes"`
	LocalAnonymousAccessRole string   `json:"localAnonymousAccessRole"`
	LocalAccessEnabled       bool     `json:"localAccessEnabled"`
	LocalDiscoveryEnabled    bool     `json:"localDiscoveryEnabled"`
	LocalPairingEnabled      bool     `json:"localPairingEnabled"`
	Secret                   []byte   `json:"secret"`
	LastConfiguredSSID       string   `json:"lastConfiguredSsid"`
	DisableSecurity          bool     `json:"disableSecurity"`
	RevocationEntries        string   `json:"revocationEntries"`
}

func toWire(s Settings) wireSettings {
	modes := make([]string, len(s.PairingModes))
	for i, m := range s.PairingModes {
		modes[i] = string(m)
	}
	return wireSettings{
		Name: s.Name, Description: s.Description, Location: s.Location,
		FirmwareVersion: s.FirmwareVersion, OEMName: s.OEMName, ModelID: s.ModelID,
		SerialNumber: s.SerialNumber, DeviceID: s.DeviceID, CloudID: s.CloudID,
		RefreshToken: s.RefreshToken, RobotAccount: s.RobotAccount,
		OAuthURL: s.OAuthURL, ServiceURL: s.ServiceURL, ClientID: s.ClientID,
		ClientSecret: s.ClientSecret, APIKey: s.APIKey, EmbeddedCode: s.EmbeddedCode,
		PairingModes: modes, LocalAnonymousAccessRole: s.LocalAnonymousAccessRole.String(),
		LocalAccessEnabled: s.LocalAccessEnabled, LocalDiscoveryEnabled: s.LocalDiscoveryEnabled,
		LocalPairingEnabled: s.LocalPairingEnabled, Secret: append([]byte(nil), s.Secret[:]...),
		LastConfiguredSSID: s.LastConfiguredSSID, DisableSecurity: s.DisableSecurity,
		RevocationEntries: s.RevocationEntries,
	}
}

func fromWire(w wireSettings) Settings {
	modes := make([]PairingType, len(w.PairingModes))
	for i, m := range w.PairingModes {
		modes[i] = PairingType(m)
	}
	role, _ := authscope.ParseScope(w.LocalAnonymousAccessRole)
	s := Settings{
		Name: w.Name, Description: w.Description, Location: w.Location,
		FirmwareVersion: w.FirmwareVersion, OEMName: w.OEMName, ModelID: w.ModelID,
		SerialNumber: w.SerialNumber, DeviceID: w.DeviceID, CloudID: w.CloudID,
		RefreshToken: w.RefreshToken, RobotAccount: w.RobotAccount,
		OAuthURL: w.OAuthURL, ServiceURL: w.ServiceURL, ClientID: w.ClientID,
		ClientSecret: w.ClientSecret, APIKey: w.APIKey, EmbeddedCode: w.EmbeddedCode,
		PairingModes: modes, LocalAnonymousAccessRole: role,
		LocalAccessEnabled: w.LocalAccessEnabled, LocalDiscoveryEnabled: w.LocalDiscoveryEnabled,
		LocalPairingEnabled: w.LocalPairingEnabled,
		LastConfiguredSSID: w.LastConfiguredSSID, DisableSecurity: w.DisableSecurity,
		RevocationEntries: w.RevocationEntries,
	}
	copy(s.Secret[:], w.Secret)
	return s
}

// Store owns the live Settings and its persistence through a
// provider.ConfigStore.
type Store struct {
	mu       sync.RWMutex
	current  Settings
	config   provider.ConfigStore
	changed  []func(Settings)
}

// New passes defaults to config.LoadDefaults, then loads the persisted
// blob; if the blob is empty the settings start at their zero values.
func New(config provider.ConfigStore, defaults map[string]any) (*Store, error) {
	config.LoadDefaults(defaults)
	blob, err := config.LoadSettings()
	if err != nil {
		return nil, err
	}
	s := &Store{config: config}
	if blob == "" {
		return s, nil
	}
	var w wireSettings
	if err := json.Unmarshal([]byte(blob), &w); err != nil {
		return nil, err
	}
	s.current = fromWire(w)
	return s, nil
}

// Current returns a copy of the live settings.
func (s *Store) Current() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Transaction is a mutable working copy of Settings; changes are
// invisible until Commit persists them and fires change callbacks.
type Transaction struct {
	store  *Store
	values Settings
}

// Begin opens a transaction seeded with the current settings.
func (s *Store) Begin() *Transaction {
	return &Transaction{store: s, values: s.Current()}
}

// Set mutates the transaction's working copy via fn.
func (tx *Transaction) Set(fn func(*Settings)) *Transaction {
	fn(&tx.values)
	return tx
}

// Commit persists the transaction's working copy through the config
// store (exactly one SaveSettings call) and fires every change
// callback with the new settings.
func (tx *Transaction) Commit() error {
	blob, err := json.Marshal(toWire(tx.values))
	if err != nil {
		return err
	}
	if err := tx.store.config.SaveSettings(string(blob)); err != nil {
		return err
	}

	tx.store.mu.Lock()
	tx.store.current = tx.values
	cbs := append([]func(Settings){}, tx.store.changed...)
	tx.store.mu.Unlock()

	for _, cb := range cbs {
		cb(tx.values)
	}
	return nil
}

// OnChanged registers cb, fired after every successful Commit.
func (s *Store) OnChanged(cb func(Settings)) {
	s.mu.Lock()
	s.changed = append(s.changed, cb)
	s.mu.Unlock()
}
