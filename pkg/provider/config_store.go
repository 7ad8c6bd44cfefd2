package provider

// ConfigStore persists the opaque settings blob (spec.md §3, §6). The
// library treats the blob as opaque bytes; any encryption-at-rest is
// the host's responsibility. Every Settings commit produces exactly
// one SaveSettings call (spec.md §5 "write-through" policy).
type ConfigStore interface {
	// LoadDefaults lets the host seed fields the library has no
	// opinion about (e.g. factory serial number) before the persisted
	// blob, if any, is applied on top.
	LoadDefaults(defaults map[string]any)
	LoadSettings() (string, error)
	SaveSettings(blob string) error
}
