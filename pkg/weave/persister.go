package weave

import (
	"encoding/json"

	"github.com/weaveproject/weave/pkg/revocation"
	"github.com/weaveproject/weave/pkg/settings"
)

// settingsRevocationPersister implements revocation.Persister by
// folding the revocation list into settings.Settings.RevocationEntries,
// so the host only ever needs to provide one provider.ConfigStore
// rather than a second storage surface for this module.
type settingsRevocationPersister struct {
	settings *settings.Store
}

func (p *settingsRevocationPersister) Load() ([]revocation.Entry, error) {
	blob := p.settings.Current().RevocationEntries
	if blob == "" {
		return nil, nil
	}
	var entries []revocation.Entry
	if err := json.Unmarshal([]byte(blob), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (p *settingsRevocationPersister) Save(entries []revocation.Entry) error {
	blob, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return p.settings.Begin().Set(func(s *settings.Settings) {
		s.RevocationEntries = string(blob)
	}).Commit()
}
