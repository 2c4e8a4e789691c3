package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"
)

// ProfileStore reads and writes the per-application profiles in config.json.
// It is the only writer of that file.
type ProfileStore struct {
	fs   afero.Fs
	path string
	log  hclog.Logger
}

// NewProfileStore creates a store backed by the JSON file at path
func NewProfileStore(fs afero.Fs, path string, logger hclog.Logger) *ProfileStore {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &ProfileStore{fs: fs, path: path, log: logger}
}

// Path returns the backing file path
func (s *ProfileStore) Path() string {
	return s.path
}

// Load returns the stored profile for appID.
// A missing file or missing key yields DefaultProfile and a nil error.
// An unreadable or corrupted file yields DefaultProfile and the error.
func (s *ProfileStore) Load(appID string) (Profile, error) {
	raw, err := s.readRaw()
	if err != nil {
		return DefaultProfile(), err
	}

	entry, ok := raw[appID]
	if !ok {
		return DefaultProfile(), nil
	}
	return decodeProfile(appID, entry)
}

// LoadAll returns every stored profile keyed by application id
func (s *ProfileStore) LoadAll() (map[string]Profile, error) {
	raw, err := s.readRaw()
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]Profile, len(raw))
	for id, entry := range raw {
		p, err := decodeProfile(id, entry)
		if err != nil {
			return nil, err
		}
		profiles[id] = p
	}
	return profiles, nil
}

// Save merges the profile for appID into config.json.
// Entries for other applications are written back unchanged. If the existing
// file cannot be parsed it is left alone and an error is returned.
func (s *ProfileStore) Save(appID string, p Profile) error {
	raw, err := s.readRaw()
	if err != nil {
		return err
	}

	entry, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal profile %s: %w", appID, err)
	}
	raw[appID] = entry

	if err := AtomicWriteJSON(s.fs, s.path, raw); err != nil {
		return err
	}
	s.log.Debug("profile saved", "app", appID, "path", s.path)
	return nil
}

// readRaw loads the top-level object with each application entry kept as
// raw JSON so untouched entries round-trip exactly.
func (s *ProfileStore) readRaw() (map[string]json.RawMessage, error) {
	raw := make(map[string]json.RawMessage)

	if _, err := s.fs.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		return raw, nil
	}

	if err := ReadJSON(s.fs, s.path, &raw); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}
	if raw == nil {
		// File contained JSON null
		raw = make(map[string]json.RawMessage)
	}
	return raw, nil
}

// decodeProfile unmarshals over the defaults so absent fields keep them
func decodeProfile(appID string, entry json.RawMessage) (Profile, error) {
	p := DefaultProfile()
	if err := json.Unmarshal(entry, &p); err != nil {
		return DefaultProfile(), fmt.Errorf("failed to parse profile %s: %w", appID, err)
	}
	return p, nil
}
