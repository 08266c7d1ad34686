package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const metaFileName = "keyspace.meta"

const currentFormatVersion = 1

// Meta is the optional keyspace-level metadata file: on-disk format
// revision and an instance id minted once at first open. The instance
// id is never load-bearing for correctness; the keyspace keeps it with
// its handle but does not attach it to metrics or log lines.
type Meta struct {
	FormatVersion int    `yaml:"format_version"`
	InstanceID    string `yaml:"instance_id"`
}

// LoadOrCreateMeta reads keyspaceDir/keyspace.meta, creating it with a
// freshly minted instance id if it does not yet exist.
func LoadOrCreateMeta(keyspaceDir string) (*Meta, error) {
	path := filepath.Join(keyspaceDir, metaFileName)

	data, err := os.ReadFile(path)
	if err == nil {
		var m Meta
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if m.InstanceID == "" {
			m.InstanceID = uuid.NewString()
			if err := m.Save(keyspaceDir); err != nil {
				return nil, err
			}
		}
		return &m, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	m := &Meta{FormatVersion: currentFormatVersion, InstanceID: uuid.NewString()}
	if err := m.Save(keyspaceDir); err != nil {
		return nil, err
	}
	return m, nil
}

// Save writes Meta back to keyspaceDir/keyspace.meta.
func (m *Meta) Save(keyspaceDir string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal keyspace meta: %w", err)
	}
	path := filepath.Join(keyspaceDir, metaFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
