// Package file persists the configuration model as a JSON file on the
// local filesystem.
package file

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/castellan-io/castellan/pkg/model"
	"github.com/castellan-io/castellan/pkg/persistence"
	"github.com/castellan-io/castellan/pkg/ports"
)

// Store writes the model to Path. Writes go through a temp file plus
// rename so a crash never leaves a partial configuration behind.
type Store struct {
	Path string
}

var _ ports.ConfigurationPersister = (*Store)(nil)

// New creates a file persister. An empty path defaults to
// ".castellan/configuration.json".
func New(path string) *Store {
	if path == "" {
		path = filepath.Join(".castellan", "configuration.json")
	}
	return &Store{Path: path}
}

// Store persists the model atomically.
func (s *Store) Store(root *model.Value) error {
	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to ensure configuration directory: %w", err)
	}

	var buf bytes.Buffer
	if err := root.WriteJSON(&buf, false); err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "tmp-configuration-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.Path); err != nil {
		return fmt.Errorf("failed to rename temp file into place: %w", err)
	}
	return nil
}

// Load reads the stored model and replays it as boot operations. A
// missing file yields no operations.
func (s *Store) Load() ([]*model.Value, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}
	root, err := model.FromJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file: %w", err)
	}
	return persistence.BootOperations(root), nil
}

// MarshalAsXML renders the model as XML.
func (s *Store) MarshalAsXML(root *model.Value, out io.Writer) error {
	return persistence.MarshalXML(root, out)
}
