// Package memory provides an in-memory configuration persister, used by
// tests and by controllers that run without durable configuration.
package memory

import (
	"io"
	"sync"

	"github.com/castellan-io/castellan/pkg/model"
	"github.com/castellan-io/castellan/pkg/persistence"
	"github.com/castellan-io/castellan/pkg/ports"
)

// Store keeps the last stored model in memory.
type Store struct {
	mu   sync.Mutex
	last *model.Value
}

var _ ports.ConfigurationPersister = (*Store)(nil)

// New creates an empty in-memory persister.
func New() *Store {
	return &Store{}
}

// Store keeps a deep copy of the model.
func (s *Store) Store(root *model.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = root.Clone()
	return nil
}

// Load replays the stored model as boot operations.
func (s *Store) Load() ([]*model.Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil, nil
	}
	return persistence.BootOperations(s.last), nil
}

// MarshalAsXML renders the model as XML.
func (s *Store) MarshalAsXML(root *model.Value, out io.Writer) error {
	return persistence.MarshalXML(root, out)
}

// Last returns a copy of the most recently stored model, or nil.
func (s *Store) Last() *model.Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil
	}
	return s.last.Clone()
}
