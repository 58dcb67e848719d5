// Package redis persists the configuration model in Redis, for domain
// controllers whose configuration must survive host loss.
package redis

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/castellan-io/castellan/pkg/model"
	"github.com/castellan-io/castellan/pkg/persistence"
	"github.com/castellan-io/castellan/pkg/ports"
	backend "github.com/redis/go-redis/v9"
)

// Store keeps the model under a single key, plus a ZSET history of store
// timestamps for operational inspection.
type Store struct {
	client  *backend.Client
	key     string
	timeout time.Duration
}

var _ ports.ConfigurationPersister = (*Store)(nil)

type Option func(*Store)

// WithKey overrides the configuration key.
func WithKey(key string) Option {
	return func(s *Store) {
		s.key = key
	}
}

// WithTimeout bounds each Redis round trip.
func WithTimeout(timeout time.Duration) Option {
	return func(s *Store) {
		s.timeout = timeout
	}
}

// New creates a Redis persister with its own client.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a Redis persister from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client:  client,
		key:     "castellan:configuration",
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *Store) historyKey() string {
	return s.key + ":history"
}

// Store persists the model JSON and records the store time.
func (s *Store) Store(root *model.Value) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	data := root.JSONString(true)

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.key, data, 0)
	pipe.ZAdd(ctx, s.historyKey(), backend.Z{
		Score:  float64(time.Now().UnixNano()),
		Member: time.Now().UTC().Format(time.RFC3339Nano),
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save configuration to redis: %w", err)
	}
	return nil
}

// Load reads the stored model and replays it as boot operations. A
// missing key yields no operations.
func (s *Store) Load() ([]*model.Value, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	val, err := s.client.Get(ctx, s.key).Result()
	if err != nil {
		if err == backend.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get configuration from redis: %w", err)
	}
	root, err := model.FromJSON(strings.NewReader(val))
	if err != nil {
		return nil, fmt.Errorf("failed to parse stored configuration: %w", err)
	}
	return persistence.BootOperations(root), nil
}

// MarshalAsXML renders the model as XML.
func (s *Store) MarshalAsXML(root *model.Value, out io.Writer) error {
	return persistence.MarshalXML(root, out)
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
