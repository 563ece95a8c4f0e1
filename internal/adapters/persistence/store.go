// Package persistence stores match results and player progression as keyed
// blobs. Backends are interchangeable behind Store.
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/okian/reciperage/pkg/metrics"
)

var (
	ErrNotFound       = errors.New("key not found")
	ErrUnknownBackend = errors.New("unknown persistence backend")
)

// Store is a key-value blob store.
type Store interface {
	SaveData(ctx context.Context, key string, data []byte) error
	// LoadData returns ErrNotFound for a missing key.
	LoadData(ctx context.Context, key string) ([]byte, error)
	Close() error
}

// Save encodes v as JSON under key.
func Save[T any](ctx context.Context, s Store, key string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.SaveData(ctx, key, data)
}

// Load decodes the JSON stored under key.
func Load[T any](ctx context.Context, s Store, key string) (T, error) {
	var v T
	data, err := s.LoadData(ctx, key)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("decode %s: %w", key, err)
	}
	return v, nil
}

// MatchKey is where a match result lives.
func MatchKey(matchID string) string { return "match/" + matchID }

// ProgressionKey is where a player's progression lives.
func ProgressionKey(playerID string) string { return "progression/" + playerID }

// Options selects and configures a backend.
type Options struct {
	Backend string // memory, sqlite, postgres or s3
	DSN     string // sqlite path or postgres connection string
	Bucket  string
	Region  string
	Prefix  string
}

// Open builds the configured backend wrapped with metrics.
func Open(ctx context.Context, opts Options) (Store, error) {
	var (
		s   Store
		err error
	)
	switch opts.Backend {
	case "", "memory":
		s = NewMemory()
	case "sqlite":
		s, err = OpenSQLite(ctx, opts.DSN)
	case "postgres":
		s, err = OpenPostgres(ctx, opts.DSN)
	case "s3":
		s, err = OpenS3(ctx, opts.Region, opts.Bucket, opts.Prefix)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
	if err != nil {
		return nil, err
	}
	name := opts.Backend
	if name == "" {
		name = "memory"
	}
	return Instrument(name, s), nil
}

// Instrument records latency and errors of every call on s.
func Instrument(backend string, s Store) Store {
	return &instrumented{backend: backend, next: s}
}

type instrumented struct {
	backend string
	next    Store
}

func (i *instrumented) SaveData(ctx context.Context, key string, data []byte) error {
	start := time.Now()
	err := i.next.SaveData(ctx, key, data)
	metrics.RecordPersistence(i.backend, "save", ms(start), err)
	return err
}

func (i *instrumented) LoadData(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	data, err := i.next.LoadData(ctx, key)
	if errors.Is(err, ErrNotFound) {
		metrics.RecordPersistence(i.backend, "load", ms(start), nil)
	} else {
		metrics.RecordPersistence(i.backend, "load", ms(start), err)
	}
	return data, err
}

func (i *instrumented) Close() error { return i.next.Close() }

func ms(start time.Time) float64 { return float64(time.Since(start).Microseconds()) / 1000 }
