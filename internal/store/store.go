// Package store persists embeddings in a BadgerDB key-value store, one
// msgpack record per utterance under the key emb:<model>:<utterance>.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/comfforts/logger"
	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrNotFound is returned when no embedding is stored for a key.
var ErrNotFound = errors.New("store: not found")

const keyPrefix = "emb"

// Record is the stored value of one embedding.
type Record struct {
	Key    string    `msgpack:"key"`
	Model  string    `msgpack:"model"`
	Vector []float32 `msgpack:"vector"`
}

// Options configures the store.
type Options struct {
	// Dir is the directory for BadgerDB data files. Required unless
	// InMemory is set.
	Dir string

	// InMemory runs BadgerDB without disk persistence.
	InMemory bool
}

// Store is a BadgerDB-backed embedding store.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the store.
func Open(opts Options) (*Store, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("store: Options.Dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir).WithLogger(quietLogger{})
	if opts.InMemory {
		dbOpts = badger.DefaultOptions("").WithInMemory(true).WithLogger(quietLogger{})
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	return &Store{db: db}, nil
}

func recordKey(model, key string) []byte {
	return []byte(strings.Join([]string{keyPrefix, model, key}, ":"))
}

// Put stores the embeddings of one model in a single write batch.
func (s *Store) Put(ctx context.Context, model string, embeds map[string][]float32) error {
	l, err := logger.LoggerFromContext(ctx)
	if err != nil {
		l = logger.GetSlogLogger()
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for key, vec := range embeds {
		data, err := msgpack.Marshal(&Record{Key: key, Model: model, Vector: vec})
		if err != nil {
			return fmt.Errorf("store: encode %q: %w", key, err)
		}
		if err := wb.Set(recordKey(model, key), data); err != nil {
			return fmt.Errorf("store: set %q: %w", key, err)
		}
	}
	if err := wb.Flush(); err != nil {
		l.Error("Store:Put - error flushing batch", "model", model, "error", err.Error())
		return fmt.Errorf("store: flush: %w", err)
	}
	l.Info("stored embeddings", "model", model, "embeddings", len(embeds))
	return nil
}

// Get returns the embedding of one utterance.
func (s *Store) Get(_ context.Context, model, key string) (Record, error) {
	var rec Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(model, key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

// List returns all records of a model, in key order.
func (s *Store) List(_ context.Context, model string) ([]Record, error) {
	prefix := recordKey(model, "")
	var out []Record
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 100})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var rec Record
			if err := it.Item().Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// quietLogger drops badger's info and debug chatter.
type quietLogger struct{}

func (quietLogger) Errorf(format string, args ...any) {
	logger.GetSlogLogger().Error(fmt.Sprintf(strings.TrimSuffix(format, "\n"), args...))
}

func (quietLogger) Warningf(format string, args ...any) {
	logger.GetSlogLogger().Warn(fmt.Sprintf(strings.TrimSuffix(format, "\n"), args...))
}

func (quietLogger) Infof(string, ...any)  {}
func (quietLogger) Debugf(string, ...any) {}
