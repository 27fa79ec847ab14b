package storage

import (
	"context"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
)

// BadgerTier stores cart payloads in an embedded Badger database on
// local disk. It backs the engine when Redis is unreachable.
type BadgerTier struct {
	db *badger.DB
}

// OpenBadgerTier opens (or creates) the Badger database at path.
func OpenBadgerTier(path string) (*BadgerTier, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", path, err)
	}
	return &BadgerTier{db: db}, nil
}

// NewBadgerTier wraps an already open database, used by tests with
// in-memory options.
func NewBadgerTier(db *badger.DB) *BadgerTier {
	return &BadgerTier{db: db}
}

func (t *BadgerTier) Kind() Kind {
	return KindDisk
}

// Probe does a throwaway write and remove so a database that opened
// but can no longer commit (disk full, read-only mount) fails here
// rather than on the first cart write.
func (t *BadgerTier) Probe(ctx context.Context) error {
	if t.db.IsClosed() {
		return errors.New("badger: database closed")
	}
	err := t.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(probeKey), []byte("1")); err != nil {
			return err
		}
		return txn.Delete([]byte(probeKey))
	})
	if err != nil {
		return fmt.Errorf("badger probe: %w", err)
	}
	return nil
}

func (t *BadgerTier) Read(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := t.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("badger get: %w", err)
	}
	return data, nil
}

func (t *BadgerTier) Write(ctx context.Context, key string, data []byte) error {
	err := t.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("badger set: %w", err)
	}
	return nil
}

func (t *BadgerTier) Remove(ctx context.Context, key string) error {
	err := t.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("badger delete: %w", err)
	}
	return nil
}

// Close releases the underlying database.
func (t *BadgerTier) Close() error {
	return t.db.Close()
}
