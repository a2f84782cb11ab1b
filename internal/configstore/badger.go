package configstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v3"
)

const badgerKeyPrefix = "artifacts:"

// BadgerCache is a PersistedCache in a local BadgerDB. Entries carry a badger
// TTL as a backstop; freshness is still decided by the store from cached_at.
type BadgerCache struct {
	db  *badger.DB
	ttl time.Duration
}

// NewBadgerCache opens (or creates) the database in dir. A zero ttl stores
// entries without expiry.
func NewBadgerCache(dir string, ttl time.Duration) (*BadgerCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger cache: %w", err)
	}
	return &BadgerCache{db: db, ttl: ttl}, nil
}

func (b *BadgerCache) key(k string) []byte {
	return []byte(badgerKeyPrefix + k)
}

// Get implements PersistedCache
func (b *BadgerCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(b.key(key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("badger get %s: %w", key, err)
	}
	return data, true, nil
}

// Set implements PersistedCache
func (b *BadgerCache) Set(_ context.Context, key string, data []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(b.key(key), data)
		if b.ttl > 0 {
			e = e.WithTTL(b.ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("badger set %s: %w", key, err)
	}
	return nil
}

// Delete implements PersistedCache
func (b *BadgerCache) Delete(_ context.Context, key string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(b.key(key))
	})
	if err != nil {
		return fmt.Errorf("badger delete %s: %w", key, err)
	}
	return nil
}

// Clear removes every artifact key
func (b *BadgerCache) Clear(_ context.Context) error {
	if err := b.db.DropPrefix([]byte(badgerKeyPrefix)); err != nil {
		return fmt.Errorf("badger drop prefix: %w", err)
	}
	return nil
}

// Close flushes and closes the database
func (b *BadgerCache) Close() error {
	return b.db.Close()
}
