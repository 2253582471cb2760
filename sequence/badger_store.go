package sequence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

const badgerKeyPrefix = "seq/"

// BadgerStore keeps one key per drive in a badger database opened with
// synchronous writes.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens (or creates) a badger database in dir. An empty dir
// opens an in-memory database.
func OpenBadgerStore(dir string, log logrus.FieldLogger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithSyncWrites(true)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	if log != nil {
		opts = opts.WithLogger(log)
	} else {
		opts = opts.WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// NewBadgerStore wraps an already open database.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func (b *BadgerStore) Get(_ context.Context, driveID string) (*Sequence, error) {
	var seq Sequence
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerKeyPrefix + driveID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &seq)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, newError(KindNotFound, driveID, "")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read sequence: %w", err)
	}
	return &seq, nil
}

func (b *BadgerStore) Put(_ context.Context, seq *Sequence) error {
	val, err := json.Marshal(seq)
	if err != nil {
		return err
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerKeyPrefix+seq.ID), val)
	})
	if err != nil {
		return fmt.Errorf("failed to write sequence: %w", err)
	}
	return nil
}

func (b *BadgerStore) List(_ context.Context) ([]*Sequence, error) {
	var out []*Sequence
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(badgerKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var seq Sequence
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &seq)
			}); err != nil {
				return err
			}
			out = append(out, &seq)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list sequences: %w", err)
	}
	return out, nil
}

func (b *BadgerStore) Close() error {
	return b.db.Close()
}
