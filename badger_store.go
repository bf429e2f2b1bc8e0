package zarr

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

const BadgerStoreType = "BadgerStore"

// BadgerStore keeps a zarr hierarchy inside a single badger database, one
// badger key per zarr key
type BadgerStore struct {
	DB *badger.DB
}

var _ Store = (*BadgerStore)(nil)

// NewBadgerStore opens (or creates) a badger database at path. An empty path
// opens an in-memory database.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).
		WithCompression(options.ZSTD).
		WithNumVersionsToKeep(1).
		WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger store: %w", err)
	}
	return &BadgerStore{DB: db}, nil
}

func (s *BadgerStore) Type() string { return BadgerStoreType }

func (s *BadgerStore) Get(key string) (io.ReadCloser, error) {
	var val []byte
	err := s.DB.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotfound, key)
	}
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(val)), nil
}

func (s *BadgerStore) Put(key string, val io.Reader) error {
	d, err := io.ReadAll(val)
	if err != nil {
		return err
	}
	return s.DB.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), d)
	})
}

func (s *BadgerStore) Delete(key string) error {
	return s.DB.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(key)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", ErrNotfound, key)
			}
			return err
		}
		return txn.Delete([]byte(key))
	})
}

func (s *BadgerStore) Keys(prefix string) ([]string, error) {
	var keys []string
	err := s.DB.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// Close releases the underlying database
func (s *BadgerStore) Close() error {
	return s.DB.Close()
}
