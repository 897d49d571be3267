package kv

import (
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/gantryio/gantry/internal/errs"
)

// setMemberSep separates a set key from a member name in the underlying
// Badger key. A set is represented as one Badger key per member rather than
// a single encoded list, since Badger's prefix Scan already gives cheap
// enumeration and this way two concurrent SetAdd calls on the same set never
// race on a read-modify-write of one value.
const setMemberSep = "\x00"

// BadgerStore implements Store on top of a single Badger database.
type BadgerStore struct {
	db *badger.DB
}

// Config mirrors the subset of Badger's tuning knobs Gantry's catalog cares
// about.
type Config struct {
	Dir        string
	SyncWrites bool
}

// Open opens (creating if necessary) a Badger database at cfg.Dir.
func Open(cfg Config) (*BadgerStore, error) {
	opts := badger.DefaultOptions(cfg.Dir).WithSyncWrites(cfg.SyncWrites)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, &errs.StorageError{Op: "open", Err: err}
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Get(key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err == badger.ErrKeyNotFound {
			return errs.ErrNotFound
		}
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if err == errs.ErrNotFound {
			return nil, errs.ErrNotFound
		}
		return nil, &errs.StorageError{Op: "get", Err: err}
	}
	return value, nil
}

func (s *BadgerStore) Set(key string, value []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return &errs.StorageError{Op: "set", Err: err}
	}
	return nil
}

func (s *BadgerStore) SetAdd(setKey, member string) error {
	key := setMemberKey(setKey, member)
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), nil)
	})
	if err != nil {
		return &errs.StorageError{Op: "set_add", Err: err}
	}
	return nil
}

func (s *BadgerStore) SetMembers(setKey string) ([]string, error) {
	prefix := []byte(setKey + setMemberSep)
	members := make([]string, 0)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := string(it.Item().Key())
			members = append(members, strings.TrimPrefix(key, string(prefix)))
		}
		return nil
	})
	if err != nil {
		return nil, &errs.StorageError{Op: "set_members", Err: err}
	}
	return members, nil
}

func (s *BadgerStore) Close() error {
	if err := s.db.Close(); err != nil {
		return &errs.StorageError{Op: "close", Err: err}
	}
	return nil
}

func setMemberKey(setKey, member string) string {
	return fmt.Sprintf("%s%s%s", setKey, setMemberSep, member)
}
