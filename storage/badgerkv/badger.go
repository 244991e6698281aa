// Package badgerkv implements storage.TxnStore on top of badger, whose
// serializable snapshot isolation provides the per-key optimistic conflict
// detection the store contract asks for.
package badgerkv

import (
	"errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.dedis.ch/castor/storage"
	"golang.org/x/xerrors"
)

// Store is a badger backed TxnStore.
//
// - implements storage.TxnStore
type Store struct {
	db *badger.DB
}

// Open opens (or creates) a store in dir. An empty dir gives an in-memory
// badger instance.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).
		WithLogger(badgerLogger{logger: log.With().Str("component", "badger").Logger()})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, xerrors.Errorf("failed to open badger store at %q: %v", dir, err)
	}
	return &Store{db: db}, nil
}

// View implements storage.TxnStore
func (s *Store) View(fn func(storage.Txn) error) error {
	return wrapErr(s.db.View(func(txn *badger.Txn) error {
		return fn(&badgerTxn{txn: txn})
	}))
}

// Update implements storage.TxnStore
func (s *Store) Update(fn func(storage.Txn) error) error {
	return wrapErr(s.db.Update(func(txn *badger.Txn) error {
		return fn(&badgerTxn{txn: txn})
	}))
}

// Close implements storage.TxnStore
func (s *Store) Close() error {
	return s.db.Close()
}

func wrapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrConflict):
		return xerrors.Errorf("badger: %v: %w", err, storage.ErrConflict)
	case errors.Is(err, badger.ErrDBClosed):
		return xerrors.Errorf("badger: %v: %w", err, storage.ErrClosed)
	default:
		return err
	}
}

// badgerTxn implements storage.Txn
type badgerTxn struct {
	txn *badger.Txn
}

func (t *badgerTxn) Get(key string) ([]byte, error) {
	item, err := t.txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (t *badgerTxn) Set(key string, value []byte) error {
	buf := make([]byte, len(value))
	copy(buf, value)
	return t.txn.Set([]byte(key), buf)
}

func (t *badgerTxn) Delete(key string) error {
	return t.txn.Delete([]byte(key))
}

func (t *badgerTxn) Iterate(prefix string, fn func(key string, value []byte) (bool, error)) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := t.txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
		item := it.Item()
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		more, err := fn(string(item.KeyCopy(nil)), value)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

// badgerLogger forwards badger's internal logging to zerolog.
type badgerLogger struct {
	logger zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error().Msgf(format, args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn().Msgf(format, args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug().Msgf(format, args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Trace().Msgf(format, args...)
}
