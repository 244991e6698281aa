package storage

import (
	"errors"
)

var (
	// ErrNotFound is returned by Txn.Get for a missing key
	ErrNotFound = errors.New("key not found")
	// ErrConflict is returned by TxnStore.Update when a key read or written
	// by the transaction was committed by someone else in the meantime.
	ErrConflict = errors.New("transaction conflict")
	// ErrRetriesExhausted is returned by Update when conflicts persisted
	// through every retry.
	ErrRetriesExhausted = errors.New("transaction retries exhausted")
	// ErrClosed is returned when using a closed store
	ErrClosed = errors.New("store closed")
)

// Txn gives access to the rows of a store inside one transaction. Reads see
// the transaction's own pending writes.
type Txn interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
	// Iterate calls fn for every key with the given prefix, in ascending key
	// order, until fn returns false or an error. fn must not modify the
	// transaction: collect what to change and apply it after Iterate returns.
	Iterate(prefix string, fn func(key string, value []byte) (bool, error)) error
}

// TxnStore is the transactional row store shared by every replica of a
// party.
//
// Isolation contract: transactions are optimistic. Update commits only if
// no key the transaction read (through Get or Iterate) or wrote was
// committed by another transaction since it started; otherwise it returns
// ErrConflict and nothing is written. Transactions touching disjoint keys
// never conflict. Keys inserted by others under a prefix the transaction
// iterated are not treated as conflicts.
type TxnStore interface {
	View(fn func(Txn) error) error
	Update(fn func(Txn) error) error
	Close() error
}
