package storage

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"sort"
	"strings"
	"sync"
)

var errReadOnly = errors.New("write in a read-only transaction")

// MemoryKV is an in-process TxnStore. Every committed key carries a
// version; a transaction remembers the versions it observed and commits
// only if they are unchanged.
//
// - implements storage.TxnStore
type MemoryKV struct {
	sync.Mutex

	store    map[string][]byte
	versions map[string]uint64
	clock    uint64
	closed   bool
}

// NewMemoryKV returns an empty in-memory store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{
		store:    make(map[string][]byte),
		versions: make(map[string]uint64),
	}
}

// View implements TxnStore
func (kv *MemoryKV) View(fn func(Txn) error) error {
	if kv.isClosed() {
		return ErrClosed
	}
	return fn(kv.newTxn(false))
}

// Update implements TxnStore
func (kv *MemoryKV) Update(fn func(Txn) error) error {
	if kv.isClosed() {
		return ErrClosed
	}
	txn := kv.newTxn(true)
	err := fn(txn)
	if err != nil {
		return err
	}
	return kv.commit(txn)
}

// Close implements TxnStore
func (kv *MemoryKV) Close() error {
	kv.Lock()
	defer kv.Unlock()
	kv.closed = true
	return nil
}

// Hash computes a digest over every committed row. Two stores with the same
// rows have the same hash.
func (kv *MemoryKV) Hash() []byte {
	kv.Lock()
	defer kv.Unlock()

	sorted := make([]string, 0, len(kv.store))
	for k := range kv.store {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	h := sha256.New()
	for _, key := range sorted {
		h.Write([]byte(key))
		h.Write([]byte{0})
		h.Write(kv.store[key])
		h.Write([]byte{0})
	}

	return h.Sum(nil)
}

func (kv *MemoryKV) isClosed() bool {
	kv.Lock()
	defer kv.Unlock()
	return kv.closed
}

func (kv *MemoryKV) newTxn(update bool) *memoryTxn {
	kv.Lock()
	start := kv.clock
	kv.Unlock()
	return &memoryTxn{
		kv:     kv,
		start:  start,
		update: update,
		reads:  make(map[string]uint64),
		writes: make(map[string][]byte),
	}
}

// read returns a copy of the committed value and its version. A missing key
// has version 0 unless it existed once.
func (kv *MemoryKV) read(key string) ([]byte, uint64, bool) {
	kv.Lock()
	defer kv.Unlock()
	value, ok := kv.store[key]
	return bytes.Clone(value), kv.versions[key], ok
}

type memoryRow struct {
	key     string
	value   []byte
	version uint64
}

func (kv *MemoryKV) scan(prefix string) []memoryRow {
	kv.Lock()
	defer kv.Unlock()
	rows := []memoryRow{}
	for k, v := range kv.store {
		if strings.HasPrefix(k, prefix) {
			rows = append(rows, memoryRow{key: k, value: bytes.Clone(v), version: kv.versions[k]})
		}
	}
	return rows
}

func (kv *MemoryKV) commit(txn *memoryTxn) error {
	kv.Lock()
	defer kv.Unlock()

	if kv.closed {
		return ErrClosed
	}
	for key, seen := range txn.reads {
		if kv.versions[key] != seen {
			return ErrConflict
		}
	}
	for key := range txn.writes {
		if kv.versions[key] > txn.start {
			return ErrConflict
		}
	}
	if len(txn.writes) == 0 {
		return nil
	}
	kv.clock++
	for key, value := range txn.writes {
		if value == nil {
			delete(kv.store, key)
		} else {
			kv.store[key] = value
		}
		kv.versions[key] = kv.clock
	}
	return nil
}

// memoryTxn implements Txn for MemoryKV. A nil value in writes marks a
// pending delete.
type memoryTxn struct {
	kv     *MemoryKV
	start  uint64
	update bool
	reads  map[string]uint64
	writes map[string][]byte
}

func (t *memoryTxn) observe(key string, version uint64) {
	if _, ok := t.reads[key]; !ok {
		t.reads[key] = version
	}
}

func (t *memoryTxn) Get(key string) ([]byte, error) {
	if value, ok := t.writes[key]; ok {
		if value == nil {
			return nil, ErrNotFound
		}
		return bytes.Clone(value), nil
	}
	value, version, ok := t.kv.read(key)
	t.observe(key, version)
	if !ok {
		return nil, ErrNotFound
	}
	return value, nil
}

func (t *memoryTxn) Set(key string, value []byte) error {
	if !t.update {
		return errReadOnly
	}
	if value == nil {
		value = []byte{}
	}
	t.writes[key] = bytes.Clone(value)
	return nil
}

func (t *memoryTxn) Delete(key string) error {
	if !t.update {
		return errReadOnly
	}
	t.writes[key] = nil
	return nil
}

func (t *memoryTxn) Iterate(prefix string, fn func(key string, value []byte) (bool, error)) error {
	merged := map[string]memoryRow{}
	for _, row := range t.kv.scan(prefix) {
		merged[row.key] = row
	}
	for key, value := range t.writes {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if value == nil {
			delete(merged, key)
			continue
		}
		row := merged[key]
		row.key = key
		row.value = bytes.Clone(value)
		merged[key] = row
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		row := merged[key]
		if _, pending := t.writes[key]; !pending {
			t.observe(key, row.version)
		}
		more, err := fn(key, row.value)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}
