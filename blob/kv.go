package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/rs/zerolog/log"
	"go.dedis.ch/castor/storage"
	"golang.org/x/xerrors"
)

const (
	manifestPrefix = "blob/meta/"
	partPrefix     = "blob/part/"
)

// DefaultPartSize keeps every part well below the transaction size limits
// of the row stores.
const DefaultPartSize = 1 << 20

// manifest lists the content addressed parts of a blob in order.
type manifest struct {
	Size  int
	Hash  string
	Parts []string
}

// KVStore keeps blobs as rows of a storage.TxnStore. A payload is cut into
// content addressed parts, each written in its own transaction, and becomes
// visible once its manifest is committed.
//
// - implements blob.Store
type KVStore struct {
	store    storage.TxnStore
	backoff  storage.Backoff
	partSize int
}

// NewKVStore returns a blob store backed by the given row store.
func NewKVStore(store storage.TxnStore, backoff storage.Backoff) *KVStore {
	return &KVStore{store: store, backoff: backoff, partSize: DefaultPartSize}
}

// Put implements blob.Store
func (s *KVStore) Put(ctx context.Context, chunkID string, data []byte) error {
	key := manifestPrefix + chunkID

	exists, err := s.exists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		return xerrors.Errorf("chunk %s: %w", chunkID, ErrBlobExists)
	}

	m := manifest{Size: len(data), Hash: computeCID(data)}
	for start := 0; start < len(data); start += s.partSize {
		end := start + s.partSize
		if end > len(data) {
			end = len(data)
		}
		part := data[start:end]
		cid := computeCID(part)
		err = storage.Update(ctx, s.store, s.backoff, func(txn storage.Txn) error {
			return txn.Set(partPrefix+cid, part)
		})
		if err != nil {
			return xerrors.Errorf("failed to store part %d of chunk %s: %w", len(m.Parts), chunkID, err)
		}
		m.Parts = append(m.Parts, cid)
	}

	err = storage.Update(ctx, s.store, s.backoff, func(txn storage.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return xerrors.Errorf("chunk %s: %w", chunkID, ErrBlobExists)
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		return storage.PutValue(txn, key, m)
	})
	if err != nil {
		return err
	}

	log.Debug().Str("chunk", chunkID).Int("bytes", m.Size).Int("parts", len(m.Parts)).Msg("blob stored")
	return nil
}

// Get implements blob.Store
func (s *KVStore) Get(ctx context.Context, chunkID string) ([]byte, error) {
	var data []byte
	err := storage.View(ctx, s.store, func(txn storage.Txn) error {
		var m manifest
		err := storage.GetValue(txn, manifestPrefix+chunkID, &m)
		if errors.Is(err, storage.ErrNotFound) {
			return xerrors.Errorf("chunk %s: %w", chunkID, ErrBlobNotFound)
		}
		if err != nil {
			return err
		}

		data = make([]byte, 0, m.Size)
		for _, cid := range m.Parts {
			part, err := txn.Get(partPrefix + cid)
			if err != nil {
				return xerrors.Errorf("part %s of chunk %s: %w", cid, chunkID, err)
			}
			data = append(data, part...)
		}
		if computeCID(data) != m.Hash {
			return xerrors.Errorf("chunk %s does not match its hash %s", chunkID, m.Hash)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *KVStore) exists(ctx context.Context, key string) (bool, error) {
	found := false
	err := storage.View(ctx, s.store, func(txn storage.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			found = true
			return nil
		}
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	})
	return found, err
}

// computeCID returns the hex encoded sha256 of data.
func computeCID(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
