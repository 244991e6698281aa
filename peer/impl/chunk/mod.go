package chunk

import (
	"bytes"
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.dedis.ch/castor/blob"
	"go.dedis.ch/castor/peer"
	"go.dedis.ch/castor/peer/impl/fragment"
	"go.dedis.ch/castor/storage"
	"go.dedis.ch/castor/types"
	"golang.org/x/xerrors"
)

const (
	chunkPrefix = "chunk/"
	seqKey      = "chunkseq"
)

// ChunkModule accepts uploaded chunks and controls their activation.
type ChunkModule struct {
	conf      *peer.Configuration
	fragments *fragment.FragmentModule
}

// NewChunkModule creates the upload handler of a node.
func NewChunkModule(conf *peer.Configuration, fragments *fragment.FragmentModule) *ChunkModule {
	return &ChunkModule{
		conf:      conf,
		fragments: fragments,
	}
}

/** Feature Functions **/

// UploadChunk validates the chunk, stores its payload and then registers its
// metadata and locked fragments in a single transaction. The chunk is not
// visible to anyone before that transaction commits.
func (m *ChunkModule) UploadChunk(ctx context.Context, chunk types.Chunk) error {
	meta, err := m.validate(chunk)
	if err != nil {
		return err
	}

	_, err = m.GetChunk(ctx, chunk.ID)
	if err == nil {
		return xerrors.Errorf("chunk %s: %w", chunk.ID, types.ErrChunkExists)
	}
	if !errors.Is(err, types.ErrChunkNotFound) {
		return err
	}

	err = m.storeBlob(ctx, chunk)
	if err != nil {
		return err
	}

	err = storage.Update(ctx, m.conf.Store, m.conf.Backoff, func(txn storage.Txn) error {
		err := storage.GetValue(txn, chunkPrefix+meta.ID, &types.ChunkMeta{})
		if err == nil {
			return xerrors.Errorf("chunk %s: %w", meta.ID, types.ErrChunkExists)
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		meta.Seq, err = nextSeq(txn)
		if err != nil {
			return err
		}
		err = storage.PutValue(txn, chunkPrefix+meta.ID, meta)
		if err != nil {
			return err
		}
		_, err = m.fragments.Materialize(txn, meta, m.conf.FragmentSize)
		return err
	})
	if err != nil {
		return xerrors.Errorf("failed to register chunk %s: %w", chunk.ID, err)
	}

	log.Info().Msgf("chunk %s uploaded: %d %s tuples", meta.ID, meta.TupleCount, meta.TupleType)
	return nil
}

// ActivateChunk unlocks the chunk and all its fragments.
func (m *ChunkModule) ActivateChunk(ctx context.Context, chunkID string) error {
	var changed int
	err := storage.Update(ctx, m.conf.Store, m.conf.Backoff, func(txn storage.Txn) error {
		meta, err := getMeta(txn, chunkID)
		if err != nil {
			return err
		}
		changed, err = m.fragments.Activate(txn, meta)
		if err != nil {
			return err
		}
		if meta.Status == types.Unlocked {
			return nil
		}
		meta.Status = types.Unlocked
		return storage.PutValue(txn, chunkPrefix+meta.ID, meta)
	})
	if err != nil {
		return err
	}

	if changed > 0 {
		log.Info().Msgf("chunk %s activated (%d fragments)", chunkID, changed)
	}
	return nil
}

// GetChunk returns the metadata of an uploaded chunk.
func (m *ChunkModule) GetChunk(ctx context.Context, chunkID string) (types.ChunkMeta, error) {
	var meta types.ChunkMeta
	err := storage.View(ctx, m.conf.Store, func(txn storage.Txn) error {
		var err error
		meta, err = getMeta(txn, chunkID)
		return err
	})
	return meta, err
}

// GetChunkIn is GetChunk within a running transaction.
func (m *ChunkModule) GetChunkIn(txn storage.Txn, chunkID string) (types.ChunkMeta, error) {
	return getMeta(txn, chunkID)
}

// Fragments returns the current fragments of a chunk.
func (m *ChunkModule) Fragments(ctx context.Context, chunkID string) ([]types.Fragment, error) {
	var fragments []types.Fragment
	err := storage.View(ctx, m.conf.Store, func(txn storage.Txn) error {
		meta, err := getMeta(txn, chunkID)
		if err != nil {
			return err
		}
		fragments, err = m.fragments.Fragments(txn, meta)
		return err
	})
	return fragments, err
}

/** Private Helper Functions **/

func (m *ChunkModule) validate(chunk types.Chunk) (types.ChunkMeta, error) {
	_, err := uuid.Parse(chunk.ID)
	if err != nil {
		return types.ChunkMeta{}, xerrors.Errorf("chunk id %q is not a uuid: %w", chunk.ID, types.ErrMalformedChunk)
	}
	tt, err := types.TupleTypeByName(chunk.TupleType)
	if err != nil {
		return types.ChunkMeta{}, err
	}
	if len(chunk.Data) == 0 {
		return types.ChunkMeta{}, xerrors.Errorf("chunk %s: %w", chunk.ID, types.ErrEmptyChunk)
	}
	count, exact := tt.TupleCount(len(chunk.Data))
	if !exact {
		return types.ChunkMeta{}, xerrors.Errorf("chunk %s: %d bytes is not a multiple of %d: %w",
			chunk.ID, len(chunk.Data), tt.RecordWidth(), types.ErrMalformedChunk)
	}
	if count == 0 {
		return types.ChunkMeta{}, xerrors.Errorf("chunk %s: %w", chunk.ID, types.ErrEmptyChunk)
	}
	err = fragment.CheckFragmentCount(count, m.conf.FragmentSize)
	if err != nil {
		return types.ChunkMeta{}, xerrors.Errorf("chunk %s: %w", chunk.ID, err)
	}

	return types.ChunkMeta{
		ID:         chunk.ID,
		TupleType:  tt.Name,
		TupleCount: count,
		Status:     types.Locked,
	}, nil
}

// storeBlob writes the payload. A payload left by an earlier attempt that
// failed before registering the chunk is accepted if it is identical.
func (m *ChunkModule) storeBlob(ctx context.Context, chunk types.Chunk) error {
	err := m.conf.Blobs.Put(ctx, chunk.ID, chunk.Data)
	if err == nil {
		return nil
	}
	if !errors.Is(err, blob.ErrBlobExists) {
		return xerrors.Errorf("failed to store chunk %s: %w", chunk.ID, err)
	}

	stored, err := m.conf.Blobs.Get(ctx, chunk.ID)
	if err != nil {
		return xerrors.Errorf("failed to read back chunk %s: %w", chunk.ID, err)
	}
	if !bytes.Equal(stored, chunk.Data) {
		return xerrors.Errorf("chunk %s has a different payload: %w", chunk.ID, types.ErrChunkExists)
	}

	log.Warn().Msgf("reusing payload of chunk %s from an earlier upload", chunk.ID)
	return nil
}

func getMeta(txn storage.Txn, chunkID string) (types.ChunkMeta, error) {
	var meta types.ChunkMeta
	err := storage.GetValue(txn, chunkPrefix+chunkID, &meta)
	if errors.Is(err, storage.ErrNotFound) {
		return meta, xerrors.Errorf("chunk %s: %w", chunkID, types.ErrChunkNotFound)
	}
	return meta, err
}

// nextSeq hands out the creation sequence of a new chunk, starting at 1.
func nextSeq(txn storage.Txn) (uint64, error) {
	var seq uint64
	err := storage.GetValue(txn, seqKey, &seq)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return 0, err
	}
	seq++
	return seq, storage.PutValue(txn, seqKey, seq)
}
