package chunk

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/castor/blob"
	"go.dedis.ch/castor/peer"
	"go.dedis.ch/castor/peer/impl/fragment"
	"go.dedis.ch/castor/storage"
	"go.dedis.ch/castor/types"
)

const tupleType = "INPUT_MASK_GFP"

func newModule(fragmentSize int64) (*ChunkModule, *storage.MemoryKV, blob.Store) {
	kv := storage.NewMemoryKV()
	blobs := blob.NewKVStore(storage.NewMemoryKV(), storage.DefaultBackoff)
	conf := &peer.Configuration{
		Store:        kv,
		Blobs:        blobs,
		FragmentSize: fragmentSize,
		Backoff:      storage.DefaultBackoff,
	}
	return NewChunkModule(conf, fragment.NewFragmentModule()), kv, blobs
}

// payload returns the bytes of n tuples of the given type.
func payload(t *testing.T, name string, n int) []byte {
	tt, err := types.TupleTypeByName(name)
	require.NoError(t, err)
	data := make([]byte, n*tt.RecordWidth())
	for i := range data {
		data[i] = byte(i)
	}
	return data
}

func Test_Chunk_Upload(t *testing.T) {
	m, _, blobs := newModule(7)
	ctx := context.Background()
	chunk := types.Chunk{ID: uuid.NewString(), TupleType: tupleType, Data: payload(t, tupleType, 13)}

	require.NoError(t, m.UploadChunk(ctx, chunk))

	meta, err := m.GetChunk(ctx, chunk.ID)
	require.NoError(t, err)
	require.Equal(t, int64(13), meta.TupleCount)
	require.Equal(t, types.Locked, meta.Status)
	require.Equal(t, uint64(1), meta.Seq)

	fragments, err := m.Fragments(ctx, chunk.ID)
	require.NoError(t, err)
	require.Len(t, fragments, 2)
	require.Equal(t, int64(7), fragments[0].End)
	require.Equal(t, int64(13), fragments[1].End)

	data, err := blobs.Get(ctx, chunk.ID)
	require.NoError(t, err)
	require.Equal(t, chunk.Data, data)

	second := types.Chunk{ID: uuid.NewString(), TupleType: tupleType, Data: payload(t, tupleType, 1)}
	require.NoError(t, m.UploadChunk(ctx, second))
	meta, err = m.GetChunk(ctx, second.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(2), meta.Seq)
}

func Test_Chunk_Upload_Empty(t *testing.T) {
	m, kv, blobs := newModule(7)
	ctx := context.Background()
	chunk := types.Chunk{ID: uuid.NewString(), TupleType: tupleType}

	before := kv.Hash()
	err := m.UploadChunk(ctx, chunk)
	require.ErrorIs(t, err, types.ErrEmptyChunk)
	require.Equal(t, types.KindClient, types.Classify(err))
	require.Equal(t, before, kv.Hash())

	_, err = m.GetChunk(ctx, chunk.ID)
	require.ErrorIs(t, err, types.ErrChunkNotFound)
	_, err = blobs.Get(ctx, chunk.ID)
	require.ErrorIs(t, err, blob.ErrBlobNotFound)
}

func Test_Chunk_Upload_Invalid(t *testing.T) {
	m, kv, _ := newModule(7)
	ctx := context.Background()
	before := kv.Hash()

	cases := []struct {
		name  string
		chunk types.Chunk
		err   error
	}{
		{"not a uuid", types.Chunk{ID: "chunk-1", TupleType: tupleType, Data: payload(t, tupleType, 1)}, types.ErrMalformedChunk},
		{"partial tuple", types.Chunk{ID: uuid.NewString(), TupleType: tupleType, Data: make([]byte, 33)}, types.ErrMalformedChunk},
		{"unknown type", types.Chunk{ID: uuid.NewString(), TupleType: "Nope", Data: make([]byte, 32)}, types.ErrUnknownTupleType},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := m.UploadChunk(ctx, c.chunk)
			require.ErrorIs(t, err, c.err)
			require.Equal(t, before, kv.Hash())
		})
	}
}

func Test_Chunk_Upload_Too_Many_Fragments(t *testing.T) {
	m, kv, blobs := newModule(1)
	ctx := context.Background()
	chunk := types.Chunk{ID: uuid.NewString(), TupleType: tupleType,
		Data: payload(t, tupleType, fragment.MaxFragmentsPerChunk+1)}

	before := kv.Hash()
	err := m.UploadChunk(ctx, chunk)
	require.ErrorIs(t, err, types.ErrInvalidChunk)
	require.Equal(t, types.KindClient, types.Classify(err))
	require.Equal(t, before, kv.Hash())

	_, err = m.GetChunk(ctx, chunk.ID)
	require.ErrorIs(t, err, types.ErrChunkNotFound)
	_, err = blobs.Get(ctx, chunk.ID)
	require.ErrorIs(t, err, blob.ErrBlobNotFound)

	// the same payload fits with larger fragments
	m, _, _ = newModule(2)
	require.NoError(t, m.UploadChunk(ctx, chunk))
}

func Test_Chunk_Upload_Twice(t *testing.T) {
	m, _, _ := newModule(7)
	ctx := context.Background()
	chunk := types.Chunk{ID: uuid.NewString(), TupleType: tupleType, Data: payload(t, tupleType, 3)}

	require.NoError(t, m.UploadChunk(ctx, chunk))
	err := m.UploadChunk(ctx, chunk)
	require.ErrorIs(t, err, types.ErrChunkExists)
	require.Equal(t, types.KindConflict, types.Classify(err))
}

func Test_Chunk_Upload_Reuses_Stale_Blob(t *testing.T) {
	m, _, blobs := newModule(7)
	ctx := context.Background()
	chunk := types.Chunk{ID: uuid.NewString(), TupleType: tupleType, Data: payload(t, tupleType, 3)}

	// payload stored by an attempt that never registered the chunk
	require.NoError(t, blobs.Put(ctx, chunk.ID, chunk.Data))
	require.NoError(t, m.UploadChunk(ctx, chunk))

	other := types.Chunk{ID: uuid.NewString(), TupleType: tupleType, Data: payload(t, tupleType, 3)}
	require.NoError(t, blobs.Put(ctx, other.ID, payload(t, tupleType, 2)))
	err := m.UploadChunk(ctx, other)
	require.ErrorIs(t, err, types.ErrChunkExists)
	_, err = m.GetChunk(ctx, other.ID)
	require.ErrorIs(t, err, types.ErrChunkNotFound)
}

func Test_Chunk_Activate(t *testing.T) {
	m, kv, _ := newModule(4)
	ctx := context.Background()
	chunk := types.Chunk{ID: uuid.NewString(), TupleType: tupleType, Data: payload(t, tupleType, 10)}
	require.NoError(t, m.UploadChunk(ctx, chunk))

	require.NoError(t, m.ActivateChunk(ctx, chunk.ID))
	hash := kv.Hash()
	require.NoError(t, m.ActivateChunk(ctx, chunk.ID))
	require.Equal(t, hash, kv.Hash())

	meta, err := m.GetChunk(ctx, chunk.ID)
	require.NoError(t, err)
	require.Equal(t, types.Unlocked, meta.Status)

	fragments, err := m.Fragments(ctx, chunk.ID)
	require.NoError(t, err)
	for _, f := range fragments {
		require.Equal(t, types.Unlocked, f.Status)
	}

	err = m.ActivateChunk(ctx, uuid.NewString())
	require.ErrorIs(t, err, types.ErrChunkNotFound)
	require.Equal(t, types.KindNotFound, types.Classify(err))
}
