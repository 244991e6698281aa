package impl

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/castor/blob"
	"go.dedis.ch/castor/peer"
	"go.dedis.ch/castor/storage"
	"go.dedis.ch/castor/types"
)

func newTestPeer(fragmentSize int64) peer.TupleStore {
	kv := storage.NewMemoryKV()
	return NewPeer(peer.Configuration{
		Store:        kv,
		Blobs:        blob.NewKVStore(kv, storage.DefaultBackoff),
		FragmentSize: fragmentSize,
	})
}

func Test_Node_Upload_Activate_Reserve(t *testing.T) {
	n := newTestPeer(7)
	ctx := context.Background()
	tt := types.SquareTupleGf2n

	chunkID := uuid.NewString()
	err := n.UploadChunk(ctx, types.Chunk{ID: chunkID, TupleType: tt.Name, Data: make([]byte, 13*tt.RecordWidth())})
	require.NoError(t, err)

	available, err := n.AvailableTuples(ctx)
	require.NoError(t, err)
	require.Len(t, available, len(types.SupportedTupleTypes))
	require.Equal(t, int64(0), available[tt.Name])

	_, err = n.Reserve(ctx, types.ReservationRequest{ReservationID: "r1", TupleType: tt.Name, Count: 1})
	require.ErrorIs(t, err, types.ErrInsufficientTuples)

	require.NoError(t, n.ActivateChunk(ctx, chunkID))
	available, err = n.AvailableTuples(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(13), available[tt.Name])

	r, err := n.Reserve(ctx, types.ReservationRequest{ReservationID: "r1", TupleType: tt.Name, Count: 8})
	require.NoError(t, err)
	require.Equal(t, []types.ReservationElement{{ChunkID: chunkID, StartIndex: 0, Length: 8}}, r.Elements)

	available, err = n.AvailableTuples(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(5), available[tt.Name])

	fragments, err := n.Fragments(ctx, chunkID)
	require.NoError(t, err)
	require.Len(t, fragments, 3)
	require.Equal(t, "r1", fragments[0].ReservationID)
	require.Equal(t, "r1", fragments[1].ReservationID)
	require.True(t, fragments[2].IsFree())

	meta, err := n.GetChunk(ctx, chunkID)
	require.NoError(t, err)
	require.Equal(t, types.Unlocked, meta.Status)
}

func Test_Node_Default_Fragment_Size(t *testing.T) {
	n := newTestPeer(0)
	ctx := context.Background()
	tt := types.BitGfp

	chunkID := uuid.NewString()
	err := n.UploadChunk(ctx, types.Chunk{ID: chunkID, TupleType: tt.Name, Data: make([]byte, 2500*tt.RecordWidth())})
	require.NoError(t, err)

	fragments, err := n.Fragments(ctx, chunkID)
	require.NoError(t, err)
	require.Len(t, fragments, 3)
	require.Equal(t, int64(DefaultFragmentSize), fragments[0].Len())
	require.Equal(t, int64(500), fragments[2].Len())
}
