package blob

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/castor/storage"
)

func Test_KVStore_Put_Get(t *testing.T) {
	ctx := context.Background()
	s := NewKVStore(storage.NewMemoryKV(), storage.DefaultBackoff)

	_, err := s.Get(ctx, "c1")
	require.ErrorIs(t, err, ErrBlobNotFound)

	require.NoError(t, s.Put(ctx, "c1", []byte{1, 2, 3}))

	data, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, data)
}

func Test_KVStore_Put_Is_Create_Only(t *testing.T) {
	ctx := context.Background()
	s := NewKVStore(storage.NewMemoryKV(), storage.DefaultBackoff)

	require.NoError(t, s.Put(ctx, "c1", []byte{1}))
	err := s.Put(ctx, "c1", []byte{2})
	require.ErrorIs(t, err, ErrBlobExists)

	data, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, []byte{1}, data)
}

func Test_KVStore_Parts(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryKV()
	s := NewKVStore(kv, storage.DefaultBackoff)
	s.partSize = 4

	data := []byte("0123456789")
	require.NoError(t, s.Put(ctx, "c1", data))

	parts := 0
	err := kv.View(func(txn storage.Txn) error {
		return txn.Iterate(partPrefix, func(key string, value []byte) (bool, error) {
			parts++
			return true, nil
		})
	})
	require.NoError(t, err)
	require.Equal(t, 3, parts)

	got, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, data, got)

	// identical parts are shared
	require.NoError(t, s.Put(ctx, "c2", []byte("01234567")))
	got, err = s.Get(ctx, "c2")
	require.NoError(t, err)
	require.Equal(t, []byte("01234567"), got)

	parts = 0
	err = kv.View(func(txn storage.Txn) error {
		return txn.Iterate(partPrefix, func(key string, value []byte) (bool, error) {
			parts++
			return true, nil
		})
	})
	require.NoError(t, err)
	require.Equal(t, 3, parts)
}

func Test_KVStore_Empty_Blob(t *testing.T) {
	ctx := context.Background()
	s := NewKVStore(storage.NewMemoryKV(), storage.DefaultBackoff)

	require.NoError(t, s.Put(ctx, "c1", nil))
	data, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	require.Empty(t, data)
}
