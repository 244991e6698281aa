package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/castor/peer"
	"go.dedis.ch/castor/storage"
	"go.dedis.ch/castor/storage/badgerkv"
)

func Test_Config_Default(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	require.Equal(t, int64(1000), c.FragmentSize)
	require.Equal(t, string(peer.RoleDesignator), c.Role)

	level, err := c.Level()
	require.NoError(t, err)
	require.Equal(t, zerolog.InfoLevel, level)
}

func Test_Config_FromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "castor.yaml")
	err := os.WriteFile(path, []byte(`
fragmentSize: 500
role: designator
followers:
  - http://10.0.0.2:8080
  - http://10.0.0.3:8080
listen: 0.0.0.0:9000
store:
  kind: badger
  dir: /var/lib/castor
backoff:
  initial: 5ms
  factor: 3
  retry: 7
follower:
  wait:
    initial: 1s
    factor: 1
    retry: 2
logLevel: debug
`), 0o600)
	require.NoError(t, err)

	c, err := FromYAML(path)
	require.NoError(t, err)
	require.Equal(t, int64(500), c.FragmentSize)
	require.Equal(t, []string{"http://10.0.0.2:8080", "http://10.0.0.3:8080"}, c.Followers)
	require.Equal(t, "0.0.0.0:9000", c.Listen)
	require.Equal(t, StoreConfig{Kind: KindBadger, Dir: "/var/lib/castor"}, c.Store)
	require.Equal(t, storage.Backoff{Initial: 5 * time.Millisecond, Factor: 3, Retry: 7}, c.Backoff)
	require.Equal(t, storage.Backoff{Initial: time.Second, Factor: 1, Retry: 2}, c.Follower.Wait)

	// untouched sections keep their defaults
	require.Equal(t, KindMemory, c.Blob.Kind)
	require.Equal(t, Default().Propagation, c.Propagation)
}

func Test_Config_Invalid(t *testing.T) {
	cases := map[string]string{
		"fragment size":      "fragmentSize: 0",
		"role":               "role: leader",
		"follower followers": "role: follower\nfollowers: [http://a:1]",
		"follower url":       "followers: [not a url]",
		"store":              "store: {kind: postgres}",
		"blob":               "blob: {kind: s3}",
		"azure":              "blob: {kind: azure}",
		"retry":              "backoff: {retry: 0}",
		"log level":          "logLevel: loud",
		"yaml":               "fragmentSize: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func Test_Config_Open_Memory(t *testing.T) {
	c := Default()
	c.Followers = []string{"http://127.0.0.1:1"}

	r, err := c.Open(context.Background())
	require.NoError(t, err)
	defer r.Close()

	require.IsType(t, &storage.MemoryKV{}, r.Store)
	require.NotNil(t, r.Blobs)
	require.NotNil(t, r.Propagator)
	require.Equal(t, c.FragmentSize, r.FragmentSize)

	ctx := context.Background()
	id := uuid.NewString()
	require.NoError(t, r.Blobs.Put(ctx, id, []byte("payload")))
	data, err := r.Blobs.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), data)
}

func Test_Config_Open_Badger(t *testing.T) {
	c := Default()
	c.Role = string(peer.RoleFollower)
	c.Store = StoreConfig{Kind: KindBadger, Dir: t.TempDir()}
	c.Blob = BlobConfig{Kind: KindBadger, Dir: t.TempDir()}

	r, err := c.Open(context.Background())
	require.NoError(t, err)

	require.IsType(t, &badgerkv.Store{}, r.Store)
	require.Nil(t, r.Propagator)
	require.Equal(t, peer.RoleFollower, r.Role)

	ctx := context.Background()
	require.NoError(t, r.Blobs.Put(ctx, "c1", []byte("payload")))
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
}
