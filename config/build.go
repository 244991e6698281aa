package config

import (
	"context"

	"github.com/rs/zerolog/log"
	"go.dedis.ch/castor/blob"
	"go.dedis.ch/castor/peer"
	"go.dedis.ch/castor/peer/impl/propagation"
	"go.dedis.ch/castor/storage"
	"go.dedis.ch/castor/storage/badgerkv"
	"golang.org/x/xerrors"
)

// Runtime is the set of opened backends of a node.
type Runtime struct {
	peer.Configuration

	closers []func() error
}

// Close releases the backends in reverse opening order.
func (r *Runtime) Close() error {
	var first error
	for i := len(r.closers) - 1; i >= 0; i-- {
		err := r.closers[i]()
		if err != nil && first == nil {
			first = err
		}
	}
	r.closers = nil
	return first
}

// Open opens the store and blob backends of the configuration and returns
// the node configuration wired to them.
func (c Config) Open(ctx context.Context) (*Runtime, error) {
	err := c.Validate()
	if err != nil {
		return nil, err
	}

	r := &Runtime{}
	r.Configuration = peer.Configuration{
		FragmentSize: c.FragmentSize,
		Role:         peer.Role(c.Role),
		Backoff:      c.Backoff,
		FollowerWait: c.Follower.Wait,
	}

	r.Store, err = c.openStore(r)
	if err != nil {
		r.Close()
		return nil, err
	}

	r.Blobs, err = c.openBlobs(ctx, r)
	if err != nil {
		r.Close()
		return nil, err
	}

	if len(c.Followers) > 0 {
		r.Propagator = propagation.NewHTTPPropagator(nil, c.Followers, c.Propagation)
	}

	log.Info().Msgf("store %s, blobs %s, %d followers", c.Store.Kind, c.Blob.Kind, len(c.Followers))
	return r, nil
}

func (c Config) openStore(r *Runtime) (storage.TxnStore, error) {
	switch c.Store.Kind {
	case KindBadger:
		store, err := badgerkv.Open(c.Store.Dir)
		if err != nil {
			return nil, xerrors.Errorf("failed to open store: %w", err)
		}
		r.closers = append(r.closers, store.Close)
		return store, nil
	default:
		store := storage.NewMemoryKV()
		r.closers = append(r.closers, store.Close)
		return store, nil
	}
}

func (c Config) openBlobs(ctx context.Context, r *Runtime) (blob.Store, error) {
	switch c.Blob.Kind {
	case KindAzure:
		store, err := blob.NewAzureStore(ctx, c.Blob.ConnectionString, c.Blob.Container)
		if err != nil {
			return nil, xerrors.Errorf("failed to open azure blobs: %w", err)
		}
		return store, nil
	case KindBadger:
		// payloads live next to the rows unless a separate directory is set
		if c.Store.Kind == KindBadger && (c.Blob.Dir == "" || c.Blob.Dir == c.Store.Dir) {
			return blob.NewKVStore(r.Store, c.Backoff), nil
		}
		store, err := badgerkv.Open(c.Blob.Dir)
		if err != nil {
			return nil, xerrors.Errorf("failed to open blob store: %w", err)
		}
		r.closers = append(r.closers, store.Close)
		return blob.NewKVStore(store, c.Backoff), nil
	default:
		return blob.NewKVStore(r.Store, c.Backoff), nil
	}
}
