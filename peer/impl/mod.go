package impl

import (
	"context"

	"github.com/rs/zerolog/log"
	"go.dedis.ch/castor/peer"
	"go.dedis.ch/castor/peer/impl/chunk"
	"go.dedis.ch/castor/peer/impl/fragment"
	"go.dedis.ch/castor/peer/impl/reservation"
	"go.dedis.ch/castor/storage"
	"go.dedis.ch/castor/types"
)

// DefaultFragmentSize is used when the configuration leaves it unset.
const DefaultFragmentSize = 1000

// NewPeer creates a tuple store node from its configuration.
func NewPeer(conf peer.Configuration) peer.TupleStore {
	if conf.FragmentSize <= 0 {
		conf.FragmentSize = DefaultFragmentSize
	}
	if conf.Backoff.Retry == 0 {
		conf.Backoff = storage.DefaultBackoff
	}
	if conf.Role == "" {
		conf.Role = peer.RoleDesignator
	}

	n := node{conf: conf}
	n.fragments = fragment.NewFragmentModule()
	n.ChunkModule = chunk.NewChunkModule(&n.conf, n.fragments)
	n.ReservationModule = reservation.NewReservationModule(&n.conf, n.ChunkModule, n.fragments)

	log.Info().Msgf("tuple store ready as %s, fragment size %d", n.conf.Role, n.conf.FragmentSize)
	return &n
}

// node composes the modules of one party.
//
// - implements peer.TupleStore
type node struct {
	conf peer.Configuration

	fragments *fragment.FragmentModule
	*chunk.ChunkModule
	*reservation.ReservationModule
}

// AvailableTuples implements peer.TupleStore
func (n *node) AvailableTuples(ctx context.Context) (map[string]int64, error) {
	available := make(map[string]int64, len(types.SupportedTupleTypes))
	err := storage.View(ctx, n.conf.Store, func(txn storage.Txn) error {
		for _, tt := range types.SupportedTupleTypes {
			count, err := n.fragments.Available(txn, tt.Name)
			if err != nil {
				return err
			}
			available[tt.Name] = count
		}
		return nil
	})
	return available, err
}
