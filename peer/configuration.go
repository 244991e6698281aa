package peer

import (
	"go.dedis.ch/castor/blob"
	"go.dedis.ch/castor/storage"
)

// Role tells whether a party decides reservations or mirrors them.
type Role string

const (
	RoleDesignator Role = "designator"
	RoleFollower   Role = "follower"
)

// Configuration is the set of collaborators and tunables a node is built
// from.
type Configuration struct {
	Store storage.TxnStore
	Blobs blob.Store

	// FragmentSize is the number of tuples per fragment when a chunk is
	// materialized.
	FragmentSize int64

	Role Role
	// Propagator is used by the designator to push reservations to the
	// followers. It may be nil when there are no followers.
	Propagator Propagator

	// Backoff drives retries of conflicting transactions.
	Backoff storage.Backoff
	// FollowerWait drives how long a follower waits for a reservation to be
	// propagated by the designator.
	FollowerWait storage.Backoff
}
