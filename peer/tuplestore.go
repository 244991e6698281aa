package peer

import (
	"context"

	"go.dedis.ch/castor/types"
)

// TupleStore is the service one party exposes to uploaders, to the
// consuming protocol layer and to the other parties.
type TupleStore interface {
	// UploadChunk stores a chunk and materializes its fragments in a locked
	// state. The chunk is not discoverable by reservations until it is
	// activated.
	UploadChunk(ctx context.Context, chunk types.Chunk) error

	// ActivateChunk makes the tuples of an uploaded chunk eligible for
	// allocation. Activating twice is a no-op.
	ActivateChunk(ctx context.Context, chunkID string) error

	// Reserve returns the reservation for the request, allocating it if this
	// party is the designator and the reservation ID is new. Repeated calls
	// with the same reservation ID return the same reservation.
	Reserve(ctx context.Context, req types.ReservationRequest) (*types.Reservation, error)

	// ApplyReservation records a reservation decided by the designator and
	// marks its ranges as reserved in the local fragments.
	ApplyReservation(ctx context.Context, reservation types.Reservation) error

	// GetReservation returns a recorded reservation.
	GetReservation(ctx context.Context, reservationID string) (*types.Reservation, error)

	// GetChunk returns the metadata of an uploaded chunk.
	GetChunk(ctx context.Context, chunkID string) (types.ChunkMeta, error)

	// Fragments returns the fragments of a chunk ordered by start index.
	Fragments(ctx context.Context, chunkID string) ([]types.Fragment, error)

	// AvailableTuples returns, per tuple type name, how many tuples can
	// currently be reserved.
	AvailableTuples(ctx context.Context) (map[string]int64, error)
}

// Propagator delivers reservations decided by the designator to the
// following parties.
type Propagator interface {
	Propagate(ctx context.Context, reservation types.Reservation) error
}
