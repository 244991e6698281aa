package reservation

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"go.dedis.ch/castor/peer"
	"go.dedis.ch/castor/peer/impl/chunk"
	"go.dedis.ch/castor/peer/impl/fragment"
	"go.dedis.ch/castor/storage"
	"go.dedis.ch/castor/types"
	"golang.org/x/xerrors"
)

// ReservationModule turns reservation requests into reservations. On the
// designator it allocates fragments and propagates the outcome; on a
// follower it only records what the designator decided.
type ReservationModule struct {
	conf      *peer.Configuration
	cache     *ReservationCache
	chunks    *chunk.ChunkModule
	fragments *fragment.FragmentModule

	waiters *SafeWaiters
}

func NewReservationModule(conf *peer.Configuration, chunks *chunk.ChunkModule,
	fragments *fragment.FragmentModule) *ReservationModule {

	return &ReservationModule{
		conf:      conf,
		cache:     NewReservationCache(conf),
		chunks:    chunks,
		fragments: fragments,
		waiters:   NewSafeWaiters(),
	}
}

/** Feature Functions **/

// Reserve implements peer.TupleStore
func (m *ReservationModule) Reserve(ctx context.Context, req types.ReservationRequest) (*types.Reservation, error) {
	err := req.Validate()
	if err != nil {
		return nil, err
	}

	if m.conf.Role == peer.RoleFollower {
		return m.await(ctx, req)
	}
	return m.allocate(ctx, req)
}

// ApplyReservation implements peer.TupleStore. Applying the same
// reservation again is a no-op; a different reservation under a known ID
// fails with ErrDuplicateReservation.
func (m *ReservationModule) ApplyReservation(ctx context.Context, reservation types.Reservation) error {
	err := validateReservation(reservation)
	if err != nil {
		return err
	}

	applied := false
	err = storage.Update(ctx, m.conf.Store, m.conf.Backoff, func(txn storage.Txn) error {
		applied = false
		existing, err := m.cache.GetIn(txn, reservation.ID)
		if err == nil {
			if existing.Equal(reservation) {
				return nil
			}
			return xerrors.Errorf("%s differs from kept %s: %w", reservation, existing, types.ErrDuplicateReservation)
		}
		if !errors.Is(err, types.ErrReservationNotFound) {
			return err
		}

		for _, element := range reservation.Elements {
			meta, err := m.chunks.GetChunkIn(txn, element.ChunkID)
			if errors.Is(err, types.ErrChunkNotFound) {
				return xerrors.Errorf("chunk %s unknown locally: %w", element.ChunkID, types.ErrConflictingReservation)
			}
			if err != nil {
				return err
			}
			if meta.TupleType != reservation.TupleType {
				return xerrors.Errorf("chunk %s holds %s, not %s: %w",
					meta.ID, meta.TupleType, reservation.TupleType, types.ErrConflictingReservation)
			}
			_, err = m.fragments.ClaimRange(txn, meta, element.StartIndex, element.Length, reservation.ID)
			if err != nil {
				return err
			}
		}

		applied = true
		return m.cache.KeepIn(txn, reservation)
	})
	if err != nil {
		log.Warn().Err(err).Str("reservation", reservation.ID).Msg("failed to apply reservation")
		return err
	}

	if applied {
		log.Info().Msgf("applied %s", reservation)
		m.waiters.notify(reservation.ID)
	}
	return nil
}

// GetReservation implements peer.TupleStore
func (m *ReservationModule) GetReservation(ctx context.Context, reservationID string) (*types.Reservation, error) {
	return m.cache.Get(ctx, reservationID)
}

/** Private Helper Functions **/

// allocate looks the ID up, claims fragments and keeps the reservation in a
// single transaction, so two requests with the same ID can never both
// claim.
func (m *ReservationModule) allocate(ctx context.Context, req types.ReservationRequest) (*types.Reservation, error) {
	var reservation types.Reservation
	replayed := false

	err := storage.Update(ctx, m.conf.Store, m.conf.Backoff, func(txn storage.Txn) error {
		replayed = false
		existing, err := m.cache.GetIn(txn, req.ReservationID)
		if err == nil {
			reservation = existing
			replayed = true
			return nil
		}
		if !errors.Is(err, types.ErrReservationNotFound) {
			return err
		}

		fragments, err := m.fragments.Claim(txn, req.TupleType, req.Count, req.ReservationID)
		if err != nil {
			return err
		}
		reservation = buildReservation(req, fragments)
		return m.cache.KeepIn(txn, reservation)
	})
	if err != nil {
		log.Warn().Err(err).Str("reservation", req.ReservationID).Msg("reservation rejected")
		return nil, err
	}

	if replayed {
		if !reservation.Matches(req) {
			return nil, xerrors.Errorf("request for %d %s, kept %s: %w",
				req.Count, req.TupleType, reservation, types.ErrReservationMismatch)
		}
		log.Debug().Str("reservation", req.ReservationID).Msg("reservation replayed")
	} else {
		log.Info().Msgf("committed %s", reservation)
	}

	// replays propagate again so that a follower missed earlier catches up
	err = m.propagate(ctx, reservation)
	if err != nil {
		return nil, err
	}
	return &reservation, nil
}

func (m *ReservationModule) propagate(ctx context.Context, reservation types.Reservation) error {
	if m.conf.Propagator == nil {
		return nil
	}
	err := m.conf.Propagator.Propagate(ctx, reservation)
	if err != nil {
		log.Error().Err(err).Str("reservation", reservation.ID).Msg("propagation failed")
		return err
	}
	return nil
}

// await waits on a follower until the designator's reservation for the
// request has been applied locally.
func (m *ReservationModule) await(ctx context.Context, req types.ReservationRequest) (*types.Reservation, error) {
	wait := m.conf.FollowerWait
	attempts := wait.Retry
	if attempts == 0 {
		attempts = 1
	}

	for i := uint(0); i < attempts; i++ {
		// registered before the lookup so an apply in between is not missed
		channel := m.waiters.add(req.ReservationID)

		reservation, err := m.cache.Get(ctx, req.ReservationID)
		if errors.Is(err, types.ErrReservationNotFound) && i+1 < attempts {
			err = sleep(ctx, wait.Delay(i+1), channel)
			if err == nil {
				err = types.ErrReservationNotFound
			}
		}
		m.waiters.remove(req.ReservationID, channel)

		if errors.Is(err, types.ErrReservationNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !reservation.Matches(req) {
			return nil, xerrors.Errorf("request for %d %s, kept %s: %w",
				req.Count, req.TupleType, reservation, types.ErrReservationMismatch)
		}
		return reservation, nil
	}

	return nil, xerrors.Errorf("reservation %s after %d attempts: %w",
		req.ReservationID, attempts, types.ErrReservationUnavailable)
}

// sleep returns after delay, when the channel is closed or when ctx is done.
func sleep(ctx context.Context, delay time.Duration, channel chan struct{}) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-channel:
		return nil
	case <-timer.C:
		return nil
	}
}

// buildReservation turns claimed fragments into reservation elements.
// Adjacent ranges of the same chunk are merged, so each contributing chunk
// yields one element when its claimed ranges are contiguous.
func buildReservation(req types.ReservationRequest, fragments []types.Fragment) types.Reservation {
	elements := []types.ReservationElement{}
	for _, f := range fragments {
		last := len(elements) - 1
		if last >= 0 && elements[last].ChunkID == f.ChunkID &&
			elements[last].StartIndex+elements[last].Length == f.Start {
			elements[last].Length += f.Len()
			continue
		}
		elements = append(elements, types.ReservationElement{
			ChunkID:    f.ChunkID,
			StartIndex: f.Start,
			Length:     f.Len(),
		})
	}
	return types.Reservation{
		ID:        req.ReservationID,
		TupleType: req.TupleType,
		Elements:  elements,
	}
}

func validateReservation(reservation types.Reservation) error {
	if reservation.ID == "" {
		return xerrors.Errorf("empty reservation id: %w", types.ErrInvalidRequest)
	}
	_, err := types.TupleTypeByName(reservation.TupleType)
	if err != nil {
		return err
	}
	if len(reservation.Elements) == 0 {
		return xerrors.Errorf("reservation %s has no elements: %w", reservation.ID, types.ErrInvalidRequest)
	}
	for i, e := range reservation.Elements {
		if e.ChunkID == "" || e.StartIndex < 0 || e.Length <= 0 || e.StartIndex > math.MaxInt64-e.Length {
			return xerrors.Errorf("reservation %s element %d is %+v: %w",
				reservation.ID, i, e, types.ErrInvalidRequest)
		}
	}
	return nil
}
