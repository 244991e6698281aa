package reservation

import (
	"context"
	"errors"

	"go.dedis.ch/castor/peer"
	"go.dedis.ch/castor/storage"
	"go.dedis.ch/castor/types"
	"golang.org/x/xerrors"
)

const reservationPrefix = "reservation/"

// ReservationCache maps reservation IDs to the reservations handed out for
// them. An entry is written once and never changes.
type ReservationCache struct {
	conf *peer.Configuration
}

// NewReservationCache returns a cache persisted in the node store.
func NewReservationCache(conf *peer.Configuration) *ReservationCache {
	return &ReservationCache{conf: conf}
}

// Keep stores the reservation. It fails with ErrDuplicateReservation if the
// ID is already known.
func (c *ReservationCache) Keep(ctx context.Context, reservation types.Reservation) error {
	return storage.Update(ctx, c.conf.Store, c.conf.Backoff, func(txn storage.Txn) error {
		return c.KeepIn(txn, reservation)
	})
}

// Get returns the reservation kept under the ID.
func (c *ReservationCache) Get(ctx context.Context, reservationID string) (*types.Reservation, error) {
	var reservation types.Reservation
	err := storage.View(ctx, c.conf.Store, func(txn storage.Txn) error {
		var err error
		reservation, err = c.GetIn(txn, reservationID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &reservation, nil
}

// KeepIn is Keep within a running transaction.
func (c *ReservationCache) KeepIn(txn storage.Txn, reservation types.Reservation) error {
	if reservation.ID == "" {
		return xerrors.Errorf("empty reservation id: %w", types.ErrInvalidRequest)
	}
	key := reservationPrefix + reservation.ID
	_, err := txn.Get(key)
	if err == nil {
		return xerrors.Errorf("reservation %s: %w", reservation.ID, types.ErrDuplicateReservation)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return storage.PutValue(txn, key, reservation)
}

// GetIn is Get within a running transaction.
func (c *ReservationCache) GetIn(txn storage.Txn, reservationID string) (types.Reservation, error) {
	var reservation types.Reservation
	err := storage.GetValue(txn, reservationPrefix+reservationID, &reservation)
	if errors.Is(err, storage.ErrNotFound) {
		return reservation, xerrors.Errorf("reservation %s: %w", reservationID, types.ErrReservationNotFound)
	}
	return reservation, err
}
