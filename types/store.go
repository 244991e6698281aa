package types

import (
	"fmt"
	"strings"

	"golang.org/x/xerrors"
)

// -----------------------------------------------------------------------------
// Fragment

// Len returns the number of tuples covered by the fragment.
func (f Fragment) Len() int64 {
	return f.End - f.Start
}

// IsConsumed tells whether the whole range has been handed out. Reserved
// ranges are terminal.
func (f Fragment) IsConsumed() bool {
	return f.ReservationID != ""
}

// IsFree tells whether the fragment is not bound to any reservation.
func (f Fragment) IsFree() bool {
	return !f.IsConsumed()
}

// Claimable tells whether the fragment can serve a new reservation.
func (f Fragment) Claimable() bool {
	return f.IsFree() && f.Status == Unlocked
}

// Contains tells whether [start, start+length) lies inside the fragment.
func (f Fragment) Contains(start, length int64) bool {
	return start >= f.Start && start+length <= f.End
}

// String implements fmt.Stringer.
func (f Fragment) String() string {
	owner := "free"
	if f.IsConsumed() {
		owner = f.ReservationID
	}
	return fmt.Sprintf("{fragment %s of %s [%d,%d) %s %s}",
		f.ID, f.ChunkID, f.Start, f.End, f.Status, owner)
}

// -----------------------------------------------------------------------------
// Reservation

// Count returns the total number of tuples in the reservation.
func (r Reservation) Count() int64 {
	var total int64
	for _, e := range r.Elements {
		total += e.Length
	}
	return total
}

// Equal tells whether both reservations describe the same allocation.
func (r Reservation) Equal(o Reservation) bool {
	if r.ID != o.ID || r.TupleType != o.TupleType || len(r.Elements) != len(o.Elements) {
		return false
	}
	for i := range r.Elements {
		if r.Elements[i] != o.Elements[i] {
			return false
		}
	}
	return true
}

// Matches tells whether the reservation answers the given request.
func (r Reservation) Matches(req ReservationRequest) bool {
	return r.ID == req.ReservationID && r.TupleType == req.TupleType && r.Count() == req.Count
}

// String implements fmt.Stringer.
func (r Reservation) String() string {
	elems := make([]string, len(r.Elements))
	for i, e := range r.Elements {
		elems[i] = fmt.Sprintf("%s[%d+%d]", e.ChunkID, e.StartIndex, e.Length)
	}
	return fmt.Sprintf("{reservation %s of %d %s: %s}",
		r.ID, r.Count(), r.TupleType, strings.Join(elems, ", "))
}

// -----------------------------------------------------------------------------
// ReservationRequest

// Validate checks the request for client errors.
func (req ReservationRequest) Validate() error {
	if req.ReservationID == "" {
		return xerrors.Errorf("empty reservation id: %w", ErrInvalidRequest)
	}
	if req.Count <= 0 {
		return xerrors.Errorf("count must be positive, got %d: %w", req.Count, ErrInvalidRequest)
	}
	_, err := TupleTypeByName(req.TupleType)
	return err
}
