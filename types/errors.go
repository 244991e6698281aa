package types

import (
	"context"
	"errors"

	"go.dedis.ch/castor/storage"
)

// Client errors: the request itself is wrong and retrying it as is will not
// help.
var (
	ErrInvalidRequest     = errors.New("invalid request")
	ErrUnknownTupleType   = errors.New("unknown tuple type")
	ErrEmptyChunk         = errors.New("chunk carries no tuples")
	ErrMalformedChunk     = errors.New("malformed chunk")
	ErrInvalidChunk       = errors.New("invalid chunk")
	ErrUnsupportedVersion = errors.New("unsupported wire version")
)

// Capacity errors.
var (
	ErrInsufficientTuples = errors.New("insufficient tuples available")
)

// Conflict errors.
var (
	ErrDuplicateReservation   = errors.New("reservation already exists")
	ErrReservationMismatch    = errors.New("reservation exists with different parameters")
	ErrConflictingReservation = errors.New("reservation conflicts with local fragments")
	ErrChunkExists            = errors.New("chunk already exists")
)

// Lookup errors.
var (
	ErrChunkNotFound       = errors.New("chunk not found")
	ErrReservationNotFound = errors.New("reservation not found")
)

// Transient errors.
var (
	ErrReservationUnavailable = errors.New("reservation not yet received from designator")
	ErrPropagationFailed      = errors.New("failed to propagate reservation to followers")
)

// Kind is the coarse classification of an error. Callers use it to tell
// "try again" apart from "the request is invalid".
type Kind string

const (
	KindUnknown   Kind = "unknown"
	KindClient    Kind = "client"
	KindCapacity  Kind = "capacity"
	KindConflict  Kind = "conflict"
	KindNotFound  Kind = "notfound"
	KindTransient Kind = "transient"
)

var kindStore = []struct {
	kind Kind
	errs []error
}{
	{KindClient, []error{ErrInvalidRequest, ErrUnknownTupleType, ErrEmptyChunk,
		ErrMalformedChunk, ErrInvalidChunk, ErrUnsupportedVersion}},
	{KindCapacity, []error{ErrInsufficientTuples}},
	{KindConflict, []error{ErrDuplicateReservation, ErrReservationMismatch,
		ErrConflictingReservation, ErrChunkExists}},
	{KindNotFound, []error{ErrChunkNotFound, ErrReservationNotFound, storage.ErrNotFound}},
	{KindTransient, []error{ErrReservationUnavailable, ErrPropagationFailed,
		storage.ErrConflict, storage.ErrRetriesExhausted,
		context.DeadlineExceeded, context.Canceled}},
}

// Classify maps an error to its Kind. It only relies on sentinel errors,
// never on message text.
func Classify(err error) Kind {
	kind, _ := lookup(err)
	return kind
}

// Sentinel returns the sentinel error err wraps, or nil when it wraps none
// of the known ones.
func Sentinel(err error) error {
	_, sentinel := lookup(err)
	return sentinel
}

// SentinelByText returns the known sentinel error whose message is text, or
// nil. It lets a remote party's reported cause be matched with errors.Is.
func SentinelByText(text string) error {
	for _, entry := range kindStore {
		for _, target := range entry.errs {
			if target.Error() == text {
				return target
			}
		}
	}
	return nil
}

func lookup(err error) (Kind, error) {
	if err == nil {
		return KindUnknown, nil
	}
	for _, entry := range kindStore {
		for _, target := range entry.errs {
			if errors.Is(err, target) {
				return entry.kind, target
			}
		}
	}
	return KindUnknown, nil
}
