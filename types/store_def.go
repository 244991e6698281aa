package types

// ActivationStatus tells whether tuples of a chunk may be handed out.
type ActivationStatus string

const (
	Locked   ActivationStatus = "LOCKED"
	Unlocked ActivationStatus = "UNLOCKED"
)

// Chunk is an uploaded block of tuples of one type, as received from the
// uploader.
type Chunk struct {
	ID        string
	TupleType string
	Data      []byte
}

// ChunkMeta is the persisted description of an uploaded chunk.
type ChunkMeta struct {
	ID         string           `json:"chunkId"`
	TupleType  string           `json:"tupleType"`
	TupleCount int64            `json:"tupleCount"`
	Status     ActivationStatus `json:"status"`
	// Seq is the creation order of the chunk on this party. Claims consume
	// chunks in ascending Seq.
	Seq uint64 `json:"seq"`
}

// Fragment is a tracked range [Start, End) of tuple indices of a chunk.
// An empty ReservationID means the range is free.
type Fragment struct {
	ID            string           `json:"fragmentId"`
	ChunkID       string           `json:"chunkId"`
	ChunkSeq      uint64           `json:"chunkSeq"`
	TupleType     string           `json:"tupleType"`
	Start         int64            `json:"startIndex"`
	End           int64            `json:"endIndex"`
	Status        ActivationStatus `json:"status"`
	ReservationID string           `json:"reservationId,omitempty"`
}

// ReservationElement is one contiguous slice of a chunk contributed to a
// reservation.
type ReservationElement struct {
	ChunkID    string `json:"chunkId"`
	StartIndex int64  `json:"startIndex"`
	Length     int64  `json:"length"`
}

// Reservation records which index ranges were allocated to one consumption
// request. It never changes once built.
type Reservation struct {
	ID        string               `json:"reservationId"`
	TupleType string               `json:"tupleType"`
	Elements  []ReservationElement `json:"reservations"`
}

// ReservationRequest asks for Count tuples of TupleType under the given
// reservation ID.
type ReservationRequest struct {
	ReservationID string `json:"reservationId"`
	TupleType     string `json:"tupleType"`
	Count         int64  `json:"count"`
}

// ChunkView describes a chunk and its current fragments.
type ChunkView struct {
	Chunk     ChunkMeta  `json:"chunk"`
	Fragments []Fragment `json:"fragments"`
}

// ErrorResponse is the body of a failed request. Cause is the message of
// the sentinel error behind the failure, when there is one.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  Kind   `json:"kind"`
	Cause string `json:"cause,omitempty"`
}

// UploadResponse acknowledges a chunk upload.
type UploadResponse struct {
	ChunkID string `json:"chunkId"`
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
	Kind    Kind   `json:"kind,omitempty"`
	Cause   string `json:"cause,omitempty"`
}
