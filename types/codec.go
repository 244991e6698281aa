package types

import (
	"github.com/fxamacker/cbor/v2"
	"golang.org/x/xerrors"
)

// WireVersion is the version of the reservation and chunk wire envelopes
// produced by this package.
const WireVersion uint8 = 1

type reservationEnvelope struct {
	_           struct{} `cbor:",toarray"`
	Version     uint8
	Reservation Reservation
}

type chunkEnvelope struct {
	_       struct{} `cbor:",toarray"`
	Version uint8
	Chunk   Chunk
}

var wireEncMode = func() cbor.EncMode {
	mode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return mode
}()

// MarshalReservation encodes a reservation for propagation between parties.
func MarshalReservation(r Reservation) ([]byte, error) {
	return wireEncMode.Marshal(reservationEnvelope{Version: WireVersion, Reservation: r})
}

// UnmarshalReservation decodes a reservation produced by MarshalReservation.
func UnmarshalReservation(data []byte) (Reservation, error) {
	var env reservationEnvelope
	err := cbor.Unmarshal(data, &env)
	if err != nil {
		return Reservation{}, xerrors.Errorf("decode reservation: %v: %w", err, ErrInvalidRequest)
	}
	if env.Version != WireVersion {
		return Reservation{}, xerrors.Errorf("reservation version %d: %w", env.Version, ErrUnsupportedVersion)
	}
	return env.Reservation, nil
}

// MarshalChunk encodes a chunk for transfer.
func MarshalChunk(c Chunk) ([]byte, error) {
	return wireEncMode.Marshal(chunkEnvelope{Version: WireVersion, Chunk: c})
}

// UnmarshalChunk decodes a chunk produced by MarshalChunk.
func UnmarshalChunk(data []byte) (Chunk, error) {
	var env chunkEnvelope
	err := cbor.Unmarshal(data, &env)
	if err != nil {
		return Chunk{}, xerrors.Errorf("decode chunk: %v: %w", err, ErrInvalidRequest)
	}
	if env.Version != WireVersion {
		return Chunk{}, xerrors.Errorf("chunk version %d: %w", env.Version, ErrUnsupportedVersion)
	}
	return env.Chunk, nil
}
