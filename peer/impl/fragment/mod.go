package fragment

import (
	"github.com/rs/xid"
	"github.com/rs/zerolog/log"
	"go.dedis.ch/castor/storage"
	"go.dedis.ch/castor/types"
	"golang.org/x/xerrors"
)

// MaxFragmentsPerChunk bounds how many fragments one chunk is cut into, so
// materializing or activating a chunk stays within a single transaction of
// the row store.
const MaxFragmentsPerChunk = 4096

// FragmentModule keeps the ledger of index ranges of every chunk. All its
// operations run inside a caller provided transaction so they can be
// combined atomically with chunk metadata and reservation rows.
//
// For a fixed chunk the fragments are pairwise disjoint and together cover
// [0, TupleCount). A reserved fragment is never split or rewritten again.
type FragmentModule struct{}

// NewFragmentModule returns a fragment ledger.
func NewFragmentModule() *FragmentModule {
	return &FragmentModule{}
}

/** Feature Functions **/

// Materialize partitions [0, chunk.TupleCount) into consecutive locked,
// unreserved fragments of fragmentSize tuples; the last one may be shorter.
func (m *FragmentModule) Materialize(txn storage.Txn, chunk types.ChunkMeta,
	fragmentSize int64) ([]types.Fragment, error) {

	if chunk.TupleCount <= 0 {
		return nil, xerrors.Errorf("chunk %s has %d tuples: %w", chunk.ID, chunk.TupleCount, types.ErrInvalidChunk)
	}
	err := CheckFragmentCount(chunk.TupleCount, fragmentSize)
	if err != nil {
		return nil, err
	}

	existing, err := m.Fragments(txn, chunk)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, xerrors.Errorf("chunk %s already fragmented: %w", chunk.ID, types.ErrChunkExists)
	}

	fragments := []types.Fragment{}
	for start := int64(0); start < chunk.TupleCount; start += fragmentSize {
		end := start + fragmentSize
		if end > chunk.TupleCount {
			end = chunk.TupleCount
		}
		f := types.Fragment{
			ID:        xid.New().String(),
			ChunkID:   chunk.ID,
			ChunkSeq:  chunk.Seq,
			TupleType: chunk.TupleType,
			Start:     start,
			End:       end,
			Status:    types.Locked,
		}
		err = m.put(txn, f)
		if err != nil {
			return nil, err
		}
		fragments = append(fragments, f)
	}

	log.Debug().Str("chunk", chunk.ID).Int("fragments", len(fragments)).Msg("chunk fragmented")
	return fragments, nil
}

// Activate unlocks every fragment of the chunk and returns how many changed.
// Unlocking an already unlocked chunk changes nothing.
func (m *FragmentModule) Activate(txn storage.Txn, chunk types.ChunkMeta) (int, error) {
	fragments, err := m.Fragments(txn, chunk)
	if err != nil {
		return 0, err
	}

	changed := 0
	for _, f := range fragments {
		if f.Status == types.Unlocked {
			continue
		}
		f.Status = types.Unlocked
		err = m.put(txn, f)
		if err != nil {
			return changed, err
		}
		changed++
	}
	return changed, nil
}

// Claim reserves count tuples of the given type for reservationID. Free,
// unlocked fragments are consumed greedily in (chunk creation, start index)
// order; the last one is split when it holds more than needed. It returns
// the reserved fragments in consumption order. When fewer than count tuples
// are free it fails with ErrInsufficientTuples and writes nothing.
func (m *FragmentModule) Claim(txn storage.Txn, tupleType string, count int64,
	reservationID string) ([]types.Fragment, error) {

	if count <= 0 {
		return nil, xerrors.Errorf("claim of %d tuples: %w", count, types.ErrInvalidRequest)
	}

	// only free entries up to the last needed fragment are read, so disjoint
	// claims do not observe each other
	candidates := []types.Fragment{}
	var found int64
	err := txn.Iterate(freePrefix(tupleType), func(key string, value []byte) (bool, error) {
		var f types.Fragment
		err := storage.DecodeValue(key, value, &f)
		if err != nil {
			return false, err
		}
		if !f.Claimable() {
			return true, nil
		}
		candidates = append(candidates, f)
		found += f.Len()
		return found < count, nil
	})
	if err != nil {
		return nil, err
	}
	if found < count {
		return nil, xerrors.Errorf("requested %d %s, %d available: %w",
			count, tupleType, found, types.ErrInsufficientTuples)
	}

	reserved := make([]types.Fragment, 0, len(candidates))
	remaining := count
	for _, f := range candidates {
		take := f.Len()
		if take > remaining {
			take = remaining
		}
		r, err := m.carve(txn, f, f.Start, take, reservationID)
		if err != nil {
			return nil, err
		}
		reserved = append(reserved, r)
		remaining -= take
	}

	log.Debug().Str("reservation", reservationID).Str("type", tupleType).
		Int64("count", count).Int("fragments", len(reserved)).Msg("tuples claimed")
	return reserved, nil
}

// ClaimRange reserves exactly [start, start+length) of the chunk for
// reservationID. The range must be covered by a run of free, unlocked
// fragments; the first and last of them are split so that only the range
// itself becomes reserved. Anything else fails with
// ErrConflictingReservation.
func (m *FragmentModule) ClaimRange(txn storage.Txn, chunk types.ChunkMeta, start, length int64,
	reservationID string) ([]types.Fragment, error) {

	if length <= 0 || start < 0 || start > chunk.TupleCount-length {
		return nil, xerrors.Errorf("range of %d tuples at %d outside chunk %s of %d tuples: %w",
			length, start, chunk.ID, chunk.TupleCount, types.ErrConflictingReservation)
	}
	end := start + length

	covering := []types.Fragment{}
	err := txn.Iterate(chunkPrefix(chunk), func(key string, value []byte) (bool, error) {
		var f types.Fragment
		err := storage.DecodeValue(key, value, &f)
		if err != nil {
			return false, err
		}
		if f.Start >= end {
			return false, nil
		}
		if f.End > start {
			covering = append(covering, f)
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	next := start
	for _, f := range covering {
		if f.Start > next || !f.Claimable() {
			return nil, xerrors.Errorf("range [%d,%d) of chunk %s not free at %s: %w",
				start, end, chunk.ID, f, types.ErrConflictingReservation)
		}
		next = f.End
	}
	if next < end {
		return nil, xerrors.Errorf("range [%d,%d) of chunk %s not covered: %w",
			start, end, chunk.ID, types.ErrConflictingReservation)
	}

	reserved := make([]types.Fragment, 0, len(covering))
	for _, f := range covering {
		from, to := f.Start, f.End
		if from < start {
			from = start
		}
		if to > end {
			to = end
		}
		r, err := m.carve(txn, f, from, to-from, reservationID)
		if err != nil {
			return nil, err
		}
		reserved = append(reserved, r)
	}
	return reserved, nil
}

// Fragments returns the fragments of the chunk ordered by start index.
func (m *FragmentModule) Fragments(txn storage.Txn, chunk types.ChunkMeta) ([]types.Fragment, error) {
	fragments := []types.Fragment{}
	err := txn.Iterate(chunkPrefix(chunk), func(key string, value []byte) (bool, error) {
		var f types.Fragment
		err := storage.DecodeValue(key, value, &f)
		if err != nil {
			return false, err
		}
		fragments = append(fragments, f)
		return true, nil
	})
	return fragments, err
}

// Available returns how many tuples of the type can currently be claimed.
func (m *FragmentModule) Available(txn storage.Txn, tupleType string) (int64, error) {
	var total int64
	err := txn.Iterate(freePrefix(tupleType), func(key string, value []byte) (bool, error) {
		var f types.Fragment
		err := storage.DecodeValue(key, value, &f)
		if err != nil {
			return false, err
		}
		if f.Claimable() {
			total += f.Len()
		}
		return true, nil
	})
	return total, err
}

/** Private Helper Functions **/

// carve marks [start, start+length) of the free fragment f as reserved and
// keeps whatever is left on either side as free fragments with the same
// activation status. The piece starting at f.Start keeps f's row and ID.
func (m *FragmentModule) carve(txn storage.Txn, f types.Fragment, start, length int64,
	reservationID string) (types.Fragment, error) {

	if !f.IsFree() || !f.Contains(start, length) {
		return types.Fragment{}, xerrors.Errorf("cannot carve [%d,%d) from %s: %w",
			start, start+length, f, types.ErrConflictingReservation)
	}

	end := start + length
	pieces := []types.Fragment{}

	reserved := f
	reserved.Start = start
	reserved.End = end
	reserved.ReservationID = reservationID

	if start > f.Start {
		prefix := f
		prefix.End = start
		pieces = append(pieces, prefix)
		reserved.ID = xid.New().String()
	} else {
		err := txn.Delete(freeKey(f))
		if err != nil {
			return types.Fragment{}, err
		}
	}
	pieces = append(pieces, reserved)
	if end < f.End {
		suffix := f
		suffix.ID = xid.New().String()
		suffix.Start = end
		pieces = append(pieces, suffix)
	}

	for _, piece := range pieces {
		err := m.put(txn, piece)
		if err != nil {
			return types.Fragment{}, err
		}
	}
	return reserved, nil
}

// put writes the fragment row and lists it in the free index when it can be
// claimed. Rows leaving the free index are removed from it by carve.
func (m *FragmentModule) put(txn storage.Txn, f types.Fragment) error {
	err := storage.PutValue(txn, fragmentKey(f), f)
	if err != nil || !f.Claimable() {
		return err
	}
	return storage.PutValue(txn, freeKey(f), f)
}

// CheckFragmentCount fails with ErrInvalidChunk when a chunk of count tuples
// would be cut into more than MaxFragmentsPerChunk fragments.
func CheckFragmentCount(count, fragmentSize int64) error {
	if fragmentSize <= 0 {
		return xerrors.Errorf("fragment size %d: %w", fragmentSize, types.ErrInvalidChunk)
	}
	fragments := count / fragmentSize
	if count%fragmentSize != 0 {
		fragments++
	}
	if fragments > MaxFragmentsPerChunk {
		return xerrors.Errorf("%d tuples in fragments of %d make %d fragments, at most %d allowed: %w",
			count, fragmentSize, fragments, MaxFragmentsPerChunk, types.ErrInvalidChunk)
	}
	return nil
}
