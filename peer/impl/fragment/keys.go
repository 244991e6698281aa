package fragment

import (
	"fmt"

	"go.dedis.ch/castor/types"
)

// Fragment rows are keyed by tuple type, chunk creation order and start
// index, so a prefix scan over a chunk walks its fragments in index order.
//
// Claimable fragments are also listed under the free index with the same
// suffix. Claims and availability only scan the free index, so reserved
// rows are never read again once they are written.

func chunkPrefix(chunk types.ChunkMeta) string {
	return fmt.Sprintf("fragment/%s/%016x/", chunk.TupleType, chunk.Seq)
}

func fragmentKey(f types.Fragment) string {
	return fmt.Sprintf("fragment/%s/%016x/%016x", f.TupleType, f.ChunkSeq, f.Start)
}

func freePrefix(tupleType string) string {
	return fmt.Sprintf("free/%s/", tupleType)
}

func freeKey(f types.Fragment) string {
	return fmt.Sprintf("free/%s/%016x/%016x", f.TupleType, f.ChunkSeq, f.Start)
}
