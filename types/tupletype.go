package types

import (
	"fmt"

	"golang.org/x/xerrors"
)

// sharesPerElement counts the value share and the MAC share of an element.
const sharesPerElement = 2

var (
	FieldGFP  = Field{Name: "GFP", ElementSize: 16}
	FieldGF2N = Field{Name: "GF2N", ElementSize: 16}
)

var (
	BitGfp                   = TupleType{"BIT_GFP", "Bits", 1, FieldGFP}
	BitGf2n                  = TupleType{"BIT_GF2N", "Bits", 1, FieldGF2N}
	InputMaskGfp             = TupleType{"INPUT_MASK_GFP", "Inputs", 1, FieldGFP}
	InputMaskGf2n            = TupleType{"INPUT_MASK_GF2N", "Inputs", 1, FieldGF2N}
	InverseTupleGfp          = TupleType{"INVERSE_TUPLE_GFP", "Inverses", 2, FieldGFP}
	InverseTupleGf2n         = TupleType{"INVERSE_TUPLE_GF2N", "Inverses", 2, FieldGF2N}
	SquareTupleGfp           = TupleType{"SQUARE_TUPLE_GFP", "Squares", 2, FieldGFP}
	SquareTupleGf2n          = TupleType{"SQUARE_TUPLE_GF2N", "Squares", 2, FieldGF2N}
	MultiplicationTripleGfp  = TupleType{"MULTIPLICATION_TRIPLE_GFP", "Triples", 3, FieldGFP}
	MultiplicationTripleGf2n = TupleType{"MULTIPLICATION_TRIPLE_GF2N", "Triples", 3, FieldGF2N}
)

// SupportedTupleTypes lists every tuple type the store accepts.
var SupportedTupleTypes = []TupleType{
	BitGfp,
	BitGf2n,
	InputMaskGfp,
	InputMaskGf2n,
	InverseTupleGfp,
	InverseTupleGf2n,
	SquareTupleGfp,
	SquareTupleGf2n,
	MultiplicationTripleGfp,
	MultiplicationTripleGf2n,
}

var tupleTypeStore = func() map[string]TupleType {
	store := make(map[string]TupleType, len(SupportedTupleTypes))
	for _, tt := range SupportedTupleTypes {
		store[tt.Name] = tt
	}
	return store
}()

// TupleTypeByName resolves a tuple type from its name.
func TupleTypeByName(name string) (TupleType, error) {
	tt, ok := tupleTypeStore[name]
	if !ok {
		return TupleType{}, xerrors.Errorf("tuple type %q: %w", name, ErrUnknownTupleType)
	}
	return tt, nil
}

// RecordWidth returns the byte width of a single tuple of this type.
func (tt TupleType) RecordWidth() int {
	return tt.Arity * sharesPerElement * tt.Field.ElementSize
}

// TupleCount returns how many whole tuples a payload of the given byte
// length holds, and whether the length is an exact multiple of the width.
func (tt TupleType) TupleCount(byteLen int) (int64, bool) {
	width := tt.RecordWidth()
	return int64(byteLen / width), byteLen%width == 0
}

// String implements fmt.Stringer.
func (tt TupleType) String() string {
	return fmt.Sprintf("%s(%s, arity=%d)", tt.Name, tt.Field.Name, tt.Arity)
}
