package types

// Field describes the algebraic field a tuple type lives in. Every element
// of a tuple is stored as a value share followed by a MAC share, each
// ElementSize bytes long.
type Field struct {
	Name        string
	ElementSize int
}

// TupleType describes one kind of correlated randomness. The set of tuple
// types is closed: see SupportedTupleTypes.
type TupleType struct {
	Name              string
	PreprocessingName string
	// Arity is the number of field elements making up one tuple
	Arity int
	Field Field
}
