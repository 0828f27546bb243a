package parser

import "errors"

var (
	// ErrInvalidInput indicates a byte that does not fit the grammar at the
	// parser's current position
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotAPositiveInt indicates a PUB size argument that is not a
	// non-negative decimal integer
	ErrNotAPositiveInt = errors.New("not a positive int")
)
