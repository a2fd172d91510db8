package store

import "errors"

var (
	ErrNotFound        = errors.New("entity not found")
	ErrInvalidDocument = errors.New("invalid document")
	ErrUnknownKind     = errors.New("unknown entity kind")
)
