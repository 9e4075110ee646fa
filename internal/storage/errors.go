package storage

import "errors"

// Common storage errors
var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyResolved = errors.New("already resolved")
	ErrDuplicateProof  = errors.New("proof already recorded")
)
