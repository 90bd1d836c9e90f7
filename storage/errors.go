package storage

import "errors"

var (
	ErrNotFound  = errors.New("storage: not found")
	ErrImmutable = errors.New("storage: immutable record mismatch")
	ErrCorrupt   = errors.New("storage: stored code does not match its digest")
)

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
