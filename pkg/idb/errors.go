package idb

import "errors"

// Sentinel errors. Engine failures wrap one of these with %w.
var (
	ErrNotFound       = errors.New("object store not found")
	ErrConstraint     = errors.New("object store already exists")
	ErrVersion        = errors.New("requested version is lower than the existing version")
	ErrReadOnly       = errors.New("write in a read-only transaction")
	ErrInvalidState   = errors.New("operation not allowed in the current state")
	ErrInvalidAccess  = errors.New("invalid transaction access")
	ErrDataClone      = errors.New("value could not be cloned")
	ErrInvalidName    = errors.New("invalid name")
	ErrInvalidVersion = errors.New("version must be at least 1")
)
