package repository

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrStorageUnavailable indicates a transient storage failure: the
	// connection dropped, the server is shutting down, or the pool could not
	// be reached. Work interrupted by it is retried on the next cycle rather
	// than marked failed.
	ErrStorageUnavailable = errors.New("repository: storage unavailable")
	// ErrTxConflict indicates the transaction was aborted by the storage
	// engine (serialization failure or deadlock) and should be retried as a
	// whole without treating the attempt as a genuine failure.
	ErrTxConflict = errors.New("repository: transaction conflict")
)
