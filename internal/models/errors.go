package models

import "errors"

var (
	// ErrInput signals a request the caller has to fix (wrong content type, blank question).
	ErrInput = errors.New("invalid input")
	// ErrIndexNotFound signals that no persisted index exists at the configured path.
	ErrIndexNotFound = errors.New("index not found")
	// ErrIndexLoad signals a persisted index that is corrupt or was not written by this service.
	ErrIndexLoad = errors.New("index load failed")
	// ErrDimensionMismatch signals an embedding whose size differs from the index.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrEmbedding signals an embedding provider failure.
	ErrEmbedding = errors.New("embedding provider error")
	// ErrGeneration signals a generation provider failure.
	ErrGeneration = errors.New("generation provider error")
	// ErrPersistence signals that the index could not be written.
	ErrPersistence = errors.New("index persistence failed")
)
