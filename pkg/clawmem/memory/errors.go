package memory

import (
	"errors"
	"fmt"
)

var (
	// ErrBatchUnsupported is returned by providers that can only embed one
	// text per request. The indexer falls back to EmbedQuery per chunk.
	ErrBatchUnsupported = errors.New("batch embedding not supported")

	// ErrSessionNotFound is returned by LoadSession for unknown ids.
	ErrSessionNotFound = errors.New("session not found")

	// ErrPathOutsideScope is returned when a path is not a memory file.
	ErrPathOutsideScope = errors.New("path outside memory scope")
)

// StorageError wraps failures of the persistent chunk store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("memory store: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ProviderError wraps failures of an embedding provider.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("embedding provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ParseError reports malformed persisted data (cached vectors, dated paths).
type ParseError struct {
	What string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.What, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

func providerErr(provider string, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &ProviderError{Provider: provider, Err: err}
}
