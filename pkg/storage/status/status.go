// Package status declares error constants returned by storage
// backends and by the components orchestrating them.
//
// NOTE: such constants are located in a separate package to avoid
// creating undue cyclical dependencies between pkg/storage and its
// implementations.
package status

import "github.com/meridianvfx/avf/pkg/errors"

var (
	// Sentinel errors returned by implementations of the Backend interface

	// ErrNotFound indicates that the storage id (or its metadata) is unknown to the backend
	ErrNotFound = errors.New("not found")

	// ErrUnsupportedReference indicates a reference type this backend does not accept
	ErrUnsupportedReference = errors.New("unsupported reference type")

	// ErrBackendFailure indicates an error raised by the wrapped storage technology
	ErrBackendFailure = errors.New("backend failure")

	// ErrRepositoryFailure indicates an error from the version repository index
	ErrRepositoryFailure = errors.New("repository failure")

	// ErrConfiguration indicates a caller-side wiring problem, such as an
	// unknown backend name or a repository operation without a repository
	ErrConfiguration = errors.New("configuration error")
)
