// Package store defines the error kinds shared by BlobService,
// DirectoryService and PathInfoService (spec.md §7), independent of which
// backend or transport produced them.
package store

import "errors"

// Sentinel error kinds. Backends and the composer wrap these with fmt.Errorf
// ("...: %w", ErrXxx) so callers can errors.Is() against them while still
// getting a descriptive message.
var (
	// ErrNotFound is a lookup miss; retryable against other tiers.
	ErrNotFound = errors.New("not found")
	// ErrIntegrity means content did not match its claimed digest, or a
	// Directory violated its invariants. Fatal for the tier that returned
	// it; never silently swallowed by the composer.
	ErrIntegrity = errors.New("integrity error")
	// ErrInvalid is a malformed request: bad digest length, empty name,
	// ".." in a name, and so on.
	ErrInvalid = errors.New("invalid request")
	// ErrUnimplemented marks an optional operation the backend does not
	// support (List, CalculateNAR).
	ErrUnimplemented = errors.New("unimplemented")
	// ErrPermissionDenied is a policy rejection: unsigned upload, untrusted
	// signature, read-only tier rejecting a write.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrIO is a transient backend failure; retryable with backoff.
	ErrIO = errors.New("io error")
	// ErrCancelled means the caller requested cancellation.
	ErrCancelled = errors.New("cancelled")
)
