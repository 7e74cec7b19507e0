// Package bidifferr holds the fatal-error taxonomy shared by the index,
// scanner, and patch codec, so callers can tell operational failure
// classes apart with errors.Is regardless of which layer produced them.
package bidifferr

import "errors"

var (
	// ErrConfigInvalid covers bad options: block size below 4, a
	// non-positive chunk size, or a negative thread count.
	ErrConfigInvalid = errors.New("bidiff: invalid configuration")

	// ErrIndexOverfull means a linear probe exhausted every bucket
	// during insertion. Indicates a catastrophic hash distribution or
	// an under-sized bucket array; not expected in normal operation.
	ErrIndexOverfull = errors.New("bidiff: block-hash index is overfull")

	// ErrPatchCorrupt covers bad magic, wrong version, size mismatch,
	// decompression failure, varint overflow, or a bound violation
	// while applying a chunk.
	ErrPatchCorrupt = errors.New("bidiff: patch is corrupt")

	// ErrSizeMismatch means the older file's length at apply time does
	// not match OLD_SIZE recorded in the patch header.
	ErrSizeMismatch = errors.New("bidiff: older file size does not match patch header")

	// ErrCanceled means the operation was stopped by cooperative
	// cancellation rather than failing on its own.
	ErrCanceled = errors.New("bidiff: canceled")

	// ErrIO wraps any read/write/seek/mmap failure. Use fmt.Errorf("%w:
	// ...", ErrIO, cause) so errors.Is(err, ErrIO) still matches once
	// the underlying system error is attached.
	ErrIO = errors.New("bidiff: I/O error")
)
