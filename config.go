package main

import (
	"fmt"

	"github.com/blockdiff/bidiff/internal/bidifferr"
	"github.com/blockdiff/bidiff/internal/blockhash"
)

// ConfigVersion is bumped whenever the on-disk JSON/YAML options shape
// changes incompatibly. Not currently read from files; kept for parity
// with the command-line-driven Options below, which is assembled
// directly from CLI flags rather than a config file.
const ConfigVersion = 1

// Options holds every tunable for a diff or patch run. A single struct
// backs all three commands (diff, patch, cycle) since they share most
// of the same knobs; each command's Action only reads the fields it
// needs.
type Options struct {
	// BlockSize is the block-hash sample granularity in bytes (B in
	// the design notes). Smaller values find more matches at the cost
	// of a larger index and slower scanning.
	BlockSize int
	// IndexBackend selects where the block-hash bucket array lives.
	IndexBackend blockhash.Backend
	// IndexTempDir is where a file-backed index places its temp file.
	// Empty means the OS default temp directory.
	IndexTempDir string
	// ScanChunkBytes is the size of each independently scanned range of
	// the newer file.
	ScanChunkBytes int
	// PatchChunkBytes is the target amount of newer-file output per
	// compressed container chunk.
	PatchChunkBytes int
	// Threads bounds parallelism for index build, scan, and apply.
	// <= 0 means runtime.NumCPU().
	Threads int
	// Seed perturbs the block hash. 0 means "pick one at diff time and
	// don't record it" is not an option here: the seed must be
	// deterministic across a run since the index and the scanner must
	// agree on it.
	Seed uint64
}

// DefaultOptions returns the options a bare invocation with no flags
// would use.
func DefaultOptions() Options {
	return Options{
		BlockSize:       32,
		IndexBackend:    blockhash.BackendAnonymous,
		ScanChunkBytes:  1 << 20,
		PatchChunkBytes: 4 << 20,
		Threads:         0,
		Seed:            0x5eed,
	}
}

// Validate checks the options for internally inconsistent values before
// any work starts, so a bad flag combination fails fast with a single
// clear error rather than surfacing as a confusing failure deep inside
// the index or scanner.
func (o Options) Validate() error {
	if o.BlockSize < 4 {
		return fmt.Errorf("%w: block size %d is below the minimum of 4", bidifferr.ErrConfigInvalid, o.BlockSize)
	}
	if o.ScanChunkBytes < o.BlockSize {
		return fmt.Errorf("%w: scan chunk size %d must be at least the block size %d", bidifferr.ErrConfigInvalid, o.ScanChunkBytes, o.BlockSize)
	}
	if o.PatchChunkBytes <= 0 {
		return fmt.Errorf("%w: patch chunk size must be positive, got %d", bidifferr.ErrConfigInvalid, o.PatchChunkBytes)
	}
	if o.Threads < 0 {
		return fmt.Errorf("%w: threads must be >= 0, got %d", bidifferr.ErrConfigInvalid, o.Threads)
	}
	switch o.IndexBackend {
	case blockhash.BackendAnonymous, blockhash.BackendFile:
	default:
		return fmt.Errorf("%w: unknown index backend %d", bidifferr.ErrConfigInvalid, o.IndexBackend)
	}
	return nil
}
