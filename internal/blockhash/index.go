package blockhash

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/blockdiff/bidiff/internal/bidifferr"
)

// Options configures Build.
type Options struct {
	// BlockSize is B: the index samples O every B bytes. Must be >= 4.
	BlockSize int
	// Backend selects anonymous memory or a file-backed mmap.
	Backend Backend
	// TempDir is where the file-backed backend creates its temp file.
	// Empty means the OS default temp dir.
	TempDir string
	// Seed perturbs the hash for this build. Implementations should
	// pick a fresh seed per process run; tests fix it for determinism.
	Seed uint64
	// Threads bounds build parallelism. <= 0 means runtime.NumCPU().
	Threads int
}

// Index is an immutable, read-only-after-build block-hash index over an
// older buffer. It does not retain the older buffer itself; callers
// verify candidates against their own copy.
type Index struct {
	s         slab
	mask      uint32
	blockSize int
	seed      uint64
}

// Build constructs a block-hash index over older by sampling it every
// BlockSize bytes and inserting each sample into a power-of-two bucket
// array via compare-and-swap, in parallel across Options.Threads
// workers.
func Build(ctx context.Context, older []byte, opts Options) (*Index, error) {
	if opts.BlockSize < 4 {
		return nil, fmt.Errorf("%w: block size %d is below the minimum of 4", bidifferr.ErrConfigInvalid, opts.BlockSize)
	}
	if len(older) < opts.BlockSize {
		return nil, fmt.Errorf("%w: older buffer (%d bytes) is shorter than block size %d", bidifferr.ErrConfigInvalid, len(older), opts.BlockSize)
	}

	numSamples := len(older) / opts.BlockSize
	numBuckets := nextPow2(maxInt(16, numSamples*2))

	s, err := newSlab(opts.Backend, opts.TempDir, numBuckets)
	if err != nil {
		return nil, err
	}

	ix := &Index{
		s:         s,
		mask:      uint32(numBuckets - 1),
		blockSize: opts.BlockSize,
		seed:      opts.Seed,
	}

	threads := opts.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	if threads > numSamples {
		threads = numSamples
	}
	if threads < 1 {
		threads = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(threads)

	samplesPerWorker := (numSamples + threads - 1) / threads
	for w := 0; w < threads; w++ {
		startSample := w * samplesPerWorker
		endSample := startSample + samplesPerWorker
		if endSample > numSamples {
			endSample = numSamples
		}
		if startSample >= endSample {
			continue
		}
		g.Go(func() error {
			for sample := startSample; sample < endSample; sample++ {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}
				p := sample * ix.blockSize
				window := older[p : p+ix.blockSize]
				h := blockHash(ix.seed, window)
				if err := ix.insert(uint32(p), h); err != nil {
					return err
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		_ = s.close()
		return nil, err
	}

	slog.Debug("block-hash index built", "samples", numSamples, "buckets", numBuckets, "blockSize", opts.BlockSize)
	return ix, nil
}

func newSlab(backend Backend, tempDir string, numBuckets int) (slab, error) {
	switch backend {
	case BackendAnonymous:
		return newAnonSlab(numBuckets), nil
	case BackendFile:
		s, err := newFileSlab(tempDir, numBuckets)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", bidifferr.ErrIO, err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: unknown index backend %d", bidifferr.ErrConfigInvalid, backend)
	}
}

// insert places offset p into the bucket keyed by h, probing linearly on
// collision. A full cycle over every bucket without finding an empty
// slot means the index is over-full.
func (ix *Index) insert(p uint32, h uint64) error {
	mask := ix.mask
	start := uint32(h) & mask
	n := uint32(ix.s.len())
	for i := uint32(0); i < n; i++ {
		slot := (start + i) & mask
		if ix.s.cas(slot, Empty, p) {
			return nil
		}
	}
	return fmt.Errorf("%w: no free bucket after a full probe cycle (%d buckets)", bidifferr.ErrIndexOverfull, n)
}

// Probe returns candidate offsets into the older buffer for a
// BlockSize-byte window, in probe order, stopping at the first empty
// bucket. The caller must byte-verify each candidate; the index only
// guarantees the hashed window matched, not the bytes.
func (ix *Index) Probe(window []byte) []uint32 {
	h := blockHash(ix.seed, window)
	mask := ix.mask
	start := uint32(h) & mask
	n := uint32(ix.s.len())
	var out []uint32
	for i := uint32(0); i < n; i++ {
		slot := (start + i) & mask
		v := ix.s.load(slot)
		if v == Empty {
			break
		}
		out = append(out, v)
	}
	return out
}

// BlockSize returns the block size the index was built with.
func (ix *Index) BlockSize() int { return ix.blockSize }

// Close releases the index's backing storage. For a file-backed index
// this unmaps and closes the already-unlinked temp file.
func (ix *Index) Close() error {
	return ix.s.close()
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
