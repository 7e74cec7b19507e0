package patchfmt

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/blockdiff/bidiff/internal/bidifferr"
)

// WriterAt is the subset of *os.File Apply needs to place chunk output
// at arbitrary offsets, so chunks can be applied out of order or in
// parallel.
type WriterAt interface {
	WriteAt(p []byte, off int64) (int, error)
}

// ApplyOptions configures Apply.
type ApplyOptions struct {
	// Threads bounds how many chunks are decoded and applied at once.
	// <= 0 means sequential application.
	Threads int
}

// Apply reconstructs the newer file by reading header h from a patch
// container (already parsed by ReadHeader), reading chunk payloads from
// r in order, and writing reconstructed bytes to out. older must be the
// full older-file contents in memory; chunk OldStart values index
// into it directly, so chunks can be applied independently of each
// other's order.
func Apply(ctx context.Context, r *bufio.Reader, h Header, older []byte, out WriterAt, opts ApplyOptions) error {
	if uint64(len(older)) != h.OldSize {
		return fmt.Errorf("%w: older file is %d bytes, patch expects %d", bidifferr.ErrSizeMismatch, len(older), h.OldSize)
	}

	threads := opts.Threads
	if threads <= 0 {
		threads = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(threads)

	err := ReadChunkPayloads(r, h.Chunks, func(idx int, meta ChunkMeta, compressed []byte) error {
		// Copy compressed bytes out before handing off to a goroutine:
		// the caller's buffer is reused by the next ReadChunkPayloads
		// iteration as soon as this callback returns.
		owned := append([]byte(nil), compressed...)
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			buf, err := applyChunk(older, meta, owned)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", idx, err)
			}
			if _, err := out.WriteAt(buf, int64(meta.NewStart)); err != nil {
				return fmt.Errorf("%w: write chunk %d output: %v", bidifferr.ErrIO, idx, err)
			}
			return nil
		})
		return nil
	})
	if err != nil {
		_ = g.Wait()
		return err
	}
	return g.Wait()
}

// applyChunk decompresses one chunk and replays its control records
// against older, returning the reconstructed bytes for that chunk's
// span of the newer file.
func applyChunk(older []byte, meta ChunkMeta, compressed []byte) ([]byte, error) {
	records, err := DecodeChunk(meta, compressed)
	if err != nil {
		return nil, err
	}

	newLen := meta.NewEnd - meta.NewStart
	out := make([]byte, 0, newLen)
	oldPos := int64(meta.OldStart)
	for _, c := range records {
		oldPos += c.Seek
		if c.AddLen > 0 {
			if oldPos < 0 || uint64(oldPos)+c.AddLen > uint64(len(older)) {
				return nil, fmt.Errorf("%w: add run [%d, %d) out of bounds for older file of %d bytes", bidifferr.ErrPatchCorrupt, oldPos, uint64(oldPos)+c.AddLen, len(older))
			}
			if uint64(len(c.Diff)) != c.AddLen {
				return nil, fmt.Errorf("%w: diff payload is %d bytes, add_len is %d", bidifferr.ErrPatchCorrupt, len(c.Diff), c.AddLen)
			}
			for k := uint64(0); k < c.AddLen; k++ {
				out = append(out, older[uint64(oldPos)+k]+c.Diff[k])
			}
			oldPos += int64(c.AddLen)
		}
		if c.CopyLen > 0 {
			if uint64(len(c.Extra)) != c.CopyLen {
				return nil, fmt.Errorf("%w: extra payload is %d bytes, copy_len is %d", bidifferr.ErrPatchCorrupt, len(c.Extra), c.CopyLen)
			}
			out = append(out, c.Extra...)
		}
	}

	if uint64(len(out)) != newLen {
		return nil, fmt.Errorf("%w: chunk produced %d bytes, header recorded %d", bidifferr.ErrPatchCorrupt, len(out), newLen)
	}
	return out, nil
}

// VerifyOutput rehashes a fully written output stream and compares it
// against wantHash, an xxhash64 the caller computed independently (the
// container format carries no checksum of its own; verification is an
// external concern, not a core container field). Call after Apply with
// a reader over the finished output (e.g. the just-written file reopened
// for reading), since Apply's parallel chunk writes can't be hashed in
// newer-file order as they land.
func VerifyOutput(r io.Reader, wantHash uint64) error {
	h := xxhash.New()
	if _, err := io.Copy(h, r); err != nil {
		return fmt.Errorf("%w: read back output for verification: %v", bidifferr.ErrIO, err)
	}
	if h.Sum64() != wantHash {
		return fmt.Errorf("%w: patched output checksum does not match the expected hash", bidifferr.ErrPatchCorrupt)
	}
	return nil
}
