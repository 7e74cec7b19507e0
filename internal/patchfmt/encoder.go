package patchfmt

import (
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/mostynb/zstdpool-freelist"
	"github.com/valyala/bytebufferpool"

	"github.com/blockdiff/bidiff/internal/bidifferr"
	"github.com/blockdiff/bidiff/internal/scandiff"
)

// encoderPool compresses chunk payloads at zstd.SpeedDefault (roughly
// zstd level 3), a reasonable default for archival patches. The level is
// fixed for the package; Encode has no option to change it.
var encoderPool, decoderPool = func() (*zstdpool.EncoderPool, *zstdpool.DecoderPool) {
	enc := zstdpool.NewEncoderPool(zstd.WithEncoderLevel(zstd.SpeedDefault))
	dec := zstdpool.NewDecoderPool()
	return enc, dec
}()

// EncodeOptions configures how a Control stream is grouped into
// container chunks.
type EncodeOptions struct {
	// ChunkBytes is the target amount of newer-file output per
	// container chunk (default 4 MiB). This is independent of the
	// scanner's scan-chunk size: it only controls how finely the patch
	// is split for parallel compression and application.
	ChunkBytes int
}

func (o EncodeOptions) withDefaults() EncodeOptions {
	if o.ChunkBytes <= 0 {
		o.ChunkBytes = 4 << 20
	}
	return o
}

// Encode consumes an ordered Control stream and writes a complete
// container to w: header, chunk table, then compressed chunk payloads.
// oldSize/newSize populate the header; Apply validates oldSize against
// the older file it's given.
func Encode(ctx context.Context, w io.Writer, records <-chan scandiff.Control, errc <-chan error, oldSize, newSize uint64, opts EncodeOptions) error {
	opts = opts.withDefaults()

	var chunks []ChunkMeta
	var payloads [][]byte

	cur := bytebufferpool.Get()
	defer bytebufferpool.Put(cur)
	curNewLen := uint64(0)
	curStartOldPos := uint64(0)
	globalOldPos := uint64(0)
	haveCur := false

	flush := func() error {
		if curNewLen == 0 {
			return nil
		}
		enc, err := encoderPool.Get(nil)
		if err != nil {
			return fmt.Errorf("%w: acquire zstd encoder: %v", bidifferr.ErrIO, err)
		}
		compressed := enc.EncodeAll(cur.B, nil)
		encoderPool.Put(enc)

		var newStart uint64
		if n := len(chunks); n > 0 {
			newStart = chunks[n-1].NewEnd
		}
		chunks = append(chunks, ChunkMeta{
			CompressedLen: uint64(len(compressed)),
			NewStart:      newStart,
			NewEnd:        newStart + curNewLen,
			OldStart:      curStartOldPos,
		})
		payloads = append(payloads, compressed)

		cur.Reset()
		curNewLen = 0
		haveCur = false
		return nil
	}

	for records != nil || errc != nil {
		select {
		case c, ok := <-records:
			if !ok {
				records = nil
				continue
			}
			if !haveCur {
				curStartOldPos = globalOldPos
				haveCur = true
			}
			if err := writeControl(cur, c); err != nil {
				return err
			}
			curNewLen += c.AddLen + c.CopyLen
			globalOldPos = uint64(int64(globalOldPos) + c.Seek + int64(c.AddLen))
			if curNewLen >= uint64(opts.ChunkBytes) {
				if err := flush(); err != nil {
					return err
				}
			}
		case err, ok := <-errc:
			if !ok {
				errc = nil
				continue
			}
			if err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := flush(); err != nil {
		return err
	}

	h := Header{
		OldSize: oldSize,
		NewSize: newSize,
		Chunks:  chunks,
	}
	if err := WriteHeader(w, h); err != nil {
		return err
	}
	for _, p := range payloads {
		if _, err := w.Write(p); err != nil {
			return fmt.Errorf("%w: write chunk payload: %v", bidifferr.ErrIO, err)
		}
	}
	return nil
}

// writeControl appends one control record to buf in the wire format:
// add_len, copy_len, seek, diff bytes, extra bytes.
func writeControl(buf io.Writer, c scandiff.Control) error {
	if err := writeUvarint(buf, c.AddLen); err != nil {
		return err
	}
	if err := writeUvarint(buf, c.CopyLen); err != nil {
		return err
	}
	if err := writeVarint(buf, c.Seek); err != nil {
		return err
	}
	buf.Write(c.Diff)
	buf.Write(c.Extra)
	return nil
}
