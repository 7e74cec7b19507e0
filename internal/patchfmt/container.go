package patchfmt

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/blockdiff/bidiff/internal/bidifferr"
)

// Magic identifies a bidiff patch container on disk.
var Magic = [4]byte{'B', 'I', 'D', 'F'}

// Version is the current container format version. The wire layout at
// this version is the compatibility surface shared across
// implementations (spec.md §4.3/§6); bump it whenever the layout
// changes shape.
const Version uint8 = 2

// ChunkMeta describes one chunk's placement in the container and in
// the reconstructed newer file. Chunks are independent: OldStart
// records the absolute older-file position a chunk's first AddLen
// record seeks from, so an applier can process chunks in any order
// (or in parallel) without replaying the chunks before it.
type ChunkMeta struct {
	CompressedLen uint64
	NewStart      uint64
	NewEnd        uint64
	OldStart      uint64
}

// Header is the fixed prologue of a patch container, followed by the
// chunk table and then the chunk payloads themselves, in order. The
// block size and any input checksums are deliberately not part of the
// wire format: block size is an index-build detail the format doesn't
// need to agree on (spec.md §9 open questions), and hashing for
// round-trip verification is an external CLI concern, not a core
// container field.
type Header struct {
	OldSize uint64
	NewSize uint64
	Chunks  []ChunkMeta
}

// WriteHeader serializes the container prologue and chunk table,
// bit-exact with spec.md §4.3.
func WriteHeader(w io.Writer, h Header) error {
	if _, err := w.Write(Magic[:]); err != nil {
		return fmt.Errorf("%w: write magic: %v", bidifferr.ErrIO, err)
	}
	if err := binary.Write(w, binary.LittleEndian, Version); err != nil {
		return fmt.Errorf("%w: write version: %v", bidifferr.ErrIO, err)
	}
	fields := []any{h.OldSize, h.NewSize, uint64(len(h.Chunks))}
	for _, f := range fields {
		if err := binary.Write(w, binary.LittleEndian, f); err != nil {
			return fmt.Errorf("%w: write header field: %v", bidifferr.ErrIO, err)
		}
	}
	for _, c := range h.Chunks {
		cf := []any{c.CompressedLen, c.NewStart, c.NewEnd, c.OldStart}
		for _, f := range cf {
			if err := binary.Write(w, binary.LittleEndian, f); err != nil {
				return fmt.Errorf("%w: write chunk table entry: %v", bidifferr.ErrIO, err)
			}
		}
	}
	return nil
}

// ReadHeader parses the prologue and chunk table written by WriteHeader.
// r must be positioned at the start of the container.
func ReadHeader(r *bufio.Reader) (Header, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return Header{}, fmt.Errorf("%w: read magic: %v", bidifferr.ErrPatchCorrupt, err)
	}
	if magic != Magic {
		return Header{}, fmt.Errorf("%w: bad magic %q", bidifferr.ErrPatchCorrupt, magic[:])
	}
	var version uint8
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return Header{}, fmt.Errorf("%w: read version: %v", bidifferr.ErrPatchCorrupt, err)
	}
	if version != Version {
		return Header{}, fmt.Errorf("%w: unsupported container version %d", bidifferr.ErrPatchCorrupt, version)
	}

	var h Header
	var chunkCount uint64
	for _, f := range []any{&h.OldSize, &h.NewSize, &chunkCount} {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return Header{}, fmt.Errorf("%w: read header field: %v", bidifferr.ErrPatchCorrupt, err)
		}
	}

	h.Chunks = make([]ChunkMeta, chunkCount)
	for i := range h.Chunks {
		c := &h.Chunks[i]
		for _, f := range []any{&c.CompressedLen, &c.NewStart, &c.NewEnd, &c.OldStart} {
			if err := binary.Read(r, binary.LittleEndian, f); err != nil {
				return Header{}, fmt.Errorf("%w: read chunk table entry %d: %v", bidifferr.ErrPatchCorrupt, i, err)
			}
		}
	}
	return h, nil
}
