package patchfmt

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/blockdiff/bidiff/internal/bidifferr"
	"github.com/blockdiff/bidiff/internal/scandiff"
)

// ReadChunkPayloads reads the compressed chunk bytes following the
// header, in container order, handing each one to fn as it's read. r
// must be positioned immediately after the chunk table (i.e. right
// after a successful ReadHeader call on the same reader).
func ReadChunkPayloads(r *bufio.Reader, chunks []ChunkMeta, fn func(idx int, meta ChunkMeta, compressed []byte) error) error {
	for i, meta := range chunks {
		buf := make([]byte, meta.CompressedLen)
		if _, err := io.ReadFull(r, buf); err != nil {
			return fmt.Errorf("%w: read chunk %d payload: %v", bidifferr.ErrPatchCorrupt, i, err)
		}
		if err := fn(i, meta, buf); err != nil {
			return err
		}
	}
	return nil
}

// DecodeChunk decompresses one chunk payload and parses it back into an
// ordered slice of Control records covering exactly meta.NewEnd -
// meta.NewStart bytes of the reconstructed newer file.
func DecodeChunk(meta ChunkMeta, compressed []byte) ([]scandiff.Control, error) {
	dec, err := decoderPool.Get(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: acquire zstd decoder: %v", bidifferr.ErrIO, err)
	}
	defer decoderPool.Put(dec)

	raw, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress chunk: %v", bidifferr.ErrPatchCorrupt, err)
	}

	br := bufio.NewReader(bytes.NewReader(raw))
	var records []scandiff.Control
	var newLen uint64
	for {
		addLen, err := readUvarint(br)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read add_len: %v", bidifferr.ErrPatchCorrupt, err)
		}
		copyLen, err := readUvarint(br)
		if err != nil {
			return nil, fmt.Errorf("%w: read copy_len: %v", bidifferr.ErrPatchCorrupt, err)
		}
		seek, err := readVarint(br)
		if err != nil {
			return nil, fmt.Errorf("%w: read seek: %v", bidifferr.ErrPatchCorrupt, err)
		}
		var diff, extra []byte
		if addLen > 0 {
			diff = make([]byte, addLen)
			if _, err := io.ReadFull(br, diff); err != nil {
				return nil, fmt.Errorf("%w: read diff bytes: %v", bidifferr.ErrPatchCorrupt, err)
			}
		}
		if copyLen > 0 {
			extra = make([]byte, copyLen)
			if _, err := io.ReadFull(br, extra); err != nil {
				return nil, fmt.Errorf("%w: read extra bytes: %v", bidifferr.ErrPatchCorrupt, err)
			}
		}
		records = append(records, scandiff.Control{
			AddLen:  addLen,
			CopyLen: copyLen,
			Seek:    seek,
			Diff:    diff,
			Extra:   extra,
		})
		newLen += addLen + copyLen
	}

	if wantLen := meta.NewEnd - meta.NewStart; newLen != wantLen {
		return nil, fmt.Errorf("%w: chunk covers %d output bytes, header recorded %d", bidifferr.ErrPatchCorrupt, newLen, wantLen)
	}
	return records, nil
}
