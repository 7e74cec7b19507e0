// Package patchfmt implements the on-disk patch container: a small
// fixed header followed by independently zstd-compressed chunks, each
// holding a varint-encoded run of control records (spec.md §4.3).
package patchfmt

import (
	"bufio"
	"io"

	"github.com/multiformats/go-varint"
)

// writeUvarint writes x as an unsigned LEB128 varint.
func writeUvarint(w io.Writer, x uint64) error {
	_, err := varint.WriteUvarint(w, x)
	return err
}

// readUvarint reads back a value written by writeUvarint.
func readUvarint(r *bufio.Reader) (uint64, error) {
	return varint.ReadUvarint(r)
}

// zigzagEncode maps a signed value to an unsigned one so small negative
// and small positive numbers both encode as few varint bytes: 0, -1, 1,
// -2, 2, ... map to 0, 1, 2, 3, 4, ...
func zigzagEncode(v int64) uint64 {
	return uint64((v << 1) ^ (v >> 63))
}

// zigzagDecode reverses zigzagEncode.
func zigzagDecode(u uint64) int64 {
	return int64(u>>1) ^ -int64(u&1)
}

// writeVarint writes a signed seek delta using zigzag + unsigned varint.
func writeVarint(w io.Writer, v int64) error {
	return writeUvarint(w, zigzagEncode(v))
}

// readVarint reads back a value written by writeVarint.
func readVarint(r *bufio.Reader) (int64, error) {
	u, err := readUvarint(r)
	if err != nil {
		return 0, err
	}
	return zigzagDecode(u), nil
}
