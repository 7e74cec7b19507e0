// Package readahead wraps a file in a page-aligned buffered reader and
// hints the kernel that access will be sequential, for the newer-file
// scan and for reading an older file that was opened without mmap.
package readahead

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

const (
	kib = 1024
	mib = 1024 * kib
)

// DefaultChunkSize is the buffer size used when the caller doesn't pick
// one; it is page-aligned by alignToPageSize.
const DefaultChunkSize = 4 * mib

// SequentialReader is a bufio.Reader over a file that has been advised
// for sequential access (best-effort; the advisory is ignored on
// platforms or filesystems that don't support it).
type SequentialReader struct {
	file   io.ReadCloser
	buffer *bufio.Reader
}

// Open opens path and wraps it in a SequentialReader with the given
// buffer size (0 means DefaultChunkSize).
func Open(path string, chunkSize int) (*SequentialReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	adviseSequential(f)
	return Wrap(f, chunkSize), nil
}

// Wrap buffers an already-open reader; if it's a *os.File, it is also
// advised for sequential access.
func Wrap(r io.ReadCloser, chunkSize int) *SequentialReader {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	chunkSize = alignToPageSize(chunkSize)
	if f, ok := r.(*os.File); ok {
		adviseSequential(f)
	}
	return &SequentialReader{file: r, buffer: bufio.NewReaderSize(r, chunkSize)}
}

func adviseSequential(f *os.File) {
	_ = unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_SEQUENTIAL)
}

func alignToPageSize(value int) int {
	pageSize := os.Getpagesize()
	return (value + pageSize - 1) &^ (pageSize - 1)
}

func (r *SequentialReader) Read(p []byte) (int, error) {
	if r.file == nil {
		return 0, fmt.Errorf("readahead: file not open")
	}
	if len(p) == 0 {
		return 0, nil
	}
	return r.buffer.Read(p)
}

func (r *SequentialReader) Close() error {
	return r.file.Close()
}
