package main

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/exp/mmap"
	"k8s.io/klog/v2"

	"github.com/blockdiff/bidiff/internal/bidifferr"
	"github.com/blockdiff/bidiff/internal/readahead"
)

// readerAtCloser is the minimal interface both an mmap.ReaderAt and an
// *os.File satisfy, letting callers treat the two interchangeably.
type readerAtCloser interface {
	io.ReaderAt
	io.Closer
	Len() int
}

// osFileReaderAt adapts *os.File to readerAtCloser by caching its size.
type osFileReaderAt struct {
	*os.File
	size int
}

func (f *osFileReaderAt) Len() int { return f.size }

// openOlderFile opens an older-file input for diffing or patching,
// either as a read-only mmap (useMmap) or a plain *os.File. mmap avoids
// reading the whole file into the process's own heap, at the cost of
// page faults during random-access block compares; for files much
// larger than RAM it is the only viable mode.
func openOlderFile(path string, useMmap bool) (readerAtCloser, error) {
	if useMmap {
		klog.V(4).Infof("opening older file %q via mmap", path)
		r, err := mmap.Open(path)
		if err != nil {
			return nil, fmt.Errorf("%w: mmap older file %q: %v", bidifferr.ErrIO, path, err)
		}
		return r, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open older file %q: %v", bidifferr.ErrIO, path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: stat older file %q: %v", bidifferr.ErrIO, path, err)
	}
	return &osFileReaderAt{File: f, size: int(st.Size())}, nil
}

// readAllSequential reads path fully into memory, advising the kernel
// that the access pattern is sequential. Used for the newer file during
// diffing, which the scanner always walks start to end.
func readAllSequential(path string) ([]byte, error) {
	r, err := readahead.Open(path, readahead.DefaultChunkSize)
	if err != nil {
		return nil, fmt.Errorf("%w: open %q: %v", bidifferr.ErrIO, path, err)
	}
	defer r.Close()
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read %q: %v", bidifferr.ErrIO, path, err)
	}
	return buf, nil
}

// readerAtToBytes drains a readerAtCloser into a contiguous []byte. The
// block-hash index and the scanner both need the older buffer as a
// plain slice for byte-level comparisons regardless of how it was
// opened, so mmap mode still pays one copy up front; that copy is the
// tradeoff against needing a second, fully-general mmap-or-slice code
// path through the index and scanner.
func readerAtToBytes(r readerAtCloser) ([]byte, error) {
	buf := make([]byte, r.Len())
	if _, err := r.ReadAt(buf, 0); err != nil && err != io.EOF {
		return nil, fmt.Errorf("%w: read mapped contents: %v", bidifferr.ErrIO, err)
	}
	return buf, nil
}

// createOutputFile creates path for writing, truncated to size so that
// later WriteAt calls from parallel patch-chunk appliers never need to
// extend the file concurrently.
func createOutputFile(path string, size int64) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: create output file %q: %v", bidifferr.ErrIO, path, err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: truncate output file %q to %d bytes: %v", bidifferr.ErrIO, path, size, err)
	}
	return f, nil
}
