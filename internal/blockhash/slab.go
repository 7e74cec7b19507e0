// Package blockhash implements the block-hash index over the older file:
// a power-of-two bucket array of 32-bit offsets, built in parallel with
// compare-and-swap insertion and open-addressed linear probing.
package blockhash

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"github.com/edsrzf/mmap-go"
	"github.com/google/uuid"
)

// Empty marks a bucket that has not yet received an offset.
const Empty uint32 = 0xFFFFFFFF

// slab is the abstract "byte slab" of §9 of the design notes: a fixed
// array of atomically addressable 32-bit bucket values, backed either by
// anonymous memory or by a memory-mapped temp file.
type slab interface {
	len() int
	load(i uint32) uint32
	cas(i uint32, old, new uint32) bool
	close() error
}

// anonSlab is a plain process-local bucket array.
type anonSlab struct {
	buckets []uint32
}

func newAnonSlab(n int) *anonSlab {
	b := make([]uint32, n)
	for i := range b {
		b[i] = Empty
	}
	return &anonSlab{buckets: b}
}

func (s *anonSlab) len() int { return len(s.buckets) }

func (s *anonSlab) load(i uint32) uint32 {
	return atomic.LoadUint32(&s.buckets[i])
}

func (s *anonSlab) cas(i uint32, old, new uint32) bool {
	return atomic.CompareAndSwapUint32(&s.buckets[i], old, new)
}

func (s *anonSlab) close() error { return nil }

// fileSlab is a bucket array mapped read-write from a temp file. The
// temp file is unlinked immediately after creation on platforms that
// support unlink-while-open, so it is reclaimed on process death
// regardless of how the process exits.
type fileSlab struct {
	f   *os.File
	m   mmap.MMap
	buf []uint32
}

func newFileSlab(dir string, n int) (*fileSlab, error) {
	name := fmt.Sprintf("bidiff-index-%s.tmp", uuid.NewString())
	if dir == "" {
		dir = os.TempDir()
	}
	path := dir + string(os.PathSeparator) + name
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create index temp file: %w", err)
	}
	size := int64(n) * 4
	if err := f.Truncate(size); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("truncate index temp file: %w", err)
	}
	// Unlink right away; the open fd keeps the backing storage alive on
	// POSIX systems until the mapping and the fd are both gone.
	if err := os.Remove(path); err != nil {
		f.Close()
		return nil, fmt.Errorf("unlink index temp file: %w", err)
	}
	m, err := mmap.MapRegion(f, int(size), mmap.RDWR, 0, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap index temp file: %w", err)
	}
	buf := unsafe.Slice((*uint32)(unsafe.Pointer(&m[0])), n)
	fs := &fileSlab{f: f, m: m, buf: buf}
	for i := range fs.buf {
		fs.buf[i] = Empty
	}
	return fs, nil
}

func (s *fileSlab) len() int { return len(s.buf) }

func (s *fileSlab) load(i uint32) uint32 {
	return atomic.LoadUint32(&s.buf[i])
}

func (s *fileSlab) cas(i uint32, old, new uint32) bool {
	return atomic.CompareAndSwapUint32(&s.buf[i], old, new)
}

func (s *fileSlab) close() error {
	errUnmap := s.m.Unmap()
	errClose := s.f.Close()
	if errUnmap != nil {
		return fmt.Errorf("unmap index: %w", errUnmap)
	}
	if errClose != nil {
		return fmt.Errorf("close index backing file: %w", errClose)
	}
	return nil
}

// Backend selects where the bucket array lives.
type Backend int

const (
	// BackendAnonymous keeps the bucket array in ordinary process memory.
	BackendAnonymous Backend = iota
	// BackendFile memory-maps a temp file, letting the kernel page
	// buckets out under memory pressure.
	BackendFile
)
