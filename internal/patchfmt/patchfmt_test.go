package patchfmt

import (
	"bufio"
	"bytes"
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockdiff/bidiff/internal/scandiff"
)

type memWriterAt struct {
	buf []byte
}

func (m *memWriterAt) WriteAt(p []byte, off int64) (int, error) {
	end := off + int64(len(p))
	if end > int64(len(m.buf)) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	copy(m.buf[off:end], p)
	return len(p), nil
}

func randBytes(seed int64, n int) []byte {
	r := rand.New(rand.NewSource(seed))
	b := make([]byte, n)
	_, _ = r.Read(b)
	return b
}

func encodeAndApply(t *testing.T, older, newer []byte, chunkBytes int) []byte {
	t.Helper()
	records := controlsFor(older, newer)

	out := make(chan scandiff.Control, len(records))
	errc := make(chan error)
	for _, c := range records {
		out <- c
	}
	close(out)
	close(errc)

	var buf bytes.Buffer
	err := Encode(context.Background(), &buf, out, errc, uint64(len(older)), uint64(len(newer)), EncodeOptions{ChunkBytes: chunkBytes})
	require.NoError(t, err)

	r := bufio.NewReader(&buf)
	h, err := ReadHeader(r)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(older)), h.OldSize)
	assert.Equal(t, uint64(len(newer)), h.NewSize)

	dst := &memWriterAt{}
	err = Apply(context.Background(), r, h, older, dst, ApplyOptions{Threads: 2})
	require.NoError(t, err)
	return dst.buf
}

// controlsFor builds a trivial but valid control stream: literal copy
// records of at most 1 KiB each, together covering the whole of newer.
// It exercises the container and codec without depending on scandiff's
// matching behavior; since a record is never split across chunks, the
// small records let a small ChunkBytes spread newer over several chunks.
func controlsFor(older, newer []byte) []scandiff.Control {
	var records []scandiff.Control
	for s := 0; s < len(newer); s += 1024 {
		e := s + 1024
		if e > len(newer) {
			e = len(newer)
		}
		records = append(records, scandiff.Control{CopyLen: uint64(e - s), Extra: append([]byte(nil), newer[s:e]...)})
	}
	return records
}

func TestEncodeApplyRoundTripPureCopy(t *testing.T) {
	older := randBytes(1, 4096)
	newer := randBytes(2, 8192)

	got := encodeAndApply(t, older, newer, 1<<20)
	assert.Equal(t, newer, got)
}

func TestEncodeApplySplitsAcrossMultipleChunks(t *testing.T) {
	older := randBytes(3, 1024)
	newer := randBytes(4, 10000)

	got := encodeAndApply(t, older, newer, 1024)
	assert.Equal(t, newer, got)
}

func TestEncodeApplyWithAddRecords(t *testing.T) {
	older := randBytes(5, 4096)
	newer := append([]byte(nil), older...)
	for i := range newer {
		newer[i] += 3
	}

	records := []scandiff.Control{{AddLen: uint64(len(newer)), Diff: bytes.Repeat([]byte{3}, len(newer))}}
	out := make(chan scandiff.Control, 1)
	errc := make(chan error)
	out <- records[0]
	close(out)
	close(errc)

	var buf bytes.Buffer
	err := Encode(context.Background(), &buf, out, errc, uint64(len(older)), uint64(len(newer)), EncodeOptions{})
	require.NoError(t, err)

	r := bufio.NewReader(&buf)
	h, err := ReadHeader(r)
	require.NoError(t, err)

	dst := &memWriterAt{}
	require.NoError(t, Apply(context.Background(), r, h, older, dst, ApplyOptions{}))
	assert.Equal(t, newer, dst.buf)
}

func TestApplyRejectsOldSizeMismatch(t *testing.T) {
	older := randBytes(6, 128)
	newer := randBytes(7, 64)
	var buf bytes.Buffer

	out := make(chan scandiff.Control, 1)
	errc := make(chan error)
	out <- scandiff.Control{CopyLen: uint64(len(newer)), Extra: append([]byte(nil), newer...)}
	close(out)
	close(errc)

	require.NoError(t, Encode(context.Background(), &buf, out, errc, uint64(len(older)), uint64(len(newer)), EncodeOptions{}))

	r := bufio.NewReader(&buf)
	h, err := ReadHeader(r)
	require.NoError(t, err)

	dst := &memWriterAt{}
	err = Apply(context.Background(), r, h, older[:10], dst, ApplyOptions{})
	require.Error(t, err)
}

func TestReadHeaderRejectsBadMagic(t *testing.T) {
	r := bufio.NewReader(bytes.NewReader([]byte("NOPE0000000000000000000000000000")))
	_, err := ReadHeader(r)
	require.Error(t, err)
}

func TestZigzagRoundTrip(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 2, -2, 1 << 30, -(1 << 30), -1 << 40} {
		assert.Equal(t, v, zigzagDecode(zigzagEncode(v)))
	}
}
