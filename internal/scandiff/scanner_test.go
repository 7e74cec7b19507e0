package scandiff

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockdiff/bidiff/internal/blockhash"
)

func randomBytes(seed int64, n int) []byte {
	r := rand.New(rand.NewSource(seed))
	b := make([]byte, n)
	_, _ = r.Read(b)
	return b
}

func buildIndex(t *testing.T, older []byte, blockSize int) *blockhash.Index {
	t.Helper()
	ix, err := blockhash.Build(context.Background(), older, blockhash.Options{
		BlockSize: blockSize,
		Backend:   blockhash.BackendAnonymous,
		Seed:      42,
		Threads:   4,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ix.Close() })
	return ix
}

// drain collects a scan into a flat, ordered slice of Control, failing
// the test if the error channel ever yields a non-nil error.
func drain(t *testing.T, out <-chan Control, errc <-chan error) []Control {
	t.Helper()
	var all []Control
	for out != nil || errc != nil {
		select {
		case c, ok := <-out:
			if !ok {
				out = nil
				continue
			}
			all = append(all, c)
		case err, ok := <-errc:
			if !ok {
				errc = nil
				continue
			}
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("scan did not finish in time")
		}
	}
	return all
}

// reconstruct applies a Control stream against older the way an applier
// would, letting the test assert the scan actually reproduces newer.
func reconstruct(older []byte, records []Control) []byte {
	var out []byte
	oldPos := int64(0)
	for _, c := range records {
		oldPos += c.Seek
		for k := uint64(0); k < c.AddLen; k++ {
			out = append(out, older[oldPos]+c.Diff[k])
			oldPos++
		}
		out = append(out, c.Extra...)
	}
	return out
}

func TestScanIdenticalBuffersProducesOneAllZeroDiff(t *testing.T) {
	older := randomBytes(100, 4096)
	newer := append([]byte(nil), older...)
	idx := buildIndex(t, older, 16)

	out, errc := Scan(context.Background(), older, newer, idx, Options{ScanChunkBytes: 1 << 20, Threads: 2})
	records := drain(t, out, errc)

	require.NotEmpty(t, records)
	got := reconstruct(older, records)
	assert.Equal(t, newer, got)

	require.Len(t, records, 1)
	assert.Equal(t, uint64(len(newer)), records[0].AddLen)
	assert.Equal(t, uint64(0), records[0].CopyLen)
	assert.Equal(t, make([]byte, len(newer)), records[0].Diff)
}

func TestScanAppendedTailRoundTripsWithFullCoverage(t *testing.T) {
	older := randomBytes(101, 2048)
	tail := randomBytes(202, 512)
	newer := append(append([]byte(nil), older...), tail...)
	idx := buildIndex(t, older, 16)

	out, errc := Scan(context.Background(), older, newer, idx, Options{ScanChunkBytes: 1 << 20})
	records := drain(t, out, errc)

	got := reconstruct(older, records)
	assert.Equal(t, newer, got)

	var totalAdd, totalCopy uint64
	for _, r := range records {
		totalAdd += r.AddLen
		totalCopy += r.CopyLen
	}
	assert.Equal(t, uint64(len(newer)), totalAdd+totalCopy, "P5: every byte of newer accounted for exactly once")
}

// TestScanLiteralInsertionThenResumedMatchRoundTrips mirrors the
// mandatory scenario of a literal run inserted in the middle of an
// otherwise-matching buffer: the scan must reproduce newer exactly, and
// at least one record must carry both an add run and a literal run. Per
// Control's add-then-copy contract, a record's literal run is the gap
// that follows its add run in newer.
func TestScanLiteralInsertionThenResumedMatchRoundTrips(t *testing.T) {
	older := make([]byte, 16384)
	inserted := []byte("INSERTED")
	newer := append(append(append([]byte(nil), older[:8192]...), inserted...), older[8192:]...)
	idx := buildIndex(t, older, 32)

	out, errc := Scan(context.Background(), older, newer, idx, Options{ScanChunkBytes: 1 << 20})
	records := drain(t, out, errc)

	got := reconstruct(older, records)
	assert.Equal(t, newer, got)

	var sawGapThenMatch bool
	for _, r := range records {
		if r.CopyLen > 0 && r.AddLen > 0 {
			sawGapThenMatch = true
		}
	}
	assert.True(t, sawGapThenMatch, "expected at least one record pairing an add run with a literal gap")
}

func TestScanNilIndexIsPureCopy(t *testing.T) {
	newer := randomBytes(303, 4096)

	out, errc := Scan(context.Background(), nil, newer, nil, Options{ScanChunkBytes: 1024})
	records := drain(t, out, errc)

	var totalAdd, totalCopy uint64
	var rebuilt []byte
	for _, r := range records {
		totalAdd += r.AddLen
		totalCopy += r.CopyLen
		rebuilt = append(rebuilt, r.Extra...)
	}
	assert.Equal(t, uint64(0), totalAdd, "P3: empty/absent older means add_len is always zero")
	assert.Equal(t, uint64(len(newer)), totalCopy)
	assert.Equal(t, newer, rebuilt)
}

func TestScanEmptyNewerProducesNoRecords(t *testing.T) {
	older := randomBytes(404, 256)
	idx := buildIndex(t, older, 16)

	out, errc := Scan(context.Background(), older, nil, idx, Options{})
	records := drain(t, out, errc)
	assert.Empty(t, records)
}

func TestScanChunkBoundariesStayDisjointAndOrdered(t *testing.T) {
	older := randomBytes(505, 16384)
	// Perturb a handful of bytes so exact matches don't span the whole buffer.
	newer := append([]byte(nil), older...)
	for _, p := range []int{100, 4096, 8192, 12000} {
		newer[p] ^= 0xFF
	}
	idx := buildIndex(t, older, 32)

	out, errc := Scan(context.Background(), older, newer, idx, Options{ScanChunkBytes: 4096, Threads: 4})
	records := drain(t, out, errc)

	got := reconstruct(older, records)
	assert.Equal(t, newer, got)
}

func TestApproxExtendStopsWithinSlack(t *testing.T) {
	// 9 matches then a run of mismatches: matches(9) > mismatches+8 holds
	// only while mismatches < 1, so the walk should freeze right after
	// the first mismatch and not keep growing through the noise.
	pattern := []bool{true, true, true, true, true, true, true, true, true, false, false, false, false}
	got := approxExtend(len(pattern), func(k int) bool { return pattern[k] })
	assert.Equal(t, 9, got)
}

func TestApproxExtendZeroBudget(t *testing.T) {
	assert.Equal(t, 0, approxExtend(0, func(k int) bool { return true }))
}
