package blockhash

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockdiff/bidiff/internal/bidifferr"
)

func randomBytes(t *testing.T, seed int64, n int) []byte {
	t.Helper()
	r := rand.New(rand.NewSource(seed))
	b := make([]byte, n)
	_, err := r.Read(b)
	require.NoError(t, err)
	return b
}

func TestBuildRejectsSmallBlockSize(t *testing.T) {
	_, err := Build(context.Background(), make([]byte, 64), Options{BlockSize: 3})
	require.Error(t, err)
	assert.ErrorIs(t, err, bidifferr.ErrConfigInvalid)
}

func TestBuildRejectsShortOlder(t *testing.T) {
	_, err := Build(context.Background(), make([]byte, 10), Options{BlockSize: 32})
	require.Error(t, err)
	assert.ErrorIs(t, err, bidifferr.ErrConfigInvalid)
}

func TestProbeFindsExactBlock(t *testing.T) {
	older := randomBytes(t, 1, 8192)
	ix, err := Build(context.Background(), older, Options{BlockSize: 32, Backend: BackendAnonymous, Seed: 7, Threads: 4})
	require.NoError(t, err)
	defer ix.Close()

	window := older[32*10 : 32*10+32]
	candidates := ix.Probe(window)
	require.NotEmpty(t, candidates)

	found := false
	for _, c := range candidates {
		if c == 32*10 {
			found = true
		}
		// every occupied bucket offset must be block-aligned and in range
		assert.Equal(t, uint32(0), c%32)
		assert.LessOrEqual(t, int(c)+32, len(older))
	}
	assert.True(t, found, "expected the exact sample position among candidates")
}

func TestProbeOnAbsentWindowMayReturnCollisionsOnly(t *testing.T) {
	older := randomBytes(t, 2, 4096)
	ix, err := Build(context.Background(), older, Options{BlockSize: 16, Backend: BackendAnonymous, Seed: 3})
	require.NoError(t, err)
	defer ix.Close()

	absent := []byte("this window was never in O!")[:16]
	candidates := ix.Probe(absent)
	for _, c := range candidates {
		assert.Less(t, bytesEqualCount(older[c:c+16], absent), 16)
	}
}

func bytesEqualCount(a, b []byte) int {
	n := 0
	for i := range a {
		if i < len(b) && a[i] == b[i] {
			n++
		}
	}
	return n
}

func TestFileBackedIndexMatchesAnonymous(t *testing.T) {
	older := randomBytes(t, 5, 16384)
	anon, err := Build(context.Background(), older, Options{BlockSize: 32, Backend: BackendAnonymous, Seed: 9})
	require.NoError(t, err)
	defer anon.Close()

	filed, err := Build(context.Background(), older, Options{BlockSize: 32, Backend: BackendFile, Seed: 9})
	require.NoError(t, err)
	defer filed.Close()

	window := older[32*50 : 32*50+32]
	assert.ElementsMatch(t, anon.Probe(window), filed.Probe(window))
}

func TestNormalLoadFactorNeverOverfills(t *testing.T) {
	older := randomBytes(t, 11, 64)
	_, err := Build(context.Background(), older, Options{BlockSize: 4, Backend: BackendAnonymous, Seed: 1})
	require.NoError(t, err)
}
