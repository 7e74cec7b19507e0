package blockhash

import "github.com/cespare/xxhash/v2"

// blockHash hashes one B-byte sampled window of the older file. The
// spec's only contract is that identical windows hash identically and
// the distribution spreads uniformly over buckets; xxhash64 satisfies
// both and is already the hash of choice elsewhere in this corpus
// (preindex.go hashes block payloads the same way).
//
// seed perturbs the hash per index build, so two builds of the same
// older file don't collide on the same probe sequence pathologically;
// it does not need to be rolling since each sampled window is hashed
// independently (spec.md §4.1).
func blockHash(seed uint64, window []byte) uint64 {
	d := xxhash.New()
	var seedBuf [8]byte
	putUint64(seedBuf[:], seed)
	d.Write(seedBuf[:])
	d.Write(window)
	return d.Sum64()
}

func putUint64(b []byte, v uint64) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
	b[4] = byte(v >> 32)
	b[5] = byte(v >> 40)
	b[6] = byte(v >> 48)
	b[7] = byte(v >> 56)
}
