package scandiff

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	concurrently "github.com/tejzpr/ordered-concurrently/v3"

	"github.com/blockdiff/bidiff/internal/bidifferr"
)

// approxSlack is the bsdiff "8 more matches than mismatches" constant
// (spec.md §9): preserved from the original algorithm; changing it
// affects patch size, not correctness.
const approxSlack = 8

// giveUpLookahead bounds how many bytes of net-negative score the
// approximate-extension walk tolerates before it stops looking for a
// better boundary further out. Not specified by the format; a larger
// value trades scan time for marginally smaller patches.
const giveUpLookahead = 64

// Index is the subset of *blockhash.Index the scanner needs. A nil
// Index means "no candidates are ever available" (used when the older
// buffer is empty, per P3).
type Index interface {
	Probe(window []byte) []uint32
	BlockSize() int
}

// Options configures Scan.
type Options struct {
	// ScanChunkBytes is the size of each scan chunk (default 1 MiB).
	ScanChunkBytes int
	// Threads bounds scan parallelism. <= 0 means runtime.NumCPU().
	Threads int
	// OutputDepth is the bound on the output ring-buffer channel
	// (default 128 records, per spec.md §4.2).
	OutputDepth int
}

func (o Options) withDefaults() Options {
	if o.ScanChunkBytes <= 0 {
		o.ScanChunkBytes = 1 << 20
	}
	if o.Threads <= 0 {
		o.Threads = runtime.NumCPU()
	}
	if o.OutputDepth <= 0 {
		o.OutputDepth = 128
	}
	return o
}

// Scan sweeps newer in order-preserving chunks, emitting Control records
// on the returned channel in strict left-to-right order of coverage over
// newer. The error channel carries at most one error (allocation failure
// or a panicking worker); the scanner never fails on data alone. Both
// channels are closed when the scan finishes or fails.
func Scan(ctx context.Context, older, newer []byte, idx Index, opts Options) (<-chan Control, <-chan error) {
	opts = opts.withDefaults()
	out := make(chan Control, opts.OutputDepth)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		if len(newer) == 0 {
			return
		}

		type chunkBounds struct{ start, end int }
		var chunks []chunkBounds
		for s := 0; s < len(newer); s += opts.ScanChunkBytes {
			e := s + opts.ScanChunkBytes
			if e > len(newer) {
				e = len(newer)
			}
			chunks = append(chunks, chunkBounds{s, e})
		}

		threads := opts.Threads
		if threads > len(chunks) {
			threads = len(chunks)
		}
		if threads < 1 {
			threads = 1
		}

		workerInput := make(chan concurrently.WorkFunction, threads)
		output := concurrently.Process(ctx, workerInput, &concurrently.Options{
			PoolSize:         threads,
			OutChannelBuffer: threads,
		})

		go func() {
			defer close(workerInput)
			for _, c := range chunks {
				select {
				case workerInput <- &chunkWork{older: older, newer: newer, idx: idx, start: c.start, end: c.end}:
				case <-ctx.Done():
					return
				}
			}
		}()

		var globalOldPos uint64
		for res := range output {
			switch v := res.Value.(type) {
			case error:
				errc <- v
				return
			case []rawRecord:
				for _, rr := range v {
					var seek int64
					if rr.AddLen > 0 {
						seek = int64(rr.OldPos) - int64(globalOldPos)
					}
					c := Control{
						AddLen:  rr.AddLen,
						CopyLen: rr.CopyLen,
						Seek:    seek,
						Diff:    rr.Diff,
						Extra:   rr.Extra,
					}
					select {
					case out <- c:
					case <-ctx.Done():
						errc <- fmt.Errorf("%w: %v", bidifferr.ErrCanceled, ctx.Err())
						return
					}
					if rr.AddLen > 0 {
						globalOldPos = rr.OldPos + rr.AddLen
					}
				}
			default:
				errc <- fmt.Errorf("scandiff: unexpected worker result type %T", res.Value)
				return
			}
		}
	}()

	return out, errc
}

// chunkWork is the concurrently.WorkFunction for one scan chunk.
type chunkWork struct {
	older, newer []byte
	idx          Index
	start, end   int
}

func (w *chunkWork) Run(ctx context.Context) interface{} {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("scan chunk panicked", "start", w.start, "end", w.end, "panic", r)
		}
	}()
	return scanChunk(w.older, w.newer, w.idx, w.start, w.end)
}

// scanChunk implements the per-chunk algorithm of spec.md §4.2 for the
// newer-buffer range [s, e). Forward match growth, and the forward
// approximate extension beyond it, are capped at e so that independent
// chunks never claim overlapping ranges of newer; backward growth is
// capped at the chunk's own running scanEnd for the same reason. This
// makes chunk coverage disjoint by construction, with no join step
// needed once results are concatenated in order.
func scanChunk(older, newer []byte, idx Index, s, e int) []rawRecord {
	if idx == nil || len(older) == 0 {
		if e > s {
			return []rawRecord{{CopyLen: uint64(e - s), Extra: cloneBytes(newer[s:e])}}
		}
		return nil
	}

	blockSize := idx.BlockSize()
	var records []rawRecord

	// pending holds the most recently found match, not yet emitted: a
	// record's CopyLen/Extra is the literal gap that follows its match
	// (per Control's add-then-copy contract), which isn't known until
	// either the next match is found or the chunk ends. flushPending
	// closes pending out with that trailing gap; with no pending match,
	// a nonzero gap becomes a standalone copy-only record.
	var pending *rawRecord
	flushPending := func(gapStart, gapEnd int) {
		copyLen := gapEnd - gapStart
		var extra []byte
		if copyLen > 0 {
			extra = cloneBytes(newer[gapStart:gapEnd])
		}
		if pending == nil {
			if copyLen > 0 {
				records = append(records, rawRecord{CopyLen: uint64(copyLen), Extra: extra})
			}
			return
		}
		pending.CopyLen = uint64(copyLen)
		pending.Extra = extra
		records = append(records, *pending)
		pending = nil
	}

	i := s
	scanEnd := s
	for i+blockSize <= e {
		candidates := idx.Probe(newer[i : i+blockSize])

		bestTotal, bestFwd, bestBwd, bestP := -1, 0, 0, 0
		for _, cu := range candidates {
			p := int(cu)
			if p+blockSize > len(older) {
				continue
			}
			fwd := extendForward(older, newer, p, i, len(older), e)
			bwd := extendBackward(older, newer, p, i, 0, scanEnd)
			total := fwd + bwd
			if total < blockSize {
				continue
			}
			if total > bestTotal {
				bestTotal, bestFwd, bestBwd, bestP = total, fwd, bwd, p
			}
		}

		if bestTotal < 0 {
			i++
			continue
		}

		matchStart := i - bestBwd
		matchEnd := i + bestFwd
		pStart := bestP - bestBwd
		pEnd := bestP + bestFwd

		fwdExtra := approxExtend(minInt(e-matchEnd, len(older)-pEnd), func(k int) bool {
			return older[pEnd+k] == newer[matchEnd+k]
		})
		bwdExtra := approxExtend(minInt(matchStart-scanEnd, pStart), func(k int) bool {
			return older[pStart-1-k] == newer[matchStart-1-k]
		})

		addStart := matchStart - bwdExtra
		addEnd := matchEnd + fwdExtra
		addOldStart := pStart - bwdExtra
		addLen := addEnd - addStart

		flushPending(scanEnd, addStart)

		var diff []byte
		if addLen > 0 {
			diff = make([]byte, addLen)
			for k := 0; k < addLen; k++ {
				diff[k] = newer[addStart+k] - older[addOldStart+k]
			}
		}
		pending = &rawRecord{AddLen: uint64(addLen), Diff: diff, OldPos: uint64(addOldStart)}

		scanEnd = addEnd
		i = addEnd
	}

	flushPending(scanEnd, e)

	return records
}

// extendForward grows a match forward from (p, i) while bytes are
// exactly equal, bounded by the older-buffer length and the chunk end.
func extendForward(older, newer []byte, p, i, limitO, limitN int) int {
	max := limitO - p
	if m := limitN - i; m < max {
		max = m
	}
	k := 0
	for k < max && older[p+k] == newer[i+k] {
		k++
	}
	return k
}

// extendBackward grows a match backward from (p, i) while bytes are
// exactly equal, bounded below by lowO and lowN (the chunk's previous
// coverage end, so a match never eats into already-covered newer
// bytes).
func extendBackward(older, newer []byte, p, i, lowO, lowN int) int {
	max := p - lowO
	if m := i - lowN; m < max {
		max = m
	}
	k := 0
	for k < max && older[p-1-k] == newer[i-1-k] {
		k++
	}
	return k
}

// approxExtend implements the bsdiff-style "approximate-extension
// refinement": walk outward up to maxLen bytes, tracking how far ahead
// matches outnumber mismatches by more than approxSlack. It returns the
// greatest prefix length whose cumulative score satisfied the rule,
// giving up early once the score has stayed below any improvement for
// giveUpLookahead bytes.
func approxExtend(maxLen int, equalAt func(k int) bool) int {
	if maxLen <= 0 {
		return 0
	}
	matches, mismatches := 0, 0
	best := 0
	sinceBest := 0
	for k := 0; k < maxLen; k++ {
		if equalAt(k) {
			matches++
		} else {
			mismatches++
		}
		if matches > mismatches+approxSlack {
			best = k + 1
			sinceBest = 0
		} else {
			sinceBest++
			if sinceBest > giveUpLookahead {
				break
			}
		}
	}
	return best
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
