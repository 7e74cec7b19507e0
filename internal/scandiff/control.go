// Package scandiff implements the parallel scanner: given an older
// buffer, a newer buffer, and a block-hash index over the older buffer,
// it produces an ordered stream of Control records that reconstruct the
// newer buffer when applied against the older one.
package scandiff

// Control is the unit of the patch stream: first shift old_pos by Seek;
// then take AddLen bytes from the older buffer at old_pos, add Diff to
// them byte-wise (mod 256) and append the result, advancing old_pos by
// AddLen; then append CopyLen bytes of Extra verbatim. Seek is applied
// before the record's add run, not after the record.
type Control struct {
	AddLen  uint64
	CopyLen uint64
	Seek    int64
	// Diff holds AddLen bytes: N[j] - O[old_pos+k] (mod 256) for each k.
	Diff []byte
	// Extra holds CopyLen literal bytes appended verbatim.
	Extra []byte
}

// rawRecord is a scan-chunk-local record: OldPos is the absolute
// position in the older buffer where the add run starts (meaningful
// only when AddLen > 0). The coordinator that merges chunk outputs into
// a single stream converts OldPos into the Seek delta required by the
// wire format, since a worker scanning one chunk in isolation has no
// way to know the older-buffer position the previous chunk ended on.
type rawRecord struct {
	CopyLen uint64
	Extra   []byte
	AddLen  uint64
	Diff    []byte
	OldPos  uint64
}
