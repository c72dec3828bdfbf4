package puffin

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// PuffinStream presents a random-access, puff-space view backed by a
// deflate stream, following the model in the retrieval pack's
// awslabs-soci-snapshotter layer cache (fs/layer/layer.go): expensive
// re-derivation (here, puffing a chunk of deflate blocks) sits behind a
// bounded LRU so repeated access to the same region is cheap, while a
// miss transcodes just that chunk rather than the whole stream.
//
// A PuffinStream is constructed over a parallel pair of extent lists:
// deflateExtents, each one a contiguous run of whole DEFLATE blocks in
// the backing stream's bit space, and puffExtents, the byte range each
// of those runs occupies in puff space. The two lists must describe the
// same order of regions; a container format is free to interleave raw
// bytes between deflate extents (e.g. its own framing), which show up as
// a gap between consecutive entries in both lists. Those gaps become
// passthrough segments: puff-space offsets falling in one are read from
// or written straight to the corresponding backing byte range, with no
// transcoding at all. CreateForPuff and CreateForHuff both derive and
// validate the segment layout at construction.
type PuffinStream struct {
	backing        Stream
	backingBuf     []byte // read mode: the whole backing stream, read once on first use
	deflateExtents []BitExtent
	puffExtents    []ByteExtent
	segments       []streamSegment
	puffSize       uint64

	mode puffinMode
	pos  uint64

	cache *lru.Cache[int, []byte] // read mode only: chunk index -> puffed bytes

	pending      []byte // write mode: bytes buffered for the segment currently being accumulated
	curSeg       int
	lastWriteEnd uint64

	closed bool
}

type puffinMode uint8

const (
	modePuff puffinMode = iota
	modeHuff
)

// streamSegment is one contiguous piece of puff space: either a puff
// extent backed by a deflate bit extent (isGap == false, chunkIdx indexes
// deflateExtents/puffExtents), or a raw passthrough gap that maps directly
// onto a byte range of the backing stream (isGap == true).
type streamSegment struct {
	puffOffset uint64
	puffLen    uint64

	isGap             bool
	chunkIdx          int
	backingByteOffset uint64
}

func (s streamSegment) puffEnd() uint64 { return s.puffOffset + s.puffLen }

// buildSegments derives the full puff-space segment layout from the
// caller's parallel extent lists, validating as it goes: extents must be
// non-overlapping and in increasing order in both spaces, and any gap
// between consecutive extents must describe a whole number of bytes
// starting and ending at a byte boundary in deflate space — a raw
// passthrough region is a sequence of whole bytes, not a fragment of a
// bit-packed DEFLATE block.
func buildSegments(deflateExtents []BitExtent, puffExtents []ByteExtent) ([]streamSegment, uint64, error) {
	if len(deflateExtents) != len(puffExtents) {
		return nil, 0, Error("PuffinStream: deflateExtents and puffExtents must have the same length")
	}

	var segments []streamSegment
	var prevDeflateEnd, prevPuffEnd uint64
	for i, de := range deflateExtents {
		pe := puffExtents[i]
		if de.Offset < prevDeflateEnd || pe.Offset < prevPuffEnd {
			return nil, 0, Error("PuffinStream: extents must be non-overlapping and in order")
		}

		gapBits := de.Offset - prevDeflateEnd
		gapPuffLen := pe.Offset - prevPuffEnd
		if gapBits > 0 || gapPuffLen > 0 {
			if prevDeflateEnd%8 != 0 || gapBits%8 != 0 {
				return nil, 0, Error("PuffinStream: a passthrough gap must start and end on a byte boundary in deflate space")
			}
			if gapBits/8 != gapPuffLen {
				return nil, 0, Error("PuffinStream: gap length mismatch between deflate and puff space")
			}
			segments = append(segments, streamSegment{
				puffOffset:        prevPuffEnd,
				puffLen:           gapPuffLen,
				isGap:             true,
				backingByteOffset: prevDeflateEnd / 8,
			})
		}

		segments = append(segments, streamSegment{
			puffOffset: pe.Offset,
			puffLen:    pe.Length,
			chunkIdx:   i,
		})
		prevDeflateEnd = de.End()
		prevPuffEnd = pe.End()
	}
	return segments, prevPuffEnd, nil
}

// CreateForPuff constructs a read-only PuffinStream presenting the puff
// encoding of backing, deriving each deflateExtents[i] chunk on demand
// and caching up to cacheSize chunks' worth of puffed bytes. Passthrough
// gaps between extents are read straight from backing.
func CreateForPuff(backing Stream, deflateExtents []BitExtent, puffExtents []ByteExtent, cacheSize int) (*PuffinStream, error) {
	segments, puffSize, err := buildSegments(deflateExtents, puffExtents)
	if err != nil {
		return nil, err
	}
	c, err := lru.New[int, []byte](cacheSize)
	if err != nil {
		return nil, err
	}
	return &PuffinStream{
		backing:        backing,
		deflateExtents: deflateExtents,
		puffExtents:    puffExtents,
		segments:       segments,
		puffSize:       puffSize,
		mode:           modePuff,
		cache:          c,
	}, nil
}

// CreateForHuff constructs a write-only PuffinStream that accepts puff
// bytes written in strictly increasing offset order, huffing each
// completed extent back into backing's deflate bit extent as soon as all
// of that extent's puff bytes have arrived, and passing a passthrough
// gap's bytes straight through to backing unchanged.
func CreateForHuff(backing Stream, deflateExtents []BitExtent, puffExtents []ByteExtent) (*PuffinStream, error) {
	segments, puffSize, err := buildSegments(deflateExtents, puffExtents)
	if err != nil {
		return nil, err
	}
	return &PuffinStream{
		backing:        backing,
		deflateExtents: deflateExtents,
		puffExtents:    puffExtents,
		segments:       segments,
		puffSize:       puffSize,
		mode:           modeHuff,
	}, nil
}

// GetSize returns the total logical size of the puff-space view.
func (ps *PuffinStream) GetSize() (uint64, error) { return ps.puffSize, nil }

func (ps *PuffinStream) GetOffset() (uint64, error) { return ps.pos, nil }

// Seek repositions the stream. In huff (write) mode, only Seek(0) is
// meaningful: writes must be strictly sequential, so there is nowhere
// else a caller could usefully seek to, and a reset to the very start is
// the one operation that makes sense before the first Write.
func (ps *PuffinStream) Seek(pos uint64) error {
	if ps.closed {
		return ErrClosed
	}
	if ps.mode == modeHuff {
		if pos != 0 {
			return ErrInvalidSeek
		}
		ps.pos = 0
		return nil
	}
	if pos > ps.puffSize {
		return ErrInvalidSeek
	}
	ps.pos = pos
	return nil
}

func (ps *PuffinStream) Close() error {
	ps.closed = true
	return ps.backing.Close()
}

// locateSegment returns the index of the segment containing logical
// offset off, and the offset within that segment.
func (ps *PuffinStream) locateSegment(off uint64) (idx int, within uint64, ok bool) {
	for i, s := range ps.segments {
		if off >= s.puffOffset && off < s.puffEnd() {
			return i, off - s.puffOffset, true
		}
	}
	return 0, 0, false
}

// Read implements puff-space random access: a puff-extent segment is
// transcoded and cached a chunk at a time, while a passthrough-gap
// segment is read straight from the backing stream.
func (ps *PuffinStream) Read(p []byte) (int, error) {
	if ps.closed {
		return 0, ErrClosed
	}
	if ps.mode != modePuff {
		return 0, Error("PuffinStream: Read is only valid in puff mode")
	}
	if len(p) == 0 {
		return 0, nil
	}
	if ps.pos+uint64(len(p)) > ps.puffSize {
		return 0, ErrBoundary
	}

	read := 0
	for read < len(p) {
		idx, within, ok := ps.locateSegment(ps.pos)
		if !ok {
			return read, ErrCorrupt
		}
		seg := ps.segments[idx]

		if seg.isGap {
			n, err := ps.readGap(seg, within, p[read:])
			if err != nil {
				return read, err
			}
			read += n
			ps.pos += uint64(n)
			continue
		}

		chunk, err := ps.getChunk(seg.chunkIdx)
		if err != nil {
			return read, err
		}
		n := copy(p[read:], chunk[within:])
		read += n
		ps.pos += uint64(n)
	}
	return read, nil
}

// readGap copies up to len(dst) bytes of a passthrough-gap segment,
// starting at the given offset within it, directly from backing.
func (ps *PuffinStream) readGap(seg streamSegment, within uint64, dst []byte) (int, error) {
	avail := seg.puffLen - within
	n := uint64(len(dst))
	if n > avail {
		n = avail
	}
	if n == 0 {
		return 0, nil
	}
	if err := ps.backing.Seek(seg.backingByteOffset + within); err != nil {
		return 0, err
	}
	if _, err := ps.backing.Read(dst[:n]); err != nil {
		return 0, err
	}
	return int(n), nil
}

func (ps *PuffinStream) getChunk(idx int) ([]byte, error) {
	if cached, ok := ps.cache.Get(idx); ok {
		log.WithField("chunk", idx).Trace("puffin: chunk cache hit")
		return cached, nil
	}
	log.WithField("chunk", idx).Trace("puffin: chunk cache miss")

	if ps.backingBuf == nil {
		if err := ps.backing.Seek(0); err != nil {
			return nil, err
		}
		size, err := ps.backing.GetSize()
		if err != nil {
			return nil, err
		}
		buf := make([]byte, size)
		if _, err := ps.backing.Read(buf); err != nil {
			return nil, err
		}
		ps.backingBuf = buf
	}

	de := ps.deflateExtents[idx]
	br := NewBitReader(ps.backingBuf)
	if err := br.SeekBits(de.Offset); err != nil {
		return nil, err
	}
	p := NewPuffer(false)
	chunk, _, _, _, err := p.puffBlocks(br, de.Length, false, false)
	if err != nil {
		return nil, err
	}
	ps.cache.Add(idx, chunk)
	return chunk, nil
}

// Write implements the huff (write) direction: puff bytes must arrive in
// strictly increasing, contiguous order starting from offset 0. As soon
// as the bytes for one segment have fully arrived, a puff-extent segment
// is huffed and patched into the backing deflate stream at its bit
// extent, while a passthrough-gap segment is written straight through.
func (ps *PuffinStream) Write(p []byte) (int, error) {
	if ps.closed {
		return 0, ErrClosed
	}
	if ps.mode != modeHuff {
		return 0, Error("PuffinStream: Write is only valid in huff mode")
	}
	if len(p) == 0 {
		return 0, nil
	}
	if ps.pos != ps.lastWriteEnd {
		return 0, ErrOutOfOrderWrite
	}
	if ps.curSeg >= len(ps.segments) {
		return 0, ErrBoundary
	}

	written := 0
	for written < len(p) {
		if ps.curSeg >= len(ps.segments) {
			return written, ErrBoundary
		}
		seg := ps.segments[ps.curSeg]
		want := seg.puffLen - uint64(len(ps.pending))
		take := uint64(len(p) - written)
		if take > want {
			take = want
		}
		ps.pending = append(ps.pending, p[written:written+int(take)]...)
		written += int(take)
		ps.pos += take
		ps.lastWriteEnd = ps.pos

		if uint64(len(ps.pending)) == seg.puffLen {
			if err := ps.flushSegment(seg); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

func (ps *PuffinStream) flushSegment(seg streamSegment) error {
	if seg.isGap {
		if err := ps.backing.Seek(seg.backingByteOffset); err != nil {
			return err
		}
		if _, err := ps.backing.Write(ps.pending); err != nil {
			return err
		}
		log.WithField("segment", ps.curSeg).Trace("puffin: passthrough gap written")
	} else if seg.puffLen == 0 {
		// A zero-length extent pair contributes nothing to either stream.
	} else {
		de := ps.deflateExtents[seg.chunkIdx]
		h := NewHuffer()
		// Huff at the chunk's own alignment within a byte, so stored
		// blocks get the same boundary padding they have in backing.
		lead := de.Offset % 8
		deflateBuf := make([]byte, (lead+de.Length+7)/8)
		bw := NewBitWriter(deflateBuf)
		if err := bw.WriteBits(uint(lead), 0); err != nil {
			return err
		}
		// A segment's pending bytes must huff back to exactly the bit
		// length its chunk was puffed from. If the puff records a caller
		// handed us don't decode cleanly, or decode to a different block
		// length, the bytes weren't the ones that belong at this offset —
		// the likeliest cause is that Write calls arrived out of order.
		if err := h.HuffDeflateAll(ps.pending, bw); err != nil || bw.Size() != len(deflateBuf) {
			return ErrOutOfOrderWrite
		}
		if err := patchBits(ps.backing, de.Offset, de.Length, extractBits(deflateBuf, lead, uint(de.Length))); err != nil {
			return err
		}
		log.WithField("chunk", seg.chunkIdx).Trace("puffin: chunk huffed and patched")
	}
	ps.pending = nil
	ps.curSeg++
	return nil
}

// patchBits writes the low bitLen bits of newBits (LSB-first packed) into
// backing at absolute bit offset bitOffset, read-modify-writing the
// partial bytes at either boundary so that bits outside [bitOffset,
// bitOffset+bitLen) already present in backing survive untouched.
func patchBits(backing Stream, bitOffset, bitLen uint64, newBits []byte) error {
	startByte := bitOffset / 8
	endByte := (bitOffset + bitLen + 7) / 8
	n := endByte - startByte

	existing := make([]byte, n)
	size, err := backing.GetSize()
	if err != nil {
		return err
	}
	if startByte < size {
		toRead := n
		if startByte+toRead > size {
			toRead = size - startByte
		}
		if toRead > 0 {
			if err := backing.Seek(startByte); err != nil {
				return err
			}
			if _, err := backing.Read(existing[:toRead]); err != nil {
				return err
			}
		}
	}

	startBit := bitOffset % 8
	for i := uint64(0); i < bitLen; i++ {
		pos := startBit + i
		byteIdx := pos / 8
		bitIdx := pos % 8
		bit := (newBits[i/8] >> (i % 8)) & 1
		if bit != 0 {
			existing[byteIdx] |= 1 << bitIdx
		} else {
			existing[byteIdx] &^= 1 << bitIdx
		}
	}

	if err := backing.Seek(startByte); err != nil {
		return err
	}
	_, err = backing.Write(existing)
	return err
}
