package puffin

// BitWriter performs LSB-first bit I/O into a fixed byte buffer, the
// symmetric counterpart of BitReader. It never allocates past its initial
// buffer and reports ErrBoundary rather than growing it.
type BitWriter struct {
	buf     []byte
	bytePos int    // index of the next unwritten byte in buf
	cache   uint64 // shift register, low cacheN bits pending
	cacheN  uint
}

// NewBitWriter constructs a BitWriter that writes into buf, starting at
// offset 0. buf's capacity bounds the writer; WriteBits/Flush return
// ErrBoundary rather than growing it.
func NewBitWriter(buf []byte) *BitWriter {
	return &BitWriter{buf: buf}
}

// Size returns the number of whole bytes written so far (pending,
// unflushed bits are not counted).
func (bw *BitWriter) Size() int { return bw.bytePos }

// WriteBits appends the low nb bits of value (LSB-first) to the stream. nb
// must be at most 32.
func (bw *BitWriter) WriteBits(nb uint, value uint32) error {
	if nb > 32 {
		panic(Error("WriteBits: nb exceeds 32"))
	}
	if nb == 0 {
		return nil
	}
	if uint64(bw.bytePos)*8+uint64(bw.cacheN)+uint64(nb) > uint64(len(bw.buf))*8 {
		return ErrBoundary
	}
	bw.cache |= uint64(value&(1<<nb-1)) << bw.cacheN
	bw.cacheN += nb
	for bw.cacheN >= 8 {
		if bw.bytePos >= len(bw.buf) {
			return ErrBoundary
		}
		bw.buf[bw.bytePos] = byte(bw.cache)
		bw.bytePos++
		bw.cache >>= 8
		bw.cacheN -= 8
	}
	return nil
}

// WriteSymbol emits the canonical Huffman code for sym according to t.
func (bw *BitWriter) WriteSymbol(t *HuffmanTable, sym uint32) error {
	length, code, err := t.encode(sym)
	if err != nil {
		return err
	}
	return bw.WriteBits(length, code)
}

// WriteBoundaryBits pads the stream to the next byte boundary, writing the
// low bits of v verbatim as the padding (LSB-first, same convention as
// WriteBits). Whatever bits aren't needed to reach the boundary are
// ignored.
func (bw *BitWriter) WriteBoundaryBits(v uint32) error {
	nb := (8 - bw.cacheN%8) % 8
	if nb == 0 {
		return nil
	}
	return bw.WriteBits(nb, v)
}

// Flush writes out any pending partial byte, zero-padding the remaining
// high bits. After Flush, cacheN is always 0.
func (bw *BitWriter) Flush() error {
	if bw.cacheN == 0 {
		return nil
	}
	if bw.bytePos >= len(bw.buf) {
		return ErrBoundary
	}
	bw.buf[bw.bytePos] = byte(bw.cache)
	bw.bytePos++
	bw.cache = 0
	bw.cacheN = 0
	return nil
}

// WriteBytes writes raw bytes directly, bypassing the bit cache. The writer
// must be byte-aligned (cacheN == 0, i.e. Flush or a boundary write has
// just completed a byte).
func (bw *BitWriter) WriteBytes(src []byte) error {
	if bw.cacheN != 0 {
		panic(Error("WriteBytes: writer is not byte-aligned"))
	}
	if len(bw.buf)-bw.bytePos < len(src) {
		return ErrBoundary
	}
	copy(bw.buf[bw.bytePos:], src)
	bw.bytePos += len(src)
	return nil
}
