package puffin

// HuffmanTable holds, for up to maxLitLenSyms literal/length symbols or
// maxDistSyms distance symbols, the canonical (code_length, code_bits) pair
// derived purely from a vector of code lengths (RFC 1951 §3.2.2), and a
// decode table built from the same data. The same HuffmanTable instance
// serves both as the decoder (ReadSymbol, via BitReader) and as the
// encoder (WriteSymbol, via BitWriter) for a block: because canonical code
// assignment is a deterministic function of the code-length vector, the
// codes Build recomputes here for re-encoding are bit-for-bit identical to
// whatever a conformant encoder originally produced for the same lengths.
//
// This mirrors the construction in dsnet-compress/brotli/prefix_decoder.go
// (bit-count histogram, nextCodes table, bit-reversal for a reader that
// delivers bits LSB-first), simplified to a single flat decode table sized
// to the alphabet's actual max code length (at most maxHuffmanBits) since
// puffin's alphabets are small enough that a two-level table buys nothing.
type HuffmanTable struct {
	lengths []uint8  // code length per symbol, 0 means unused
	codes   []uint16 // canonical code value, MSB-first bit order, valid where lengths[i] > 0
	rcodes  []uint16 // codes, bit-reversed to length[i] bits (what WriteBits wants)

	decTable []huffDecEntry // flat decode table, size 1<<maxLen
	maxLen   uint8
	numSyms  int
}

type huffDecEntry struct {
	sym    uint16
	length uint8
}

const maxHuffmanBits = 15

// Build constructs the table from lengths, where lengths[sym] is the code
// length (0..15) assigned to symbol sym, 0 meaning "unused". It implements
// the canonical construction of RFC 1951 §3.2.2 and accepts the one
// documented degenerate case: a single symbol with code length 1, which
// real encoders emit even though the resulting tree does not fill out
// (RFC §3.2.7's footnote, mirrored by
// dsnet-compress/flate/bit_reader.go's handleDegenerateCodes). Any other
// under- or over-subscribed tree, including a single symbol with a longer
// code, is rejected with ErrCorrupt.
func (t *HuffmanTable) Build(lengths []uint8) error {
	t.lengths = append(t.lengths[:0], lengths...)
	t.numSyms = 0
	var maxLen uint8
	var bitCount [maxHuffmanBits + 1]int
	for _, l := range lengths {
		if l == 0 {
			continue
		}
		if l > maxHuffmanBits {
			return ErrCorrupt
		}
		t.numSyms++
		bitCount[l]++
		if l > maxLen {
			maxLen = l
		}
	}
	if t.numSyms == 0 {
		t.codes = nil
		t.rcodes = nil
		t.decTable = nil
		t.maxLen = 0
		return nil
	}

	degenerate := t.numSyms == 1
	if degenerate && maxLen != 1 {
		return ErrCorrupt
	}
	if degenerate {
		maxLen = 1
		bitCount = [maxHuffmanBits + 1]int{}
		bitCount[1] = 1
	} else {
		// RFC 1951 §3.2.2: verify the tree is exactly (not over- or
		// under-) subscribed.
		total := 0
		for l := 1; l <= int(maxLen); l++ {
			total += bitCount[l] << (int(maxLen) - l)
		}
		if total != 1<<maxLen {
			return ErrCorrupt
		}
	}

	var nextCode [maxHuffmanBits + 1]uint32
	var code uint32
	for bits := 1; bits <= int(maxLen); bits++ {
		code = (code + uint32(bitCount[bits-1])) << 1
		nextCode[bits] = code
	}

	t.codes = make([]uint16, len(lengths))
	t.rcodes = make([]uint16, len(lengths))
	for sym, l := range lengths {
		if l == 0 {
			continue
		}
		useLen := l
		if degenerate {
			useLen = 1
		}
		c := nextCode[useLen]
		nextCode[useLen]++
		t.codes[sym] = uint16(c)
		t.rcodes[sym] = uint16(reverseBits(c, uint(useLen)))
		if degenerate {
			t.lengths[sym] = 1
		}
	}

	t.maxLen = maxLen
	numChunks := 1 << maxLen
	t.decTable = make([]huffDecEntry, numChunks)
	for sym, l := range t.lengths {
		if l == 0 {
			continue
		}
		rc := t.rcodes[sym]
		skip := 1 << l
		for i := int(rc); i < numChunks; i += skip {
			t.decTable[i] = huffDecEntry{sym: uint16(sym), length: l}
		}
	}
	return nil
}

// decode looks up the symbol encoded by the low bits of bits (LSB-first),
// given that available bits are known to be valid. It returns the symbol
// and the number of bits it consumed.
func (t *HuffmanTable) decode(bits uint32, available uint) (uint32, uint, error) {
	if t.numSyms == 0 {
		return 0, 0, ErrCorrupt
	}
	idx := bits & (uint32(1)<<t.maxLen - 1)
	e := t.decTable[idx]
	if e.length == 0 || uint(e.length) > available {
		return 0, 0, ErrCorrupt
	}
	return uint32(e.sym), uint(e.length), nil
}

// encode returns the bit length and LSB-first-ready code for sym.
func (t *HuffmanTable) encode(sym uint32) (uint, uint32, error) {
	if int(sym) >= len(t.lengths) || t.lengths[sym] == 0 {
		return 0, 0, ErrCorrupt
	}
	return uint(t.lengths[sym]), uint32(t.rcodes[sym]), nil
}

// reverseBits reverses the lower n bits of v, mirroring
// dsnet-compress/flate/common.go's reverseBits/reverseUint32 helpers.
func reverseBits(v uint32, n uint) uint32 {
	var r uint32
	for i := uint(0); i < n; i++ {
		r = (r << 1) | (v & 1)
		v >>= 1
	}
	return r
}
