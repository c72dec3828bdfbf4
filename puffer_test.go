package puffin

import (
	"bytes"
	"compress/flate"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// deflateBytes compresses data at the given compress/flate level, used to
// generate real-world DEFLATE streams (stored, fixed, and dynamic blocks,
// depending on level and input) without hand-rolling bit patterns.
func deflateBytes(t *testing.T, data []byte, level int) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, level)
	if err != nil {
		t.Fatalf("flate.NewWriter: %v", err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatalf("flate write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("flate close: %v", err)
	}
	return buf.Bytes()
}

func inflateBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	r := flate.NewReader(bytes.NewReader(data))
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("flate decompress: %v", err)
	}
	return out
}

// roundTrip exercises the full-fidelity PuffDeflateAll/HuffDeflateAll pair
// rather than PuffDeflate/HuffDeflate: the latter intentionally omits
// stored-block content when extents are requested (see PuffDeflate's doc
// comment), so it is not the pair to use for checking the universal
// huff(puff(D)) == D property against arbitrary block mixes.
func roundTrip(t *testing.T, deflate []byte, excludeBadDistanceCache bool) (puff []byte, extents []BitExtent, rebuilt []byte) {
	t.Helper()
	p := NewPuffer(excludeBadDistanceCache)
	puff, err := p.PuffDeflateAll(NewBitReader(deflate))
	if err != nil {
		t.Fatalf("PuffDeflateAll: %v", err)
	}

	h := NewHuffer()
	out := make([]byte, len(deflate)+16)
	bw := NewBitWriter(out)
	if err := h.HuffDeflateAll(puff, bw); err != nil {
		t.Fatalf("HuffDeflateAll: %v", err)
	}
	rebuilt = out[:bw.Size()]
	return puff, nil, rebuilt
}

func TestPuffHuffRoundTripExact(t *testing.T) {
	vectors := map[string][]byte{
		"empty":     {},
		"one-byte":  {0x42},
		"digits":    []byte("0123456789012345678901234567890123456789"),
		"repeats":   bytes.Repeat([]byte("abcabcabc"), 200),
		"text":      []byte("the quick brown fox jumps over the lazy dog, the quick brown fox jumps again"),
		"binary":    {0x00, 0xff, 0x10, 0xef, 0x01, 0x02, 0x03, 0x00, 0x00, 0xff, 0xff, 0x80},
		"long-zero": make([]byte, 70000),
	}

	for name, data := range vectors {
		for _, level := range []int{flate.NoCompression, flate.BestSpeed, flate.DefaultCompression, flate.BestCompression} {
			name, data, level := name, data, level
			t.Run(name, func(t *testing.T) {
				deflate := deflateBytes(t, data, level)
				_, _, rebuilt := roundTrip(t, deflate, false)
				if diff := cmp.Diff(deflate, rebuilt); diff != "" {
					t.Fatalf("huff(puff(deflate)) != deflate at level %d:\n%s", level, diff)
				}
				if got := inflateBytes(t, rebuilt); !bytes.Equal(got, data) {
					t.Fatalf("rebuilt stream decompresses to wrong data at level %d: got %d bytes, want %d", level, len(got), len(data))
				}
			})
		}
	}
}

func TestPuffDeflateUncompressedBlock(t *testing.T) {
	deflate := deflateBytes(t, []byte("hello world"), flate.NoCompression)
	p := NewPuffer(false)
	puff, extents, err := p.PuffDeflate(NewBitReader(deflate))
	if err != nil {
		t.Fatalf("PuffDeflate: %v", err)
	}
	if len(extents) != 0 {
		t.Fatalf("stored blocks must not be reported as extents, got %v", extents)
	}
	if len(puff) != 0 {
		t.Fatalf("stored-only content must be omitted from the puff output when extents are requested, got %d bytes", len(puff))
	}
}

func TestPuffDeflateAllKeepsStoredBlockContent(t *testing.T) {
	deflate := deflateBytes(t, []byte("hello world"), flate.NoCompression)
	p := NewPuffer(false)
	puff, err := p.PuffDeflateAll(NewBitReader(deflate))
	if err != nil {
		t.Fatalf("PuffDeflateAll: %v", err)
	}
	if len(puff) == 0 {
		t.Fatal("PuffDeflateAll must keep stored-block content, got empty puff output")
	}

	h := NewHuffer()
	out := make([]byte, len(deflate)+16)
	bw := NewBitWriter(out)
	if err := h.HuffDeflateAll(puff, bw); err != nil {
		t.Fatalf("HuffDeflateAll: %v", err)
	}
	if diff := cmp.Diff(deflate, out[:bw.Size()]); diff != "" {
		t.Fatalf("huff(puff(deflate)) != deflate for an all-stored stream:\n%s", diff)
	}
}

func TestPuffDeflateAllConcatenatedStreams(t *testing.T) {
	first := deflateBytes(t, []byte("first stream payload"), flate.BestCompression)
	second := deflateBytes(t, []byte("second stream payload, not the same as the first"), flate.BestCompression)
	deflate := append(append([]byte(nil), first...), second...)

	p := NewPuffer(false)
	puff, err := p.PuffDeflateAll(NewBitReader(deflate))
	if err != nil {
		t.Fatalf("PuffDeflateAll: %v", err)
	}

	h := NewHuffer()
	out := make([]byte, len(deflate)+16)
	bw := NewBitWriter(out)
	if err := h.HuffDeflateAll(puff, bw); err != nil {
		t.Fatalf("HuffDeflateAll: %v", err)
	}
	if diff := cmp.Diff(deflate, out[:bw.Size()]); diff != "" {
		t.Fatalf("huff(puff(deflate)) across concatenated streams != deflate:\n%s", diff)
	}
}

// TestPuffHuffPreservesStoredBlockPadding hand-builds a stored block whose
// boundary-fill bits (between the 3-bit block header and the next byte
// boundary) are nonzero, something compress/flate itself never emits but
// real-world encoders aren't guaranteed to avoid.
func TestPuffHuffPreservesStoredBlockPadding(t *testing.T) {
	buf := make([]byte, 16)
	bw := NewBitWriter(buf)
	if err := bw.WriteBits(1, 1); err != nil { // BFINAL
		t.Fatalf("WriteBits: %v", err)
	}
	if err := bw.WriteBits(2, 0); err != nil { // BTYPE = stored
		t.Fatalf("WriteBits: %v", err)
	}
	if err := bw.WriteBoundaryBits(0b10110); err != nil { // nonzero padding
		t.Fatalf("WriteBoundaryBits: %v", err)
	}
	data := []byte("hi")
	length := uint16(len(data))
	if err := bw.WriteBytes([]byte{byte(length), byte(length >> 8), byte(^length), byte(^length >> 8)}); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	if err := bw.WriteBytes(data); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	if err := bw.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	deflate := buf[:bw.Size()]

	p := NewPuffer(false)
	puff, err := p.PuffDeflateAll(NewBitReader(deflate))
	if err != nil {
		t.Fatalf("PuffDeflateAll: %v", err)
	}
	h := NewHuffer()
	out := make([]byte, len(deflate)+8)
	obw := NewBitWriter(out)
	if err := h.HuffDeflateAll(puff, obw); err != nil {
		t.Fatalf("HuffDeflateAll: %v", err)
	}
	if diff := cmp.Diff(deflate, out[:obw.Size()]); diff != "" {
		t.Fatalf("huff(puff(deflate)) with nonzero stored-block padding != deflate:\n%s", diff)
	}
}

func TestExcludeBadDistanceCache(t *testing.T) {
	// A run of a single repeated byte, long enough to force the deflate
	// encoder into back-references that all share one distance: its
	// distance Huffman table degenerates to a single nonzero-length code.
	data := bytes.Repeat([]byte{0x41}, 5000)
	deflate := deflateBytes(t, data, flate.BestCompression)

	pInclude := NewPuffer(false)
	_, includedExtents, err := pInclude.PuffDeflate(NewBitReader(deflate))
	if err != nil {
		t.Fatalf("PuffDeflate (include): %v", err)
	}

	pExclude := NewPuffer(true)
	_, excludedExtents, err := pExclude.PuffDeflate(NewBitReader(deflate))
	if err != nil {
		t.Fatalf("PuffDeflate (exclude): %v", err)
	}

	if len(excludedExtents) > len(includedExtents) {
		t.Fatalf("excluding bad distance caches should never add extents: got %d > %d", len(excludedExtents), len(includedExtents))
	}
}

func TestPuffRejectsCorruptHeader(t *testing.T) {
	// BTYPE == 3 is reserved and must be rejected.
	deflate := []byte{0x07} // BFINAL=1, BTYPE=11
	p := NewPuffer(false)
	if _, _, err := p.PuffDeflate(NewBitReader(deflate)); err == nil {
		t.Fatal("expected an error for a reserved block type")
	}
}

func TestPuffRejectsTruncatedStream(t *testing.T) {
	deflate := deflateBytes(t, []byte("truncate me please"), flate.BestCompression)
	p := NewPuffer(false)
	if _, _, err := p.PuffDeflate(NewBitReader(deflate[:len(deflate)-2])); err == nil {
		t.Fatal("expected an error for a truncated stream")
	}
}
