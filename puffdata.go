package puffin

import "encoding/binary"

// PuffDataKind identifies which variant a PuffData record holds.
type PuffDataKind uint8

const (
	KindLiteral PuffDataKind = iota
	KindLiterals
	KindLenDist
	KindBlockMetadata
	KindEndOfBlock
)

// Block type values recorded in a KindBlockMetadata record, mirroring
// DEFLATE's BTYPE field (RFC 1951 §3.2.3).
const (
	BTypeStored  uint8 = 0
	BTypeFixed   uint8 = 1
	BTypeDynamic uint8 = 2
)

// PuffData is the tagged union of records making up the puff wire format: a
// deflate stream puffs down to a flat sequence of these, and a puff stream
// huffs back up by replaying them in order. Only the fields relevant to
// Kind are meaningful; the rest are zero.
//
// KindLiteral holds a single literal byte and KindLiterals a longer run;
// on the wire both use the Literals encoding (see the tag layout below).
// Both carry plain decoded literal bytes, never encoded further.
//
// KindLenDist carries a decoded (length, distance) back-reference pair,
// already resolved from its length/distance symbols and extra bits
// (§4.2/§4.3): Huffer re-derives the symbol and extra-bit split when
// re-encoding, rather than puff carrying the split itself.
//
// KindBlockMetadata carries everything needed to replay a block header
// verbatim: BType plus, for a dynamic block, the raw captured header bits
// (HLIT/HDIST/HCLEN counts, the code-length-of-code-lengths sequence and
// the RLE-coded literal/length and distance code-length sequences)
// exactly as they appeared in the source stream. Replaying captured bits
// rather than re-deriving a canonical encoding is what makes
// huff(puff(deflate)) bit-exact regardless of how "canonical" the original
// encoder's header was; see the design note in SPEC_FULL.md §6.
//
// For a stored block, PadBits carries the bits between the 3-bit block
// header and the next byte boundary: real encoders don't always zero them,
// and replaying them verbatim (rather than hard-coding zero) is required
// for the same bit-exactness guarantee.
//
// KindEndOfBlock marks the end of one block's body and carries the
// block's own final-block bit.
type PuffData struct {
	Kind PuffDataKind

	Literal  byte
	Literals []byte

	Length   uint32
	Distance uint32

	BType        uint8
	HeaderBits   []byte
	HeaderBitLen uint
	PadBits      uint8

	Final bool
}

// Wire tag layout. A single leading tag byte identifies both the kind and,
// for the common short cases, the payload length, so most records cost
// exactly one header byte:
//
//	0x00-0x7E  Literals, run length = tag+1 (1..127 bytes follow)
//	0x7F       Literals, escaped: 4-byte LE length follows, then the bytes
//	0x80       LenDist: 2-byte LE length (3..258), 2-byte LE distance-1
//	           (distance 1..32768)
//	0xC0       BlockMetadata: 1 byte BType, 1 byte PadBits (stored-block
//	           boundary-fill bits, low bits valid, unused for Fixed/Dynamic),
//	           4-byte LE header-bit-length, then ceil(bits/8) bytes of
//	           header payload. The exact bit length must survive the round
//	           trip (a dynamic header is not generally byte-aligned), so
//	           unlike Literals/LenDist this record does not try to pack its
//	           length into the tag byte.
//	0xFF       EndOfBlock, one following byte holds the final-block flag
//
// 0xC1-0xEF are reserved within the BlockMetadata tag range for future
// record subtypes. KindLiteral is not distinguished on the wire: it is
// simply the len==1 case of the Literals encoding, re-split back into
// KindLiteral by the decoder for symmetry with the type's two Go-level
// constructors.
const (
	tagLiteralsMax    = 0x7E
	tagLiteralsEscape = 0x7F
	tagLenDist        = 0x80
	tagBlockMeta      = 0xC0
	tagEndOfBlock     = 0xFF
)

// EncodePuffData appends the wire encoding of d to buf and returns the
// extended slice.
func EncodePuffData(buf []byte, d PuffData) ([]byte, error) {
	switch d.Kind {
	case KindLiteral:
		return encodeLiterals(buf, []byte{d.Literal})
	case KindLiterals:
		return encodeLiterals(buf, d.Literals)
	case KindLenDist:
		if d.Length < 3 || d.Length > 258 || d.Distance < 1 || d.Distance > 32768 {
			return buf, ErrCorrupt
		}
		buf = append(buf, tagLenDist)
		buf = appendU16(buf, uint16(d.Length))
		buf = appendU16(buf, uint16(d.Distance-1))
		return buf, nil
	case KindBlockMetadata:
		buf = append(buf, tagBlockMeta)
		buf = append(buf, d.BType)
		buf = append(buf, d.PadBits)
		buf = appendU32(buf, uint32(d.HeaderBitLen))
		nbytes := int((d.HeaderBitLen + 7) / 8)
		payload := make([]byte, nbytes)
		copy(payload, d.HeaderBits)
		buf = append(buf, payload...)
		return buf, nil
	case KindEndOfBlock:
		buf = append(buf, tagEndOfBlock)
		var f byte
		if d.Final {
			f = 1
		}
		buf = append(buf, f)
		return buf, nil
	default:
		return buf, ErrCorrupt
	}
}

// DecodePuffData decodes one record from the front of buf, returning the
// record and the number of bytes consumed.
func DecodePuffData(buf []byte) (PuffData, int, error) {
	if len(buf) == 0 {
		return PuffData{}, 0, ErrBoundary
	}
	tag := buf[0]
	switch {
	case tag <= tagLiteralsMax:
		n := int(tag) + 1
		if len(buf) < 1+n {
			return PuffData{}, 0, ErrBoundary
		}
		lits := append([]byte(nil), buf[1:1+n]...)
		if n == 1 {
			return PuffData{Kind: KindLiteral, Literal: lits[0]}, 1 + n, nil
		}
		return PuffData{Kind: KindLiterals, Literals: lits}, 1 + n, nil

	case tag == tagLiteralsEscape:
		if len(buf) < 5 {
			return PuffData{}, 0, ErrBoundary
		}
		n := int(binary.LittleEndian.Uint32(buf[1:5]))
		if len(buf) < 5+n {
			return PuffData{}, 0, ErrBoundary
		}
		lits := append([]byte(nil), buf[5:5+n]...)
		return PuffData{Kind: KindLiterals, Literals: lits}, 5 + n, nil

	case tag == tagLenDist:
		if len(buf) < 5 {
			return PuffData{}, 0, ErrBoundary
		}
		length := binary.LittleEndian.Uint16(buf[1:3])
		dist := binary.LittleEndian.Uint16(buf[3:5])
		return PuffData{Kind: KindLenDist, Length: uint32(length), Distance: uint32(dist) + 1}, 5, nil

	case tag == tagBlockMeta:
		if len(buf) < 7 {
			return PuffData{}, 0, ErrBoundary
		}
		btype := buf[1]
		padBits := buf[2]
		bitLen := binary.LittleEndian.Uint32(buf[3:7])
		nbytes := int((bitLen + 7) / 8)
		if len(buf) < 7+nbytes {
			return PuffData{}, 0, ErrBoundary
		}
		bits := append([]byte(nil), buf[7:7+nbytes]...)
		return PuffData{Kind: KindBlockMetadata, BType: btype, PadBits: padBits, HeaderBits: bits, HeaderBitLen: uint(bitLen)}, 7 + nbytes, nil

	case tag == tagEndOfBlock:
		if len(buf) < 2 {
			return PuffData{}, 0, ErrBoundary
		}
		return PuffData{Kind: KindEndOfBlock, Final: buf[1] != 0}, 2, nil

	default:
		return PuffData{}, 0, ErrCorrupt
	}
}

func encodeLiterals(buf []byte, lits []byte) ([]byte, error) {
	if len(lits) == 0 {
		return buf, ErrCorrupt
	}
	if len(lits) <= int(tagLiteralsMax)+1 {
		buf = append(buf, byte(len(lits)-1))
		return append(buf, lits...), nil
	}
	buf = append(buf, tagLiteralsEscape)
	buf = appendU32(buf, uint32(len(lits)))
	return append(buf, lits...), nil
}

func appendU16(buf []byte, v uint16) []byte {
	return append(buf, byte(v), byte(v>>8))
}

func appendU32(buf []byte, v uint32) []byte {
	return append(buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}
