package puffin

import "github.com/sirupsen/logrus"

// Huffer re-encodes a puff record stream back into a bit-exact RFC 1951
// DEFLATE stream, the inverse of Puffer. It mirrors the same block-by-block
// structure: group the records between a BlockMetadata record and the
// following EndOfBlock record, then emit exactly the DEFLATE bits that
// would have produced that group.
type Huffer struct{}

// NewHuffer constructs a Huffer. It has no configuration: unlike Puffer,
// there is nothing to decide when going the other direction.
func NewHuffer() *Huffer {
	return &Huffer{}
}

// HuffDeflate replays the puff records in puff into bw until an EndOfBlock
// record with Final set is reached, the inverse of Puffer.PuffDeflate.
func (h *Huffer) HuffDeflate(puff []byte, bw *BitWriter) (err error) {
	return h.huffRecords(puff, bw, false)
}

// HuffDeflateAll replays every record in puff, continuing past EndOfBlock
// records with Final set instead of stopping at the first one, the
// inverse of Puffer.PuffDeflateAll.
func (h *Huffer) HuffDeflateAll(puff []byte, bw *BitWriter) (err error) {
	return h.huffRecords(puff, bw, true)
}

func (h *Huffer) huffRecords(puff []byte, bw *BitWriter, continuePastFinal bool) (err error) {
	defer errRecover(&err)

	off := 0
	for {
		meta, n, e := DecodePuffData(puff[off:])
		if e != nil {
			panic(e)
		}
		off += n
		if meta.Kind != KindBlockMetadata {
			panic(ErrCorrupt)
		}

		var body []PuffData
		var final bool
		for {
			rec, n, e := DecodePuffData(puff[off:])
			if e != nil {
				panic(e)
			}
			off += n
			if rec.Kind == KindEndOfBlock {
				final = rec.Final
				break
			}
			body = append(body, rec)
		}

		h.writeBlock(bw, meta, body, final)
		if final && !continuePastFinal {
			break
		}
		if continuePastFinal && off >= len(puff) {
			break
		}
	}
	if err := bw.Flush(); err != nil {
		panic(err)
	}
	return nil
}

func (h *Huffer) writeBlock(bw *BitWriter, meta PuffData, body []PuffData, final bool) {
	var finalBit uint32
	if final {
		finalBit = 1
	}
	if err := bw.WriteBits(1, finalBit); err != nil {
		panic(err)
	}
	if err := bw.WriteBits(2, uint32(btypeCode(meta.BType))); err != nil {
		panic(err)
	}

	switch meta.BType {
	case BTypeStored:
		h.writeStoredBody(bw, body, meta.PadBits)
	case BTypeFixed:
		h.writeHuffmanBody(bw, body, fixedLitLenTable, fixedDistTable)
	case BTypeDynamic:
		writeRawBits(bw, meta.HeaderBits, meta.HeaderBitLen)
		hbr := NewBitReader(meta.HeaderBits)
		litTable, distTable, _ := parseDynamicHeaderBody(hbr)
		h.writeHuffmanBody(bw, body, litTable, distTable)
	default:
		panic(ErrCorrupt)
	}

	log.WithFields(logrus.Fields{
		"btype": meta.BType,
		"final": final,
	}).Trace("puffin: huffed block")
}

func (h *Huffer) writeStoredBody(bw *BitWriter, body []PuffData, padBits uint8) {
	if err := bw.WriteBoundaryBits(uint32(padBits)); err != nil {
		panic(err)
	}
	var data []byte
	if len(body) > 1 {
		panic(ErrCorrupt)
	}
	if len(body) == 1 {
		switch body[0].Kind {
		case KindLiteral:
			data = []byte{body[0].Literal}
		case KindLiterals:
			data = body[0].Literals
		default:
			panic(ErrCorrupt)
		}
	}
	length := uint16(len(data))
	if err := bw.WriteBytes([]byte{byte(length), byte(length >> 8), byte(^length), byte(^length >> 8)}); err != nil {
		panic(err)
	}
	if len(data) > 0 {
		if err := bw.WriteBytes(data); err != nil {
			panic(err)
		}
	}
}

func (h *Huffer) writeHuffmanBody(bw *BitWriter, body []PuffData, litTable, distTable *HuffmanTable) {
	for _, rec := range body {
		switch rec.Kind {
		case KindLiteral:
			if err := bw.WriteSymbol(litTable, uint32(rec.Literal)); err != nil {
				panic(err)
			}
		case KindLiterals:
			for _, b := range rec.Literals {
				if err := bw.WriteSymbol(litTable, uint32(b)); err != nil {
					panic(err)
				}
			}
		case KindLenDist:
			lsym, lextra, lnbits := lengthToSymbol(rec.Length)
			if err := bw.WriteSymbol(litTable, lsym); err != nil {
				panic(err)
			}
			if err := bw.WriteBits(lnbits, lextra); err != nil {
				panic(err)
			}
			dsym, dextra, dnbits := distanceToSymbol(rec.Distance)
			if err := bw.WriteSymbol(distTable, dsym); err != nil {
				panic(err)
			}
			if err := bw.WriteBits(dnbits, dextra); err != nil {
				panic(err)
			}
		default:
			panic(ErrCorrupt)
		}
	}
	if err := bw.WriteSymbol(litTable, endOfBlockSym); err != nil {
		panic(err)
	}
}

func btypeCode(bt uint8) uint8 {
	switch bt {
	case BTypeStored:
		return 0
	case BTypeFixed:
		return 1
	case BTypeDynamic:
		return 2
	default:
		panic(ErrCorrupt)
	}
}

// lengthToSymbol maps a decoded match length back to its length symbol
// (257..285), the extra bits to encode, and how many extra bits that is.
func lengthToSymbol(length uint32) (sym uint32, extra uint32, nbits uint) {
	for i := len(lenLUT) - 1; i >= 0; i-- {
		if length >= lenLUT[i].baseLen {
			return uint32(257 + i), length - lenLUT[i].baseLen, uint(lenLUT[i].extraBits)
		}
	}
	panic(ErrCorrupt)
}

// distanceToSymbol maps a decoded match distance back to its distance
// symbol (0..29), the extra bits to encode, and how many extra bits that is.
func distanceToSymbol(dist uint32) (sym uint32, extra uint32, nbits uint) {
	for i := len(distLUT) - 1; i >= 0; i-- {
		if dist >= distLUT[i].baseDist {
			return uint32(i), dist - distLUT[i].baseDist, uint(distLUT[i].extraBits)
		}
	}
	panic(ErrCorrupt)
}

// writeRawBits writes the low bitLen bits of bits (LSB-first packed) to bw
// verbatim, used to replay a captured dynamic block header exactly as it
// appeared in the source stream rather than re-deriving a (possibly
// different) canonical encoding for it.
func writeRawBits(bw *BitWriter, bits []byte, bitLen uint) {
	i := uint(0)
	for i < bitLen {
		chunk := bitLen - i
		if chunk > 24 {
			chunk = 24
		}
		var v uint32
		for j := uint(0); j < chunk; j++ {
			pos := i + j
			byteIdx := pos / 8
			bitIdx := pos % 8
			if int(byteIdx) < len(bits) && bits[byteIdx]&(1<<bitIdx) != 0 {
				v |= 1 << j
			}
		}
		if err := bw.WriteBits(chunk, v); err != nil {
			panic(err)
		}
		i += chunk
	}
}
