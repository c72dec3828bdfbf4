package puffin

import "github.com/sirupsen/logrus"

// Puffer transcodes a raw DEFLATE stream (RFC 1951) into the puff wire
// format, one block at a time. Its block dispatch mirrors
// dsnet-compress/flate/reader.go's readBlockHeader/readBlock state machine,
// generalized to emit PuffData records instead of decompressed bytes.
type Puffer struct {
	// excludeBadDistanceCache, when true, causes a dynamic block whose
	// distance code-length table has exactly one nonzero-length code (a
	// "bad distance cache": every back-reference in the block necessarily
	// reuses the same distance code) to still be puffed normally, but omitted
	// from the returned deflate extents. Such blocks make poor anchors
	// for an external binary-diff pass, which is all the extents exist
	// to support.
	excludeBadDistanceCache bool
}

// NewPuffer constructs a Puffer. See Puffer.excludeBadDistanceCache.
func NewPuffer(excludeBadDistanceCache bool) *Puffer {
	return &Puffer{excludeBadDistanceCache: excludeBadDistanceCache}
}

// PuffDeflate reads DEFLATE blocks from br, stopping after the first final
// block, and returns the puff-encoded record stream together with the bit
// extents of the blocks worth tracking for patching purposes. This is the
// "deflates output vector provided" mode: it locates a single deflate
// stream rather than running to input exhaustion, and — because a patching
// pipeline handles uncompressible stored blocks as raw bytes on its own —
// stored blocks are consumed from the bitstream but omitted entirely from
// both the extent list and the puff output. Use PuffDeflateAll for a
// full-fidelity transcode of every block, stored included.
func (p *Puffer) PuffDeflate(br *BitReader) (puff []byte, extents []BitExtent, err error) {
	defer errRecover(&err)
	puff, blockDeflate, _, blockTracked, e := p.puffBlocks(br, 0, false, true)
	if e != nil {
		return nil, nil, e
	}
	for i, tracked := range blockTracked {
		if tracked {
			extents = append(extents, blockDeflate[i])
		}
	}
	return puff, extents, nil
}

// PuffDeflateAll reads DEFLATE blocks from br until the input is exhausted
// rather than stopping at the first final block, covering the case of
// several independently-terminated deflate streams concatenated back to
// back. It never tracks extents and never omits stored-block content, so
// huff(PuffDeflateAll(D)) reproduces D bit-exactly regardless of block
// mix — this is the "deflates output vector not provided" mode.
func (p *Puffer) PuffDeflateAll(br *BitReader) (puff []byte, err error) {
	defer errRecover(&err)
	puff, _, _, _, e := p.puffBlocks(br, 0, true, false)
	if e != nil {
		return nil, e
	}
	return puff, nil
}

// puffBlocks runs the block loop and, unlike PuffDeflate, returns a
// blockDeflate/blockPuff extent pair for every block regardless of
// excludeBadDistanceCache or the stored-block exclusion, alongside a
// parallel blockTracked slice recording which of them PuffDeflate itself
// would report. FindPuffLocations and PuffinStream's chunk decoding need
// the unfiltered correspondence to map a caller-supplied deflate extent
// onto its puff byte range.
//
// limitBits, when nonzero, stops the loop once that many bits have been
// consumed from br's starting position rather than running until a final
// block is seen: PuffinStream uses this to decode just one caller-defined
// chunk of blocks out of a larger backing stream. The chunk boundary must
// coincide with a block boundary; puffBlocks does not validate that here,
// it simply stops as soon as the limit is reached or exceeded.
//
// continuePastFinal, when true, keeps reading blocks after a final block
// instead of stopping there, breaking only once br has no bits left —
// PuffDeflateAll's "run to input exhaustion" mode.
//
// omitStored, when true, consumes a stored block from the bitstream
// without emitting any record for it into puff and without marking it
// tracked — PuffDeflate's extent-discovery mode.
func (p *Puffer) puffBlocks(br *BitReader, limitBits uint64, continuePastFinal, omitStored bool) (puff []byte, blockDeflate []BitExtent, blockPuff []ByteExtent, blockTracked []bool, err error) {
	defer errRecover(&err)

	startOffset := br.Offset()
	for {
		blockStart := br.Offset()
		puffStart := len(puff)
		final, e := br.ReadBitsAdvance(1)
		if e != nil {
			panic(e)
		}
		btype, e := br.ReadBitsAdvance(2)
		if e != nil {
			panic(e)
		}
		isFinal := final != 0

		var tracked bool
		switch btype {
		case 0:
			puff = p.puffStored(br, puff, isFinal, omitStored)
			tracked = false
		case 1:
			puff = p.puffHuffmanBlock(br, puff, isFinal, BTypeFixed, fixedLitLenTable, fixedDistTable, nil, 0, nil)
			tracked = true
		case 2:
			litTable, distTable, headerBits, headerBitLen, distLens := p.readDynamicHeader(br)
			puff = p.puffHuffmanBlock(br, puff, isFinal, BTypeDynamic, litTable, distTable, headerBits, headerBitLen, distLens)
			tracked = !(p.excludeBadDistanceCache && isBadDistanceCache(distLens))
		default:
			panic(ErrCorrupt)
		}

		blockDeflate = append(blockDeflate, BitExtent{Offset: blockStart, Length: br.Offset() - blockStart})
		blockPuff = append(blockPuff, ByteExtent{Offset: uint64(puffStart), Length: uint64(len(puff) - puffStart)})
		blockTracked = append(blockTracked, tracked)

		log.WithFields(logrus.Fields{
			"btype": btype,
			"final": isFinal,
			"bits":  br.Offset() - blockStart,
		}).Trace("puffin: puffed block")

		if isFinal && !continuePastFinal {
			break
		}
		if limitBits != 0 && br.Offset()-startOffset >= limitBits {
			break
		}
		if continuePastFinal && br.Offset() >= br.Len() {
			break
		}
	}
	return puff, blockDeflate, blockPuff, blockTracked, nil
}

func (p *Puffer) puffStored(br *BitReader, puff []byte, final, omitStored bool) []byte {
	padBits := byte(br.ReadBoundaryBits())
	br.SkipBoundaryBits()
	lenBuf := make([]byte, 4)
	if err := br.ReadBytes(lenBuf); err != nil {
		panic(err)
	}
	length := uint16(lenBuf[0]) | uint16(lenBuf[1])<<8
	nlength := uint16(lenBuf[2]) | uint16(lenBuf[3])<<8
	if nlength != ^length {
		panic(ErrCorrupt)
	}

	var data []byte
	if length > 0 {
		data = make([]byte, length)
		if err := br.ReadBytes(data); err != nil {
			panic(err)
		}
	}
	if omitStored {
		return puff
	}

	var err error
	puff, err = EncodePuffData(puff, PuffData{Kind: KindBlockMetadata, BType: BTypeStored, PadBits: padBits})
	if err != nil {
		panic(err)
	}
	if len(data) > 0 {
		puff, err = EncodePuffData(puff, PuffData{Kind: KindLiterals, Literals: data})
		if err != nil {
			panic(err)
		}
	}
	puff, err = EncodePuffData(puff, PuffData{Kind: KindEndOfBlock, Final: final})
	if err != nil {
		panic(err)
	}
	return puff
}

func (p *Puffer) puffHuffmanBlock(br *BitReader, puff []byte, final bool, btype uint8, litTable, distTable *HuffmanTable, headerBits []byte, headerBitLen uint, distLens []uint8) []byte {
	var err error
	puff, err = EncodePuffData(puff, PuffData{Kind: KindBlockMetadata, BType: btype, HeaderBits: headerBits, HeaderBitLen: headerBitLen})
	if err != nil {
		panic(err)
	}

	var pending []byte
	flush := func() {
		if len(pending) == 0 {
			return
		}
		kind := KindLiterals
		if len(pending) == 1 {
			kind = KindLiteral
		}
		rec := PuffData{Kind: kind, Literals: pending}
		if kind == KindLiteral {
			rec.Literal = pending[0]
		}
		puff, err = EncodePuffData(puff, rec)
		if err != nil {
			panic(err)
		}
		pending = nil
	}

	for {
		sym, e := br.ReadSymbol(litTable)
		if e != nil {
			panic(e)
		}
		switch {
		case sym < 256:
			pending = append(pending, byte(sym))
		case sym == endOfBlockSym:
			flush()
			puff, err = EncodePuffData(puff, PuffData{Kind: KindEndOfBlock, Final: final})
			if err != nil {
				panic(err)
			}
			return puff
		case sym >= 257 && sym <= 285:
			lr := lenLUT[sym-257]
			extra, e := br.ReadBitsAdvance(uint(lr.extraBits))
			if e != nil {
				panic(e)
			}
			length := lr.baseLen + extra

			distSym, e := br.ReadSymbol(distTable)
			if e != nil {
				panic(e)
			}
			if distSym >= maxDistSyms {
				panic(ErrCorrupt)
			}
			dr := distLUT[distSym]
			dextra, e := br.ReadBitsAdvance(uint(dr.extraBits))
			if e != nil {
				panic(e)
			}
			distance := dr.baseDist + dextra

			flush()
			puff, err = EncodePuffData(puff, PuffData{Kind: KindLenDist, Length: length, Distance: distance})
			if err != nil {
				panic(err)
			}
		default:
			panic(ErrCorrupt)
		}
	}
}

// readDynamicHeader decodes a dynamic block's Huffman-table description
// (RFC 1951 §3.2.7) and returns ready-to-use decode tables for the
// literal/length and distance alphabets, together with the raw bits of
// the header (for verbatim replay by Huffer) and the decoded distance
// code-length vector (for the bad-distance-cache check).
func (p *Puffer) readDynamicHeader(br *BitReader) (litTable, distTable *HuffmanTable, headerBits []byte, headerBitLen uint, distLens []uint8) {
	startBit := br.Offset()
	litTable, distTable, distLens = parseDynamicHeaderBody(br)
	headerBitLen = uint(br.Offset() - startBit)
	headerBits = extractBits(br.buf, startBit, headerBitLen)
	return litTable, distTable, headerBits, headerBitLen, distLens
}

// parseDynamicHeaderBody decodes a dynamic block's Huffman-table
// description starting right after the 3-bit BFINAL/BTYPE header (RFC
// 1951 §3.2.7): HLIT/HDIST/HCLEN, the code-length-of-code-lengths table,
// and the RLE-coded literal/length and distance code-length sequences.
// It is shared between Puffer (parsing a live deflate bitstream) and
// Huffer (re-parsing a BlockMetadata record's captured header bits to
// rebuild the same tables for re-encoding).
func parseDynamicHeaderBody(br *BitReader) (litTable, distTable *HuffmanTable, distLens []uint8) {
	hlit, err := br.ReadBitsAdvance(5)
	if err != nil {
		panic(err)
	}
	hdist, err := br.ReadBitsAdvance(5)
	if err != nil {
		panic(err)
	}
	hclen, err := br.ReadBitsAdvance(4)
	if err != nil {
		panic(err)
	}
	numLitLen := int(hlit) + 257
	numDist := int(hdist) + 1
	numCLen := int(hclen) + 4

	var clenLengths [maxCLenSyms]uint8
	for i := 0; i < numCLen; i++ {
		v, err := br.ReadBitsAdvance(3)
		if err != nil {
			panic(err)
		}
		clenLengths[clenLens[i]] = uint8(v)
	}
	clenTable := &HuffmanTable{}
	if err := clenTable.Build(clenLengths[:]); err != nil {
		panic(err)
	}

	allLens := make([]uint8, numLitLen+numDist)
	var prev uint8
	for i := 0; i < len(allLens); {
		sym, err := br.ReadSymbol(clenTable)
		if err != nil {
			panic(err)
		}
		switch {
		case sym <= 15:
			allLens[i] = uint8(sym)
			prev = uint8(sym)
			i++
		case sym == 16:
			n, err := br.ReadBitsAdvance(2)
			if err != nil {
				panic(err)
			}
			repeat := int(n) + 3
			if i == 0 || i+repeat > len(allLens) {
				panic(ErrCorrupt)
			}
			for j := 0; j < repeat; j++ {
				allLens[i] = prev
				i++
			}
		case sym == 17:
			n, err := br.ReadBitsAdvance(3)
			if err != nil {
				panic(err)
			}
			repeat := int(n) + 3
			if i+repeat > len(allLens) {
				panic(ErrCorrupt)
			}
			i += repeat
			prev = 0
		case sym == 18:
			n, err := br.ReadBitsAdvance(7)
			if err != nil {
				panic(err)
			}
			repeat := int(n) + 11
			if i+repeat > len(allLens) {
				panic(ErrCorrupt)
			}
			i += repeat
			prev = 0
		default:
			panic(ErrCorrupt)
		}
	}

	litLens := allLens[:numLitLen]
	distLens = allLens[numLitLen:]

	litTable = &HuffmanTable{}
	if err := litTable.Build(litLens); err != nil {
		panic(err)
	}
	distTable = &HuffmanTable{}
	if err := distTable.Build(distLens); err != nil {
		panic(err)
	}
	return litTable, distTable, distLens
}

// isBadDistanceCache reports whether distLens describes a distance
// Huffman table with exactly one nonzero-length code: every
// back-reference in the block is then forced to reuse that single
// distance code.
func isBadDistanceCache(distLens []uint8) bool {
	count := 0
	for _, l := range distLens {
		if l != 0 {
			count++
		}
	}
	return count == 1
}

// extractBits copies numBits bits (LSB-first) out of buf starting at
// absolute bit offset startBit, packing them into a new byte slice.
func extractBits(buf []byte, startBit uint64, numBits uint) []byte {
	out := make([]byte, (numBits+7)/8)
	for i := uint(0); i < numBits; i++ {
		pos := startBit + uint64(i)
		byteIdx := pos / 8
		bitIdx := pos % 8
		if byteIdx < uint64(len(buf)) && buf[byteIdx]&(1<<bitIdx) != 0 {
			out[i/8] |= 1 << (i % 8)
		}
	}
	return out
}
