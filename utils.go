package puffin

// FindPuffLocations transcodes each of deflateExtents independently,
// seeking the backing stream to that extent's own bit offset each time
// rather than puffing the stream as one continuous pass, because the
// bytes between extents are not assumed to be deflate content at all — a
// container format is free to interleave raw gap bytes between deflate
// blocks (see PuffinStream's passthrough regions), which a single
// contiguous puffBlocks pass over the whole backing buffer could not skip
// over. It returns the byte extent each deflateExtents[i] occupies in the
// concatenated puff stream (in the same order as deflateExtents) plus the
// total size of that puff stream.
//
// Every entry of deflateExtents must exactly match a single whole block
// boundary Puffer itself would discover there (offset and length both); a
// deflate extent that doesn't correspond to exactly one whole block is an
// error.
func FindPuffLocations(backing Stream, deflateExtents []BitExtent) ([]ByteExtent, uint64, error) {
	if err := backing.Seek(0); err != nil {
		return nil, 0, err
	}
	size, err := backing.GetSize()
	if err != nil {
		return nil, 0, err
	}
	buf := make([]byte, size)
	if _, err := backing.Read(buf); err != nil {
		return nil, 0, err
	}

	p := NewPuffer(false)
	result := make([]ByteExtent, len(deflateExtents))
	var total uint64
	for i, de := range deflateExtents {
		br := NewBitReader(buf)
		if err := br.SeekBits(de.Offset); err != nil {
			return nil, 0, err
		}
		chunkPuff, blockDeflate, _, _, err := p.puffBlocks(br, de.Length, false, false)
		if err != nil {
			return nil, 0, err
		}
		if len(blockDeflate) != 1 || blockDeflate[0] != de {
			return nil, 0, ErrCorrupt
		}
		result[i] = ByteExtent{Offset: total, Length: uint64(len(chunkPuff))}
		total += uint64(len(chunkPuff))
	}
	return result, total, nil
}
