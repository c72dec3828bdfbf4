package puffin

// ExtentStream presents a backing Stream's selected byte ranges,
// concatenated, as one contiguous logical stream, without copying the rest
// of a (possibly huge) backing file.
//
// Writing at the current logical end always extends the last extent
// (mirroring MemoryStream's grow-on-write behavior); ExtentStream never
// invents a new backing extent on its own, apart from the first extent
// at backing offset 0 that a write to an extent-less stream creates.
// Writes that do not start at the logical end are not supported.
type ExtentStream struct {
	backing Stream
	extents []ByteExtent
	pos     uint64 // logical offset, 0..size
	closed  bool
}

// NewExtentStream composes an ExtentStream over backing using extents, in
// the order given. extents is copied; ExtentStream owns its own slice so
// that write-extension (see Write) does not alias the caller's slice.
func NewExtentStream(backing Stream, extents []ByteExtent) *ExtentStream {
	return &ExtentStream{backing: backing, extents: append([]ByteExtent(nil), extents...)}
}

func (es *ExtentStream) size() uint64 {
	var total uint64
	for _, e := range es.extents {
		total += e.Length
	}
	return total
}

// locate returns the index of the extent containing logical offset off
// and the offset within that extent, or ok=false if off is at or past the
// logical end.
func (es *ExtentStream) locate(off uint64) (idx int, within uint64, ok bool) {
	var base uint64
	for i, e := range es.extents {
		if off < base+e.Length {
			return i, off - base, true
		}
		base += e.Length
	}
	return 0, 0, false
}

func (es *ExtentStream) Read(p []byte) (int, error) {
	if es.closed {
		return 0, ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	if es.pos+uint64(len(p)) > es.size() {
		return 0, ErrBoundary
	}

	read := 0
	pos := es.pos
	for read < len(p) {
		idx, within, ok := es.locate(pos)
		if !ok {
			return read, ErrBoundary
		}
		e := es.extents[idx]
		avail := e.Length - within
		want := uint64(len(p) - read)
		n := avail
		if want < n {
			n = want
		}
		if err := es.backing.Seek(e.Offset + within); err != nil {
			return read, err
		}
		got, err := es.backing.Read(p[read : uint64(read)+n])
		read += got
		pos += uint64(got)
		if err != nil {
			return read, err
		}
		if uint64(got) < n {
			return read, ErrBoundary
		}
	}
	es.pos = pos
	return read, nil
}

// Write writes p at the current logical position. If the write would run
// past the current logical end, the last extent is extended to absorb the
// overrun (a fresh ExtentStream with no extents yet, plus a first write,
// creates one extent starting at backing offset 0).
func (es *ExtentStream) Write(p []byte) (int, error) {
	if es.closed {
		return 0, ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	if es.pos != es.size() {
		// Growing a non-final extent would require splicing the extent
		// list; ExtentStream only supports sequential append-style growth.
		panic(Error("ExtentStream: write not at logical end"))
	}

	if len(es.extents) == 0 {
		es.extents = append(es.extents, ByteExtent{Offset: 0, Length: 0})
	}
	last := &es.extents[len(es.extents)-1]
	if err := es.backing.Seek(last.Offset + last.Length); err != nil {
		return 0, err
	}
	n, err := es.backing.Write(p)
	last.Length += uint64(n)
	es.pos += uint64(n)
	return n, err
}

func (es *ExtentStream) Seek(pos uint64) error {
	if es.closed {
		return ErrClosed
	}
	if pos > es.size() {
		return ErrInvalidSeek
	}
	es.pos = pos
	return nil
}

func (es *ExtentStream) GetOffset() (uint64, error) { return es.pos, nil }
func (es *ExtentStream) GetSize() (uint64, error)   { return es.size(), nil }
func (es *ExtentStream) Close() error {
	es.closed = true
	return es.backing.Close()
}
