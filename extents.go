package puffin

// BitExtent is a half-open range [Offset, Offset+Length) into a deflate
// byte buffer, measured in bits. A zero-length extent is valid and is used
// as the sentinel for an empty deflate block.
type BitExtent struct {
	Offset uint64
	Length uint64
}

// End returns the (exclusive) bit offset just past the extent.
func (e BitExtent) End() uint64 { return e.Offset + e.Length }

// ByteExtent is a half-open range [Offset, Offset+Length) into a puff byte
// buffer, measured in bytes. A zero-length extent is valid.
type ByteExtent struct {
	Offset uint64
	Length uint64
}

// End returns the (exclusive) byte offset just past the extent.
func (e ByteExtent) End() uint64 { return e.Offset + e.Length }
