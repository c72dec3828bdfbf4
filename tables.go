package puffin

// Fixed-table and range-code constants from RFC 1951 §3.2.5/§3.2.6,
// mirrored from dsnet-compress/flate/prefix.go's lenLUT/distLUT and fixed
// code-length tables.

const (
	maxLitLenSyms = 286
	maxDistSyms   = 30
	maxCLenSyms   = 19
	endOfBlockSym = 256
)

// lenRange describes one entry of the length range-code table: baseLen is
// the smallest length the code represents, extraBits is how many extra
// bits follow to select within the range.
type lenRange struct {
	baseLen   uint32
	extraBits uint8
}

// lenLUT is indexed by (symbol - 257) for length symbols 257..285.
var lenLUT = [29]lenRange{
	{3, 0}, {4, 0}, {5, 0}, {6, 0}, {7, 0}, {8, 0}, {9, 0}, {10, 0},
	{11, 1}, {13, 1}, {15, 1}, {17, 1},
	{19, 2}, {23, 2}, {27, 2}, {31, 2},
	{35, 3}, {43, 3}, {51, 3}, {59, 3},
	{67, 4}, {83, 4}, {99, 4}, {115, 4},
	{131, 5}, {163, 5}, {195, 5}, {227, 5},
	{258, 0},
}

// distRange describes one entry of the distance range-code table.
type distRange struct {
	baseDist  uint32
	extraBits uint8
}

// distLUT is indexed directly by distance symbol 0..29.
var distLUT = [30]distRange{
	{1, 0}, {2, 0}, {3, 0}, {4, 0},
	{5, 1}, {7, 1},
	{9, 2}, {13, 2},
	{17, 3}, {25, 3},
	{33, 4}, {49, 4},
	{65, 5}, {97, 5},
	{129, 6}, {193, 6},
	{257, 7}, {385, 7},
	{513, 8}, {769, 8},
	{1025, 9}, {1537, 9},
	{2049, 10}, {3073, 10},
	{4097, 11}, {6145, 11},
	{8193, 12}, {12289, 12},
	{16385, 13}, {24577, 13},
}

// clenLens gives the order in which HCLEN code-length-of-code-length
// entries appear in a dynamic block header, per RFC 1951 §3.2.7.
var clenLens = [maxCLenSyms]uint8{16, 17, 18, 0, 8, 7, 9, 6, 10, 5, 11, 4, 12, 3, 13, 2, 14, 1, 15}

// fixedLitLenLengths is the literal/length code-length table used by
// fixed-Huffman (BTYPE=01) blocks, RFC 1951 §3.2.6.
var fixedLitLenLengths = func() []uint8 {
	lens := make([]uint8, 288)
	for i := 0; i <= 143; i++ {
		lens[i] = 8
	}
	for i := 144; i <= 255; i++ {
		lens[i] = 9
	}
	for i := 256; i <= 279; i++ {
		lens[i] = 7
	}
	for i := 280; i <= 287; i++ {
		lens[i] = 8
	}
	return lens
}()

// fixedDistLengths is the distance code-length table used by fixed-Huffman
// blocks: all 32 codes get 5 bits, though only 0..29 are ever valid
// symbols (30 and 31 are reserved and must be rejected if seen).
var fixedDistLengths = func() []uint8 {
	lens := make([]uint8, 32)
	for i := range lens {
		lens[i] = 5
	}
	return lens
}()

var fixedLitLenTable = func() *HuffmanTable {
	t := &HuffmanTable{}
	if err := t.Build(fixedLitLenLengths); err != nil {
		panic(err)
	}
	return t
}()

var fixedDistTable = func() *HuffmanTable {
	t := &HuffmanTable{}
	if err := t.Build(fixedDistLengths); err != nil {
		panic(err)
	}
	return t
}()
