package torrent

// BitfieldSet is the bit-packed piece map a peer announces, most significant bit first.
type BitfieldSet []byte

// HasPiece reports whether bit index is set.
func (bf BitfieldSet) HasPiece(index int) bool {
	byteIndex := index / 8
	bitIndex := index % 8

	if index < 0 || byteIndex >= len(bf) {
		return false
	}

	return (bf[byteIndex]>>(7-bitIndex))&1 == 1
}

// SetPiece sets bit index, ignoring indices past the end of the map. Together with
// NewBitfieldSet it builds the map a seeding side announces.
func (bf BitfieldSet) SetPiece(index int) {
	byteIndex := index / 8
	bitIndex := index % 8

	if index < 0 || byteIndex >= len(bf) {
		return
	}

	bf[byteIndex] |= 1 << (7 - bitIndex)
}

// Pieces lists the set bits in increasing order.
func (bf BitfieldSet) Pieces() []int {
	var pieces []int
	for i := 0; i < len(bf)*8; i++ {
		if bf.HasPiece(i) {
			pieces = append(pieces, i)
		}
	}

	return pieces
}

// NewBitfieldSet returns an empty map large enough for count pieces.
func NewBitfieldSet(count int) BitfieldSet {
	return make(BitfieldSet, (count+7)/8)
}
