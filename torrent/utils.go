package torrent

import (
	crand "crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// --------------------------------------------------------------------------------------------- //

// BlockSize is the largest block requested in a single request message.
const BlockSize = 1 << 14 // 16 kB

const peerIDPrefix = "-BF0001-"

// Block is one request-sized span of a piece.
type Block struct {
	Begin  uint32
	Length uint32
}

// --------------------------------------------------------------------------------------------- //

// PieceCount returns the number of pieces, one per 20-byte digest.
func (info *TorrentInfo) PieceCount() int {
	return len(info.Pieces) / 20
}

// PieceHash returns the published digest of piece index.
func (info *TorrentInfo) PieceHash(index int) ([20]byte, error) {
	var hash [20]byte
	if index < 0 || index >= info.PieceCount() {
		return hash, fmt.Errorf("%w: %d not in [0, %d)", ErrPieceOutOfRange, index, info.PieceCount())
	}

	copy(hash[:], info.Pieces[index*20:(index+1)*20])
	return hash, nil
}

/*
PieceSize returns the byte length of piece index. Every piece is PieceLength long except the
last one, which holds whatever remains of the file.

Parameters:
  - index: Zero-based piece index.

Returns:
  - int64: Size of the piece, or 0 if index is out of range.
*/
func (info *TorrentInfo) PieceSize(index int) int64 {
	if index < 0 || index >= info.PieceCount() {
		return 0
	}

	begin := int64(index) * info.PieceLength
	return min(info.PieceLength, info.Length-begin)
}

// Blocks partitions piece index into BlockSize spans in increasing offset order, the last one
// carrying the remainder.
func (info *TorrentInfo) Blocks(index int) []Block {
	size := info.PieceSize(index)
	blocks := make([]Block, 0, (size+BlockSize-1)/BlockSize)

	for offset := int64(0); offset < size; offset += BlockSize {
		blocks = append(blocks, Block{
			Begin:  uint32(offset),
			Length: uint32(min(BlockSize, size-offset)),
		})
	}

	return blocks
}

// --------------------------------------------------------------------------------------------- //

/*
GeneratePeerID builds a 20-byte client identifier in Azureus style: a fixed client prefix
followed by 12 hex characters taken from a random UUID.

Returns:
  - [20]byte: The peer id.
  - error: Non-nil if the random source fails.
*/
func GeneratePeerID() ([20]byte, error) {
	var peerID [20]byte

	id, err := uuid.NewRandom()
	if err != nil {
		return peerID, fmt.Errorf("generating peer id: %w", err)
	}

	copy(peerID[:], peerIDPrefix)
	hex.Encode(peerID[len(peerIDPrefix):], id[:(20-len(peerIDPrefix))/2])

	return peerID, nil
}

func generateTransactionID() (uint32, error) {
	var buf [4]byte

	_, err := crand.Read(buf[:])
	if err != nil {
		return 0, fmt.Errorf("generating transaction id: %w", err)
	}

	return binary.BigEndian.Uint32(buf[:]), nil
}

func isHTTP(url string) bool {
	return strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")
}

func isUDP(url string) bool {
	return strings.HasPrefix(url, "udp://")
}

// --------------------------------------------------------------------------------------------- //
