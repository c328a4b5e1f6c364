package torrent

import (
	"encoding/binary"
	"fmt"
	"io"
)

// --------------------------------------------------------------------------------------------- //

/*
MessageID is an enumeration of BitTorrent protocol message types.

Values:
  - Choke: The peer will not serve requests.
  - Unchoke: The peer will serve requests.
  - Interested: We want to download from the peer.
  - NotInterested: We no longer want to download from the peer.
  - Have: The peer acquired a piece.
  - Bitfield: Which pieces the peer has, sent right after the handshake.
  - Request: Requests a block of a piece.
  - Piece: Delivers a block of a piece.
  - Cancel: Cancels a previous request.
*/
type MessageID uint8

const (
	Choke MessageID = iota
	Unchoke
	Interested
	NotInterested
	Have
	Bitfield
	Request
	Piece
	Cancel
)

var messageNames = [...]string{"choke", "unchoke", "interested", "not interested", "have",
	"bitfield", "request", "piece", "cancel"}

func (id MessageID) String() string {
	if int(id) < len(messageNames) {
		return messageNames[id]
	}

	return fmt.Sprintf("unknown(%d)", uint8(id))
}

// maxMessageLength bounds a frame to one 1 MiB block plus the piece header.
const maxMessageLength = 1<<20 + 9

// --------------------------------------------------------------------------------------------- //

// Message is one length-prefixed peer-wire frame. A nil *Message stands for a keep-alive.
type Message struct {
	ID      MessageID
	Payload []byte
}

// Serialize encodes msg as <length><id><payload>. A nil message encodes as a keep-alive.
func (msg *Message) Serialize() []byte {
	if msg == nil {
		return make([]byte, 4)
	}

	length := uint32(len(msg.Payload) + 1)
	buf := make([]byte, 4+length)
	binary.BigEndian.PutUint32(buf[0:4], length)
	buf[4] = byte(msg.ID)
	copy(buf[5:], msg.Payload)

	return buf
}

/*
ReadMessage reads one frame from r, blocking until it is complete.

Parameters:
  - r: Stream positioned at a frame boundary.

Returns:
  - *Message: The decoded message, or nil for a keep-alive.
  - error: io.EOF or io.ErrUnexpectedEOF if the stream closes mid-frame, ErrMessageTooLarge if the
    length prefix exceeds the frame limit.
*/
func ReadMessage(r io.Reader) (*Message, error) {
	var lengthBuf [4]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(lengthBuf[:])
	if length == 0 {
		return nil, nil
	}

	if length > maxMessageLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, length)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}

		return nil, err
	}

	return &Message{
		ID:      MessageID(buf[0]),
		Payload: buf[1:],
	}, nil
}

// --------------------------------------------------------------------------------------------- //

// FormatRequest builds a request for length bytes of piece index starting at begin.
func FormatRequest(index int, begin, length uint32) *Message {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], uint32(index))
	binary.BigEndian.PutUint32(payload[4:8], begin)
	binary.BigEndian.PutUint32(payload[8:12], length)

	return &Message{ID: Request, Payload: payload}
}

// FormatPiece builds a piece message carrying block at offset begin of piece index. It is the
// inverse of ParsePiece, for the uploading side of a connection.
func FormatPiece(index int, begin uint32, block []byte) *Message {
	payload := make([]byte, 8+len(block))
	binary.BigEndian.PutUint32(payload[0:4], uint32(index))
	binary.BigEndian.PutUint32(payload[4:8], begin)
	copy(payload[8:], block)

	return &Message{ID: Piece, Payload: payload}
}

// ParseRequest decodes the index, begin and length fields of a request message. It is the
// inverse of FormatRequest.
func ParseRequest(msg *Message) (index int, begin, length uint32, err error) {
	if msg == nil || msg.ID != Request {
		return 0, 0, 0, fmt.Errorf("%w: expected request, got %s", ErrUnexpectedMessage, describe(msg))
	}

	if len(msg.Payload) != 12 {
		return 0, 0, 0, fmt.Errorf("request payload is %d bytes, want 12", len(msg.Payload))
	}

	index = int(binary.BigEndian.Uint32(msg.Payload[0:4]))
	begin = binary.BigEndian.Uint32(msg.Payload[4:8])
	length = binary.BigEndian.Uint32(msg.Payload[8:12])

	return index, begin, length, nil
}

// ParsePiece decodes a piece message into its index, begin offset and block data.
func ParsePiece(msg *Message) (index int, begin uint32, block []byte, err error) {
	if msg == nil || msg.ID != Piece {
		return 0, 0, nil, fmt.Errorf("%w: expected piece, got %s", ErrUnexpectedMessage, describe(msg))
	}

	if len(msg.Payload) < 8 {
		return 0, 0, nil, fmt.Errorf("piece payload is %d bytes, want at least 8", len(msg.Payload))
	}

	index = int(binary.BigEndian.Uint32(msg.Payload[0:4]))
	begin = binary.BigEndian.Uint32(msg.Payload[4:8])

	return index, begin, msg.Payload[8:], nil
}

func describe(msg *Message) string {
	if msg == nil {
		return "keep-alive"
	}

	return msg.ID.String()
}

// --------------------------------------------------------------------------------------------- //
