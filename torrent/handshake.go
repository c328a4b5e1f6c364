package torrent

import (
	"bytes"
	"fmt"
	"io"
)

// --------------------------------------------------------------------------------------------- //

const (
	ProtocolName = "BitTorrent protocol"
	HandshakeLen = 1 + len(ProtocolName) + 8 + 20 + 20
)

/*
Handshake represents the structure of a BitTorrent protocol handshake message.
It is used to initiate a connection with a peer and verify swarm membership.

Fields:
  - Reserved: Reserved bytes for protocol extensions, all zero when sent by us.
  - InfoHash: 20-byte SHA-1 hash of the torrent's info dictionary.
  - PeerID: 20-byte unique identifier for the peer.
*/
type Handshake struct {
	Reserved [8]byte
	InfoHash [20]byte
	PeerID   [20]byte
}

// Serialize lays the handshake out field by field into its 68-byte wire form.
func (h *Handshake) Serialize() []byte {
	buf := make([]byte, HandshakeLen)

	buf[0] = byte(len(ProtocolName))
	offset := 1
	offset += copy(buf[offset:], ProtocolName)
	offset += copy(buf[offset:], h.Reserved[:])
	offset += copy(buf[offset:], h.InfoHash[:])
	copy(buf[offset:], h.PeerID[:])

	return buf
}

/*
ReadHandshake reads exactly HandshakeLen bytes from r and decodes them.

Parameters:
  - r: Stream positioned at the start of a handshake.

Returns:
  - *Handshake: Decoded handshake; PeerID is the last 20 bytes of the frame.
  - error: io.ErrUnexpectedEOF or io.EOF if the stream ends early, ErrBadProtocol if the
    protocol header is not "BitTorrent protocol".
*/
func ReadHandshake(r io.Reader) (*Handshake, error) {
	buf := make([]byte, HandshakeLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	pstrlen := int(buf[0])
	if pstrlen != len(ProtocolName) || !bytes.Equal(buf[1:1+pstrlen], []byte(ProtocolName)) {
		return nil, fmt.Errorf("%w: %q", ErrBadProtocol, buf[1:1+len(ProtocolName)])
	}

	var h Handshake
	offset := 1 + pstrlen
	offset += copy(h.Reserved[:], buf[offset:])
	offset += copy(h.InfoHash[:], buf[offset:])
	copy(h.PeerID[:], buf[offset:])

	return &h, nil
}

// --------------------------------------------------------------------------------------------- //
