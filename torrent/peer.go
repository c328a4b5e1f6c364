package torrent

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// --------------------------------------------------------------------------------------------- //

var errNotConnected = errors.New("no connection to peer")

/*
Peer is one remote swarm member. After a successful Handshake it exclusively owns its
connection: only the goroutine driving it may read or write the stream.

Fields:
  - IP: IPv4 address of the peer.
  - Port: TCP port of the peer.
  - PeerID: Remote peer id, set by Handshake.
  - Bitfield: Raw availability map, set by ReadBitfield.
  - Pieces: Available piece indices decoded from Bitfield.
  - Connection: Open stream, nil until Handshake succeeds.
*/
type Peer struct {
	IP         net.IP
	Port       uint16
	PeerID     [20]byte
	Bitfield   BitfieldSet
	Pieces     []int
	Connection net.Conn

	cfg Config
	log zerolog.Logger
}

func (peer *Peer) String() string {
	return net.JoinHostPort(peer.IP.String(), strconv.Itoa(int(peer.Port)))
}

// --------------------------------------------------------------------------------------------- //

// ParsePeer builds a Peer from a literal "ip:port" string.
func ParsePeer(addr string) (*Peer, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, &ParseError{Source: addr, Err: err}
	}

	ip := net.ParseIP(host).To4()
	if ip == nil {
		return nil, &ParseError{Source: addr, Err: fmt.Errorf("%q is not an IPv4 address", host)}
	}

	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, &ParseError{Source: addr, Err: fmt.Errorf("invalid port %q: %w", portStr, err)}
	}

	return &Peer{IP: ip, Port: uint16(port)}, nil
}

/*
ParsePeers decodes a compact tracker peer list.
Each record is 6 bytes: a 4-byte IPv4 address followed by a 2-byte big-endian port.

Parameters:
  - compact: Concatenated peer records.

Returns:
  - []*Peer: Peers in the order the tracker listed them.
  - error: *ParseError if the length is not a multiple of 6.
*/
func ParsePeers(compact []byte) ([]*Peer, error) {
	const recordLen = 6

	if len(compact)%recordLen != 0 {
		return nil, &ParseError{
			Source: "peers",
			Err:    fmt.Errorf("invalid peers length %d (must be multiple of %d)", len(compact), recordLen),
		}
	}

	peers := make([]*Peer, 0, len(compact)/recordLen)
	for i := 0; i < len(compact); i += recordLen {
		peers = append(peers, &Peer{
			IP:   net.IPv4(compact[i], compact[i+1], compact[i+2], compact[i+3]).To4(),
			Port: binary.BigEndian.Uint16(compact[i+4 : i+6]),
		})
	}

	return peers, nil
}

// --------------------------------------------------------------------------------------------- //

/*
Handshake connects to the peer and exchanges handshakes for infoHash.
On success the peer owns an authenticated connection and PeerID holds the remote id; no
message beyond the handshake has been exchanged.

Parameters:
  - infoHash: Info hash of the torrent being shared.
  - cfg: Local peer id, timeouts and logger.

Returns:
  - error: *ConnectError if the TCP connection cannot be established, *ProtocolError if the
    reply is truncated, not a BitTorrent handshake, or for another torrent.
*/
func (peer *Peer) Handshake(infoHash [20]byte, cfg Config) error {
	addr := peer.String()
	peer.cfg = cfg
	peer.log = cfg.Logger.With().Str("peer", addr).Logger()

	conn, err := net.DialTimeout("tcp", addr, cfg.DialTimeout)
	if err != nil {
		return &ConnectError{Addr: addr, Err: err}
	}

	if err := peer.exchangeHandshake(conn, infoHash); err != nil {
		conn.Close()
		return err
	}

	peer.Connection = conn
	return nil
}

func (peer *Peer) exchangeHandshake(conn net.Conn, infoHash [20]byte) error {
	addr := peer.String()
	hs := Handshake{InfoHash: infoHash, PeerID: peer.cfg.PeerID}

	peer.log.Debug().Hex("info_hash", infoHash[:]).Msg("sending handshake")

	if err := setDeadline(conn.SetWriteDeadline, peer.cfg.WriteTimeout); err != nil {
		return &ProtocolError{Addr: addr, Op: "handshake", Err: err}
	}

	if _, err := conn.Write(hs.Serialize()); err != nil {
		return &ProtocolError{Addr: addr, Op: "handshake", Err: err}
	}

	if err := setDeadline(conn.SetReadDeadline, peer.cfg.ReadTimeout); err != nil {
		return &ProtocolError{Addr: addr, Op: "handshake", Err: err}
	}

	response, err := ReadHandshake(conn)
	if err != nil {
		return &ProtocolError{Addr: addr, Op: "handshake", Err: err}
	}

	if !bytes.Equal(response.InfoHash[:], infoHash[:]) {
		return &ProtocolError{
			Addr: addr,
			Op:   "handshake",
			Err:  fmt.Errorf("%w: sent %x, got %x", ErrInfoHashMismatch, infoHash, response.InfoHash),
		}
	}

	peer.PeerID = response.PeerID
	peer.log.Info().Hex("remote_peer_id", response.PeerID[:]).Msg("handshake successful")

	return nil
}

// --------------------------------------------------------------------------------------------- //

// SendMessage writes msg as a single frame. A nil msg sends a keep-alive.
func (peer *Peer) SendMessage(msg *Message) error {
	if peer.Connection == nil {
		return &ProtocolError{Addr: peer.String(), Op: "write", Err: errNotConnected}
	}

	if err := setDeadline(peer.Connection.SetWriteDeadline, peer.cfg.WriteTimeout); err != nil {
		return &ProtocolError{Addr: peer.String(), Op: "write", Err: err}
	}

	// net.Conn.Write only returns early with a non-nil error.
	if _, err := peer.Connection.Write(msg.Serialize()); err != nil {
		return &ProtocolError{Addr: peer.String(), Op: "write", Err: err}
	}

	peer.log.Debug().Str("id", describe(msg)).Int("payload", payloadLen(msg)).Msg("sent message")
	return nil
}

// ReceiveMessage reads the next frame. It returns a nil message for a keep-alive.
func (peer *Peer) ReceiveMessage() (*Message, error) {
	if peer.Connection == nil {
		return nil, &ProtocolError{Addr: peer.String(), Op: "read", Err: errNotConnected}
	}

	if err := setDeadline(peer.Connection.SetReadDeadline, peer.cfg.ReadTimeout); err != nil {
		return nil, &ProtocolError{Addr: peer.String(), Op: "read", Err: err}
	}

	msg, err := ReadMessage(peer.Connection)
	if err != nil {
		return nil, &ProtocolError{Addr: peer.String(), Op: "read", Err: err}
	}

	peer.log.Debug().Str("id", describe(msg)).Int("payload", payloadLen(msg)).Msg("received message")
	return msg, nil
}

/*
ReadBitfield consumes the peer's first message, which must be a bitfield, and records the
pieces it announces. Keep-alives before it are skipped.

Returns:
  - []int: Available piece indices in increasing order.
  - error: *ProtocolError wrapping ErrUnexpectedMessage if any other message arrives first, or
    the I/O failure.
*/
func (peer *Peer) ReadBitfield() ([]int, error) {
	for {
		msg, err := peer.ReceiveMessage()
		if err != nil {
			return nil, err
		}

		if msg == nil {
			continue
		}

		if msg.ID != Bitfield {
			return nil, &ProtocolError{
				Addr: peer.String(),
				Op:   "bitfield",
				Err:  fmt.Errorf("%w: expected bitfield, got %s", ErrUnexpectedMessage, msg.ID),
			}
		}

		peer.Bitfield = BitfieldSet(msg.Payload)
		peer.Pieces = peer.Bitfield.Pieces()
		peer.log.Info().Int("pieces", len(peer.Pieces)).Msg("received bitfield")

		return peer.Pieces, nil
	}
}

// Close releases the peer's connection.
func (peer *Peer) Close() error {
	if peer.Connection == nil {
		return nil
	}

	return peer.Connection.Close()
}

// --------------------------------------------------------------------------------------------- //

// setDeadline arms a per-call deadline, or clears it when timeout is not positive.
func setDeadline(set func(time.Time) error, timeout time.Duration) error {
	if timeout <= 0 {
		return set(time.Time{})
	}

	return set(time.Now().Add(timeout))
}

func payloadLen(msg *Message) int {
	if msg == nil {
		return 0
	}

	return len(msg.Payload)
}

// --------------------------------------------------------------------------------------------- //
