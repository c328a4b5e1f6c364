package torrent

import (
	"crypto/sha1"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var (
	testPeerID   = [20]byte([]byte("-BF0001-000000000000"))
	remotePeerID = [20]byte([]byte("-XX0001-abcdefabcdef"))
)

func testConfig() Config {
	return Config{
		PeerID:         testPeerID,
		Port:           DefaultPort,
		DialTimeout:    2 * time.Second,
		ReadTimeout:    2 * time.Second,
		WriteTimeout:   2 * time.Second,
		TrackerTimeout: 3 * time.Second,
		Logger:         zerolog.Nop(),
	}
}

// testContent returns n bytes that are not valid UTF-8 in places.
func testContent(n int) []byte {
	content := make([]byte, n)
	for i := range content {
		content[i] = byte(i*7 + i/251)
	}

	return content
}

func pieceHashes(content []byte, pieceLength int) string {
	var hashes []byte
	for begin := 0; begin < len(content); begin += pieceLength {
		end := min(begin+pieceLength, len(content))
		hash := sha1.Sum(content[begin:end])
		hashes = append(hashes, hash[:]...)
	}

	return string(hashes)
}

// encodeInfo builds an info dictionary with its keys already in canonical order.
func encodeInfo(name string, length, pieceLength int, pieces string) string {
	return fmt.Sprintf("d6:lengthi%de4:name%d:%s12:piece lengthi%de6:pieces%d:%se",
		length, len(name), name, pieceLength, len(pieces), pieces)
}

func encodeTorrent(announce, info string) []byte {
	return []byte(fmt.Sprintf("d8:announce%d:%s4:info%se", len(announce), announce, info))
}

func makeTorrent(t *testing.T, announce string, content []byte, pieceLength int) *TorrentFile {
	t.Helper()

	info := encodeInfo("sample.bin", len(content), pieceLength, pieceHashes(content, pieceLength))
	Torrent, err := ParseBytes(encodeTorrent(announce, info))
	require.NoError(t, err)

	return Torrent
}

// --------------------------------------------------------------------------------------------- //

type seederOptions struct {
	bitfield     BitfieldSet
	keepAlives   bool
	corrupt      bool
	wrongBegin   bool
	unchokeReply *Message // sent instead of unchoke when set
	silent       bool     // never answers requests
	infoHash     *[20]byte
}

type seeder struct {
	Torrent  *TorrentFile
	content  []byte
	opts     seederOptions
	requests chan Block
}

// startSeeder accepts one connection on a loopback listener and serves it with s.
func startSeeder(t *testing.T, s *seeder) *Peer {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	if s.requests == nil {
		s.requests = make(chan Block, 64)
	}

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		s.serve(conn)
	}()

	peer, err := ParsePeer(listener.Addr().String())
	require.NoError(t, err)

	return peer
}

func (s *seeder) keepAlive(conn net.Conn) {
	if s.opts.keepAlives {
		conn.Write((*Message)(nil).Serialize())
	}
}

func (s *seeder) serve(conn net.Conn) {
	hs, err := ReadHandshake(conn)
	if err != nil {
		return
	}

	reply := Handshake{InfoHash: hs.InfoHash, PeerID: remotePeerID}
	if s.opts.infoHash != nil {
		reply.InfoHash = *s.opts.infoHash
	}

	if _, err := conn.Write(reply.Serialize()); err != nil {
		return
	}

	bitfield := s.opts.bitfield
	if bitfield == nil {
		bitfield = NewBitfieldSet(s.Torrent.Info.PieceCount())
		for i := 0; i < s.Torrent.Info.PieceCount(); i++ {
			bitfield.SetPiece(i)
		}
	}

	s.keepAlive(conn)
	conn.Write((&Message{ID: Bitfield, Payload: bitfield}).Serialize())

	for {
		msg, err := ReadMessage(conn)
		if err != nil {
			return
		}

		if msg != nil && msg.ID == Interested {
			break
		}
	}

	s.keepAlive(conn)
	unchoke := &Message{ID: Unchoke}
	if s.opts.unchokeReply != nil {
		unchoke = s.opts.unchokeReply
	}
	conn.Write(unchoke.Serialize())

	for {
		msg, err := ReadMessage(conn)
		if err != nil {
			return
		}

		index, begin, length, err := ParseRequest(msg)
		if err != nil {
			continue
		}

		s.requests <- Block{Begin: begin, Length: length}
		if s.opts.silent {
			continue
		}

		start := int64(index)*s.Torrent.Info.PieceLength + int64(begin)
		block := append([]byte(nil), s.content[start:start+int64(length)]...)

		if s.opts.corrupt {
			block[len(block)/2] ^= 0x01
		}

		if s.opts.wrongBegin {
			begin++
		}

		s.keepAlive(conn)
		conn.Write(FormatPiece(index, begin, block).Serialize())
	}
}

func drainRequests(ch chan Block) []Block {
	var blocks []Block
	for {
		select {
		case b := <-ch:
			blocks = append(blocks, b)
		default:
			return blocks
		}
	}
}
