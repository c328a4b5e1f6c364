package torrent

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePeer(t *testing.T) {
	peer, err := ParsePeer("165.232.41.73:51556")
	require.NoError(t, err)
	assert.Equal(t, net.IPv4(165, 232, 41, 73).To4(), peer.IP)
	assert.Equal(t, uint16(51556), peer.Port)
	assert.Equal(t, "165.232.41.73:51556", peer.String())

	for _, addr := range []string{"165.232.41.73", "[::1]:6881", "example:6881", "1.2.3.4:70000", "1.2.3.4:x"} {
		_, err := ParsePeer(addr)
		var perr *ParseError
		assert.ErrorAs(t, err, &perr, addr)
	}
}

func TestParsePeers(t *testing.T) {
	compact := []byte{
		165, 232, 41, 73, 0xc9, 0x64,
		10, 0, 0, 1, 0x1a, 0xe1,
	}

	peers, err := ParsePeers(compact)
	require.NoError(t, err)
	require.Len(t, peers, 2)
	assert.Equal(t, "165.232.41.73:51556", peers[0].String())
	assert.Equal(t, "10.0.0.1:6881", peers[1].String())

	_, err = ParsePeers(compact[:7])
	var perr *ParseError
	require.ErrorAs(t, err, &perr)

	peers, err = ParsePeers(nil)
	require.NoError(t, err)
	assert.Empty(t, peers)
}

func TestHandshakeWithPeer(t *testing.T) {
	content := testContent(1024)
	Torrent := makeTorrent(t, "http://tracker.example/announce", content, 512)
	peer := startSeeder(t, &seeder{Torrent: Torrent, content: content})

	require.NoError(t, peer.Handshake(Torrent.InfoHash(), testConfig()))
	defer peer.Close()

	assert.Equal(t, remotePeerID, peer.PeerID)
	require.NotNil(t, peer.Connection)

	pieces, err := peer.ReadBitfield()
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, pieces)
	assert.Equal(t, []int{0, 1}, peer.Pieces)
}

func TestHandshakeInfoHashMismatch(t *testing.T) {
	content := testContent(1024)
	Torrent := makeTorrent(t, "http://tracker.example/announce", content, 512)
	other := [20]byte([]byte("ffffffffffffffffffff"))
	peer := startSeeder(t, &seeder{Torrent: Torrent, content: content, opts: seederOptions{infoHash: &other}})

	err := peer.Handshake(Torrent.InfoHash(), testConfig())

	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "handshake", perr.Op)
	assert.ErrorIs(t, err, ErrInfoHashMismatch)
	assert.Nil(t, peer.Connection)
}

func TestHandshakeTruncatedReply(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		if _, err := ReadHandshake(conn); err != nil {
			return
		}
		conn.Write((&Handshake{}).Serialize()[:30])
	}()

	peer, err := ParsePeer(listener.Addr().String())
	require.NoError(t, err)

	err = peer.Handshake([20]byte{}, testConfig())
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "handshake", perr.Op)
}

func TestHandshakeConnectRefused(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	listener.Close()

	peer, err := ParsePeer(addr)
	require.NoError(t, err)

	err = peer.Handshake([20]byte{}, testConfig())
	var cerr *ConnectError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, addr, cerr.Addr)
}

func TestReadBitfieldRejectsOtherMessages(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		hs, err := ReadHandshake(conn)
		if err != nil {
			return
		}
		conn.Write((&Handshake{InfoHash: hs.InfoHash, PeerID: remotePeerID}).Serialize())
		conn.Write((*Message)(nil).Serialize())
		conn.Write((&Message{ID: Have, Payload: []byte{0, 0, 0, 1}}).Serialize())
		ReadMessage(conn)
	}()

	peer, err := ParsePeer(listener.Addr().String())
	require.NoError(t, err)
	require.NoError(t, peer.Handshake([20]byte{1}, testConfig()))
	defer peer.Close()

	_, err = peer.ReadBitfield()
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "bitfield", perr.Op)
	assert.ErrorIs(t, err, ErrUnexpectedMessage)
}

func TestMessagesAfterClose(t *testing.T) {
	content := testContent(1024)
	Torrent := makeTorrent(t, "http://tracker.example/announce", content, 512)
	peer := startSeeder(t, &seeder{Torrent: Torrent, content: content})

	require.NoError(t, peer.Handshake(Torrent.InfoHash(), testConfig()))
	require.NoError(t, peer.Close())

	err := peer.SendMessage(&Message{ID: Interested})
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "write", perr.Op)
	assert.ErrorIs(t, err, net.ErrClosed)

	_, err = peer.ReceiveMessage()
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "read", perr.Op)
	assert.ErrorIs(t, err, net.ErrClosed)
}

func TestSendMessageWithoutConnection(t *testing.T) {
	peer := &Peer{IP: net.IPv4(127, 0, 0, 1), Port: 1}

	err := peer.SendMessage(&Message{ID: Interested})
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)

	_, err = peer.ReceiveMessage()
	require.ErrorAs(t, err, &perr)
	assert.NoError(t, peer.Close())
}
