package torrent

import (
	"crypto/sha1"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBytesInfoHash(t *testing.T) {
	content := testContent(1024)
	info := encodeInfo("sample.bin", len(content), 512, pieceHashes(content, 512))
	data := encodeTorrent("http://tracker.example/announce", info)

	Torrent, err := ParseBytes(data)
	require.NoError(t, err)

	assert.Equal(t, "http://tracker.example/announce", Torrent.Announce)
	assert.Equal(t, int64(1024), Torrent.Info.Length)
	assert.Equal(t, int64(512), Torrent.Info.PieceLength)
	assert.Equal(t, "sample.bin", Torrent.Info.Name)
	assert.Equal(t, 2, Torrent.Info.PieceCount())

	// The info dictionary above is already canonical, so its bytes hash to the info hash.
	assert.Equal(t, sha1.Sum([]byte(info)), Torrent.InfoHash())
}

func TestParseBytesInfoHashIsStable(t *testing.T) {
	content := testContent(900)
	data := encodeTorrent("http://tracker.example/announce",
		encodeInfo("sample.bin", len(content), 400, pieceHashes(content, 400)))

	first, err := ParseBytes(data)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		again, err := ParseBytes(data)
		require.NoError(t, err)
		assert.Equal(t, first.InfoHash(), again.InfoHash())
	}
}

func TestParseBytesKeepsRawPieceBytes(t *testing.T) {
	pieces := string([]byte{0xff, 0xfe, 0x00, 0x80, 0xc3, 0x28, 0xa0, 0xa1, 0xe2, 0x28,
		0xa1, 0xf0, 0x28, 0x8c, 0xbc, 0x00, 0x01, 0x02, 0x03, 0x04})
	info := encodeInfo("x", 10, 16, pieces)

	Torrent, err := ParseBytes(encodeTorrent("http://t/a", info))
	require.NoError(t, err)

	hash, err := Torrent.Info.PieceHash(0)
	require.NoError(t, err)
	assert.Equal(t, []byte(pieces), hash[:])
	assert.Equal(t, sha1.Sum([]byte(info)), Torrent.InfoHash())
}

func TestParseBytesErrors(t *testing.T) {
	content := testContent(1024)
	hashes := pieceHashes(content, 512)

	tests := []struct {
		name string
		data string
	}{
		{"not bencode", "this is not bencode"},
		{"not a dictionary", "l4:spame"},
		{"missing info", "d8:announce10:http://t/ae"},
		{"info not a dictionary", "d8:announce10:http://t/a4:infoi3ee"},
		{"pieces not multiple of 20", string(encodeTorrent("http://t/a", encodeInfo("f", 1024, 512, hashes[:30])))},
		{"too few pieces", string(encodeTorrent("http://t/a", encodeInfo("f", 1024, 512, hashes[:20])))},
		{"too many pieces", string(encodeTorrent("http://t/a", encodeInfo("f", 512, 512, hashes)))},
		{"zero piece length", string(encodeTorrent("http://t/a", encodeInfo("f", 1024, 0, hashes)))},
		{"zero length", string(encodeTorrent("http://t/a", encodeInfo("f", 0, 512, "")))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseBytes([]byte(tt.data))
			var perr *ParseError
			require.ErrorAs(t, err, &perr)
		})
	}
}

func TestParseFile(t *testing.T) {
	content := testContent(2048)
	data := encodeTorrent("http://tracker.example/announce",
		encodeInfo("sample.bin", len(content), 1024, pieceHashes(content, 1024)))

	path := filepath.Join(t.TempDir(), "sample.torrent")
	require.NoError(t, os.WriteFile(path, data, 0644))

	Torrent, err := Parse(path)
	require.NoError(t, err)
	assert.Equal(t, 2, Torrent.Info.PieceCount())

	_, err = Parse(filepath.Join(t.TempDir(), "missing.torrent"))
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Source, "missing.torrent")
}

func TestDecodeValue(t *testing.T) {
	value, err := DecodeValue("d3:foo3:bar5:helloi52ee")
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"foo": "bar", "hello": int64(52)}, value)

	value, err = DecodeValue("l5:helloi-52ee")
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"hello", int64(-52)}, value)

	_, err = DecodeValue("i52")
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
}
