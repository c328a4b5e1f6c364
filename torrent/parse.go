package torrent

import (
	"bytes"
	"crypto/sha1"
	"errors"
	"fmt"
	"os"

	"github.com/jackpal/bencode-go"
)

// --------------------------------------------------------------------------------------------- //

type metaInfo struct {
	Announce     string      `bencode:"announce"`
	AnnounceList [][]string  `bencode:"announce-list"`
	Info         TorrentInfo `bencode:"info"`
}

/*
TorrentInfo mirrors the single-file info dictionary of a .torrent file.

Fields:
  - Length: Total file size in bytes.
  - Name: Advisory file name.
  - PieceLength: Nominal size of every piece except possibly the last.
  - Pieces: Concatenated 20-byte SHA-1 digests, one per piece.
*/
type TorrentInfo struct {
	Length      int64  `bencode:"length"`
	Name        string `bencode:"name"`
	PieceLength int64  `bencode:"piece length"`
	Pieces      string `bencode:"pieces"`
}

// TorrentFile is the parsed, validated metainfo. It is not modified after Parse returns.
type TorrentFile struct {
	Announce     string
	AnnounceList [][]string
	Info         TorrentInfo

	infoHash [20]byte
}

// InfoHash returns the SHA-1 of the canonical bencoding of the info dictionary.
func (Torrent *TorrentFile) InfoHash() [20]byte {
	return Torrent.infoHash
}

// --------------------------------------------------------------------------------------------- //

/*
computeInfoHash decodes a bencoded torrent file generically and hashes its re-encoded info dictionary.
Dictionary keys are re-emitted in sorted order and strings keep their raw bytes, so the digest
matches the one every other client derives from the same file.

Parameters:
  - data: Raw bencoded torrent file.

Returns:
  - [20]byte: SHA-1 digest of the canonical info dictionary.
  - error: Non-nil if data is not a bencoded dictionary or has no info dictionary.
*/
func computeInfoHash(data []byte) ([20]byte, error) {
	decoded, err := bencode.Decode(bytes.NewReader(data))
	if err != nil {
		return [20]byte{}, fmt.Errorf("decoding: %w", err)
	}

	root, ok := decoded.(map[string]interface{})
	if !ok {
		return [20]byte{}, errors.New("top level value is not a dictionary")
	}

	rawInfo, ok := root["info"]
	if !ok {
		return [20]byte{}, errors.New("missing info dictionary")
	}

	info, ok := rawInfo.(map[string]interface{})
	if !ok {
		return [20]byte{}, errors.New("info is not a dictionary")
	}

	var infoBytes bytes.Buffer
	if err := bencode.Marshal(&infoBytes, info); err != nil {
		return [20]byte{}, fmt.Errorf("encoding info: %w", err)
	}

	return sha1.Sum(infoBytes.Bytes()), nil
}

// --------------------------------------------------------------------------------------------- //

// Parse loads and validates the .torrent file at path.
func Parse(path string) (*TorrentFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Source: path, Err: err}
	}

	Torrent, err := ParseBytes(data)
	if err != nil {
		var perr *ParseError
		if errors.As(err, &perr) {
			perr.Source = path
		}

		return nil, err
	}

	return Torrent, nil
}

/*
ParseBytes decodes a bencoded torrent, derives its info hash and validates piece geometry.

Parameters:
  - data: Raw bencoded torrent file.

Returns:
  - *TorrentFile: Parsed metainfo.
  - error: *ParseError if the data is not valid bencode, lacks an info dictionary, or its
    lengths and piece hashes are inconsistent.
*/
func ParseBytes(data []byte) (*TorrentFile, error) {
	hash, err := computeInfoHash(data)
	if err != nil {
		return nil, &ParseError{Err: err}
	}

	var meta metaInfo
	if err := bencode.Unmarshal(bytes.NewReader(data), &meta); err != nil {
		return nil, &ParseError{Err: fmt.Errorf("decoding metainfo: %w", err)}
	}

	if err := meta.Info.validate(); err != nil {
		return nil, &ParseError{Err: err}
	}

	return &TorrentFile{
		Announce:     meta.Announce,
		AnnounceList: meta.AnnounceList,
		Info:         meta.Info,
		infoHash:     hash,
	}, nil
}

func (info *TorrentInfo) validate() error {
	if info.Length <= 0 {
		return fmt.Errorf("invalid length %d", info.Length)
	}

	if info.PieceLength <= 0 {
		return fmt.Errorf("invalid piece length %d", info.PieceLength)
	}

	if len(info.Pieces)%20 != 0 {
		return fmt.Errorf("invalid pieces length %d (must be multiple of 20)", len(info.Pieces))
	}

	expected := (info.Length + info.PieceLength - 1) / info.PieceLength
	if int64(info.PieceCount()) != expected {
		return fmt.Errorf("%d piece hashes for %d bytes at piece length %d (want %d)",
			info.PieceCount(), info.Length, info.PieceLength, expected)
	}

	return nil
}

// --------------------------------------------------------------------------------------------- //
