package torrent

import (
	"strings"

	"github.com/jackpal/bencode-go"
)

// DecodeValue decodes a single bencoded value into strings, int64s, []interface{} and
// map[string]interface{}.
func DecodeValue(encoded string) (interface{}, error) {
	value, err := bencode.Decode(strings.NewReader(encoded))
	if err != nil {
		return nil, &ParseError{Source: "bencode", Err: err}
	}

	return value, nil
}
