package torrent

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------------------------- //

var (
	ErrBadProtocol       = errors.New("wrong protocol identifier")
	ErrInfoHashMismatch  = errors.New("info hash mismatch")
	ErrUnexpectedMessage = errors.New("unexpected message")
	ErrBlockMismatch     = errors.New("block does not match request")
	ErrMessageTooLarge   = errors.New("message too large")
	ErrPieceNotAvailable = errors.New("peer does not have piece")
	ErrPieceOutOfRange   = errors.New("piece index out of range")
)

// --------------------------------------------------------------------------------------------- //

// ParseError reports malformed bencode or torrent metadata.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("parse: %v", e.Err)
	}

	return fmt.Sprintf("parse %s: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ConnectError reports a failure to establish a transport to a peer or tracker.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

/*
ProtocolError reports a peer-wire violation: an unexpected message id, a truncated frame,
a block that does not match its request, or an early stream closure.

Fields:
  - Addr: Remote peer address.
  - Op: Operation in progress (handshake, read, write, bitfield, unchoke, request, piece).
  - Err: Underlying cause, either an I/O error or one of the Err* sentinels.
*/
type ProtocolError struct {
	Addr string
	Op   string
	Err  error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("peer %s: %s: %v", e.Addr, e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// HashMismatchError reports an assembled piece whose SHA-1 differs from the published one.
type HashMismatchError struct {
	Index    int
	Expected [20]byte
	Actual   [20]byte
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("piece %d: hash mismatch: expected %x, got %x", e.Index, e.Expected, e.Actual)
}

// --------------------------------------------------------------------------------------------- //
