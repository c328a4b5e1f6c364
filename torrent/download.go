package torrent

import (
	"bytes"
	"context"
	"crypto/sha1"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// --------------------------------------------------------------------------------------------- //

// State is a step of the single-piece download state machine.
type State int

const (
	Idle State = iota
	InterestedSent
	Unchoked
	Requesting
	Assembling
	Verified
	Failed
)

var stateNames = [...]string{"idle", "interested-sent", "unchoked", "requesting", "assembling",
	"verified", "failed"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}

	return fmt.Sprintf("State(%d)", int(s))
}

// --------------------------------------------------------------------------------------------- //

/*
PieceDownloader drives one handshaken peer through interested, unchoke and sequential block
requests for a single piece, then verifies the assembled piece against its published hash.

Fields:
  - OnBlock: Optional hook called with the byte count of every accepted block.
*/
type PieceDownloader struct {
	OnBlock func(n int)

	peer    *Peer
	torrent *TorrentFile
	state   State
	limiter *rate.Limiter
	log     zerolog.Logger
}

// NewPieceDownloader prepares a downloader for peer, which must have completed its handshake
// and bitfield exchange.
func NewPieceDownloader(peer *Peer, Torrent *TorrentFile, cfg Config) *PieceDownloader {
	limit := rate.Inf
	if cfg.RequestRate > 0 {
		limit = rate.Limit(cfg.RequestRate)
	}

	return &PieceDownloader{
		peer:    peer,
		torrent: Torrent,
		state:   Idle,
		limiter: rate.NewLimiter(limit, 1),
		log:     cfg.Logger.With().Str("peer", peer.String()).Logger(),
	}
}

// State reports where the downloader is in its lifecycle.
func (d *PieceDownloader) State() State {
	return d.state
}

func (d *PieceDownloader) transition(to State) {
	d.log.Debug().Stringer("from", d.state).Stringer("to", to).Msg("state transition")
	d.state = to
}

// --------------------------------------------------------------------------------------------- //

/*
Download retrieves and verifies piece index.
Requests are issued one at a time, each waiting for its reply. If ctx is cancelled the peer
connection is closed, which fails the in-flight read. On any failure the connection is closed
and no data is returned.

Parameters:
  - ctx: Cancels the download by abandoning the connection.
  - index: Zero-based piece index.

Returns:
  - []byte: The verified piece.
  - error: *ProtocolError on I/O failure or protocol violation, *HashMismatchError if the
    assembled piece fails verification.
*/
func (d *PieceDownloader) Download(ctx context.Context, index int) ([]byte, error) {
	if d.state != Idle {
		return nil, fmt.Errorf("piece downloader in state %s, want %s", d.state, Idle)
	}

	stop := context.AfterFunc(ctx, func() { d.peer.Close() })
	defer stop()

	data, err := d.download(ctx, index)
	if err != nil {
		d.transition(Failed)
		d.peer.Close()

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &ProtocolError{Addr: d.peer.String(), Op: "download", Err: ctxErr}
		}

		return nil, err
	}

	d.transition(Verified)
	return data, nil
}

func (d *PieceDownloader) download(ctx context.Context, index int) ([]byte, error) {
	expectedHash, err := d.torrent.Info.PieceHash(index)
	if err != nil {
		return nil, &ProtocolError{Addr: d.peer.String(), Op: "request", Err: err}
	}

	if !d.peer.Bitfield.HasPiece(index) {
		return nil, &ProtocolError{
			Addr: d.peer.String(),
			Op:   "request",
			Err:  fmt.Errorf("%w: %d", ErrPieceNotAvailable, index),
		}
	}

	if err := d.peer.SendMessage(&Message{ID: Interested}); err != nil {
		return nil, err
	}
	d.transition(InterestedSent)

	if err := d.awaitUnchoke(); err != nil {
		return nil, err
	}
	d.transition(Unchoked)

	pieceSize := d.torrent.Info.PieceSize(index)
	data := make([]byte, 0, pieceSize)

	for _, block := range d.torrent.Info.Blocks(index) {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		d.transition(Requesting)
		if err := d.peer.SendMessage(FormatRequest(index, block.Begin, block.Length)); err != nil {
			return nil, err
		}

		payload, err := d.awaitBlock(index, block)
		if err != nil {
			return nil, err
		}

		d.transition(Assembling)
		data = append(data, payload...)

		if d.OnBlock != nil {
			d.OnBlock(len(payload))
		}
	}

	if int64(len(data)) != pieceSize {
		return nil, &ProtocolError{
			Addr: d.peer.String(),
			Op:   "piece",
			Err:  fmt.Errorf("assembled %d bytes, want %d", len(data), pieceSize),
		}
	}

	actual := sha1.Sum(data)
	if !bytes.Equal(actual[:], expectedHash[:]) {
		d.log.Error().Int("piece", index).Msg("piece hash mismatch")
		return nil, &HashMismatchError{Index: index, Expected: expectedHash, Actual: actual}
	}

	d.log.Info().Int("piece", index).Int("length", len(data)).Msg("piece verified")
	return data, nil
}

// --------------------------------------------------------------------------------------------- //

func (d *PieceDownloader) awaitUnchoke() error {
	for {
		msg, err := d.peer.ReceiveMessage()
		if err != nil {
			return err
		}

		if msg == nil {
			continue
		}

		if msg.ID != Unchoke {
			return &ProtocolError{
				Addr: d.peer.String(),
				Op:   "unchoke",
				Err:  fmt.Errorf("%w: expected unchoke, got %s", ErrUnexpectedMessage, msg.ID),
			}
		}

		return nil
	}
}

func (d *PieceDownloader) awaitBlock(index int, block Block) ([]byte, error) {
	for {
		msg, err := d.peer.ReceiveMessage()
		if err != nil {
			return nil, err
		}

		if msg == nil {
			continue
		}

		gotIndex, begin, payload, err := ParsePiece(msg)
		if err != nil {
			return nil, &ProtocolError{Addr: d.peer.String(), Op: "piece", Err: err}
		}

		if gotIndex != index || begin != block.Begin || len(payload) != int(block.Length) {
			return nil, &ProtocolError{
				Addr: d.peer.String(),
				Op:   "piece",
				Err: fmt.Errorf("%w: requested %d/%d+%d, got %d/%d+%d", ErrBlockMismatch,
					index, block.Begin, block.Length, gotIndex, begin, len(payload)),
			}
		}

		return payload, nil
	}
}

// --------------------------------------------------------------------------------------------- //
