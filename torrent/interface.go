package torrent

import "context"

// --------------------------------------------------------------------------------------------- //

// FindConnections announces to the torrent's trackers and returns the peers they list.
func FindConnections(ctx context.Context, Torrent *TorrentFile, cfg Config) ([]*Peer, error) {
	response, err := Torrent.AnnounceTrackers(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return response.PeerList()
}

// ConnectPeer performs the handshake with peer and reads its bitfield, leaving it ready for a
// PieceDownloader. The connection is closed if either step fails.
func ConnectPeer(peer *Peer, Torrent *TorrentFile, cfg Config) error {
	if err := peer.Handshake(Torrent.InfoHash(), cfg); err != nil {
		return err
	}

	if _, err := peer.ReadBitfield(); err != nil {
		peer.Close()
		return err
	}

	return nil
}

// --------------------------------------------------------------------------------------------- //
