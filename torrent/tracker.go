package torrent

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jackpal/bencode-go"
)

// --------------------------------------------------------------------------------------------- //

/*
TrackerResponse is the subset of an announce reply this client uses.

Fields:
  - Failure: Human-readable failure reason; non-empty means the announce was refused.
  - Interval: Seconds the tracker asks us to wait before re-announcing.
  - Complete: Number of seeders.
  - Incomplete: Number of leechers.
  - Peers: Compact peer list, 6 bytes per peer.
*/
type TrackerResponse struct {
	Failure    string `bencode:"failure reason"`
	Interval   int64  `bencode:"interval"`
	Complete   int64  `bencode:"complete"`
	Incomplete int64  `bencode:"incomplete"`
	Peers      string `bencode:"peers"`
}

// PeerList decodes the compact peer list.
func (resp *TrackerResponse) PeerList() ([]*Peer, error) {
	return ParsePeers([]byte(resp.Peers))
}

const (
	udpProtocolID     = 0x41727101980
	udpActionConnect  = 0
	udpActionAnnounce = 1
	udpActionError    = 3
	udpEventStarted   = 2
	udpConnectRetries = 3
)

// --------------------------------------------------------------------------------------------- //

/*
AnnounceTrackers asks the torrent's trackers for peers, trying the announce URL and then every
announce-list entry in order until one answers. HTTP(S) and UDP trackers are supported.

Parameters:
  - ctx: Bounds the whole announce.
  - cfg: Peer id, advertised port, tracker timeout and logger.

Returns:
  - *TrackerResponse: Reply of the first tracker that answered.
  - error: The last tracker's error if none answered.
*/
func (Torrent *TorrentFile) AnnounceTrackers(ctx context.Context, cfg Config) (*TrackerResponse, error) {
	trackers := Torrent.trackerURLs()
	if len(trackers) == 0 {
		return nil, errors.New("no supported trackers found (HTTP/UDP)")
	}

	var lastErr error
	for _, announce := range trackers {
		var (
			resp *TrackerResponse
			err  error
		)

		if isUDP(announce) {
			resp, err = Torrent.sendUDPTrackerRequest(ctx, announce, cfg)
		} else {
			resp, err = Torrent.sendHTTPTrackerRequest(ctx, announce, cfg)
		}

		if err == nil {
			cfg.Logger.Info().Str("tracker", announce).Int("peers", len(resp.Peers)/6).
				Int64("interval", resp.Interval).Msg("tracker answered")
			return resp, nil
		}

		cfg.Logger.Warn().Str("tracker", announce).Err(err).Msg("tracker failed")
		lastErr = err
	}

	return nil, lastErr
}

func (Torrent *TorrentFile) trackerURLs() []string {
	seen := make(map[string]struct{})
	var trackers []string

	add := func(announce string) {
		if !isHTTP(announce) && !isUDP(announce) {
			return
		}

		if _, ok := seen[announce]; ok {
			return
		}

		seen[announce] = struct{}{}
		trackers = append(trackers, announce)
	}

	add(Torrent.Announce)
	for _, tier := range Torrent.AnnounceList {
		for _, announce := range tier {
			add(announce)
		}
	}

	return trackers
}

// --------------------------------------------------------------------------------------------- //

func (Torrent *TorrentFile) sendHTTPTrackerRequest(ctx context.Context, announceURL string, cfg Config) (*TrackerResponse, error) {
	u, err := url.Parse(announceURL)
	if err != nil {
		return nil, &ParseError{Source: announceURL, Err: err}
	}

	infoHash := Torrent.InfoHash()

	params := u.Query()
	params.Set("info_hash", string(infoHash[:]))
	params.Set("peer_id", string(cfg.PeerID[:]))
	params.Set("port", strconv.Itoa(int(cfg.Port)))
	params.Set("uploaded", "0")
	params.Set("downloaded", "0")
	params.Set("left", strconv.FormatInt(Torrent.Info.Length, 10))
	params.Set("compact", "1")
	u.RawQuery = params.Encode()

	if cfg.TrackerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.TrackerTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating tracker request: %w", err)
	}

	req.Header.Set("User-Agent", "bitfetch/1.0")

	response, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, &ConnectError{Addr: u.Host, Err: err}
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tracker %s: unexpected status %s", u.Host, response.Status)
	}

	var trackerResp TrackerResponse
	if err := bencode.Unmarshal(response.Body, &trackerResp); err != nil {
		return nil, &ParseError{Source: "tracker response", Err: err}
	}

	if trackerResp.Failure != "" {
		return nil, fmt.Errorf("tracker failure: %s", trackerResp.Failure)
	}

	return &trackerResp, nil
}

// --------------------------------------------------------------------------------------------- //

/*
createAnnounceRequest lays out a BEP 15 announce packet:

	offset  size  field
	0       8     connection id
	8       4     action (1)
	12      4     transaction id
	16      20    info hash
	36      20    peer id
	56      8     downloaded
	64      8     left
	72      8     uploaded
	80      4     event
	84      4     IP address (0: sender's)
	88      4     key
	92      4     num want (-1: default)
	96      2     port
*/
func createAnnounceRequest(connectionID uint64, transactionID uint32, infoHash, peerID [20]byte,
	left uint64, key uint32, port uint16) []byte {

	announceReq := make([]byte, 98)

	binary.BigEndian.PutUint64(announceReq[0:8], connectionID)
	binary.BigEndian.PutUint32(announceReq[8:12], udpActionAnnounce)
	binary.BigEndian.PutUint32(announceReq[12:16], transactionID)

	copy(announceReq[16:36], infoHash[:])
	copy(announceReq[36:56], peerID[:])

	binary.BigEndian.PutUint64(announceReq[64:72], left)

	binary.BigEndian.PutUint32(announceReq[80:84], udpEventStarted)
	binary.BigEndian.PutUint32(announceReq[88:92], key)
	binary.BigEndian.PutUint32(announceReq[92:96], ^uint32(0))
	binary.BigEndian.PutUint16(announceReq[96:98], port)

	return announceReq
}

func (Torrent *TorrentFile) sendUDPTrackerRequest(ctx context.Context, announceURL string, cfg Config) (*TrackerResponse, error) {
	u, err := url.Parse(announceURL)
	if err != nil {
		return nil, &ParseError{Source: announceURL, Err: err}
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "udp", u.Host)
	if err != nil {
		return nil, &ConnectError{Addr: u.Host, Err: err}
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	attemptTimeout := cfg.TrackerTimeout / udpConnectRetries
	if attemptTimeout <= 0 {
		attemptTimeout = DefaultTrackerTimeout / udpConnectRetries
	}

	transactionID, err := generateTransactionID()
	if err != nil {
		return nil, err
	}

	connectReq := make([]byte, 16)
	binary.BigEndian.PutUint64(connectReq[0:8], udpProtocolID)
	binary.BigEndian.PutUint32(connectReq[8:12], udpActionConnect)
	binary.BigEndian.PutUint32(connectReq[12:16], transactionID)

	var (
		connectionID uint64
		connected    bool
		lastErr      error
	)

	for attempt := 1; attempt <= udpConnectRetries && !connected; attempt++ {
		conn.SetDeadline(time.Now().Add(attemptTimeout))

		resp, err := udpRoundTrip(conn, connectReq, 16)
		if err != nil {
			cfg.Logger.Debug().Str("tracker", u.Host).Int("attempt", attempt).Err(err).Msg("udp connect failed")
			lastErr = err
			continue
		}

		if err := checkUDPReply(resp, udpActionConnect, transactionID); err != nil {
			return nil, err
		}

		connectionID = binary.BigEndian.Uint64(resp[8:16])
		connected = true
	}

	if !connected {
		return nil, &ConnectError{
			Addr: u.Host,
			Err:  fmt.Errorf("no connect response after %d attempts: %w", udpConnectRetries, lastErr),
		}
	}

	key, err := generateTransactionID()
	if err != nil {
		return nil, err
	}

	announceReq := createAnnounceRequest(connectionID, transactionID, Torrent.InfoHash(), cfg.PeerID,
		uint64(Torrent.Info.Length), key, cfg.Port)

	conn.SetDeadline(time.Now().Add(attemptTimeout))
	resp, err := udpRoundTrip(conn, announceReq, 20)
	if err != nil {
		return nil, &ConnectError{Addr: u.Host, Err: err}
	}

	if err := checkUDPReply(resp, udpActionAnnounce, transactionID); err != nil {
		return nil, err
	}

	peers := resp[20:]
	if len(peers)%6 != 0 {
		return nil, &ParseError{
			Source: "tracker response",
			Err:    fmt.Errorf("invalid peers length %d (must be multiple of 6)", len(peers)),
		}
	}

	return &TrackerResponse{
		Interval:   int64(binary.BigEndian.Uint32(resp[8:12])),
		Incomplete: int64(binary.BigEndian.Uint32(resp[12:16])),
		Complete:   int64(binary.BigEndian.Uint32(resp[16:20])),
		Peers:      string(peers),
	}, nil
}

func udpRoundTrip(conn net.Conn, req []byte, minLen int) ([]byte, error) {
	if _, err := conn.Write(req); err != nil {
		return nil, err
	}

	resp := make([]byte, 2048)
	n, err := conn.Read(resp)
	if err != nil {
		return nil, err
	}

	// Error replies carry only action, transaction id and a message.
	if n >= 8 && binary.BigEndian.Uint32(resp[0:4]) == udpActionError {
		return resp[:n], nil
	}

	if n < minLen {
		return nil, fmt.Errorf("short udp tracker response: %d bytes, want at least %d", n, minLen)
	}

	return resp[:n], nil
}

func checkUDPReply(resp []byte, action, transactionID uint32) error {
	gotAction := binary.BigEndian.Uint32(resp[0:4])

	if gotAction == udpActionError {
		return fmt.Errorf("tracker error: %s", resp[8:])
	}

	if gotAction != action {
		return fmt.Errorf("invalid tracker action %d, want %d", gotAction, action)
	}

	if binary.BigEndian.Uint32(resp[4:8]) != transactionID {
		return errors.New("tracker transaction id mismatch")
	}

	return nil
}

// --------------------------------------------------------------------------------------------- //
