package torrent

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// --------------------------------------------------------------------------------------------- //

const (
	DefaultPort           = 6881
	DefaultDialTimeout    = 5 * time.Second
	DefaultIOTimeout      = 60 * time.Second
	DefaultTrackerTimeout = 15 * time.Second
)

/*
Config carries the local identity and transport limits used by every peer and tracker call.

Fields:
  - PeerID: 20-byte identifier sent in handshakes and announces.
  - Port: Port advertised to trackers.
  - DialTimeout: Limit on establishing a TCP connection to a peer. Zero means no limit.
  - ReadTimeout: Deadline applied to each peer read. Zero disables it.
  - WriteTimeout: Deadline applied to each peer write. Zero disables it.
  - TrackerTimeout: Limit on a whole tracker round trip.
  - RequestRate: Maximum block requests per second. Zero or less means unlimited.
  - Logger: Destination for structured logs.
*/
type Config struct {
	PeerID         [20]byte
	Port           uint16
	DialTimeout    time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	TrackerTimeout time.Duration
	RequestRate    float64
	Logger         zerolog.Logger
}

// DefaultConfig returns a Config with a freshly generated peer id and the default limits.
func DefaultConfig() (Config, error) {
	peerID, err := GeneratePeerID()
	if err != nil {
		return Config{}, err
	}

	return Config{
		PeerID:         peerID,
		Port:           DefaultPort,
		DialTimeout:    DefaultDialTimeout,
		ReadTimeout:    DefaultIOTimeout,
		WriteTimeout:   DefaultIOTimeout,
		TrackerTimeout: DefaultTrackerTimeout,
		Logger:         NewLogger(os.Stderr, zerolog.InfoLevel),
	}, nil
}

// NewLogger builds a human-readable, timestamped logger writing to w.
func NewLogger(w io.Writer, level zerolog.Level) zerolog.Logger {
	out := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// --------------------------------------------------------------------------------------------- //
