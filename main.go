package main

import (
	"bitfetch/torrent"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
)

const usage = `Usage:
  bitfetch decode <bencoded-string>
  bitfetch info <torrent-file>
  bitfetch peers <torrent-file>
  bitfetch handshake <torrent-file> <ip:port>
  bitfetch download_piece [-o] <output-path> <torrent-file> <piece-index>`

var errUsage = errors.New("invalid arguments")

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, usage)
		}

		stop()
		os.Exit(1)
	}
}

// --------------------------------------------------------------------------------------------- //

func run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}

	command, args := args[0], args[1:]

	switch command {
	case "decode":
		if len(args) != 1 {
			return errUsage
		}

		return decode(args[0], stdout)
	case "info":
		if len(args) != 1 {
			return errUsage
		}

		return info(args[0], stdout)
	case "peers":
		if len(args) != 1 {
			return errUsage
		}

		return listPeers(ctx, args[0], stdout)
	case "handshake":
		if len(args) != 2 {
			return errUsage
		}

		return handshake(args[0], args[1], stdout)
	case "download_piece":
		if len(args) > 0 && args[0] == "-o" {
			args = args[1:]
		}

		if len(args) != 3 {
			return errUsage
		}

		index, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("%w: piece index %q: %v", errUsage, args[2], err)
		}

		return downloadPiece(ctx, args[0], args[1], index, stdout)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, command)
	}
}

/*
loadConfig builds the runtime configuration from defaults and environment overrides.

Environment:
  - BITFETCH_LOG: zerolog level (debug, info, warn, error, disabled).
  - BITFETCH_PORT: Port advertised to trackers.
  - BITFETCH_RATE: Maximum block requests per second.
*/
func loadConfig() (torrent.Config, error) {
	cfg, err := torrent.DefaultConfig()
	if err != nil {
		return cfg, err
	}

	if v := os.Getenv("BITFETCH_LOG"); v != "" {
		level, err := zerolog.ParseLevel(v)
		if err != nil {
			return cfg, fmt.Errorf("BITFETCH_LOG: %w", err)
		}

		cfg.Logger = cfg.Logger.Level(level)
	}

	if v := os.Getenv("BITFETCH_PORT"); v != "" {
		port, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			return cfg, fmt.Errorf("BITFETCH_PORT: %w", err)
		}

		cfg.Port = uint16(port)
	}

	if v := os.Getenv("BITFETCH_RATE"); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return cfg, fmt.Errorf("BITFETCH_RATE: %w", err)
		}

		cfg.RequestRate = rate
	}

	return cfg, nil
}

// --------------------------------------------------------------------------------------------- //

func decode(encoded string, stdout io.Writer) error {
	value, err := torrent.DecodeValue(encoded)
	if err != nil {
		return err
	}

	out, err := json.Marshal(value)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(stdout, string(out))
	return err
}

func info(path string, stdout io.Writer) error {
	Torrent, err := torrent.Parse(path)
	if err != nil {
		return err
	}

	infoHash := Torrent.InfoHash()

	fmt.Fprintf(stdout, "Tracker URL: %s\n", Torrent.Announce)
	fmt.Fprintf(stdout, "Length: %d\n", Torrent.Info.Length)
	fmt.Fprintf(stdout, "Info Hash: %s\n", hex.EncodeToString(infoHash[:]))
	fmt.Fprintf(stdout, "Piece Length: %d\n", Torrent.Info.PieceLength)
	fmt.Fprintln(stdout, "Piece Hashes:")

	for i := 0; i < Torrent.Info.PieceCount(); i++ {
		hash, err := Torrent.Info.PieceHash(i)
		if err != nil {
			return err
		}

		fmt.Fprintln(stdout, hex.EncodeToString(hash[:]))
	}

	return nil
}

func listPeers(ctx context.Context, path string, stdout io.Writer) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	Torrent, err := torrent.Parse(path)
	if err != nil {
		return err
	}

	peers, err := torrent.FindConnections(ctx, Torrent, cfg)
	if err != nil {
		return err
	}

	for _, peer := range peers {
		fmt.Fprintln(stdout, peer)
	}

	return nil
}

func handshake(path, addr string, stdout io.Writer) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	Torrent, err := torrent.Parse(path)
	if err != nil {
		return err
	}

	peer, err := torrent.ParsePeer(addr)
	if err != nil {
		return err
	}

	if err := peer.Handshake(Torrent.InfoHash(), cfg); err != nil {
		return err
	}
	defer peer.Close()

	_, err = fmt.Fprintf(stdout, "Peer ID: %s\n", hex.EncodeToString(peer.PeerID[:]))
	return err
}

/*
downloadPiece fetches piece index from the first peer the tracker lists and writes it to
outPath. Nothing is written unless the piece passes hash verification.
*/
func downloadPiece(ctx context.Context, outPath, path string, index int, stdout io.Writer) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	Torrent, err := torrent.Parse(path)
	if err != nil {
		return err
	}

	if index < 0 || index >= Torrent.Info.PieceCount() {
		return fmt.Errorf("%w: piece index %d out of range [0, %d)", errUsage, index, Torrent.Info.PieceCount())
	}

	peers, err := torrent.FindConnections(ctx, Torrent, cfg)
	if err != nil {
		return err
	}

	if len(peers) == 0 {
		return errors.New("tracker returned no peers")
	}

	peer := peers[0]
	if err := torrent.ConnectPeer(peer, Torrent, cfg); err != nil {
		return err
	}
	defer peer.Close()

	bar := progressbar.NewOptions64(Torrent.Info.PieceSize(index),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(fmt.Sprintf("piece %d", index)),
		progressbar.OptionShowBytes(true),
		progressbar.OptionClearOnFinish(),
	)

	downloader := torrent.NewPieceDownloader(peer, Torrent, cfg)
	downloader.OnBlock = func(n int) { bar.Add(n) }

	data, err := downloader.Download(ctx, index)
	if err != nil {
		return err
	}
	bar.Finish()

	if err := os.WriteFile(outPath, data, 0644); err != nil {
		return err
	}

	_, err = fmt.Fprintf(stdout, "Piece %d downloaded to %s.\n", index, outPath)
	return err
}

// --------------------------------------------------------------------------------------------- //
