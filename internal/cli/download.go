package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/chiral/transferd/internal/adapter"
	"github.com/chiral/transferd/internal/discovery"
	"github.com/chiral/transferd/internal/domain"
	"github.com/chiral/transferd/internal/eventbus"
)

var (
	dlFileHash  string
	dlFileSize  uint64
	dlFileName  string
	dlOutput    string
	dlChunkSize int
	dlFTPUser   string
	dlFTPPass   string
	dlFTPS      bool
	dlEd2kSrv   string
)

func init() {
	downloadCmd.Flags().StringVar(&dlFileHash, "hash", "", "content identifier (file hash) for this transfer (required)")
	downloadCmd.Flags().Uint64Var(&dlFileSize, "size", 0, "file size in bytes (required unless the source can report it)")
	downloadCmd.Flags().StringVar(&dlFileName, "name", "", "file name (defaults to the output path's base name)")
	downloadCmd.Flags().StringVarP(&dlOutput, "output", "o", "", "output path (required)")
	downloadCmd.Flags().IntVar(&dlChunkSize, "chunk-size", domain.DefaultChunkSize, "planned chunk size in bytes")
	downloadCmd.Flags().StringVar(&dlFTPUser, "ftp-user", "", "FTP username, if the source is an ftp:// or ftps:// URL")
	downloadCmd.Flags().StringVar(&dlFTPPass, "ftp-pass", "", "FTP password, if the source is an ftp:// or ftps:// URL")
	downloadCmd.Flags().BoolVar(&dlFTPS, "ftps", false, "use explicit FTPS (overrides scheme detection)")
	downloadCmd.Flags().StringVar(&dlEd2kSrv, "ed2k-server", "", "ED2K server address, if the source is an ed2k:// link")
	_ = downloadCmd.MarkFlagRequired("hash")
	_ = downloadCmd.MarkFlagRequired("output")
	rootCmd.AddCommand(downloadCmd)
}

var downloadCmd = &cobra.Command{
	Use:   "download SOURCE",
	Short: "Download a file from one source, blocking until it completes",
	Long: `Download fetches --hash's chunks from SOURCE, a magnet URI, an
ed2k:// file link, an ftp(s):// URL, or a plain http(s):// URL. Additional
sources (e.g. a DHT-discovered swarm) are merged in automatically when a
live discovery service is wired; the static default only knows about
SOURCE itself.`,
	Args: cobra.ExactArgs(1),
	RunE: runDownload,
}

func runDownload(cmd *cobra.Command, args []string) error {
	identifier := args[0]

	src, err := sourceFromIdentifier(identifier)
	if err != nil {
		return err
	}
	if dlFileSize == 0 {
		return fmt.Errorf("--size is required for this source type")
	}

	name := dlFileName
	if name == "" {
		name = filepath.Base(dlOutput)
	}

	d, err := newDaemon()
	if err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	defer d.Close()

	static, ok := d.Discovery.(*discovery.StaticClient)
	if !ok {
		return fmt.Errorf("discovery client does not support direct source registration")
	}
	static.Register(domain.FileMetadata{
		FileHash: dlFileHash,
		FileName: name,
		FileSize: dlFileSize,
		Sources:  []domain.SourceDescriptor{src},
	}, nil)

	ctx := cmd.Context()
	sub := d.Bus.Subscribe()
	defer sub.Close()

	if err := d.Orchestrator.Start(ctx, dlFileHash, dlOutput, dlChunkSize); err != nil {
		return fmt.Errorf("start download: %w", err)
	}

	return waitForTerminal(ctx, sub, dlFileHash)
}

// waitForTerminal renders Progress events for transferID until a
// Completed, Failed, or Canceled event arrives (or ctx is canceled).
func waitForTerminal(ctx context.Context, sub *eventbus.Subscription, transferID string) error {
	bar := newProgressBar()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-sub.Events:
			if !ok {
				return fmt.Errorf("event bus closed before transfer completed")
			}
			if evt.TransferID != transferID {
				continue
			}
			switch evt.Type {
			case domain.EventProgress:
				bar.render(evt.Stats)
			case domain.EventCompleted:
				bar.done()
				fmt.Printf("completed in %s, average %s\n", time.Duration(evt.ElapsedMs)*time.Millisecond, formatSpeed(evt.AverageSpeedBps))
				return nil
			case domain.EventFailed:
				bar.done()
				return fmt.Errorf("transfer failed: %s (%s)", evt.Message, evt.Category)
			case domain.EventCanceled:
				bar.done()
				return fmt.Errorf("transfer canceled")
			}
		}
	}
}

// sourceFromIdentifier classifies identifier by scheme/shape into a
// SourceDescriptor.
func sourceFromIdentifier(identifier string) (domain.SourceDescriptor, error) {
	switch {
	case strings.HasPrefix(identifier, "magnet:"):
		return domain.SourceDescriptor{Protocol: domain.ProtocolBitTorrent, MagnetURI: identifier}, nil

	case strings.HasPrefix(identifier, "ed2k://"):
		link, err := adapter.ParseEd2kLink(identifier)
		if err != nil {
			return domain.SourceDescriptor{}, err
		}
		if dlEd2kSrv == "" {
			return domain.SourceDescriptor{}, fmt.Errorf("--ed2k-server is required for ed2k:// sources")
		}
		dlFileSize = link.Size
		return domain.SourceDescriptor{
			Protocol:    domain.ProtocolEd2k,
			ServerURL:   dlEd2kSrv,
			FileHashMD4: link.MD4,
			FileSize:    link.Size,
		}, nil

	case strings.HasPrefix(identifier, "ftp://") || strings.HasPrefix(identifier, "ftps://"):
		return domain.SourceDescriptor{
			Protocol:          domain.ProtocolFTP,
			URL:               identifier,
			Username:          dlFTPUser,
			EncryptedPassword: dlFTPPass,
			Passive:           true,
			UseFTPS:           dlFTPS || strings.HasPrefix(identifier, "ftps://"),
			TimeoutSeconds:    30,
		}, nil

	case strings.HasPrefix(identifier, "http://") || strings.HasPrefix(identifier, "https://"):
		return domain.SourceDescriptor{Protocol: domain.ProtocolHTTP, URL: identifier}, nil

	case strings.HasPrefix(identifier, "peer:"):
		return domain.SourceDescriptor{Protocol: domain.ProtocolP2P, PeerID: strings.TrimPrefix(identifier, "peer:")}, nil

	default:
		return domain.SourceDescriptor{}, fmt.Errorf("unrecognized source identifier %q", identifier)
	}
}
