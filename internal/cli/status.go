package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chiral/transferd/internal/domain"
	"github.com/chiral/transferd/internal/statedb"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status FILE_HASH",
	Short: "Show a transfer's current progress, live if active or last-known otherwise",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	fileHash := args[0]

	d, err := newDaemon()
	if err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	defer d.Close()

	if stats, err := d.Orchestrator.Progress(fileHash); err == nil {
		printLiveStats(stats)
		return nil
	}

	row, err := d.DB.Get(fileHash)
	if err != nil {
		return fmt.Errorf("no record for %s: %w", fileHash, err)
	}
	printRecordedStatus(row)
	return nil
}

func printLiveStats(stats *domain.DownloadStats) {
	fmt.Printf("file_hash:  %s\n", stats.FileHash)
	fmt.Printf("status:     active\n")
	fmt.Printf("progress:   %s / %s (%d/%d chunks)\n",
		humanSize(stats.BytesDownloaded), humanSize(stats.TotalBytes),
		stats.ChunksCompleted, stats.ChunksTotal)
	fmt.Printf("speed:      %s\n", formatSpeed(stats.DownloadSpeedBps))
	fmt.Printf("eta:        %s\n", formatETA(stats.TimeRemainingS))
	fmt.Printf("sources:    %d active / %d total\n", stats.SourcesActive, stats.SourcesTotal)
}

func printRecordedStatus(row *statedb.TransferStatus) {
	fmt.Printf("file_hash:  %s\n", row.FileHash)
	fmt.Printf("file_name:  %s\n", row.FileName)
	fmt.Printf("status:     %s\n", row.Status)
	if row.Category != "" {
		fmt.Printf("category:   %s\n", row.Category)
	}
	fmt.Printf("progress:   %s / %s\n", humanSize(row.BytesDone), humanSize(row.FileSize))
	fmt.Printf("started:    %s\n", row.StartedAt.Format("2006-01-02 15:04:05"))
	if row.CompletedAt != nil {
		fmt.Printf("completed:  %s\n", row.CompletedAt.Format("2006-01-02 15:04:05"))
	}
}
