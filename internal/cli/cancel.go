package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(cancelCmd)
}

var cancelCmd = &cobra.Command{
	Use:   "cancel FILE_HASH",
	Short: "Cancel an in-progress transfer and stop all its sources",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

func runCancel(cmd *cobra.Command, args []string) error {
	fileHash := args[0]

	d, err := newDaemon()
	if err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	defer d.Close()

	if err := d.Orchestrator.Cancel(fileHash); err != nil {
		return fmt.Errorf("cancel: %w", err)
	}
	fmt.Printf("canceled %s\n", fileHash)
	return nil
}
