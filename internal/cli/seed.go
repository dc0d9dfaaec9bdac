package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(seedCmd)
}

var seedCmd = &cobra.Command{
	Use:   "seed FILE_HASH FILE_PATH",
	Short: "Announce a local file as available for every registered adapter",
	Args:  cobra.ExactArgs(2),
	RunE:  runSeed,
}

func runSeed(cmd *cobra.Command, args []string) error {
	fileHash, filePath := args[0], args[1]

	d, err := newDaemon()
	if err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	defer d.Close()

	infos, err := d.Seed(cmd.Context(), fileHash, filePath)
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	if len(infos) == 0 {
		fmt.Println("no adapters accepted this file for seeding")
		return nil
	}
	for proto, info := range infos {
		fmt.Printf("%-10s %s\n", proto, info.Identifier)
		if info.Detail != "" {
			fmt.Printf("%-10s %s\n", "", info.Detail)
		}
	}
	return nil
}
