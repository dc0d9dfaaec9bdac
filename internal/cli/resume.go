package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(resumeCmd)
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume every interrupted transfer found under the download-state directory",
	Args:  cobra.NoArgs,
	RunE:  runResume,
}

func runResume(cmd *cobra.Command, args []string) error {
	d, err := newDaemon()
	if err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	defer d.Close()

	if err := d.ResumeAll(cmd.Context()); err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	fmt.Println("resume scan complete")
	return nil
}
