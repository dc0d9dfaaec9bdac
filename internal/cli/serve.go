package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "metrics/health listen host (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "metrics/health listen port (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the transferd daemon: resume interrupted transfers and serve metrics/health",
	Long: `Serve resumes every transfer found under the download-state directory,
then blocks serving Prometheus metrics and a health endpoint until
interrupted (SIGINT/SIGTERM), at which point it shuts down gracefully.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigWithOverrides()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	d, err := newDaemonFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	defer d.Close()

	ctx := cmd.Context()
	if err := d.ResumeAll(ctx); err != nil {
		return fmt.Errorf("resume interrupted transfers: %w", err)
	}

	return d.Serve(ctx)
}
