package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(listCmd)
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List known transfers, most recently updated first",
	RunE:    runList,
}

func runList(cmd *cobra.Command, args []string) error {
	d, err := newDaemon()
	if err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	defer d.Close()

	rows, err := d.DB.List()
	if err != nil {
		return err
	}

	if len(rows) == 0 {
		fmt.Println("No transfers recorded yet. Run 'transferd download' to get started.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FILE_HASH\tNAME\tSIZE\tSTATUS\tPROGRESS\tUPDATED")
	for _, t := range rows {
		progress := "--"
		if t.FileSize > 0 {
			progress = fmt.Sprintf("%.0f%%", float64(t.BytesDone)/float64(t.FileSize)*100)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			shortHash(t.FileHash),
			t.FileName,
			humanSize(t.FileSize),
			t.Status,
			progress,
			t.UpdatedAt.Format("2006-01-02 15:04"),
		)
	}
	return w.Flush()
}

func shortHash(h string) string {
	if len(h) <= 12 {
		return h
	}
	return h[:12]
}
