package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/harborview/tradescope/internal/export"
)

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export <run-id>",
	Short: "Export a completed run to an XLSX report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "export")
		}

		out := exportOut
		if out == "" {
			out = fmt.Sprintf("tradescope-%s.xlsx", run.ID)
		}
		if err := export.WriteXLSX(run, out); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Wrote %s\n", out)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output path (default tradescope-<run-id>.xlsx)")
	rootCmd.AddCommand(exportCmd)
}
