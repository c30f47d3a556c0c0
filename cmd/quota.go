package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/harborview/tradescope/internal/quota"
)

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Inspect or reset the daily analysis allowance",
}

var quotaStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show remaining runs for today",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		state, err := st.GetQuotaState(ctx)
		if err != nil {
			return eris.Wrap(err, "quota status")
		}
		if state.Unlimited {
			fmt.Fprintln(os.Stdout, "Quota: unlimited")
			return nil
		}

		gate := quota.NewGate(st, cfg.Quota.DailyLimit)
		remaining, err := gate.Remaining(ctx)
		if err != nil {
			return eris.Wrap(err, "quota status")
		}
		fmt.Fprintf(os.Stdout, "Quota: %d run(s) remaining today\n", remaining)
		return nil
	},
}

var quotaResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset today's usage counter",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		gate := quota.NewGate(st, cfg.Quota.DailyLimit)
		if err := gate.Reset(ctx); err != nil {
			return eris.Wrap(err, "quota reset")
		}
		fmt.Fprintln(os.Stdout, "Quota counter reset.")
		return nil
	},
}

func init() {
	quotaCmd.AddCommand(quotaStatusCmd)
	quotaCmd.AddCommand(quotaResetCmd)
	rootCmd.AddCommand(quotaCmd)
}
