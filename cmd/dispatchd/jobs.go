package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"dispatchd/internal/app"
	"dispatchd/internal/scheduler"
)

func jobCmd(name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				return a.Scheduler.RunNow(ctx, name)
			})
		},
	}
}

var recoverCmd = &cobra.Command{
	Use:   "recover-credits",
	Short: "Credit every completed, paid ride the trigger missed",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			rep, err := a.Settlement.RecoverMissed(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rep)
		})
	},
}

func init() {
	rootCmd.AddCommand(
		jobCmd(scheduler.JobReassign, "Revert assignments past the acceptance timeout"),
		jobCmd(scheduler.JobReconcile, "Equalize drivers' duplicated job fields"),
		recoverCmd,
	)
}
