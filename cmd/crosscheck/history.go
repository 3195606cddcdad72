package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/deixis/crosscheck/internal/history"
	xcmcp "github.com/deixis/crosscheck/internal/mcp"
)

var (
	historyLimit int
	historyCase  string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent runs, or the verdict trail of one case",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		hist, err := history.Open(cfg.HistoryPath())
		if err != nil {
			return err
		}
		defer hist.Close()

		ctx := cmd.Context()
		if historyCase != "" {
			trail, err := hist.CaseTrail(ctx, historyCase, historyLimit)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), xcmcp.FormatTrail(historyCase, trail))
			return nil
		}
		runs, err := hist.Runs(ctx, historyLimit)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), xcmcp.FormatRuns(runs))
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of rows")
	historyCmd.Flags().StringVar(&historyCase, "case", "", "case path relative to the resource root")
}
