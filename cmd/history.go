// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package cmd

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/fido-device-onboard/sdo-device-agent/internal/ledger"
)

var historyLimit int

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print the local onboarding-attempt ledger",
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return rootCmdLoadConfig()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHistory()
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of attempts to print, newest first")
}

func runHistory() error {
	db, err := openLedgerDB()
	if err != nil {
		return err
	}
	attempts, err := ledger.Recent(db, historyLimit)
	if err != nil {
		return fmt.Errorf("query onboarding history: %w", err)
	}
	if len(attempts) == 0 {
		fmt.Println("no onboarding attempts recorded yet")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Phase", "GUID", "Started", "Finished", "Outcome", "Detail"})
	for _, a := range attempts {
		table.Append([]string{
			string(a.Phase),
			a.GUID,
			a.StartedAt.Format("2006-01-02T15:04:05"),
			a.FinishedAt.Format("2006-01-02T15:04:05"),
			string(a.Outcome),
			a.Detail,
		})
	}
	table.Render()
	return nil
}
