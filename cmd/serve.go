// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/fido-device-onboard/sdo-device-agent/internal/statusd"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local diagnostics HTTP server standalone",
	Long: `Runs the /status and /metrics diagnostics endpoints on their own,
for operators who want to scrape metrics without also driving an
onboarding run. 'sdo-agent onboard --serve-status' runs the same server
alongside an onboarding attempt instead.`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return rootCmdLoadConfig()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	statusCfg, err := statusConfig()
	if err != nil {
		return err
	}

	store, err := openSealedStore()
	if err != nil {
		return err
	}
	cred, err := loadOrInitCredential(store)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	statusd.NewMetrics(reg)
	srv := statusd.NewServer(statusCfg.ListenAddress(), credStatusProvider{cred}, reg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return srv.Run(ctx)
}
