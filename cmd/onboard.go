// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/fido-device-onboard/sdo-device-agent/internal/statusd"
)

var serveStatusDuringOnboard bool

// onboardCmd represents the onboard command
var onboardCmd = &cobra.Command{
	Use:   "onboard manufacturer-url rendezvous-url",
	Short: "Run Device Initialization, Transfer Ownership 1, and Transfer Ownership 2 back-to-back",
	Args:  cobra.ExactArgs(2),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return rootCmdLoadConfig()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnboard(args[0], args[1])
	},
}

func init() {
	rootCmd.AddCommand(onboardCmd)
	onboardCmd.Flags().BoolVar(&serveStatusDuringOnboard, "serve-status", false, "Also run the diagnostics HTTP server for the duration of onboarding")
	onboardCmd.Flags().StringVar(&ownerURL, "owner-url", "", "Owner address to contact for TO2 (redirect-record decoding is out of scope)")
	onboardCmd.Flags().BoolVarP(&forceOnboard, "force", "y", false, "Skip the confirmation prompt before replacing credentials")
}

// runOnboard chains DI, TO1, and TO2, optionally running the
// diagnostics HTTP server concurrently. When --serve-status is set,
// golang.org/x/sync/errgroup runs the two: when the onboarding
// sequence returns, it cancels the server's context so no status
// server is left orphaned. A server failure does not interrupt an
// onboarding sequence already in progress; it is reported once that
// sequence returns.
func runOnboard(manufacturerURL, rendezvousURL string) error {
	if !serveStatusDuringOnboard {
		return onboardSequence(manufacturerURL, rendezvousURL)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	statusCfg, err := statusConfig()
	if err != nil {
		return err
	}
	reg := prometheus.NewRegistry()
	statusd.NewMetrics(reg)
	srv := statusd.NewServer(statusCfg.ListenAddress(), onboardStatusProvider{}, reg)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		defer stop()
		return onboardSequence(manufacturerURL, rendezvousURL)
	})
	return g.Wait()
}

func onboardSequence(manufacturerURL, rendezvousURL string) error {
	if err := runDI(manufacturerURL); err != nil {
		return fmt.Errorf("onboard: DI: %w", err)
	}
	redirect, err := runTO1(rendezvousURL)
	if err != nil {
		return fmt.Errorf("onboard: TO1: %w", err)
	}
	_ = redirect // decoding a redirect record into a transport address is out of scope (no transport implementation)
	if ownerURL == "" {
		return fmt.Errorf("onboard: TO1 succeeded but no --owner-url was given to reach the owner for TO2")
	}
	if err := runTO2(ownerURL); err != nil {
		return fmt.Errorf("onboard: TO2: %w", err)
	}
	return nil
}

// onboardStatusProvider reports a minimal status while onboarding runs
// under --serve-status; it does not expose per-phase state, since the
// run loops in di.go/to1.go/to2.go are not given a shared Context to
// read back from under this simple coordination.
type onboardStatusProvider struct{}

func (onboardStatusProvider) Status() statusd.Status {
	return statusd.Status{Phase: "onboard", Active: true}
}

// statusConfig reads the `status` section bound by viper (file, env,
// or flags), defaulting to 0.0.0.0:8090 when unset.
func statusConfig() (StatusConfig, error) {
	sc := StatusConfig{IP: "0.0.0.0", Port: "8090"}
	if err := viper.UnmarshalKey("status", &sc); err != nil {
		return StatusConfig{}, fmt.Errorf("decode status configuration: %w", err)
	}
	if err := sc.validate(); err != nil {
		return StatusConfig{}, err
	}
	return sc, nil
}
