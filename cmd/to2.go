// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/fido-device-onboard/sdo-device-agent/internal/devcred"
	"github.com/fido-device-onboard/sdo-device-agent/internal/devicekey"
	"github.com/fido-device-onboard/sdo-device-agent/internal/ledger"
	"github.com/fido-device-onboard/sdo-device-agent/internal/protocol"
)

var (
	ownerURL     string
	forceOnboard bool
	to2PollRate  float64
)

// to2Cmd represents the to2 command
var to2Cmd = &cobra.Command{
	Use:   "to2",
	Short: "Run Transfer Ownership 2 against the owner and commit new credentials",
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return rootCmdLoadConfig()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTO2(ownerURL)
	},
}

func init() {
	rootCmd.AddCommand(to2Cmd)
	to2Cmd.Flags().StringVar(&ownerURL, "owner-url", "", "Owner address, normally discovered by 'sdo-agent to1'")
	to2Cmd.Flags().BoolVarP(&forceOnboard, "force", "y", false, "Skip the confirmation prompt before replacing credentials")
	to2Cmd.Flags().Float64Var(&to2PollRate, "to2-poll-rate", 0.5, "Maximum owner-service-info poll rate, in requests per second")
	_ = viper.BindPFlag("owner-url", to2Cmd.Flags().Lookup("owner-url"))
	_ = viper.BindPFlag("to2-poll-rate", to2Cmd.Flags().Lookup("to2-poll-rate"))
}

// runTO2 drives one Transfer Ownership 2 run against url: mutual
// authentication, the ownership-voucher entry chain, the bidirectional
// service-info exchange, and the final credential handoff. On success
// the device's new rendezvous info and owner key hash are committed to
// the sealed store, replacing what DI originally wrote; the HMAC key
// is left as DI set it.
func runTO2(url string) error {
	started := time.Now()

	store, err := openSealedStore()
	if err != nil {
		return err
	}
	cred, ok, err := devcred.Load(store)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no device credential found; run 'sdo-agent di' first")
	}
	if url == "" {
		return fmt.Errorf("no owner URL: run 'sdo-agent to1' first or pass --owner-url")
	}

	if !forceOnboard {
		if err := confirmOverwrite("TO2 will replace this device's ownership credential"); err != nil {
			return err
		}
	}

	signer, err := devicekey.Load(deviceKeyPath, readFile)
	if err != nil {
		return fmt.Errorf("load device signing key: %w", err)
	}

	modules, err := buildServiceInfoModules()
	if err != nil {
		return fmt.Errorf("build service-info modules: %w", err)
	}

	ctx := protocol.NewContext(protocol.TO2Init, cred, signer, modules)
	defer ctx.Free()
	driver := protocol.NewDriver(ctx, protocol.TO2Handlers())

	client := &http.Client{Timeout: 30 * time.Second}
	ser := newJSONSerializer()
	limiter := rate.NewLimiter(rate.Limit(to2PollRate), 1)

	var runErr error
loop:
	for {
		switch driver.Process(ser) {
		case protocol.Completed:
			runErr = devcred.Save(store, cred)
			break loop
		case protocol.Failed:
			runErr = fmt.Errorf("TO2 failed in state %s", ctx.State)
			break loop
		case protocol.Progressed:
			continue
		case protocol.Suspended:
			// Polling the owner for further service-info is the one TO2
			// leg that can legitimately spin with nothing new to say;
			// everywhere else the driver is already waiting on a
			// request/response pair the owner initiated.
			if ctx.State == protocol.TO2SndGetNextOwnerServiceInfo {
				if err := limiter.Wait(context.Background()); err != nil {
					runErr = err
					break loop
				}
			}
			out, ok := ser.takeOutbound()
			if !ok {
				runErr = fmt.Errorf("TO2: no outbound message to send in state %s", ctx.State)
				break loop
			}
			resp, err := httpExchange(client, url, out)
			if err != nil {
				runErr = err
				break loop
			}
			if err := ser.loadInbound(resp); err != nil {
				runErr = err
				break loop
			}
		}
	}

	recordAttempt(ledger.PhaseTO2, fmt.Sprintf("%x", cred.GUID()), started, runErr)
	if runErr != nil {
		return runErr
	}
	fmt.Println("TO2 complete: device onboarded")
	return nil
}
