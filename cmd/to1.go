// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package cmd

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/fido-device-onboard/sdo-device-agent/internal/devcred"
	"github.com/fido-device-onboard/sdo-device-agent/internal/devicekey"
	"github.com/fido-device-onboard/sdo-device-agent/internal/ledger"
	"github.com/fido-device-onboard/sdo-device-agent/internal/protocol"
)

// to1Cmd represents the to1 command
var to1Cmd = &cobra.Command{
	Use:   "to1 rendezvous-url",
	Short: "Run Transfer Ownership 1 and report the size of the discovered owner redirect",
	Args:  cobra.ExactArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return rootCmdLoadConfig()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := runTO1(args[0])
		return err
	},
}

func init() {
	rootCmd.AddCommand(to1Cmd)
}

// runTO1 drives one Transfer Ownership 1 run against url and returns
// the owner redirect record. Decoding the redirect's plaintext into a
// transport address to dial is out of scope, so `sdo-agent to2` still
// needs an explicit --owner-url to reach the owner.
func runTO1(url string) (*protocol.Redirect, error) {
	started := time.Now()

	store, err := openSealedStore()
	if err != nil {
		return nil, err
	}
	cred, ok, err := devcred.Load(store)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("no device credential found; run 'sdo-agent di' first")
	}

	signer, err := devicekey.Load(deviceKeyPath, readFile)
	if err != nil {
		return nil, fmt.Errorf("load device signing key: %w", err)
	}

	ctx := protocol.NewContext(protocol.TO1Init, cred, signer, nil)
	defer ctx.Free()
	driver := protocol.NewDriver(ctx, protocol.TO1Handlers())

	client := &http.Client{Timeout: 30 * time.Second}
	ser := newJSONSerializer()

	var redirect *protocol.Redirect
	var runErr error
loop:
	for {
		switch driver.Process(ser) {
		case protocol.Completed:
			redirect = &protocol.Redirect{
				PlainText: append([]byte{}, ctx.Redirect.PlainText...),
				ObSig:     append([]byte{}, ctx.Redirect.ObSig...),
			}
			break loop
		case protocol.Failed:
			runErr = fmt.Errorf("TO1 failed in state %s", ctx.State)
			break loop
		case protocol.Progressed:
			continue
		case protocol.Suspended:
			out, ok := ser.takeOutbound()
			if !ok {
				runErr = fmt.Errorf("TO1: no outbound message to send in state %s", ctx.State)
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

	recordAttempt(ledger.PhaseTO1, fmt.Sprintf("%x", cred.GUID()), started, runErr)
	if runErr != nil {
		return nil, runErr
	}
	fmt.Printf("TO1 complete: owner redirect (%d bytes) acquired\n", len(redirect.PlainText))
	return redirect, nil
}
