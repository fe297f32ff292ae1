// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package cmd

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fido-device-onboard/sdo-device-agent/internal/devcred"
	"github.com/fido-device-onboard/sdo-device-agent/internal/ledger"
	"github.com/fido-device-onboard/sdo-device-agent/internal/protocol"
)

var deviceInfo string

// diCmd represents the di command
var diCmd = &cobra.Command{
	Use:   "di manufacturer-url",
	Short: "Run Device Initialization against a manufacturer server",
	Args:  cobra.ExactArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return rootCmdLoadConfig()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDI(args[0])
	},
}

func init() {
	rootCmd.AddCommand(diCmd)
	diCmd.Flags().StringVar(&deviceInfo, "device-info", "", "Free-form device info string presented to the manufacturer")
	_ = viper.BindPFlag("device-info", diCmd.Flags().Lookup("device-info"))
}

// runDI drives one Device Initialization run against url, mints a
// fresh device GUID, and persists the resulting credential to the
// sealed store. Re-running DI against an already-initialized device is
// refused: DI is a one-time identity-provisioning ceremony.
func runDI(url string) error {
	started := time.Now()

	store, err := openSealedStore()
	if err != nil {
		return err
	}
	cred, err := loadOrInitCredential(store)
	if err != nil {
		return err
	}
	if cred.Active {
		return fmt.Errorf("device already has an active credential; re-run against a fresh --store-dir to provision a new identity")
	}

	guid, err := uuid.NewRandom()
	if err != nil {
		return fmt.Errorf("generate device GUID: %w", err)
	}
	copy(cred.Manufacturer.GUID[:], guid[:])
	cred.Manufacturer.DeviceInfo = deviceInfo

	ctx := protocol.NewContext(protocol.DIInit, cred, nil, nil)
	defer ctx.Free()
	driver := protocol.NewDriver(ctx, protocol.DIHandlers())

	client := &http.Client{Timeout: 30 * time.Second}
	ser := newJSONSerializer()

	var runErr error
loop:
	for {
		switch driver.Process(ser) {
		case protocol.Completed:
			runErr = devcred.Save(store, cred)
			break loop
		case protocol.Failed:
			runErr = fmt.Errorf("DI failed in state %s", ctx.State)
			break loop
		case protocol.Progressed:
			continue
		case protocol.Suspended:
			out, ok := ser.takeOutbound()
			if !ok {
				runErr = fmt.Errorf("DI: no outbound message to send in state %s", ctx.State)
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

	recordAttempt(ledger.PhaseDI, fmt.Sprintf("%x", cred.GUID()), started, runErr)
	if runErr != nil {
		return runErr
	}
	fmt.Printf("DI complete: device GUID %x\n", cred.GUID())
	return nil
}
