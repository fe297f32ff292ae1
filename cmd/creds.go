// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package cmd

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/fido-device-onboard/sdo-device-agent/internal/devcred"
	"github.com/fido-device-onboard/sdo-device-agent/internal/statusd"
)

// credsCmd represents the creds command
var credsCmd = &cobra.Command{
	Use:   "creds",
	Short: "Print a summary of the currently-sealed device credential",
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return rootCmdLoadConfig()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCreds()
	},
}

func init() {
	rootCmd.AddCommand(credsCmd)
}

func runCreds() error {
	store, err := openSealedStore()
	if err != nil {
		return err
	}
	cred, ok, err := devcred.Load(store)
	if err != nil {
		return fmt.Errorf("load device credential: %w", err)
	}
	if !ok {
		fmt.Println("no device credential sealed in this store yet; run 'sdo-agent di' first")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Field", "Value"})
	table.Append([]string{"GUID", hex.EncodeToString(cred.GUID())})
	table.Append([]string{"Device info", cred.Manufacturer.DeviceInfo})
	table.Append([]string{"Active", fmt.Sprintf("%t", cred.Active)})
	table.Append([]string{"Owner key hash algo", fmt.Sprintf("%d", cred.Owner.OwnerPublicKeyHashAlgo)})
	table.Append([]string{"Owner key hash", hex.EncodeToString(cred.Owner.OwnerPublicKeyHash)})
	table.Render()
	return nil
}

// credStatusProvider reports the sealed credential's summary through
// the diagnostics /status endpoint.
type credStatusProvider struct {
	cred *devcred.DeviceCredential
}

func (p credStatusProvider) Status() statusd.Status {
	phase := "uninitialized"
	if p.cred.Active {
		phase = "onboarded"
	} else if !bytes.Equal(p.cred.GUID(), make([]byte, len(p.cred.GUID()))) {
		phase = "initialized"
	}
	return statusd.Status{
		GUID:   hex.EncodeToString(p.cred.GUID()),
		Phase:  phase,
		Active: p.cred.Active,
	}
}
