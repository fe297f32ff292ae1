// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/fido-device-onboard/sdo-device-agent/internal/devcred"
	"github.com/fido-device-onboard/sdo-device-agent/internal/sealedstore"
)

func readFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// openSealedStore provisions (on first use) and opens the on-disk
// sealed blob store rooted at storeDir, the same directory every
// subcommand shares for one device identity.
func openSealedStore() (*sealedstore.Store, error) {
	fs := afero.NewOsFs()
	if err := fs.MkdirAll(storeDir, 0o700); err != nil {
		return nil, fmt.Errorf("create store directory %s: %w", storeDir, err)
	}
	platform, err := sealedstore.NewFilePlatform(fs,
		filepath.Join(storeDir, "aes.key"),
		filepath.Join(storeDir, "hmac.key"),
		filepath.Join(storeDir, "iv.state"))
	if err != nil {
		return nil, fmt.Errorf("provision platform key material: %w", err)
	}
	return sealedstore.New(fs, platform), nil
}

// loadOrInitCredential reads back a previously-sealed credential, or
// returns a fresh zero-value one for a device that has never run DI.
func loadOrInitCredential(store *sealedstore.Store) (*devcred.DeviceCredential, error) {
	cred, ok, err := devcred.Load(store)
	if err != nil {
		return nil, fmt.Errorf("load device credential: %w", err)
	}
	if !ok {
		cred = &devcred.DeviceCredential{}
	}
	return cred, nil
}
