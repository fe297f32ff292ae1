// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"hermannm.dev/devlog"
)

var (
	debug        bool
	logLevel     slog.LevelVar
	storeDir     string
	deviceKeyPath string
)

var rootCmd = &cobra.Command{
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	Use:   "sdo-agent",
	Short: "Device-side Secure Device Onboarding client",
	Long: `sdo-agent drives a device through Secure Device Onboarding: Device
Initialization with the manufacturer, rendezvous with Transfer
Ownership 1, and owner mutual authentication with Transfer
Ownership 2. It maintains its credentials in a tamper-evident local
blob store between runs.
`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main(). It only needs to
// happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	slog.SetDefault(slog.New(devlog.NewHandler(os.Stdout, &devlog.Options{
		Level: &logLevel,
	})))

	rootCmd.PersistentFlags().Bool("debug", false, "Print debug contents")
	rootCmd.PersistentFlags().String("store-dir", "", "Directory holding the device's sealed credential blobs")
	rootCmd.PersistentFlags().String("device-key", "", "Path to the device's PEM-encoded RSA private key")
	rootCmd.PersistentFlags().String("config", "", "Pathname of the configuration file")

	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("store-dir", rootCmd.PersistentFlags().Lookup("store-dir"))
	_ = viper.BindPFlag("device-key", rootCmd.PersistentFlags().Lookup("device-key"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

// rootCmdLoadConfig binds the persistent flags into package-level
// state, the same responsibility the teacher's rootCmdLoadConfig
// carries for its own server-side flags. It also reads the
// --config file, if given, the same way the teacher's per-command
// LoadConfig functions do.
func rootCmdLoadConfig() error {
	if configFilePath := viper.GetString("config"); configFilePath != "" {
		viper.SetConfigFile(configFilePath)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("configuration file read failed: %w", err)
		}
	}

	debug = viper.GetBool("debug")
	if debug {
		logLevel.Set(slog.LevelDebug)
	}
	storeDir = viper.GetString("store-dir")
	if storeDir == "" {
		storeDir = defaultStoreDir()
	}
	deviceKeyPath = viper.GetString("device-key")
	return nil
}

func defaultStoreDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".sdo-agent"
	}
	return home + "/.sdo-agent"
}
