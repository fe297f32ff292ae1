// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/manifoldco/promptui"
	"github.com/spf13/viper"
	"gorm.io/gorm"

	"github.com/fido-device-onboard/sdo-device-agent/internal/ledger"
	"github.com/fido-device-onboard/sdo-device-agent/internal/protocol"
	"github.com/fido-device-onboard/sdo-device-agent/internal/sim"
)

var structValidator = validator.New()

// loadServiceInfoConfig reads the `service_info` section bound by
// viper (file, env, or flags) into a ServiceInfoConfig, fully decoding
// every module's params.
func loadServiceInfoConfig() (*ServiceInfoConfig, error) {
	var cfg ServiceInfoConfig
	if err := viper.UnmarshalKey("service_info", &cfg); err != nil {
		return nil, fmt.Errorf("decode service_info configuration: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if err := structValidator.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("service_info configuration: %w", err)
	}
	return &cfg, nil
}

// buildServiceInfoModules turns the configured service-info operations
// into the concrete protocol.ServiceInfoModule set TO2 exchanges, one
// internal/sim module per configured operation.
func buildServiceInfoModules() (*protocol.ModuleList, error) {
	cfg, err := loadServiceInfoConfig()
	if err != nil {
		return nil, err
	}

	modules := make([]protocol.ServiceInfoModule, 0, len(cfg.Modules))
	for _, op := range cfg.Modules {
		switch op.Module {
		case "sdo.command":
			modules = append(modules, sim.NewCommandModule(*op.CommandParams))
		case "sdo.download":
			modules = append(modules, sim.NewDownloadModule(*op.DownloadParams))
		default:
			return nil, fmt.Errorf("unsupported service-info module %q", op.Module)
		}
	}
	return protocol.NewModuleList(modules...), nil
}

// confirmOverwrite prompts the operator with promptui before an
// irreversible credential overwrite, unless --force/--yes was passed.
func confirmOverwrite(label string) error {
	prompt := promptui.Prompt{
		Label:     label + ". Continue",
		IsConfirm: true,
	}
	if _, err := prompt.Run(); err != nil {
		return fmt.Errorf("aborted: %w", err)
	}
	return nil
}

// openLedgerDB opens the configured onboarding-history database.
func openLedgerDB() (*gorm.DB, error) {
	var dbCfg DatabaseConfig
	if err := viper.UnmarshalKey("db", &dbCfg); err != nil {
		return nil, fmt.Errorf("decode db configuration: %w", err)
	}
	lc, err := dbCfg.toLedgerConfig()
	if err != nil {
		return nil, err
	}
	return ledger.Open(lc)
}

// recordAttempt best-effort logs one DI/TO1/TO2 attempt to the ledger.
// A ledger failure never masks the underlying protocol outcome: it is
// logged and swallowed, matching the ledger's role as an audit trail,
// not a source of truth.
func recordAttempt(phase ledger.Phase, guid string, started time.Time, runErr error) {
	db, err := openLedgerDB()
	if err != nil {
		slog.Error("open ledger database", "error", err)
		return
	}

	outcome := ledger.OutcomeCompleted
	detail := ""
	if runErr != nil {
		outcome = ledger.OutcomeFailed
		detail = runErr.Error()
	}

	attempt := ledger.Attempt{
		Phase:      phase,
		GUID:       guid,
		StartedAt:  started,
		FinishedAt: time.Now(),
		Outcome:    outcome,
		Detail:     detail,
	}
	if err := ledger.Record(db, attempt); err != nil {
		slog.Error("record onboarding attempt", "error", err)
	}
}
