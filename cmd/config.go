// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/fido-device-onboard/sdo-device-agent/internal/ledger"
	"github.com/fido-device-onboard/sdo-device-agent/internal/sim"
)

// LogConfig is the `log` section of the configuration file. No command
// reads it; the log level is set only by --debug.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// StatusConfig configures the optional status/metrics HTTP endpoint
// (see `sdo-agent serve`).
type StatusConfig struct {
	IP   string `mapstructure:"ip" validate:"omitempty,ip"`
	Port string `mapstructure:"port" validate:"omitempty,numeric"`
}

// ListenAddress returns the concatenated IP:Port address for listening.
func (s *StatusConfig) ListenAddress() string {
	return s.IP + ":" + s.Port
}

func (s *StatusConfig) validate() error {
	if s.IP == "" {
		return errors.New("the status endpoint's IP address is required")
	}
	if s.Port == "" {
		return errors.New("the status endpoint's port is required")
	}
	return nil
}

// DatabaseConfig selects the onboarding history backend, mirrored
// onto ledger.DatabaseConfig once decoded.
type DatabaseConfig struct {
	Type string `mapstructure:"type" validate:"omitempty,oneof=sqlite postgres"`
	DSN  string `mapstructure:"dsn"`
}

func (dc *DatabaseConfig) toLedgerConfig() (ledger.DatabaseConfig, error) {
	dc.Type = strings.ToLower(dc.Type)
	if dc.Type != "" && dc.Type != "sqlite" && dc.Type != "postgres" {
		return ledger.DatabaseConfig{}, fmt.Errorf("unsupported database type: %s (must be 'sqlite' or 'postgres')", dc.Type)
	}
	return ledger.DatabaseConfig{Type: dc.Type, DSN: dc.DSN}, nil
}

// AgentConfig is the top-level structure of the agent's configuration
// file, bound via viper.
type AgentConfig struct {
	Log         LogConfig           `mapstructure:"log"`
	DB          DatabaseConfig      `mapstructure:"db"`
	Status      StatusConfig        `mapstructure:"status"`
	ServiceInfo ServiceInfoConfig   `mapstructure:"service_info"`
}

// ServiceInfoOperation represents a single service-info module
// configured in the `service_info` list. Decoding into this structure
// requires two steps: first the module name is decoded, then
// RawParams is decoded into the params struct that module expects.
// See UnmarshalParams.
type ServiceInfoOperation struct {
	Module         string         `mapstructure:"module" validate:"required,oneof=sdo.command sdo.download"`
	RawParams      map[string]any `mapstructure:"params"`
	CommandParams  *sim.CommandParams
	DownloadParams *sim.DownloadParams
}

// ServiceInfoConfig holds the `service_info` configuration section.
type ServiceInfoConfig struct {
	Modules []ServiceInfoOperation `mapstructure:"modules" validate:"dive"`
}

// UnmarshalParams converts RawParams into the typed parameter field
// matching Module. Must be called after viper unmarshaling.
func (s *ServiceInfoOperation) UnmarshalParams() error {
	if s.RawParams == nil {
		return fmt.Errorf("params field is required for module %q", s.Module)
	}

	switch s.Module {
	case "sdo.command":
		var params sim.CommandParams
		if err := mapstructure.Decode(s.RawParams, &params); err != nil {
			return fmt.Errorf("failed to decode params for sdo.command: %w", err)
		}
		s.CommandParams = &params

	case "sdo.download":
		var params sim.DownloadParams
		if err := mapstructure.Decode(s.RawParams, &params); err != nil {
			return fmt.Errorf("failed to decode params for sdo.download: %w", err)
		}
		s.DownloadParams = &params

	default:
		return fmt.Errorf("unsupported service-info module %q", s.Module)
	}

	s.RawParams = nil
	return nil
}

// validate checks the ServiceInfoConfig and fully decodes every
// module's params.
func (s *ServiceInfoConfig) validate() error {
	if s == nil {
		return nil
	}
	for i := range s.Modules {
		if err := s.Modules[i].UnmarshalParams(); err != nil {
			return fmt.Errorf("service_info module %d: %w", i, err)
		}
		op := &s.Modules[i]
		switch op.Module {
		case "sdo.command":
			if op.CommandParams.Command == "" {
				return fmt.Errorf("service_info module %d: cmd is required", i)
			}
		case "sdo.download":
			if op.DownloadParams.Dir == "" {
				return fmt.Errorf("service_info module %d: dir is required", i)
			}
		}
	}
	return nil
}
