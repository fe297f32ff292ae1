// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

// Package sim provides two built-in protocol.ServiceInfoModule
// implementations, demonstrating the capability interface's shape
// without constituting a plugin authoring framework (spec.md §9
// Non-goals). Configuration decoding follows the two-step
// mapstructure pattern in kgiusti-go-fdo-server/cmd/config.go's
// ServiceInfoOperation.UnmarshalParams: a generic params map is
// decoded into a typed struct once the module name is known.
package sim

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/mitchellh/mapstructure"

	"github.com/fido-device-onboard/sdo-device-agent/internal/protocol"
)

// CommandParams configures the "sdo.command" module: run a local
// command and offer its stdout as device service-info.
type CommandParams struct {
	Command   string   `mapstructure:"cmd"`
	Args      []string `mapstructure:"args"`
	MayFail   bool     `mapstructure:"may_fail"`
	RetStdout bool     `mapstructure:"return_stdout"`
}

// DecodeCommandParams decodes a raw params map (as produced by viper)
// into CommandParams.
func DecodeCommandParams(raw map[string]any) (CommandParams, error) {
	var p CommandParams
	if err := mapstructure.Decode(raw, &p); err != nil {
		return p, fmt.Errorf("sim: decode sdo.command params: %w", err)
	}
	return p, nil
}

// CommandModule runs a configured local command once and offers its
// stdout as a single device service-info chunk.
type CommandModule struct {
	params CommandParams
	output []byte
	ran    bool
	sent   bool
}

// NewCommandModule builds a CommandModule from already-decoded params.
func NewCommandModule(params CommandParams) *CommandModule {
	return &CommandModule{params: params}
}

func (m *CommandModule) Name() string { return "sdo.command" }

func (m *CommandModule) Exec(typ protocol.SvInfoType, cursor int) ([]byte, bool, error) {
	switch typ {
	case protocol.SvInfoStart:
		return nil, true, nil
	case protocol.SvInfoGetDSI:
		if m.sent {
			return nil, true, nil
		}
		if !m.ran {
			out, err := exec.Command(m.params.Command, m.params.Args...).Output()
			if err != nil && !m.params.MayFail {
				return nil, false, fmt.Errorf("sim: command %q: %w", m.params.Command, err)
			}
			m.output = out
			m.ran = true
		}
		m.sent = true
		if !m.params.RetStdout {
			return nil, true, nil
		}
		return m.output, false, nil
	case protocol.SvInfoEnd:
		return nil, true, nil
	default:
		return nil, true, nil
	}
}

func (m *CommandModule) Receive(key string, value []byte) error {
	return nil
}

// DownloadParams configures the "sdo.download" module: write
// owner-supplied files to a local directory.
type DownloadParams struct {
	Dir string `mapstructure:"dir"`
}

// DecodeDownloadParams decodes a raw params map into DownloadParams.
func DecodeDownloadParams(raw map[string]any) (DownloadParams, error) {
	var p DownloadParams
	if err := mapstructure.Decode(raw, &p); err != nil {
		return p, fmt.Errorf("sim: decode sdo.download params: %w", err)
	}
	return p, nil
}

// DownloadModule has no device-side contribution (Exec always
// reports done) and instead dispatches owner service-info into files
// under Dir.
type DownloadModule struct {
	params DownloadParams
}

// NewDownloadModule builds a DownloadModule from already-decoded params.
func NewDownloadModule(params DownloadParams) *DownloadModule {
	return &DownloadModule{params: params}
}

func (m *DownloadModule) Name() string { return "sdo.download" }

// splitKey divides a "module:message" service-info key into its two
// parts; if there is no separator, message is the whole key.
func splitKey(key string) (module, message string) {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[:i], key[i+1:]
		}
	}
	return key, key
}

func (m *DownloadModule) Exec(typ protocol.SvInfoType, cursor int) ([]byte, bool, error) {
	return nil, true, nil
}

func (m *DownloadModule) Receive(key string, value []byte) error {
	if m.params.Dir == "" {
		return fmt.Errorf("sim: sdo.download: no directory configured")
	}
	if err := os.MkdirAll(m.params.Dir, 0o755); err != nil {
		return fmt.Errorf("sim: sdo.download: %w", err)
	}
	_, message := splitKey(key)
	dst := filepath.Join(m.params.Dir, filepath.Base(message))
	if err := os.WriteFile(dst, value, 0o644); err != nil {
		return fmt.Errorf("sim: sdo.download: write %s: %w", dst, err)
	}
	return nil
}
