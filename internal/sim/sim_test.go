// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package sim

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fido-device-onboard/sdo-device-agent/internal/protocol"
)

func TestCommandModuleReturnsStdoutOnce(t *testing.T) {
	params, err := DecodeCommandParams(map[string]any{
		"cmd":            "echo",
		"args":           []string{"hello"},
		"return_stdout":  true,
	})
	if err != nil {
		t.Fatalf("DecodeCommandParams: %v", err)
	}
	m := NewCommandModule(params)

	if _, done, err := m.Exec(protocol.SvInfoStart, 0); err != nil || !done {
		t.Fatalf("Start: done=%v err=%v", done, err)
	}

	data, done, err := m.Exec(protocol.SvInfoGetDSI, 0)
	if err != nil {
		t.Fatalf("Exec GetDSI: %v", err)
	}
	if done {
		t.Fatalf("expected first GetDSI to carry data, not be done")
	}
	if string(data) != "hello\n" {
		t.Fatalf("got %q, want %q", data, "hello\n")
	}

	_, done, err = m.Exec(protocol.SvInfoGetDSI, 0)
	if err != nil || !done {
		t.Fatalf("expected second GetDSI to report done, got done=%v err=%v", done, err)
	}
}

func TestCommandModulePropagatesFailureUnlessMayFail(t *testing.T) {
	params, _ := DecodeCommandParams(map[string]any{"cmd": "false"})
	m := NewCommandModule(params)
	if _, _, err := m.Exec(protocol.SvInfoGetDSI, 0); err == nil {
		t.Fatalf("expected command failure to propagate")
	}

	params.MayFail = true
	m2 := NewCommandModule(params)
	if _, _, err := m2.Exec(protocol.SvInfoGetDSI, 0); err != nil {
		t.Fatalf("expected MayFail to suppress error, got: %v", err)
	}
}

func TestDownloadModuleWritesReceivedFiles(t *testing.T) {
	dir := t.TempDir()
	m := NewDownloadModule(DownloadParams{Dir: dir})

	if err := m.Receive("sdo.download:config.json", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("Receive: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		t.Fatalf("read written file: %v", err)
	}
	if string(got) != `{"a":1}` {
		t.Fatalf("got %q", got)
	}
}
