// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package cmd

import (
	"testing"
)

func TestDatabaseConfigToLedgerConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     DatabaseConfig
		wantErr bool
	}{
		{name: "default sqlite", cfg: DatabaseConfig{}, wantErr: false},
		{name: "explicit sqlite", cfg: DatabaseConfig{Type: "SQLite", DSN: "test.db"}, wantErr: false},
		{name: "postgres", cfg: DatabaseConfig{Type: "postgres", DSN: "postgres://localhost/sdo"}, wantErr: false},
		{name: "unsupported", cfg: DatabaseConfig{Type: "mysql"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lc, err := tt.cfg.toLedgerConfig()
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("toLedgerConfig: %v", err)
			}
			if lc.DSN != tt.cfg.DSN {
				t.Fatalf("DSN: got %q, want %q", lc.DSN, tt.cfg.DSN)
			}
		})
	}
}

func TestStatusConfigValidate(t *testing.T) {
	if err := (&StatusConfig{}).validate(); err == nil {
		t.Fatalf("expected error for empty StatusConfig")
	}
	if err := (&StatusConfig{IP: "0.0.0.0"}).validate(); err == nil {
		t.Fatalf("expected error for missing port")
	}
	if err := (&StatusConfig{IP: "0.0.0.0", Port: "8090"}).validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStatusConfigListenAddress(t *testing.T) {
	sc := StatusConfig{IP: "127.0.0.1", Port: "9090"}
	if got, want := sc.ListenAddress(), "127.0.0.1:9090"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestServiceInfoOperationUnmarshalParams(t *testing.T) {
	op := ServiceInfoOperation{
		Module: "sdo.command",
		RawParams: map[string]any{
			"cmd":  "echo",
			"args": []string{"hi"},
		},
	}
	if err := op.UnmarshalParams(); err != nil {
		t.Fatalf("UnmarshalParams: %v", err)
	}
	if op.CommandParams == nil || op.CommandParams.Command != "echo" {
		t.Fatalf("got %+v", op.CommandParams)
	}

	op2 := ServiceInfoOperation{Module: "sdo.nonexistent", RawParams: map[string]any{}}
	if err := op2.UnmarshalParams(); err == nil {
		t.Fatalf("expected error for unsupported module")
	}
}

func TestServiceInfoConfigValidate(t *testing.T) {
	cfg := ServiceInfoConfig{
		Modules: []ServiceInfoOperation{
			{Module: "sdo.command", RawParams: map[string]any{"cmd": ""}},
		},
	}
	if err := cfg.validate(); err == nil {
		t.Fatalf("expected error for empty cmd")
	}

	cfg2 := ServiceInfoConfig{
		Modules: []ServiceInfoOperation{
			{Module: "sdo.download", RawParams: map[string]any{"dir": "/tmp/downloads"}},
		},
	}
	if err := cfg2.validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
