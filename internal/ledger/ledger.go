// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

// Package ledger records the outcome of every DI/TO1/TO2 attempt made
// by this agent, for operator troubleshooting and the `sdo-agent
// history` CLI command. Grounded on kgiusti-go-fdo-server's
// sqlite/postgres driver selection pattern (cmd/config.go's
// DatabaseConfig/getState) — gorm.AutoMigrate is used in place of the
// teacher's migration tooling since a single-table ledger has no
// versioned schema to manage.
package ledger

import (
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Phase identifies which protocol phase an Attempt recorded.
type Phase string

const (
	PhaseDI  Phase = "DI"
	PhaseTO1 Phase = "TO1"
	PhaseTO2 Phase = "TO2"
)

// Outcome is the terminal result of an Attempt.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
)

// Attempt is one row of onboarding history: a single DI, TO1, or TO2
// run and how it ended.
type Attempt struct {
	ID         uint `gorm:"primaryKey"`
	Phase      Phase
	GUID       string
	StartedAt  time.Time
	FinishedAt time.Time
	Outcome    Outcome
	Detail     string
}

// DatabaseConfig selects and parameterizes the backing database,
// mirroring the teacher's DatabaseConfig/getState split between
// sqlite (the default, zero-config path) and postgres (for fleets
// running a shared history store).
type DatabaseConfig struct {
	Type string // "sqlite" or "postgres"
	DSN  string
}

// Open opens a gorm.DB against the configured backend and
// auto-migrates the Attempt table.
func Open(cfg DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Type {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite", "":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "sdo-agent.db"
		}
		dialector = sqlite.Open(dsn)
	default:
		return nil, &UnsupportedBackendError{Type: cfg.Type}
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Attempt{}); err != nil {
		return nil, err
	}
	return db, nil
}

// UnsupportedBackendError reports an unrecognized DatabaseConfig.Type.
type UnsupportedBackendError struct{ Type string }

func (e *UnsupportedBackendError) Error() string {
	return "ledger: unsupported database type " + e.Type
}

// Record inserts one Attempt row.
func Record(db *gorm.DB, a Attempt) error {
	return db.Create(&a).Error
}

// Recent returns the most recent n attempts, newest first, for the
// `sdo-agent history` command.
func Recent(db *gorm.DB, n int) ([]Attempt, error) {
	var attempts []Attempt
	err := db.Order("started_at desc").Limit(n).Find(&attempts).Error
	return attempts, err
}
