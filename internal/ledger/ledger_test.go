// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package ledger

import (
	"testing"
	"time"
)

func TestOpenRejectsUnknownBackend(t *testing.T) {
	_, err := Open(DatabaseConfig{Type: "oracle"})
	if err == nil {
		t.Fatalf("expected error for unsupported backend")
	}
	if _, ok := err.(*UnsupportedBackendError); !ok {
		t.Fatalf("got %T, want *UnsupportedBackendError", err)
	}
}

func TestRecordAndRecent(t *testing.T) {
	db, err := Open(DatabaseConfig{Type: "sqlite", DSN: "file::memory:?cache=shared&_test=recordandrecent"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	attempts := []Attempt{
		{Phase: PhaseDI, GUID: "guid-1", StartedAt: now, FinishedAt: now.Add(time.Second), Outcome: OutcomeCompleted},
		{Phase: PhaseTO1, GUID: "guid-1", StartedAt: now.Add(time.Minute), FinishedAt: now.Add(time.Minute + time.Second), Outcome: OutcomeCompleted},
		{Phase: PhaseTO2, GUID: "guid-1", StartedAt: now.Add(2 * time.Minute), FinishedAt: now.Add(2*time.Minute + time.Second), Outcome: OutcomeFailed, Detail: "owner unreachable"},
	}
	for _, a := range attempts {
		if err := Record(db, a); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	recent, err := Recent(db, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("got %d attempts, want 2", len(recent))
	}
	if recent[0].Phase != PhaseTO2 {
		t.Fatalf("expected most recent attempt first, got phase %s", recent[0].Phase)
	}
}
