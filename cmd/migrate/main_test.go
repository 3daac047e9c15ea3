package main

import (
	"testing"

	infra "github.com/dvloznov/finance-assistant/internal/infra/bigquery"
)

func TestVerifyChecksums(t *testing.T) {
	all := []infra.Migration{
		{Version: 1, Name: "create_operations", Checksum: "aaa"},
		{Version: 2, Name: "operations_daily_view", Checksum: "bbb"},
	}

	tests := []struct {
		name    string
		applied []infra.AppliedMigration
		wantErr bool
	}{
		{"nothing applied", nil, false},
		{"matching", []infra.AppliedMigration{{Version: 1, Checksum: "aaa"}}, false},
		{"legacy row without checksum", []infra.AppliedMigration{{Version: 1}}, false},
		{"unknown version", []infra.AppliedMigration{{Version: 9, Checksum: "zzz"}}, false},
		{"modified after apply", []infra.AppliedMigration{{Version: 2, Checksum: "changed"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := verifyChecksums(all, tt.applied)
			if (err != nil) != tt.wantErr {
				t.Errorf("verifyChecksums() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEmbeddedMigrationsAreConsistent(t *testing.T) {
	all, err := infra.LoadMigrations(infra.Migrations(), "proj", "ds")
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	applied := make([]infra.AppliedMigration, 0, len(all))
	for _, m := range all {
		applied = append(applied, infra.AppliedMigration{Version: m.Version, Name: m.Name, Checksum: m.Checksum})
	}
	if err := verifyChecksums(all, applied); err != nil {
		t.Errorf("verifyChecksums() on freshly loaded migrations: %v", err)
	}
	if pending := infra.Pending(all, applied); len(pending) != 0 {
		t.Errorf("Pending() = %d, want 0", len(pending))
	}
}
