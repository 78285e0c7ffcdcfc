// Package productmigration moves live attachments of one product version onto
// another version, superseding their old grants while preserving usage.
package productmigration

import (
	"context"
	"errors"
)

type MigrateRequest struct {
	ProductID   string `json:"product_id"`
	FromVersion int    `json:"from_version"`
	ToVersion   int    `json:"to_version"`

	// BatchSize bounds one scan page; Concurrency bounds in-flight moves.
	BatchSize   int `json:"batch_size,omitempty"`
	Concurrency int `json:"concurrency,omitempty"`
}

// MigrateResult tallies one orchestrator run. Skipped counts attachments
// already on the target version or no longer eligible by the time their move
// ran.
type MigrateResult struct {
	Scanned  int `json:"scanned"`
	Migrated int `json:"migrated"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

type Service interface {
	// MigrateVersion re-runs safely: attachments already moved are skipped, so
	// a crashed run is finished by running it again.
	MigrateVersion(ctx context.Context, req MigrateRequest) (*MigrateResult, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidProduct      = errors.New("invalid_product")
	ErrInvalidVersion      = errors.New("invalid_product_version")
	ErrAlreadyRunning      = errors.New("migration_already_running")
)
