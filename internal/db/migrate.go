package db

import (
	"context"
	"fmt"
)

type migrationStep struct {
	label string
	sql   string
}

// Steps run around gorm's AutoMigrate. Each must be idempotent.
var (
	beforeModels = []migrationStep{
		{label: "create schema", sql: `CREATE SCHEMA IF NOT EXISTS leadscan`},
	}
	afterModels = []migrationStep{
		// Lead and state documents are looked up by key prefix when
		// operators inspect the store by hand.
		{label: "key prefix index", sql: `CREATE INDEX IF NOT EXISTS kv_strings_key_prefix_idx
	ON leadscan.kv_strings (key text_pattern_ops)`},
	}
)

func (p *Pool) autoMigrate(ctx context.Context) error {
	if p == nil || p.gdb == nil {
		return fmt.Errorf("database pool is not initialized")
	}

	if err := p.runSteps(ctx, beforeModels); err != nil {
		return err
	}
	if err := p.gdb.WithContext(ctx).AutoMigrate(autoMigrateModels()...); err != nil {
		return fmt.Errorf("gorm auto-migrate models: %w", err)
	}
	return p.runSteps(ctx, afterModels)
}

func (p *Pool) runSteps(ctx context.Context, steps []migrationStep) error {
	for _, step := range steps {
		if err := p.gdb.WithContext(ctx).Exec(step.sql).Error; err != nil {
			return fmt.Errorf("migration %q: %w", step.label, err)
		}
	}
	return nil
}
