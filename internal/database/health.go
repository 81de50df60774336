package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// requiredTables are probed on readiness. Migrations are applied by
// operators, so a reachable but unmigrated database must not take traffic.
var requiredTables = []string{
	"accounts",
	"segments",
	"notifications",
	"end_users",
	"notification_impressions",
	"notification_clicks",
}

// HealthChecker reports PostgreSQL readiness.
type HealthChecker struct {
	pool *pgxpool.Pool
}

// NewHealthChecker creates a health checker for pool.
func NewHealthChecker(pool *pgxpool.Pool) *HealthChecker {
	return &HealthChecker{pool: pool}
}

// Name implements observability.Checker.
func (h *HealthChecker) Name() string {
	return "postgres"
}

// Check runs one round trip that both proves the pool can execute statements
// and lists the required tables that are missing.
func (h *HealthChecker) Check(ctx context.Context) error {
	if h.pool == nil {
		return fmt.Errorf("database pool is nil")
	}

	var missing []string
	err := h.pool.QueryRow(ctx,
		`SELECT coalesce(array_agg(t), '{}') FROM unnest($1::text[]) AS t WHERE to_regclass(t) IS NULL`,
		requiredTables,
	).Scan(&missing)
	if err != nil {
		return fmt.Errorf("postgres query failed: %w", err)
	}
	if len(missing) > 0 {
		return fmt.Errorf("schema not migrated, missing tables: %v", missing)
	}
	return nil
}
