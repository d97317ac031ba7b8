package testutil

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	base "github.com/AfshinJalili/regportal/libs/config"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TestDSN builds the connection string from the POSTGRES_* variables, with
// PORTAL_POSTGRES_* taking precedence.
func TestDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		base.EnvString("POSTGRES_USER", "portal"),
		base.EnvString("POSTGRES_PASSWORD", "portal"),
		base.EnvString("POSTGRES_HOST", "localhost"),
		base.EnvString("POSTGRES_PORT", "5432"),
		base.EnvString("POSTGRES_DB", "portal"),
		base.EnvString("POSTGRES_SSLMODE", "disable"),
	)
}

// SkipUnlessDB skips tests that need PostgreSQL unless RUN_DB_INTEGRATION is set.
func SkipUnlessDB(t testing.TB) {
	t.Helper()
	if os.Getenv("RUN_DB_INTEGRATION") == "" {
		t.Skip("set RUN_DB_INTEGRATION=1 to run")
	}
}

// RequireDB connects to the portal database prepared by cmd/seed, skipping the
// test when it does not answer. Workflow rows are wiped before the test and
// again when it ends.
func RequireDB(t testing.TB) *pgxpool.Pool {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, TestDSN())
	if err != nil {
		t.Skipf("db connection failed: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("db ping failed: %v", err)
	}
	if err := CleanupTestData(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("reset workflow data: %v", err)
	}
	t.Cleanup(func() {
		_ = CleanupTestData(context.Background(), pool)
		pool.Close()
	})
	return pool
}

// CleanupTestData removes workflow rows and every user that cmd/seed did not create.
func CleanupTestData(ctx context.Context, pool *pgxpool.Pool) error {
	seededUsers := "'" + SupervisorUserID + "','" + EntityAdminUserID + "','" + RequesterUserID + "'"
	queries := []string{
		"DELETE FROM refresh_tokens",
		"DELETE FROM audit_logs",
		"DELETE FROM access_request_history",
		"DELETE FROM access_request_lines",
		"DELETE FROM access_requests",
		"DELETE FROM entity_memberships WHERE user_id NOT IN ('" + SupervisorUserID + "','" + EntityAdminUserID + "')",
		"DELETE FROM portal_users WHERE id NOT IN (" + seededUsers + ")",
	}

	for _, q := range queries {
		if _, err := pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("cleanup %q: %w", q, err)
		}
	}
	return nil
}
