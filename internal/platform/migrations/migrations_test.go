package migrations

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "storefront.db") + "?_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestApplyCreatesSchema(t *testing.T) {
	db := openSQLite(t)
	ctx := context.Background()

	if err := Apply(ctx, db, DialectSQLite); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	for _, table := range []string{"products", "pending_transactions", "user_products", "installation_keys", "users"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		if err != nil {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}

	version, dirty, err := Version(ctx, db, DialectSQLite)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if version != 1 || dirty {
		t.Fatalf("version = %d dirty=%v, want 1 clean", version, dirty)
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	db := openSQLite(t)
	ctx := context.Background()

	if err := Apply(ctx, db, DialectSQLite); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if err := Apply(ctx, db, DialectSQLite); err != nil {
		t.Fatalf("second apply: %v", err)
	}
}

func TestRollbackDropsSchema(t *testing.T) {
	db := openSQLite(t)
	ctx := context.Background()

	if err := Apply(ctx, db, DialectSQLite); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := Rollback(ctx, db, DialectSQLite); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'products'`).Scan(&count); err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	if count != 0 {
		t.Fatalf("products table still present after rollback")
	}
}

func TestApplyRejectsUnknownDialect(t *testing.T) {
	db := openSQLite(t)
	if err := Apply(context.Background(), db, "oracle"); err == nil {
		t.Fatalf("expected error for unknown dialect")
	}
}
