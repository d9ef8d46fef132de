package db

import (
	"io/fs"
	"strings"
	"testing"
)

func TestMigrations_Embedded(t *testing.T) {
	entries, err := fs.ReadDir(Migrations(), ".")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}
	if len(entries) == 0 {
		t.Fatalf("expected embedded migrations")
	}

	var all strings.Builder
	for _, e := range entries {
		body, err := fs.ReadFile(Migrations(), e.Name())
		if err != nil {
			t.Fatalf("read %s: %v", e.Name(), err)
		}
		all.Write(body)
	}
	for _, table := range []string{"users", "vendors", "products", "orders", "order_items", "payments", "disputes", "dispute_events", "settlement_decisions", "outbox"} {
		if !strings.Contains(all.String(), "CREATE TABLE IF NOT EXISTS "+table+" (") {
			t.Fatalf("missing table %s", table)
		}
	}
	for _, index := range []string{"disputes_one_active_per_order", "payments_reference_key", "dispute_events_client_key"} {
		if !strings.Contains(all.String(), index) {
			t.Fatalf("missing constraint %s", index)
		}
	}
}

func TestMigrations_ClientKeyScopedToAuthor(t *testing.T) {
	names, err := fs.Glob(Migrations(), "*.sql")
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	// Files apply in name order, so the last definition of the index wins.
	var definition string
	for _, name := range names {
		body, err := fs.ReadFile(Migrations(), name)
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		text := string(body)
		if i := strings.LastIndex(text, "INDEX IF NOT EXISTS dispute_events_client_key"); i >= 0 {
			definition = text[i:]
		}
	}
	if !strings.Contains(definition, "(dispute_id, author_id, client_key)") {
		t.Fatalf("expected dispute_events_client_key to be scoped by author, got %q", definition)
	}
}

func TestNewPool_EmptyConnString(t *testing.T) {
	if _, err := NewPool(t.Context(), "", PoolOptions{}); err == nil {
		t.Fatalf("expected error for empty connection string")
	}
}
