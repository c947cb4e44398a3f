package db

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// NewTestDB creates a new in-memory SQLite database for testing
func NewTestDB(t *testing.T) (*sql.DB, Store) {
	t.Helper()

	// Use in-memory database with shared cache mode
	// This ensures all connections see the same database
	db, err := sql.Open("sqlite3", "file::memory:?mode=memory&cache=shared&_foreign_keys=on")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	// Set connection pool to 1 for consistent testing
	db.SetMaxOpenConns(1)

	store, err := NewStoreFromDB(db)
	if err != nil {
		db.Close()
		t.Fatalf("failed to setup test database schema: %v", err)
	}

	// Register cleanup
	t.Cleanup(func() {
		TruncateTables(t, db)
		db.Close()
	})

	return db, store
}

// TruncateTables removes all data from tables while preserving schema
func TruncateTables(t *testing.T, db *sql.DB) {
	t.Helper()

	tables := []string{"provisioning_tasks", "vpn_connections", "client_certificates", "servers"}
	for _, table := range tables {
		_, err := db.Exec("DELETE FROM " + table)
		if err != nil {
			t.Fatalf("failed to truncate table %s: %v", table, err)
		}
	}
}

// SeedTestServer creates a test server in the database
func SeedTestServer(t *testing.T, store Store, name string) Server {
	t.Helper()

	server, err := store.CreateServer(context.Background(), CreateServerParams{
		Name:             name,
		Host:             "198.51.100.10",
		SSHPort:          22,
		SSHUser:          "root",
		SSHPassword:      "secret",
		VPNPort:          1194,
		Protocol:         "udp",
		Subnet:           "10.8.0.0",
		Netmask:          "255.255.255.0",
		DNSServers:       `["8.8.8.8","8.8.4.4"]`,
		Cipher:           "AES-256-GCM",
		Auth:             "SHA256",
		KeepalivePing:    10,
		KeepaliveTimeout: 120,
		StunnelPort:      443,
	})
	if err != nil {
		t.Fatalf("failed to seed test server: %v", err)
	}

	return server
}
