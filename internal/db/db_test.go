package db

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/zulandar/fortysix/internal/models"
)

func TestDSN(t *testing.T) {
	dsn := DSN("/tmp/auth/keys.db")
	if !strings.HasPrefix(dsn, "file:/tmp/auth/keys.db?") {
		t.Errorf("DSN() = %q, want file: prefix with path", dsn)
	}
	if !strings.Contains(dsn, "_busy_timeout=5000") {
		t.Errorf("DSN missing busy timeout: %s", dsn)
	}
}

func TestAllModels_Count(t *testing.T) {
	if got := len(AllModels()); got != 1 {
		t.Errorf("AllModels() returned %d models, want 1", got)
	}
}

func TestOpen_CreatesDirAndMigrates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "keys.db")
	gdb, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer Close(gdb)

	if err := AutoMigrate(gdb); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	if !gdb.Migrator().HasTable(&models.AuthKey{}) {
		t.Fatal("auth_keys table not created")
	}

	if err := gdb.Create(&models.AuthKey{Type: "pre-key", ID: "1", Value: `{"k":1}`}).Error; err != nil {
		t.Fatalf("insert: %v", err)
	}
	var got models.AuthKey
	if err := gdb.First(&got, "type = ? AND id = ?", "pre-key", "1").Error; err != nil {
		t.Fatalf("select: %v", err)
	}
	if got.Value != `{"k":1}` {
		t.Errorf("Value = %q", got.Value)
	}
}
