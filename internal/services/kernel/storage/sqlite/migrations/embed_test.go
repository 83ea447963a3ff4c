package migrations

import (
	"io/fs"
	"testing"
)

func TestFSContainsKernelSchema(t *testing.T) {
	names, err := fs.Glob(FS, "*.sql")
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(names) == 0 {
		t.Fatal("expected at least one embedded migration")
	}
	if names[0] != "001_kernel.sql" {
		t.Fatalf("first migration = %q, want 001_kernel.sql", names[0])
	}
}
