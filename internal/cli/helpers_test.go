package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/forgelabs/forge/internal/config"
)

func TestRequireInit(t *testing.T) {
	t.Chdir(t.TempDir())

	if err := requireInit(); err == nil {
		t.Fatal("expected error before init")
	}

	if err := os.MkdirAll(config.ForgeDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := requireInit(); err != nil {
		t.Fatalf("unexpected error after init: %v", err)
	}
}

func TestOpenStoreCreatesDirectory(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg := config.Default()
	store, err := openStore(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(filepath.Join(config.ForgeDir, "forge.db")); err != nil {
		t.Fatalf("store file missing: %v", err)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate(short) = %q", got)
	}
	if got := truncate("a very long title indeed", 10); len(got) > 13 {
		t.Errorf("truncate did not shorten: %q", got)
	}
}
