package cli

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
)

func TestEnvLoaderLoadsRequestedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.env")
	if err := os.WriteFile(path, []byte("LEADSCAN_TEST_VALUE=from-file\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv(overrideEnvVar, "")
	t.Setenv("LEADSCAN_TEST_VALUE", "from-process")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	loader := AddEnvFlag(fs, ".env", "")
	if err := fs.Parse([]string{"--env", path}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	loaded, err := loader.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded != path {
		t.Fatalf("expected %s, got %s", path, loaded)
	}
	if got := os.Getenv("LEADSCAN_TEST_VALUE"); got != "from-file" {
		t.Fatalf("expected file value to override, got %q", got)
	}
}

func TestEnvLoaderMissingFileFails(t *testing.T) {
	t.Setenv(overrideEnvVar, "")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	loader := AddEnvFlag(fs, filepath.Join(t.TempDir(), "nope.env"), "")
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if _, err := loader.Load(); err == nil {
		t.Fatalf("expected missing env file to fail")
	}
}
