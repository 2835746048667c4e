package main

import (
	"os"
	"path/filepath"
	"testing"
)

func setupBackupEnv(t *testing.T) (storePath, reportsDir string) {
	t.Helper()

	dataDir := t.TempDir()
	storePath = filepath.Join(dataDir, "synapse.db")
	reportsDir = filepath.Join(t.TempDir(), "reports")

	t.Setenv("SYNAPSE_CONFIG", filepath.Join(t.TempDir(), "nonexistent.yaml"))
	t.Setenv("SYNAPSE_STORE_PATH", storePath)
	t.Setenv("SYNAPSE_REPORTS_DIR", reportsDir)
	return storePath, reportsDir
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	storePath, reportsDir := setupBackupEnv(t)

	if err := os.WriteFile(storePath, []byte("sqlite-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(reportsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	reportName := "research_aa11bb22_20260101T000000.md"
	if err := os.WriteFile(filepath.Join(reportsDir, reportName), []byte("# Report\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	archive := filepath.Join(t.TempDir(), "backup.tar.zst")
	if err := runBackup([]string{"-f", archive}); err != nil {
		t.Fatalf("backup: %v", err)
	}

	// Wipe originals, then restore into the same locations.
	if err := os.Remove(storePath); err != nil {
		t.Fatal(err)
	}
	if err := os.RemoveAll(reportsDir); err != nil {
		t.Fatal(err)
	}

	if err := runRestore([]string{"-f", archive}); err != nil {
		t.Fatalf("restore: %v", err)
	}

	got, err := os.ReadFile(storePath)
	if err != nil {
		t.Fatalf("restored store missing: %v", err)
	}
	if string(got) != "sqlite-bytes" {
		t.Errorf("store content mismatch: %q", got)
	}

	report, err := os.ReadFile(filepath.Join(reportsDir, reportName))
	if err != nil {
		t.Fatalf("restored report missing: %v", err)
	}
	if string(report) != "# Report\n" {
		t.Errorf("report content mismatch: %q", report)
	}
}

func TestRestoreRefusesOverwrite(t *testing.T) {
	storePath, _ := setupBackupEnv(t)

	if err := os.WriteFile(storePath, []byte("original"), 0o644); err != nil {
		t.Fatal(err)
	}

	archive := filepath.Join(t.TempDir(), "backup.tar.zst")
	if err := runBackup([]string{"-f", archive}); err != nil {
		t.Fatalf("backup: %v", err)
	}

	// The store file still exists, so restore without -overwrite must fail.
	if err := runRestore([]string{"-f", archive}); err == nil {
		t.Fatal("expected overwrite refusal")
	}

	if err := runRestore([]string{"-f", archive, "-overwrite"}); err != nil {
		t.Fatalf("restore with -overwrite: %v", err)
	}
}

func TestBackupSkipsMissingSources(t *testing.T) {
	setupBackupEnv(t)

	archive := filepath.Join(t.TempDir(), "backup.tar.zst")
	if err := runBackup([]string{"-f", archive}); err != nil {
		t.Fatalf("backup of empty install: %v", err)
	}

	if _, err := os.Stat(archive); err != nil {
		t.Fatalf("archive not written: %v", err)
	}
}

func TestBackupRequiresOutputFlag(t *testing.T) {
	if err := runBackup(nil); err == nil {
		t.Fatal("expected error without -f")
	}
}
