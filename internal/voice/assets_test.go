package voice

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func touch(t *testing.T, dir, name string, age time.Duration) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-age)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCleanAssetsRemovesExpired(t *testing.T) {
	dir := t.TempDir()
	expired := touch(t, dir, "turn_old.wav", 2*time.Hour)
	fresh := touch(t, dir, "turn_new.wav", time.Minute)

	cleanAssets(dir, time.Hour, 0)

	if _, err := os.Stat(expired); !os.IsNotExist(err) {
		t.Fatalf("expired asset survived: %v", err)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("fresh asset removed: %v", err)
	}
}

func TestCleanAssetsEnforcesMaxFiles(t *testing.T) {
	dir := t.TempDir()
	oldest := touch(t, dir, "a.wav", 30*time.Minute)
	touch(t, dir, "b.wav", 20*time.Minute)
	touch(t, dir, "c.wav", 10*time.Minute)

	cleanAssets(dir, time.Hour, 2)

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 files after cap, got %d", len(entries))
	}
	if _, err := os.Stat(oldest); !os.IsNotExist(err) {
		t.Fatal("cap removed the wrong file; oldest should go first")
	}
}
