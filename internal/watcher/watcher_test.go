package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWaitForFileStableSucceedsOnStaticFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.jpg")
	if err := os.WriteFile(path, []byte("static content"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := waitForFileStable(path); err != nil {
		t.Fatalf("waitForFileStable: %v", err)
	}
}

// TestWaitForFileStableDetectsGrowingFile writes a file in chunks over time
// in the background and checks that stability isn't declared until writes
// stop, mirroring base spec §8 S6.
func TestWaitForFileStableDetectsGrowingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "growing.jpg")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 3; i++ {
			time.Sleep(300 * time.Millisecond)
			f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				return
			}
			f.WriteString("more data")
			f.Close()
		}
	}()

	start := time.Now()
	err := waitForFileStable(path)
	<-done
	if err != nil {
		t.Fatalf("waitForFileStable: %v", err)
	}
	if time.Since(start) < 900*time.Millisecond {
		t.Errorf("expected stability check to wait for writes to finish, took only %v", time.Since(start))
	}
}

func TestWaitForFileStableTimesOutOnMissingFile(t *testing.T) {
	err := waitForFileStable(filepath.Join(t.TempDir(), "never-created.jpg"))
	if err == nil {
		t.Fatal("expected timeout error for a file that never appears")
	}
}
