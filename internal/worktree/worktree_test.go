package worktree

import (
	"os"
	"testing"
)

func TestAcquireRestoresPreviousDir(t *testing.T) {
	start, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()

	release, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	got, _ := os.Getwd()
	if got != dir {
		// macOS tempdirs resolve through /private; compare by stat.
		a, _ := os.Stat(got)
		b, _ := os.Stat(dir)
		if !os.SameFile(a, b) {
			t.Fatalf("expected CWD %s, got %s", dir, got)
		}
	}

	release()
	got, _ = os.Getwd()
	if got != start {
		t.Fatalf("expected CWD restored to %s, got %s", start, got)
	}
}

func TestAcquireEmptyDirIsNoOp(t *testing.T) {
	start, _ := os.Getwd()
	release, err := Acquire("")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	release()
	got, _ := os.Getwd()
	if got != start {
		t.Fatalf("empty acquire must not move the CWD")
	}
}

func TestAcquireMissingDirFails(t *testing.T) {
	if _, err := Acquire("/no/such/dir/anywhere"); err == nil {
		t.Fatalf("expected error for missing dir")
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	release, err := Acquire(dir)
	if err != nil {
		t.Fatal(err)
	}
	release()
	release() // second call must not unlock twice or re-chdir

	// A fresh acquisition must still work.
	release2, err := Acquire(dir)
	if err != nil {
		t.Fatalf("re-Acquire after double release: %v", err)
	}
	release2()
}
