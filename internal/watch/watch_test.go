package watch_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loopdeck/loopdeck/internal/watch"
)

func TestWaitSeesWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}

	w, err := watch.New(path)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	go func() {
		time.Sleep(100 * time.Millisecond)
		f, _ := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
		f.WriteString("x\n")
		f.Close()
	}()

	changed, err := w.Wait(2 * time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Error("expected a change notification")
	}
}

func TestWaitSeesCreationViaParent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.jsonl")

	// File does not exist yet; the parent directory is watched.
	w, err := watch.New(path)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	go func() {
		time.Sleep(100 * time.Millisecond)
		os.WriteFile(path, []byte("x\n"), 0644)
	}()

	changed, err := w.Wait(2 * time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Error("expected creation to be observed")
	}
}

func TestWaitTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	os.WriteFile(path, nil, 0644)

	w, err := watch.New(path)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	changed, err := w.Wait(50 * time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Error("expected timeout, got change")
	}
}

func TestWaitAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	os.WriteFile(path, nil, 0644)

	w, err := watch.New(path)
	if err != nil {
		t.Fatal(err)
	}
	w.Close()

	if _, err := w.Wait(100 * time.Millisecond); err == nil {
		t.Error("expected error after close")
	}
}
