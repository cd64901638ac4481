package blob

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// runBlobStoreTests exercises a BlobStore implementation.
func runBlobStoreTests(t *testing.T, store BlobStore) {
	t.Helper()
	ctx := context.Background()

	key := RevisionScriptKey("exp-1", 3)
	content := "print('hello world')"
	if err := store.Put(ctx, key, strings.NewReader(content)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	reader, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	data, err := io.ReadAll(reader)
	reader.Close()
	if err != nil {
		t.Fatalf("Failed to read from reader: %v", err)
	}
	if string(data) != content {
		t.Errorf("Get content mismatch. Got %s, want %s", string(data), content)
	}

	if err := store.Put(ctx, ScriptKey("exp-1"), strings.NewReader(content)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	keys, err := store.List(ctx, "experiments/exp-1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("List returned %v, want 2 keys", keys)
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
	if err := store.Delete(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete = %v, want ErrNotFound", err)
	}
	if _, err := store.Get(ctx, ScriptKey("exp-1")); err != nil {
		t.Error("Other blob should still exist")
	}

	if err := store.Put(ctx, "../escape.py", strings.NewReader("x")); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Put outside root = %v, want ErrInvalidKey", err)
	}
}

func TestLocalBlobStore(t *testing.T) {
	tmpDir := t.TempDir()
	store := NewLocalBlobStore(tmpDir)

	runBlobStoreTests(t, store)

	expectedPath := filepath.Join(tmpDir, "experiments", "exp-1", "experiment.py")
	if _, err := os.Stat(expectedPath); os.IsNotExist(err) {
		t.Errorf("File was not created at expected path: %s", expectedPath)
	}

	keys, err := store.List(context.Background(), "missing")
	if err != nil || len(keys) != 0 {
		t.Errorf("List of missing prefix = %v, %v", keys, err)
	}
}

func TestKeys(t *testing.T) {
	if got := ScriptKey("abc"); got != "experiments/abc/experiment.py" {
		t.Errorf("ScriptKey = %s", got)
	}
	if got := RevisionScriptKey("abc", 7); got != "experiments/abc/r7/experiment.py" {
		t.Errorf("RevisionScriptKey = %s", got)
	}
	for _, bad := range []string{"", "/", "..", "a/../../b"} {
		if _, err := cleanKey(bad); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("cleanKey(%q) = %v, want ErrInvalidKey", bad, err)
		}
	}
}
