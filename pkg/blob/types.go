// Package blob stores generated artifacts such as compiled experiment
// scripts.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// ErrNotFound is returned when a key has no blob.
var ErrNotFound = errors.New("blob not found")

// ErrInvalidKey is returned for keys that are empty or escape the store root.
var ErrInvalidKey = errors.New("invalid blob key")

type BlobStore interface {
	// Put uploads content to the blob store.
	Put(ctx context.Context, key string, reader io.Reader) error

	// Get retrieves content from the blob store.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// List returns a list of keys matching the prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes a blob.
	Delete(ctx context.Context, key string) error
}

const scriptFile = "experiment.py"

// ScriptKey is where the latest compiled script of an experiment lives.
func ScriptKey(experimentID string) string {
	return path.Join(experimentPrefix(experimentID), scriptFile)
}

// RevisionScriptKey is where the script compiled from one saved revision
// lives. Revision keys are never overwritten by a later revision.
func RevisionScriptKey(experimentID string, revision int64) string {
	return path.Join(experimentPrefix(experimentID), fmt.Sprintf("r%d", revision), scriptFile)
}

// experimentPrefix ends in a slash so "exp-1" never lists "exp-10".
func experimentPrefix(experimentID string) string {
	return "experiments/" + experimentID + "/"
}

// cleanKey normalises a slash separated key and rejects keys that would
// leave the store root.
func cleanKey(key string) (string, error) {
	k := strings.TrimPrefix(path.Clean("/"+key), "/")
	if k == "" || k != strings.TrimPrefix(path.Clean(key), "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return k, nil
}
