package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"
	"strconv"
	"strings"
)

// Artifacts lays compiled scripts out in a BlobStore, one key per saved
// revision plus a copy of the latest one.
type Artifacts struct {
	store BlobStore
}

func NewArtifacts(store BlobStore) *Artifacts {
	return &Artifacts{store: store}
}

// PublishScript stores code as the script of revision and as the latest
// script. Both writes are attempted; the errors are joined.
func (a *Artifacts) PublishScript(ctx context.Context, experimentID string, revision int64, code string) error {
	var errs []error
	for _, key := range []string{RevisionScriptKey(experimentID, revision), ScriptKey(experimentID)} {
		if err := a.store.Put(ctx, key, strings.NewReader(code)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Script returns the script compiled from revision, or the latest one when
// revision is zero.
func (a *Artifacts) Script(ctx context.Context, experimentID string, revision int64) (string, error) {
	key := ScriptKey(experimentID)
	if revision > 0 {
		key = RevisionScriptKey(experimentID, revision)
	}
	rc, err := a.store.Get(ctx, key)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", key, err)
	}
	return string(data), nil
}

// Revisions lists the revisions with a stored script, oldest first.
func (a *Artifacts) Revisions(ctx context.Context, experimentID string) ([]int64, error) {
	keys, err := a.store.List(ctx, experimentPrefix(experimentID))
	if err != nil {
		return nil, err
	}
	revisions := []int64{}
	for _, key := range keys {
		dir, file := path.Split(key)
		if file != scriptFile {
			continue
		}
		name := path.Base(dir)
		if !strings.HasPrefix(name, "r") {
			continue
		}
		if rev, err := strconv.ParseInt(name[1:], 10, 64); err == nil {
			revisions = append(revisions, rev)
		}
	}
	slices.Sort(revisions)
	return revisions, nil
}

// Purge deletes every artifact of an experiment and reports how many
// blobs went away.
func (a *Artifacts) Purge(ctx context.Context, experimentID string) (int, error) {
	keys, err := a.store.List(ctx, experimentPrefix(experimentID))
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, key := range keys {
		if err := a.store.Delete(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
