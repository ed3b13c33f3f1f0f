package classvault

import (
	"context"
	"fmt"
	"io"
)

// ListBackups returns stored artifacts in the store's listing order.
// offset entries are skipped after prefix filtering, limit caps how many
// are returned.
func (e *Engine) ListBackups(ctx context.Context, limit, offset int, prefix string) ([]ArtifactInfo, error) {
	if e.store == nil {
		return nil, ErrNoArtifactStore
	}

	list, err := e.store.ListArtifacts(ctx, offset+limit, prefix)
	if err != nil {
		return nil, err
	}
	if offset >= len(list) {
		return nil, nil
	}
	return list[offset:], nil
}

// OpenStoredArtifact fetches a stored artifact's bytes by name.
func (e *Engine) OpenStoredArtifact(ctx context.Context, name string) ([]byte, error) {
	if e.store == nil {
		return nil, ErrNoArtifactStore
	}

	rc, err := e.store.OpenArtifact(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("open artifact %q: %w", name, err)
	}
	defer rc.Close()

	return io.ReadAll(rc)
}
