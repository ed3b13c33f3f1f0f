package classvault

import (
	"context"
	"fmt"
	"time"

	"github.com/abourget/llerrgroup"
	"go.uber.org/zap"
)

// buildSnapshot reads every discovered record set in full and assembles the
// artifact. Set reads run in parallel; any failure aborts the run because a
// partial artifact must never be produced.
func (e *Engine) buildSnapshot(ctx context.Context) (*BackupArtifact, error) {
	names, err := e.registry.SetNames(ctx)
	if err != nil {
		return nil, err
	}

	results := make([][]Document, len(names))
	eg := llerrgroup.New(e.snapshotWorkers)
	for i, name := range names {
		if eg.Stop() {
			break
		}
		eg.Go(func() error {
			docs, err := e.driver.ReadAll(ctx, name)
			if err != nil {
				return fmt.Errorf("read record set %q: %w", name, err)
			}
			results[i] = docs
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("snapshot aborted: %w", err)
	}

	artifact := &BackupArtifact{
		SchemaVersion: CurrentSchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		RecordSets:    make(map[string][]Document, len(names)),
	}
	for i, name := range names {
		docs := results[i]
		if docs == nil {
			docs = []Document{}
		}
		artifact.RecordSets[name] = docs
		zlog.Debug("captured record set", zap.String("set", name), zap.Int("documents", len(docs)))
	}

	return artifact, nil
}
