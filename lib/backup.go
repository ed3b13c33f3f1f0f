package classvault

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RunBackup captures a full snapshot, encodes it and delivers it. The
// exclusive run lock is held for the whole run so a backup never reads
// through a concurrent restore's partial writes. On a delivery failure the
// result is still returned alongside the error: the artifact may already
// sit in the store.
func (e *Engine) RunBackup(ctx context.Context, trigger Trigger) (*BackupResult, error) {
	result := &BackupResult{
		RunID:     uuid.NewString(),
		Trigger:   trigger,
		StartedAt: time.Now().UTC(),
	}

	release, err := e.acquireExclusive(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			zlog.Warn("releasing exclusive run lock", zap.Error(err))
		}
	}()

	zlog.Info("backup run started",
		zap.String("run_id", result.RunID),
		zap.String("trigger", string(trigger)),
	)

	artifact, err := e.buildSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	result.SetCounts = make(map[string]int, len(artifact.RecordSets))
	for name, docs := range artifact.RecordSets {
		result.SetCounts[name] = len(docs)
	}
	result.TotalDocuments = artifact.TotalDocuments()

	plan, err := EncodeArtifact(artifact, e.compressionThresholdBytes)
	if err != nil {
		return nil, err
	}
	plan.Filename = artifactFilename(artifactBaseName(artifact.GeneratedAt, trigger), plan.Compressed)

	receipt, err := e.deliver(ctx, plan)
	result.FinishedAt = time.Now().UTC()
	if err != nil {
		return result, err
	}
	result.Delivery = receipt

	zlog.Info("backup run finished",
		zap.String("run_id", result.RunID),
		zap.String("filename", receipt.Filename),
		zap.String("mode", string(receipt.Mode)),
		zap.Int("record_sets", len(result.SetCounts)),
		zap.Int("documents", result.TotalDocuments),
	)
	return result, nil
}
