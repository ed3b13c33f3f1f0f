package classvault

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RunRestore validates an uploaded artifact and replaces the content of
// every record set it names, creating sets the target store does not hold
// yet. When the engine declares its record set kinds, artifact sets
// outside the declaration and the store's current sets are skipped as
// unknown_set; without a declaration the artifact decides which sets
// exist, so a fresh store comes back whole. All replacements happen in one
// atomic unit when the store supports it; when it does not, the engine
// falls back to sequential per-set replacement and reports exactly how far
// it got.
//
// Nothing is read or written before the confirmation and the artifact both
// check out.
func (e *Engine) RunRestore(ctx context.Context, raw []byte, confirmation string) (*RestoreResult, error) {
	if !e.confirmationValid(confirmation) {
		return nil, ErrUnauthorizedRestore
	}

	artifact, err := DecodeArtifact(raw)
	if err != nil {
		return nil, err
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

	known, err := e.registry.KnownSets(ctx)
	if err != nil {
		return nil, err
	}

	result := &RestoreResult{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}

	names := artifact.SetNames()
	var apply []string
	bySet := make(map[string]*SetResult, len(names))
	for _, name := range names {
		sr := &SetResult{Name: name, Status: SetNotReached}
		if known != nil && !known[name] {
			sr.Status = SetSkipped
			sr.Reason = "unknown_set"
			zlog.Warn("skipping record set outside the deployment schema", zap.String("set", name))
		} else {
			apply = append(apply, name)
		}
		bySet[name] = sr
		result.Sets = append(result.Sets, sr)
	}

	zlog.Info("restore run started",
		zap.String("run_id", result.RunID),
		zap.Int("record_sets", len(apply)),
		zap.Int("skipped", len(names)-len(apply)),
	)

	err = e.driver.Atomically(ctx, func(txCtx context.Context) error {
		for _, name := range apply {
			if err := e.driver.ReplaceAllRaw(txCtx, name, artifact.RecordSets[name]); err != nil {
				return fmt.Errorf("replace record set %q: %w", name, err)
			}
		}
		return nil
	})

	switch {
	case err == nil:
		result.Atomic = true
		result.Status = RestoreCommitted
		for _, name := range apply {
			bySet[name].Status = SetReplaced
			bySet[name].Documents = len(artifact.RecordSets[name])
		}

	case errors.Is(err, ErrAtomicUnsupported):
		zlog.Warn("store cannot replace atomically, falling back to sequential per-set replacement")
		if seqErr := e.restoreSequentially(ctx, artifact, apply, bySet, result); seqErr != nil {
			result.FinishedAt = time.Now().UTC()
			return result, seqErr
		}
		result.Status = RestoreCommitted

	default:
		result.Status = RestoreRolledBack
		for _, name := range apply {
			bySet[name].Reason = "atomic unit rolled back"
		}
		result.FinishedAt = time.Now().UTC()
		return result, fmt.Errorf("atomic restore failed: %w", err)
	}

	result.FinishedAt = time.Now().UTC()
	zlog.Info("restore run finished",
		zap.String("run_id", result.RunID),
		zap.String("status", string(result.Status)),
	)
	return result, nil
}

// restoreSequentially replaces sets one by one in lexicographic order. The
// first failure stops the walk and yields a PartialRestoreError naming
// what was replaced, what failed and what was never reached.
func (e *Engine) restoreSequentially(ctx context.Context, artifact *BackupArtifact, apply []string, bySet map[string]*SetResult, result *RestoreResult) error {
	for i, name := range apply {
		if err := e.driver.ReplaceAllRaw(ctx, name, artifact.RecordSets[name]); err != nil {
			bySet[name].Status = SetFailed
			bySet[name].Reason = err.Error()
			result.Status = RestorePartiallyApplied

			perr := &PartialRestoreError{Failed: name, Err: err}
			perr.Replaced = append(perr.Replaced, apply[:i]...)
			perr.NotReached = append(perr.NotReached, apply[i+1:]...)

			zlog.Error("sequential restore failed partway",
				zap.String("failed_set", name),
				zap.Strings("replaced", perr.Replaced),
				zap.Strings("not_reached", perr.NotReached),
				zap.Error(err),
			)
			return perr
		}
		bySet[name].Status = SetReplaced
		bySet[name].Documents = len(artifact.RecordSets[name])
	}
	return nil
}

// confirmationValid compares in constant time. An engine without a
// configured secret refuses every restore.
func (e *Engine) confirmationValid(confirmation string) bool {
	if e.restoreConfirmSecret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(confirmation), []byte(e.restoreConfirmSecret)) == 1
}
