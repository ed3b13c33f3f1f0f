package classvault

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRegistryUnavailable means record set discovery failed and the run
	// was aborted before anything was read or written.
	ErrRegistryUnavailable = errors.New("record set registry unavailable")

	// ErrInvalidArtifact means the uploaded payload is not a backup
	// artifact this build understands.
	ErrInvalidArtifact = errors.New("invalid backup artifact")

	// ErrUnauthorizedRestore means the restore confirmation was missing or
	// wrong. Nothing was read or written.
	ErrUnauthorizedRestore = errors.New("restore confirmation rejected")

	// ErrAtomicUnsupported is returned by drivers whose deployment cannot
	// replace multiple record sets in one atomic unit.
	ErrAtomicUnsupported = errors.New("store does not support atomic multi-set replacement")

	// ErrRestoreInProgress means another backup or restore currently holds
	// the exclusive run lock.
	ErrRestoreInProgress = errors.New("another backup or restore is in progress")

	// ErrNoArtifactStore means an operation needed the artifact store but
	// none was configured.
	ErrNoArtifactStore = errors.New("no artifact store configured")
)

// DeliveryError reports a failure to hand a finished artifact to the
// operator. Location is set when a blob was written before the failure so
// the artifact can still be fetched by hand.
type DeliveryError struct {
	Location string
	Err      error
}

func (e *DeliveryError) Error() string {
	if e.Location != "" {
		return fmt.Sprintf("artifact delivery failed (blob kept at %s): %s", e.Location, e.Err)
	}
	return fmt.Sprintf("artifact delivery failed: %s", e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// PartialRestoreError reports a sequential restore that stopped partway.
// Replaced, Failed and NotReached name every record set of the run in the
// order it was (or would have been) applied.
type PartialRestoreError struct {
	Replaced   []string
	Failed     string
	NotReached []string
	Err        error
}

func (e *PartialRestoreError) Error() string {
	return fmt.Sprintf("restore partially applied: replaced [%s], failed on %q, not reached [%s]: %s",
		strings.Join(e.Replaced, ", "), e.Failed, strings.Join(e.NotReached, ", "), e.Err)
}

func (e *PartialRestoreError) Unwrap() error { return e.Err }
