package classvault

import "context"

const (
	DefaultMaxAttachmentBytes        = 25 << 20
	DefaultCompressionThresholdBytes = 5 << 20
	DefaultSnapshotWorkers           = 4
)

// Config carries the engine tunables. Zero values fall back to the
// defaults above. RestoreConfirmSecret has no default: restores stay
// disabled until one is configured. RecordSets declares the record set
// kinds this deployment manages; restores skip artifact sets outside the
// declaration and the store's current sets, while an empty declaration
// lets the artifact decide which sets exist.
type Config struct {
	MaxAttachmentBytes        int64
	CompressionThresholdBytes int64
	SnapshotWorkers           int
	RestoreConfirmSecret      string
	RecordSets                []string
}

// Engine ties the driver, registry, artifact store and notifier together.
type Engine struct {
	driver   Driver
	registry *Registry
	store    ArtifactStore
	notifier Notifier

	maxAttachmentBytes        int64
	compressionThresholdBytes int64
	snapshotWorkers           int
	restoreConfirmSecret      string

	fallbackMu chan struct{}
}

// NewEngine builds an engine. store may be nil when every artifact is
// expected to fit inline; notifier is required.
func NewEngine(driver Driver, store ArtifactStore, notifier Notifier, cfg Config) *Engine {
	e := &Engine{
		driver:   driver,
		registry: NewRegistry(driver, cfg.RecordSets...),
		store:    store,
		notifier: notifier,

		maxAttachmentBytes:        cfg.MaxAttachmentBytes,
		compressionThresholdBytes: cfg.CompressionThresholdBytes,
		snapshotWorkers:           cfg.SnapshotWorkers,
		restoreConfirmSecret:      cfg.RestoreConfirmSecret,

		fallbackMu: make(chan struct{}, 1),
	}
	if e.maxAttachmentBytes <= 0 {
		e.maxAttachmentBytes = DefaultMaxAttachmentBytes
	}
	if e.compressionThresholdBytes <= 0 {
		e.compressionThresholdBytes = DefaultCompressionThresholdBytes
	}
	if e.snapshotWorkers <= 0 {
		e.snapshotWorkers = DefaultSnapshotWorkers
	}
	return e
}

// acquireExclusive arbitrates the single-flight rule shared by backups and
// restores. Drivers spanning processes arbitrate through their advisory
// lock; anything else falls back to a process-local slot.
func (e *Engine) acquireExclusive(ctx context.Context) (func(context.Context) error, error) {
	if locker, ok := e.driver.(AdvisoryLocker); ok {
		return locker.AcquireLock(ctx, exclusiveLockName)
	}

	select {
	case e.fallbackMu <- struct{}{}:
	default:
		return nil, ErrRestoreInProgress
	}
	release := func(context.Context) error {
		<-e.fallbackMu
		return nil
	}
	return release, nil
}
