package classvault

import "context"

// Document is a single record as stored in the document store. Nested
// documents decode as Document and arrays as primitive.A, so a value read
// through a Driver survives the artifact codec unchanged.
type Document map[string]interface{}

// Driver is the surface the engine needs from a document store.
type Driver interface {
	// ListSetNames returns every user record set currently present in the
	// store, excluding store-internal bookkeeping collections.
	ListSetNames(ctx context.Context) ([]string, error)

	// ReadAll returns every document of the named set in the store's
	// natural iteration order. The returned slice is owned by the caller.
	ReadAll(ctx context.Context, set string) ([]Document, error)

	// ReplaceAllRaw drops the current content of the named set and inserts
	// the given documents verbatim, identifiers included.
	ReplaceAllRaw(ctx context.Context, set string, docs []Document) error

	// Atomically runs fn so that either every write made through the
	// passed context commits or none do. Drivers on deployments without
	// multi-set transaction support return ErrAtomicUnsupported.
	Atomically(ctx context.Context, fn func(ctx context.Context) error) error
}

// AdvisoryLocker is implemented by drivers that can arbitrate exclusive
// runs across engine processes. The release function must work even after
// the acquiring context was canceled.
type AdvisoryLocker interface {
	AcquireLock(ctx context.Context, name string) (release func(context.Context) error, err error)
}

const exclusiveLockName = "exclusive-run"
