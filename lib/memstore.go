package classvault

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryDriver keeps every record set in process memory. It backs the
// mem:// DSN used for local development and tests.
type MemoryDriver struct {
	mu     sync.RWMutex
	sets   map[string][]Document
	atomic bool

	lockMu sync.Mutex
	locked map[string]bool
}

// NewMemoryDriver returns an empty driver. atomicSupport toggles whether
// Atomically behaves like a deployment with multi-set transactions or
// rejects them with ErrAtomicUnsupported.
func NewMemoryDriver(atomicSupport bool) *MemoryDriver {
	return &MemoryDriver{
		sets:   make(map[string][]Document),
		atomic: atomicSupport,
		locked: make(map[string]bool),
	}
}

// Seed replaces the named set, creating it if needed.
func (d *MemoryDriver) Seed(set string, docs ...Document) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sets[set] = deepCopyDocuments(docs)
}

func (d *MemoryDriver) ListSetNames(ctx context.Context) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.sets))
	for name := range d.sets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (d *MemoryDriver) ReadAll(ctx context.Context, set string) ([]Document, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	docs, ok := d.sets[set]
	if !ok {
		return nil, fmt.Errorf("unknown record set %q", set)
	}
	return deepCopyDocuments(docs), nil
}

func (d *MemoryDriver) ReplaceAllRaw(ctx context.Context, set string, docs []Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.sets[set] = deepCopyDocuments(docs)
	return nil
}

// Atomically snapshots the whole store, runs fn and reinstates the
// snapshot when fn fails. Isolation against concurrent writers is not
// attempted: callers already hold the exclusive run lock.
func (d *MemoryDriver) Atomically(ctx context.Context, fn func(ctx context.Context) error) error {
	if !d.atomic {
		return fmt.Errorf("memory driver: %w", ErrAtomicUnsupported)
	}

	d.mu.Lock()
	before := make(map[string][]Document, len(d.sets))
	for name, docs := range d.sets {
		before[name] = deepCopyDocuments(docs)
	}
	d.mu.Unlock()

	if err := fn(ctx); err != nil {
		d.mu.Lock()
		d.sets = before
		d.mu.Unlock()
		return err
	}
	return nil
}

func (d *MemoryDriver) AcquireLock(ctx context.Context, name string) (func(context.Context) error, error) {
	d.lockMu.Lock()
	defer d.lockMu.Unlock()

	if d.locked[name] {
		return nil, ErrRestoreInProgress
	}
	d.locked[name] = true

	release := func(context.Context) error {
		d.lockMu.Lock()
		defer d.lockMu.Unlock()
		d.locked[name] = false
		return nil
	}
	return release, nil
}

func deepCopyDocuments(docs []Document) []Document {
	out := make([]Document, len(docs))
	for i, doc := range docs {
		out[i] = deepCopyDocument(doc)
	}
	return out
}

func deepCopyDocument(doc Document) Document {
	out := make(Document, len(doc))
	for key, value := range doc {
		out[key] = deepCopyValue(value)
	}
	return out
}

func deepCopyValue(value interface{}) interface{} {
	switch tv := value.(type) {
	case Document:
		return deepCopyDocument(tv)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(tv))
		for key, el := range tv {
			out[key] = deepCopyValue(el)
		}
		return out
	case primitive.A:
		out := make(primitive.A, len(tv))
		for i, el := range tv {
			out[i] = deepCopyValue(el)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(tv))
		for i, el := range tv {
			out[i] = deepCopyValue(el)
		}
		return out
	default:
		return value
	}
}
