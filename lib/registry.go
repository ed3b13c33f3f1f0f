package classvault

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Registry names the record sets the engine works with. Discovery is
// live, so sets added by a newer platform release are picked up without
// code changes. The optional declared list names the set kinds that exist
// even while they hold no documents yet, the way a freshly provisioned
// deployment's schema does.
type Registry struct {
	driver   Driver
	declared []string
}

func NewRegistry(driver Driver, declared ...string) *Registry {
	return &Registry{driver: driver, declared: normalizeSetNames(declared)}
}

// SetNames returns the names of every record set currently in the store,
// sorted lexicographically. Store-internal sets are never included.
func (r *Registry) SetNames(ctx context.Context) ([]string, error) {
	names, err := r.driver.ListSetNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
	}

	sort.Strings(names)
	zlog.Debug("discovered record sets", zap.Int("count", len(names)))
	return names, nil
}

// KnownSets returns the set names a restore may replace: the declared
// kinds plus whatever currently exists in the store. A nil map means no
// schema was declared and the caller must treat the artifact itself as
// the authority on which sets exist.
func (r *Registry) KnownSets(ctx context.Context) (map[string]bool, error) {
	if len(r.declared) == 0 {
		return nil, nil
	}

	discovered, err := r.SetNames(ctx)
	if err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(r.declared)+len(discovered))
	for _, name := range r.declared {
		known[name] = true
	}
	for _, name := range discovered {
		known[name] = true
	}
	return known, nil
}

func normalizeSetNames(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
