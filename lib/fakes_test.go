package classvault

import (
	"context"
	"errors"
	"sync"
)

// capturingNotifier records every notification instead of sending it. The
// first `failures` calls return err before deliveries start succeeding.
type capturingNotifier struct {
	mu       sync.Mutex
	sent     []Notification
	failures int
	err      error
}

func (c *capturingNotifier) Notify(ctx context.Context, n Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failures > 0 {
		c.failures--
		if c.err != nil {
			return c.err
		}
		return errors.New("notifier down")
	}
	c.sent = append(c.sent, n)
	return nil
}

func (c *capturingNotifier) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func (c *capturingNotifier) lastSent() Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent[len(c.sent)-1]
}

// flakyDriver wraps a MemoryDriver with injectable failures so snapshot
// and restore error paths can be driven deterministically.
type flakyDriver struct {
	*MemoryDriver
	listErr    error
	readErr    map[string]error
	replaceErr map[string]error
}

func (d *flakyDriver) ListSetNames(ctx context.Context) ([]string, error) {
	if d.listErr != nil {
		return nil, d.listErr
	}
	return d.MemoryDriver.ListSetNames(ctx)
}

func (d *flakyDriver) ReadAll(ctx context.Context, set string) ([]Document, error) {
	if err := d.readErr[set]; err != nil {
		return nil, err
	}
	return d.MemoryDriver.ReadAll(ctx, set)
}

func (d *flakyDriver) ReplaceAllRaw(ctx context.Context, set string, docs []Document) error {
	if err := d.replaceErr[set]; err != nil {
		return err
	}
	return d.MemoryDriver.ReplaceAllRaw(ctx, set, docs)
}
