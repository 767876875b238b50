package source

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/KBRglobal/travi-final-website-sub012/pkg/policy"
)

// Loader produces a complete policy set.
type Loader interface {
	Load(ctx context.Context) ([]*policy.Definition, error)
}

// Replacer accepts a complete policy set, rejecting it when invalid.
type Replacer interface {
	Replace(defs []*policy.Definition) error
}

// Reloader feeds a Loader into a policy store. A failed reload keeps the
// previous snapshot live.
type Reloader struct {
	loader   Loader
	store    Replacer
	logger   *slog.Logger
	failures atomic.Int64
}

// NewReloader creates a reloader.
func NewReloader(loader Loader, store Replacer, logger *slog.Logger) *Reloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reloader{
		loader: loader,
		store:  store,
		logger: logger.With("component", "policy.reloader"),
	}
}

// Reload loads and swaps in the policy set once.
func (r *Reloader) Reload(ctx context.Context) error {
	defs, err := r.loader.Load(ctx)
	if err != nil {
		r.failures.Add(1)
		r.logger.Error("policy load failed, keeping current snapshot", "error", err)
		return err
	}
	if err := r.store.Replace(defs); err != nil {
		r.failures.Add(1)
		r.logger.Error("policy validation failed, keeping current snapshot", "error", err)
		return err
	}
	return nil
}

// Failures returns the number of rejected reloads.
func (r *Reloader) Failures() int64 {
	return r.failures.Load()
}

// Watch reloads on every debounced change reported by w until ctx is done.
func (r *Reloader) Watch(ctx context.Context, w *Watcher) error {
	return w.Watch(ctx, func() {
		_ = r.Reload(ctx)
	})
}
