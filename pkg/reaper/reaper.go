// Package reaper implements the expiration reaper: it removes every
// upload record (and its working directory) that store.FindExpired
// reports, i.e. whose time_expires has passed and which has not been
// finalized into long-term storage. It is invoked both by the public
// GET on the base path and opportunistically after a successful
// finalization.
package reaper

import (
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ingestd/ingestd/pkg/config"
	"github.com/ingestd/ingestd/pkg/layout"
	"github.com/ingestd/ingestd/pkg/store"
)

// Hooks are the optional no-op-by-default callbacks invoked around
// each removed upload.
type Hooks struct {
	PreExpire  func(id string) error
	PostExpire func(id string) error
}

// Reaper removes expired uploads. A single Reaper may be shared across
// concurrent callers: Reap coalesces concurrent invocations via
// singleflight so that at most one sweep runs at a time.
type Reaper struct {
	cfg   config.Config
	store store.Store
	hooks Hooks
	group singleflight.Group
}

// New returns a Reaper operating over store, rooted at cfg.
func New(cfg config.Config, s store.Store, hooks Hooks) *Reaper {
	return &Reaper{cfg: cfg, store: s, hooks: hooks}
}

// Reap removes every record the store's FindExpired returns for now
// (TimeExpires before now, not finalized). It
// returns the number of uploads removed. Deleting an id is idempotent,
// so a Reap racing with another is harmless even without the
// singleflight coalescing; the coalescing only avoids duplicate work.
func (r *Reaper) Reap(now time.Time) (int, error) {
	v, err, _ := r.group.Do("reap", func() (interface{}, error) {
		return r.reap(now)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func (r *Reaper) reap(now time.Time) (int, error) {
	ids, err := r.store.FindExpired(now)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, id := range ids {
		if r.hooks.PreExpire != nil {
			_ = r.hooks.PreExpire(id)
		}

		if err := layout.RemoveWorkDir(r.cfg, id); err != nil {
			return removed, err
		}
		if err := r.store.Delete(id); err != nil {
			return removed, err
		}

		if r.hooks.PostExpire != nil {
			_ = r.hooks.PostExpire(id)
		}
		removed++
	}

	return removed, nil
}
