// Package dedupe collapses repeated identical reads. Results are kept for a
// short window and concurrent callers asking for the same key share a single
// in-flight load.
package dedupe

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type entry struct {
	value     any
	expiresAt time.Time
}

// Group is safe for concurrent use. Keys are scoped by owner so that a write
// by one user only drops that user's entries.
type Group struct {
	ttl     time.Duration
	flight  singleflight.Group
	mu      sync.RWMutex
	entries map[string]*entry
	gen     map[string]uint64
	now     func() time.Time
}

// New returns a Group keeping results for ttl. A zero ttl still shares
// in-flight loads but caches nothing.
func New(ttl time.Duration) *Group {
	return &Group{
		ttl:     ttl,
		entries: make(map[string]*entry),
		gen:     make(map[string]uint64),
		now:     time.Now,
	}
}

func key(owner, query string) string {
	return owner + "\x00" + query
}

// Do returns the cached value for (owner, query) or runs load. Errors are
// never cached. The shared load is detached from the caller's cancellation so
// one disconnecting client does not fail everyone waiting on the same key; a
// caller whose own ctx ends stops waiting and gets ctx.Err().
func (g *Group) Do(ctx context.Context, owner, query string, load func(ctx context.Context) (any, error)) (any, error) {
	k := key(owner, query)

	g.mu.RLock()
	e, ok := g.entries[k]
	gen := g.gen[owner]
	g.mu.RUnlock()
	if ok && g.now().Before(e.expiresAt) {
		return e.value, nil
	}

	loadCtx := context.WithoutCancel(ctx)
	ch := g.flight.DoChan(k, func() (any, error) {
		v, err := load(loadCtx)
		if err != nil || g.ttl <= 0 {
			return v, err
		}
		g.mu.Lock()
		// a write that landed during the load makes this result stale
		if g.gen[owner] == gen {
			g.entries[k] = &entry{value: v, expiresAt: g.now().Add(g.ttl)}
		}
		g.mu.Unlock()
		return v, nil
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Invalidate drops every entry belonging to owner.
func (g *Group) Invalidate(owner string) {
	prefix := owner + "\x00"
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gen[owner]++
	for k := range g.entries {
		if strings.HasPrefix(k, prefix) {
			delete(g.entries, k)
		}
	}
}

// StartCleanup periodically removes expired entries until ctx is cancelled.
func (g *Group) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				g.sweep()
			}
		}
	}()
}

func (g *Group) sweep() {
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()
	for k, e := range g.entries {
		if now.After(e.expiresAt) {
			delete(g.entries, k)
		}
	}
}

// Len reports the number of cached entries, expired ones included.
func (g *Group) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.entries)
}
