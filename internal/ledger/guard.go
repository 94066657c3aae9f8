package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"dompet/internal/core"
)

// DefaultLockTimeout bounds how long a write waits for its payment methods.
const DefaultLockTimeout = 5 * time.Second

// Guard serializes writes per scope key. Keys are always acquired in sorted
// order so that two writes with overlapping key sets cannot deadlock.
type Guard struct {
	timeout time.Duration

	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	sem  *semaphore.Weighted
	refs int
}

func NewGuard(timeout time.Duration) *Guard {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	return &Guard{timeout: timeout, slots: make(map[string]*slot)}
}

// MethodKey is the scope key of one payment method.
func MethodKey(user core.UserID, methodID string) string {
	return fmt.Sprintf("pm:%s:%s", user, methodID)
}

// NamesKey serializes payment method create/rename for one user.
func NamesKey(user core.UserID) string {
	return fmt.Sprintf("pmnames:%s", user)
}

// TaxonomyKey serializes category and subcategory writes for one user.
func TaxonomyKey(user core.UserID) string {
	return fmt.Sprintf("taxonomy:%s", user)
}

// Acquire takes every key or none. On timeout or cancellation it returns a
// core.ErrConcurrencyTimeout error. The release func may be called more than
// once.
func (g *Guard) Acquire(ctx context.Context, keys ...string) (func(), error) {
	keys = uniqueSorted(keys)

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	held := make([]string, 0, len(keys))
	for _, k := range keys {
		s := g.ref(k)
		if err := s.sem.Acquire(ctx, 1); err != nil {
			g.unref(k)
			g.releaseAll(held)
			return nil, core.Timeout(err)
		}
		held = append(held, k)
	}

	var once sync.Once
	return func() {
		once.Do(func() { g.releaseAll(held) })
	}, nil
}

func (g *Guard) releaseAll(keys []string) {
	for i := len(keys) - 1; i >= 0; i-- {
		g.mu.Lock()
		s := g.slots[keys[i]]
		g.mu.Unlock()
		s.sem.Release(1)
		g.unref(keys[i])
	}
}

func (g *Guard) ref(key string) *slot {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.slots[key]
	if !ok {
		s = &slot{sem: semaphore.NewWeighted(1)}
		g.slots[key] = s
	}
	s.refs++
	return s
}

func (g *Guard) unref(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.slots[key]
	s.refs--
	if s.refs == 0 {
		delete(g.slots, key)
	}
}

// size returns the number of live scope keys.
func (g *Guard) size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.slots)
}

func uniqueSorted(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
