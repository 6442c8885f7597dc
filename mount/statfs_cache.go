package mount

import (
	"context"
	"sync"
	"time"

	"github.com/relvacode/drivefs/drive"
)

// statfsCache memoizes the adapter's quota for statfsMaxAge, so that a `df`
// or repeated stat(2) storm doesn't turn into a network round trip per call.
// It is a small, independent lock from the tree's: statfs
// never needs a consistent view of the tree, only a recent-enough quota
// number.
type statfsCache struct {
	mu      sync.Mutex
	maxAge  time.Duration
	fetched time.Time
	quota   drive.Quota
	valid   bool

	now func() time.Time
}

func newStatfsCache(maxAge time.Duration) *statfsCache {
	return &statfsCache{maxAge: maxAge, now: time.Now}
}

// Get returns the quota, fetching a fresh one via fetch if the cached value
// is missing or older than maxAge. A fetch failure with a still-valid (if
// stale) cached value is swallowed in favor of returning the old number:
// statfs prefers serving something stale over failing a call that has no
// write-path consequences.
func (c *statfsCache) Get(ctx context.Context, fetch func(context.Context) (drive.Quota, error)) (drive.Quota, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.valid && c.now().Sub(c.fetched) <= c.maxAge {
		return c.quota, nil
	}

	q, err := fetch(ctx)
	if err != nil {
		if c.valid {
			return c.quota, nil
		}
		return drive.Quota{}, err
	}

	c.quota = q
	c.fetched = c.now()
	c.valid = true
	return q, nil
}

// Invalidate forces the next Get to fetch, used after an upload or delete
// materially changes usage.
func (c *statfsCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.valid = false
}
