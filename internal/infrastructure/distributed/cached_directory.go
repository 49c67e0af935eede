package distributed

import (
	"context"
	"time"

	"lancast/pkg/cache"
)

type casterLister interface {
	List(ctx context.Context) ([]Announcement, error)
}

// CachedDirectory serves caster listings from memory for ttl so that panels
// polling the list do not hit Redis on every request.
type CachedDirectory struct {
	base  casterLister
	cache *cache.Cache[string, []Announcement]
}

const listKey = "casters"

func NewCachedDirectory(base casterLister, ttl time.Duration) *CachedDirectory {
	return &CachedDirectory{
		base:  base,
		cache: cache.New[string, []Announcement](ttl),
	}
}

func (d *CachedDirectory) List(ctx context.Context) ([]Announcement, error) {
	list, err := d.cache.GetOrSet(ctx, listKey, d.base.List)
	if err != nil {
		return nil, err
	}
	out := make([]Announcement, len(list))
	copy(out, list)
	return out, nil
}

// Invalidate forces the next List to read through.
func (d *CachedDirectory) Invalidate() {
	d.cache.Delete(listKey)
}
