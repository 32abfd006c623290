package metadata

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// CachedReader caches session lookups for a short TTL. Concurrent misses for
// the same session share one query. Photo membership and missing sessions are
// not cached, so a newly created session is visible immediately.
type CachedReader struct {
	inner    Reader
	sessions *expirable.LRU[string, Session]
	group    singleflight.Group
}

// NewCachedReader wraps inner with an LRU of size entries expiring after ttl.
func NewCachedReader(inner Reader, size int, ttl time.Duration) *CachedReader {
	if size <= 0 {
		size = 1024
	}
	return &CachedReader{
		inner:    inner,
		sessions: expirable.NewLRU[string, Session](size, nil, ttl),
	}
}

// Get returns the cached session or loads it from the inner reader.
func (c *CachedReader) Get(ctx context.Context, sessionID string) (*Session, error) {
	if sess, ok := c.sessions.Get(sessionID); ok {
		return &sess, nil
	}

	v, err, _ := c.group.Do(sessionID, func() (any, error) {
		sess, err := c.inner.Get(ctx, sessionID)
		if err != nil || sess == nil {
			return sess, err
		}
		c.sessions.Add(sessionID, *sess)
		return sess, nil
	})
	if err != nil {
		return nil, err //nolint:wrapcheck // already wrapped by inner
	}
	sess, _ := v.(*Session)
	if sess == nil {
		return nil, nil
	}
	out := *sess
	return &out, nil
}

// PhotoInSession is passed through uncached.
func (c *CachedReader) PhotoInSession(ctx context.Context, photoID, sessionID string) (bool, error) {
	return c.inner.PhotoInSession(ctx, photoID, sessionID)
}

// Ping is passed through.
func (c *CachedReader) Ping(ctx context.Context) error {
	return c.inner.Ping(ctx)
}

// Invalidate drops a cached session, e.g. after an administrative delete.
func (c *CachedReader) Invalidate(sessionID string) {
	c.sessions.Remove(sessionID)
}

var _ Reader = (*CachedReader)(nil)
