package notifier

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"l9alerts/internal/storage"
	kit "l9alerts/internal/transport"
	logx "l9alerts/pkg/logx"
)

const (
	dedupReadTimeout  = 50 * time.Millisecond
	dedupWriteTimeout = 250 * time.Millisecond
	dedupWriteBuffer  = 1024
)

// dedupKey is Notification.DedupKey, or a hash of destination and content.
func dedupKey(n kit.Notification) string {
	if n.DedupKey != "" {
		return n.DedupKey
	}
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%d|%d|%s", n.Channel, n.Target.ChatID, n.Priority, n.Text)
	if o := n.Options; o != nil {
		fmt.Fprintf(h, "|%d", o.MentionRoleID)
		if e := o.Embed; e != nil {
			fmt.Fprintf(h, "|%s|%s|%s|%s", e.Title, e.Description, e.Footer, e.ImageURL)
		}
	}
	return fmt.Sprintf("%x", h.Sum64())
}

type mark struct {
	key   string
	until time.Time
}

// dedupCache remembers recently sent keys in memory and, when persistent,
// in storage so a restart inside the window does not resend.
type dedupCache struct {
	log logx.Logger

	mu     sync.Mutex
	window time.Duration
	limit  int
	store  storage.Store // nil unless persistence is on
	until  map[string]time.Time
	writes chan mark // async persistence; nil means write inline
}

func newDedupCache(log logx.Logger) *dedupCache {
	return &dedupCache{log: log, until: map[string]time.Time{}}
}

func (c *dedupCache) configure(window time.Duration, limit int, store storage.Store) {
	c.mu.Lock()
	c.window, c.limit, c.store = window, limit, store
	c.mu.Unlock()
}

// claim reports whether key may be sent now and, if so, opens its window.
func (c *dedupCache) claim(ctx context.Context, key string) bool {
	if key == "" {
		return true
	}
	now := time.Now()

	c.mu.Lock()
	window, store := c.window, c.store
	if window <= 0 {
		c.mu.Unlock()
		return true
	}
	if u, ok := c.until[key]; ok && now.Before(u) {
		c.mu.Unlock()
		return false
	}
	c.mu.Unlock()

	if store != nil {
		rctx, cancel := context.WithTimeout(ctx, dedupReadTimeout)
		u, ok, err := store.GetDedup(rctx, key)
		cancel()
		if err == nil && ok && now.Before(u) {
			c.mu.Lock()
			c.until[key] = u
			c.mu.Unlock()
			return false
		}
	}

	m := mark{key: key, until: now.Add(window)}
	c.mu.Lock()
	c.until[key] = m.until
	c.evictLocked(now)
	queued := false
	if c.writes != nil {
		select {
		case c.writes <- m:
			queued = true
		default:
		}
	}
	async := c.writes != nil
	c.mu.Unlock()

	switch {
	case store == nil || queued:
	case async:
		c.log.Debug("dedup write dropped (buffer full)", logx.String("key", key))
	default:
		wctx, cancel := context.WithTimeout(ctx, dedupWriteTimeout)
		if err := store.PutDedup(wctx, m.key, m.until); err != nil {
			c.log.Debug("dedup persist failed", logx.Err(err))
		}
		cancel()
	}
	return true
}

// evictLocked drops expired keys, then the soonest-expiring ones over limit.
func (c *dedupCache) evictLocked(now time.Time) {
	for k, u := range c.until {
		if !now.Before(u) {
			delete(c.until, k)
		}
	}
	for len(c.until) > c.limit {
		var oldest string
		for k, u := range c.until {
			if oldest == "" || u.Before(c.until[oldest]) {
				oldest = k
			}
		}
		delete(c.until, oldest)
	}
}

// release reopens key after a failed delivery. A persisted mark expires on
// its own.
func (c *dedupCache) release(key string) {
	if key == "" {
		return
	}
	c.mu.Lock()
	delete(c.until, key)
	c.mu.Unlock()
}

// persistAsync moves storage writes off the send path until the returned
// stop func is called. stop flushes what is buffered.
func (c *dedupCache) persistAsync() (run func(ctx context.Context) error, stop func()) {
	c.mu.Lock()
	store := c.store
	if store == nil {
		c.mu.Unlock()
		return nil, func() {}
	}
	ch := make(chan mark, dedupWriteBuffer)
	c.writes = ch
	c.mu.Unlock()

	run = func(ctx context.Context) error {
		for m := range ch {
			wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dedupWriteTimeout)
			if err := store.PutDedup(wctx, m.key, m.until); err != nil {
				c.log.Debug("dedup persist failed", logx.Err(err))
			}
			cancel()
		}
		return nil
	}
	stop = func() {
		c.mu.Lock()
		if c.writes == ch {
			c.writes = nil
			close(ch)
		}
		c.mu.Unlock()
	}
	return run, stop
}
