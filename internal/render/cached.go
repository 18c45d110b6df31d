package render

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"
)

// cacheVersion is mixed into every key so a renderer change invalidates
// previously stored output.
const cacheVersion = "goldmark-gfm-v1"

// Store persists rendered output keyed by content hash.
type Store interface {
	Get(key string) (string, bool)
	Put(key, html string) error
}

// Cached wraps a Renderer with a content-addressed Store. Identical
// sources render once across restarts.
type Cached struct {
	inner  Renderer
	store  Store
	logger *slog.Logger

	mu   sync.Mutex
	used map[string]struct{}
}

// NewCached creates a caching decorator around inner. A nil logger uses
// slog.Default.
func NewCached(inner Renderer, store Store, logger *slog.Logger) *Cached {
	if logger == nil {
		logger = slog.Default()
	}

	return &Cached{
		inner:  inner,
		store:  store,
		logger: logger,
		used:   make(map[string]struct{}),
	}
}

// Render returns the stored output for src when present, otherwise renders
// and stores it. Store write failures are logged, not returned.
func (c *Cached) Render(src []byte) (string, error) {
	key := CacheKey(src)
	c.markUsed(key)

	if html, ok := c.store.Get(key); ok {
		return html, nil
	}

	html, err := c.inner.Render(src)
	if err != nil {
		return "", err
	}

	if err := c.store.Put(key, html); err != nil {
		c.logger.Warn("storing rendered output", slog.String("error", err.Error()))
	}

	return html, nil
}

// TakeUsed returns every key requested since construction and stops
// recording. It is meant to be called once, after the Initial Scan, to
// prune the store; later renders are not tracked.
func (c *Cached) TakeUsed() map[string]struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := c.used
	c.used = nil

	if out == nil {
		out = map[string]struct{}{}
	}

	return out
}

func (c *Cached) markUsed(key string) {
	c.mu.Lock()
	if c.used != nil {
		c.used[key] = struct{}{}
	}
	c.mu.Unlock()
}

// CacheKey returns the store key for src.
func CacheKey(src []byte) string {
	h := sha256.New()
	h.Write([]byte(cacheVersion))
	h.Write([]byte{0})
	h.Write(src)

	return hex.EncodeToString(h.Sum(nil))
}
