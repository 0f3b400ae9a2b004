package translate

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

const defaultCacheSize = 1024

// Cached memoizes successful translations and collapses concurrent
// requests for the same text into one backend call. Repeated partials
// re-translate the same prefix constantly; this is the hot path.
type Cached struct {
	inner Translator
	lru   *lru.Cache[string, string]
	group singleflight.Group
}

func NewCached(inner Translator, size int) (*Cached, error) {
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("create translation cache: %w", err)
	}
	return &Cached{inner: inner, lru: cache}, nil
}

func (c *Cached) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	key := sourceLang + "\x00" + targetLang + "\x00" + text
	if v, ok := c.lru.Get(key); ok {
		return v, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		out, err := c.inner.Translate(ctx, text, sourceLang, targetLang)
		if err != nil {
			return "", err
		}
		c.lru.Add(key, out)
		return out, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Len reports the number of cached entries.
func (c *Cached) Len() int {
	return c.lru.Len()
}
