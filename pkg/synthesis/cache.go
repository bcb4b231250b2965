package synthesis

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/satriadp/lisan/pkg/emotion"
)

// Cache keeps recently synthesized audio keyed by voice, emotion label
// and text. Short confirmations ("Okay.", "Sure.") repeat often enough
// across turns that skipping the engine call is worth the memory.
type Cache struct {
	inner *lru.Cache[string, []byte]
}

const DefaultCacheSize = 128

func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	inner, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, err
	}
	return &Cache{inner: inner}, nil
}

func (c *Cache) Get(voice string, label emotion.Label, text string) ([]byte, bool) {
	return c.inner.Get(cacheKey(voice, label, text))
}

func (c *Cache) Put(voice string, label emotion.Label, text string, audio []byte) {
	if len(audio) == 0 {
		return
	}
	c.inner.Add(cacheKey(voice, label, text), audio)
}

func (c *Cache) Len() int { return c.inner.Len() }

func cacheKey(voice string, label emotion.Label, text string) string {
	var sb strings.Builder
	sb.WriteString(voice)
	sb.WriteByte('|')
	sb.WriteString(string(label))
	sb.WriteByte('|')
	sb.WriteString(text)
	return sb.String()
}
