package retrieval

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache는 빌드된 인덱스를 인덱스 ID와 버전으로 캐시합니다.
type Cache struct {
	entries *lru.Cache[string, cacheEntry]
}

type cacheEntry struct {
	version time.Time
	index   *Index
}

// NewCache는 size개 인덱스를 보관하는 Cache를 생성합니다.
func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = 64
	}
	entries, err := lru.New[string, cacheEntry](size)
	if err != nil {
		return nil, fmt.Errorf("retrieval: create cache: %w", err)
	}
	return &Cache{entries: entries}, nil
}

// Get은 version과 일치하는 캐시된 인덱스를 반환합니다.
func (c *Cache) Get(indexID string, version time.Time) (*Index, bool) {
	entry, ok := c.entries.Get(indexID)
	if !ok || !entry.version.Equal(version) {
		return nil, false
	}
	return entry.index, true
}

// Put은 인덱스를 캐시합니다.
func (c *Cache) Put(indexID string, version time.Time, index *Index) {
	c.entries.Add(indexID, cacheEntry{version: version, index: index})
}

// Invalidate는 캐시 항목을 제거합니다.
func (c *Cache) Invalidate(indexID string) {
	c.entries.Remove(indexID)
}

// Len은 캐시 항목 수입니다.
func (c *Cache) Len() int {
	return c.entries.Len()
}
