package index

import (
	"context"
	"sync"
)

// MemoryClient keeps documents in process memory. It backs the "memory"
// backend for dry runs and is the reference implementation for tests.
type MemoryClient struct {
	mu   sync.RWMutex
	docs map[string]map[string]map[string]any // index name -> doc id -> payload
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{docs: make(map[string]map[string]map[string]any)}
}

func (c *MemoryClient) Upsert(ctx context.Context, indexName, docID string, payload map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, ok := c.docs[indexName]
	if !ok {
		idx = make(map[string]map[string]any)
		c.docs[indexName] = idx
	}
	idx[docID] = payload
	return nil
}

func (c *MemoryClient) Delete(ctx context.Context, indexName, docID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx, ok := c.docs[indexName]; ok {
		delete(idx, docID)
	}
	return nil
}

func (c *MemoryClient) Close() error {
	return nil
}

// Get returns the stored payload for a doc id, or nil when absent.
func (c *MemoryClient) Get(indexName, docID string) map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.docs[indexName][docID]
}

// Count returns the number of documents held by one index.
func (c *MemoryClient) Count(indexName string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.docs[indexName])
}
