package wasm

import (
	"bytes"
	"context"
	"errors"
	"sync"
)

var (
	// ErrConflict is returned by PutIfAbsent when the key is already taken
	ErrConflict = errors.New("object already exists")

	// ErrNotFound is returned by Get for a missing key
	ErrNotFound = errors.New("object not found")
)

// Cache is a key addressed blob store with create-if-absent writes
type Cache interface {
	Exists(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) ([]byte, error)
	PutIfAbsent(ctx context.Context, key string, data []byte, contentType string) error
}

// MemoryCache is a process local Cache
type MemoryCache struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

// NewMemoryCache returns an empty MemoryCache
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{objects: map[string][]byte{}}
}

func (c *MemoryCache) Exists(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.objects[key]
	return ok, nil
}

func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(data), nil
}

func (c *MemoryCache) PutIfAbsent(ctx context.Context, key string, data []byte, contentType string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.objects[key]; ok {
		return ErrConflict
	}
	c.objects[key] = bytes.Clone(data)
	c.puts++
	return nil
}

// Puts counts successful writes
func (c *MemoryCache) Puts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.puts
}
