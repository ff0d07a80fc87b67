package models

import (
	"fmt"
	"sync"

	"github.com/banshee-data/tsmap/internal/maps"
)

// TemplateLoader reads a spatial template image from filename.
type TemplateLoader func(filename string) (*maps.Image, error)

// TemplateCache holds loaded template images keyed by identifier. It is
// owned by the caller and safe for concurrent use.
type TemplateCache struct {
	load TemplateLoader

	mu    sync.Mutex
	items map[string]*maps.Image
}

// NewTemplateCache returns an empty cache backed by load.
func NewTemplateCache(load TemplateLoader) *TemplateCache {
	return &TemplateCache{load: load, items: make(map[string]*maps.Image)}
}

// Get returns the template stored under id, loading it from filename on
// first use.
func (c *TemplateCache) Get(id, filename string) (*maps.Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if img, ok := c.items[id]; ok {
		return img, nil
	}
	if c.load == nil {
		return nil, fmt.Errorf("template %q not cached and no loader configured", id)
	}
	img, err := c.load(filename)
	if err != nil {
		return nil, fmt.Errorf("load template %q from %s: %w", id, filename, err)
	}
	c.items[id] = img
	return img, nil
}

// Put stores img under id, replacing any previous entry.
func (c *TemplateCache) Put(id string, img *maps.Image) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[id] = img
}

// Len returns the number of cached templates.
func (c *TemplateCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
