package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gradepipe/gradepipe/pkg/persistence"
)

// Plugin implements persistence.Store in memory. It is the test backend and
// also serves single-process runs where durability does not matter.
type Plugin struct {
	mu          sync.RWMutex
	collections map[string][]json.RawMessage
}

// NewPlugin creates a new in-memory store.
func NewPlugin(cfg persistence.ProviderConfig) (persistence.Store, error) {
	return &Plugin{collections: make(map[string][]json.RawMessage)}, nil
}

func init() {
	persistence.RegisterProvider("memory", NewPlugin)
}

func (p *Plugin) Collection(name string) persistence.Collection {
	return &collection{plugin: p, name: name}
}

// Health always returns nil for in-memory storage.
func (p *Plugin) Health(ctx context.Context) error { return nil }

// Close is a no-op for in-memory storage.
func (p *Plugin) Close() error { return nil }

type collection struct {
	plugin *Plugin
	name   string
}

func (c *collection) FindOne(ctx context.Context, filter map[string]any) (json.RawMessage, error) {
	c.plugin.mu.RLock()
	defer c.plugin.mu.RUnlock()

	docs, exists := c.plugin.collections[c.name]
	if !exists {
		return nil, persistence.ErrCollectionNotFound
	}
	for _, doc := range docs {
		if persistence.MatchesFilter(doc, filter) {
			return doc, nil
		}
	}
	return nil, persistence.ErrNotFound
}

func (c *collection) Find(ctx context.Context, filter map[string]any) ([]json.RawMessage, error) {
	c.plugin.mu.RLock()
	defer c.plugin.mu.RUnlock()

	docs, exists := c.plugin.collections[c.name]
	if !exists {
		return nil, persistence.ErrCollectionNotFound
	}
	var out []json.RawMessage
	for _, doc := range docs {
		if persistence.MatchesFilter(doc, filter) {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (c *collection) InsertOne(ctx context.Context, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	c.plugin.mu.Lock()
	defer c.plugin.mu.Unlock()
	c.plugin.collections[c.name] = append(c.plugin.collections[c.name], data)
	return nil
}

func (c *collection) ReplaceOne(ctx context.Context, filter map[string]any, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	c.plugin.mu.Lock()
	defer c.plugin.mu.Unlock()

	docs, exists := c.plugin.collections[c.name]
	if !exists {
		return persistence.ErrCollectionNotFound
	}
	for i, existing := range docs {
		if persistence.MatchesFilter(existing, filter) {
			docs[i] = data
			return nil
		}
	}
	return persistence.ErrNotFound
}

// Save is a no-op: in-memory writes are immediately visible.
func (c *collection) Save(ctx context.Context) error { return nil }
