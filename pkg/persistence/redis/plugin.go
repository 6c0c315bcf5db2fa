package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/gradepipe/gradepipe/pkg/persistence"
)

// Plugin implements persistence.Store on redis. Each collection is a HASH
// (field = document id, value = JSON) plus a LIST of document ids that
// preserves insertion order for scans.
type Plugin struct {
	rdb    *redis.Client
	prefix string
}

// NewPlugin creates a redis-backed store.
func NewPlugin(cfg persistence.ProviderConfig) (persistence.Store, error) {
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("redis provider: redisAddr is required")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "gradepipe"
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return &Plugin{rdb: rdb, prefix: prefix}, nil
}

func init() {
	persistence.RegisterProvider("redis", NewPlugin)
}

func (p *Plugin) Collection(name string) persistence.Collection {
	return &collection{plugin: p, name: name}
}

func (p *Plugin) Health(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}

func (p *Plugin) Close() error { return p.rdb.Close() }

type collection struct {
	plugin *Plugin
	name   string
}

func (c *collection) keyDocs() string  { return fmt.Sprintf("%s:coll:%s", c.plugin.prefix, c.name) }
func (c *collection) keyOrder() string { return fmt.Sprintf("%s:coll:%s:order", c.plugin.prefix, c.name) }

func (c *collection) exists(ctx context.Context) (bool, error) {
	n, err := c.plugin.rdb.Exists(ctx, c.keyDocs()).Result()
	if err != nil {
		return false, fmt.Errorf("EXISTS collection: %w", err)
	}
	return n > 0, nil
}

func (c *collection) scan(ctx context.Context, filter map[string]any, firstOnly bool) ([]json.RawMessage, error) {
	ok, err := c.exists(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, persistence.ErrCollectionNotFound
	}

	ids, err := c.plugin.rdb.LRange(ctx, c.keyOrder(), 0, -1).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("LRANGE collection order: %w", err)
	}
	var out []json.RawMessage
	for _, id := range ids {
		js, err := c.plugin.rdb.HGet(ctx, c.keyDocs(), id).Result()
		if err == redis.Nil || js == "" {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("HGET document: %w", err)
		}
		doc := json.RawMessage(js)
		if persistence.MatchesFilter(doc, filter) {
			out = append(out, doc)
			if firstOnly {
				return out, nil
			}
		}
	}
	return out, nil
}

func (c *collection) FindOne(ctx context.Context, filter map[string]any) (json.RawMessage, error) {
	docs, err := c.scan(ctx, filter, true)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, persistence.ErrNotFound
	}
	return docs[0], nil
}

func (c *collection) Find(ctx context.Context, filter map[string]any) ([]json.RawMessage, error) {
	return c.scan(ctx, filter, false)
}

func (c *collection) InsertOne(ctx context.Context, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	id := uuid.NewString()
	pipe := c.plugin.rdb.TxPipeline()
	pipe.HSet(ctx, c.keyDocs(), id, string(data))
	pipe.RPush(ctx, c.keyOrder(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (c *collection) ReplaceOne(ctx context.Context, filter map[string]any, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	ok, err := c.exists(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return persistence.ErrCollectionNotFound
	}

	ids, err := c.plugin.rdb.LRange(ctx, c.keyOrder(), 0, -1).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("LRANGE collection order: %w", err)
	}
	for _, id := range ids {
		js, err := c.plugin.rdb.HGet(ctx, c.keyDocs(), id).Result()
		if err == redis.Nil || js == "" {
			continue
		}
		if err != nil {
			return fmt.Errorf("HGET document: %w", err)
		}
		if persistence.MatchesFilter(json.RawMessage(js), filter) {
			if err := c.plugin.rdb.HSet(ctx, c.keyDocs(), id, string(data)).Err(); err != nil {
				return fmt.Errorf("HSET document: %w", err)
			}
			return nil
		}
	}
	return persistence.ErrNotFound
}

// Save is a no-op: redis persists on write.
func (c *collection) Save(ctx context.Context) error { return nil }
