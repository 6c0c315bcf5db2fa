package redis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/gradepipe/gradepipe/pkg/persistence"
)

type testDoc struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

func newTestStore(t *testing.T) persistence.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewPlugin(persistence.ProviderConfig{
		Type:      "redis",
		RedisAddr: mr.Addr(),
		KeyPrefix: "test",
	})
	if err != nil {
		t.Fatalf("NewPlugin: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNewPluginRequiresAddr(t *testing.T) {
	if _, err := NewPlugin(persistence.ProviderConfig{Type: "redis"}); err == nil {
		t.Fatal("missing redisAddr accepted")
	}
}

func TestRedisCollectionLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	coll := store.Collection("docs")

	if _, err := coll.FindOne(ctx, map[string]any{"id": "a"}); !errors.Is(err, persistence.ErrCollectionNotFound) {
		t.Fatalf("FindOne before insert: %v, want ErrCollectionNotFound", err)
	}

	if err := coll.InsertOne(ctx, testDoc{ID: "a", Label: "first"}); err != nil {
		t.Fatalf("InsertOne: %v", err)
	}
	raw, err := coll.FindOne(ctx, map[string]any{"id": "a"})
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	var d testDoc
	if err := json.Unmarshal(raw, &d); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.Label != "first" {
		t.Errorf("label = %q, want %q", d.Label, "first")
	}
	if _, err := coll.FindOne(ctx, map[string]any{"id": "missing"}); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("FindOne miss: %v, want ErrNotFound", err)
	}
}

func TestRedisFindPreservesInsertionOrder(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	coll := store.Collection("docs")

	for _, id := range []string{"c", "a", "b"} {
		if err := coll.InsertOne(ctx, testDoc{ID: id}); err != nil {
			t.Fatalf("InsertOne %s: %v", id, err)
		}
	}
	docs, err := coll.Find(ctx, nil)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("len(docs) = %d, want 3", len(docs))
	}
	for i, want := range []string{"c", "a", "b"} {
		var d testDoc
		if err := json.Unmarshal(docs[i], &d); err != nil {
			t.Fatalf("decode doc %d: %v", i, err)
		}
		if d.ID != want {
			t.Errorf("doc %d id = %q, want %q", i, d.ID, want)
		}
	}
}

func TestRedisReplaceOne(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	coll := store.Collection("docs")

	if err := coll.ReplaceOne(ctx, map[string]any{"id": "a"}, testDoc{ID: "a"}); !errors.Is(err, persistence.ErrCollectionNotFound) {
		t.Fatalf("ReplaceOne before insert: %v, want ErrCollectionNotFound", err)
	}
	if err := coll.InsertOne(ctx, testDoc{ID: "a", Label: "old"}); err != nil {
		t.Fatalf("InsertOne: %v", err)
	}
	if err := coll.ReplaceOne(ctx, map[string]any{"id": "a"}, testDoc{ID: "a", Label: "new"}); err != nil {
		t.Fatalf("ReplaceOne: %v", err)
	}
	raw, err := coll.FindOne(ctx, map[string]any{"id": "a"})
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	var d testDoc
	if err := json.Unmarshal(raw, &d); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.Label != "new" {
		t.Errorf("label = %q, want %q", d.Label, "new")
	}
	if err := coll.ReplaceOne(ctx, map[string]any{"id": "missing"}, testDoc{ID: "x"}); !errors.Is(err, persistence.ErrNotFound) {
		t.Errorf("ReplaceOne miss: %v, want ErrNotFound", err)
	}
}

func TestRedisKeyPrefixIsolation(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	one, err := NewPlugin(persistence.ProviderConfig{Type: "redis", RedisAddr: mr.Addr(), KeyPrefix: "one"})
	if err != nil {
		t.Fatalf("NewPlugin one: %v", err)
	}
	t.Cleanup(func() { one.Close() })
	two, err := NewPlugin(persistence.ProviderConfig{Type: "redis", RedisAddr: mr.Addr(), KeyPrefix: "two"})
	if err != nil {
		t.Fatalf("NewPlugin two: %v", err)
	}
	t.Cleanup(func() { two.Close() })

	if err := one.Collection("docs").InsertOne(ctx, testDoc{ID: "a"}); err != nil {
		t.Fatalf("InsertOne: %v", err)
	}
	if _, err := two.Collection("docs").Find(ctx, nil); !errors.Is(err, persistence.ErrCollectionNotFound) {
		t.Fatalf("prefix leak: %v, want ErrCollectionNotFound", err)
	}
}

func TestRedisHealth(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	store, err := NewPlugin(persistence.ProviderConfig{Type: "redis", RedisAddr: mr.Addr()})
	if err != nil {
		t.Fatalf("NewPlugin: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.Health(ctx); err != nil {
		t.Fatalf("Health: %v", err)
	}
	mr.Close()
	if err := store.Health(ctx); err == nil {
		t.Fatal("Health after server close should fail")
	}
}
