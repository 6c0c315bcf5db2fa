package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gradepipe/gradepipe/internal/metrics"
	"github.com/gradepipe/gradepipe/pkg/domain"
	"github.com/gradepipe/gradepipe/pkg/persistence"
)

// DefinitionRepository persists assignment definitions across the two tiers:
// the shared registry holds one partial record per definition key, and a
// dedicated per-key heavy collection holds the full form with task content.
type DefinitionRepository interface {
	// GetFull reads the heavy store. Absence is (nil, nil), not an error.
	GetFull(ctx context.Context, key string) (*domain.AssignmentDefinition, error)

	// GetPartial reads the registry. Absence is (nil, nil), not an error.
	GetPartial(ctx context.Context, key string) (*domain.DefinitionRecord, error)

	// Save writes both tiers, heavy first so a registry record never points
	// at a missing heavy record beyond this call. A registry failure after a
	// successful heavy write is reported as such, not hidden.
	Save(ctx context.Context, def *domain.AssignmentDefinition) error

	// SavePartial writes the registry only; used when nothing content-bearing
	// changed.
	SavePartial(ctx context.Context, rec *domain.DefinitionRecord) error

	// ListPartial scans the registry.
	ListPartial(ctx context.Context) ([]*domain.DefinitionRecord, error)
}

type definitionRepo struct {
	store  persistence.Store
	logger *slog.Logger
}

func NewDefinitionRepository(store persistence.Store, logger *slog.Logger) DefinitionRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &definitionRepo{store: store, logger: logger}
}

func keyFilter(key string) map[string]any {
	return map[string]any{"definitionKey": key}
}

func (r *definitionRepo) GetFull(ctx context.Context, key string) (*domain.AssignmentDefinition, error) {
	coll := r.store.Collection(DefinitionCollection(key))
	raw, err := coll.FindOne(ctx, keyFilter(key))
	if errors.Is(err, persistence.ErrNotFound) || errors.Is(err, persistence.ErrCollectionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("definition %q: read heavy store: %w", key, err)
	}
	def, err := domain.AssignmentDefinitionFromJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("definition %q: %w: %v", key, persistence.ErrMalformedDocument, err)
	}
	return def, nil
}

func (r *definitionRepo) GetPartial(ctx context.Context, key string) (*domain.DefinitionRecord, error) {
	coll := r.store.Collection(registryCollection)
	raw, err := coll.FindOne(ctx, keyFilter(key))
	if errors.Is(err, persistence.ErrNotFound) || errors.Is(err, persistence.ErrCollectionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("definition %q: read registry: %w", key, err)
	}
	rec, err := domain.DefinitionRecordFromJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("definition %q: %w: %v", key, persistence.ErrMalformedDocument, err)
	}
	return rec, nil
}

func (r *definitionRepo) Save(ctx context.Context, def *domain.AssignmentDefinition) error {
	key := def.DefinitionKey
	heavy := DefinitionCollection(key)
	r.logger.Debug("saving definition", "key", key, "collection", heavy, "tasks", len(def.Tasks))

	if err := upsert(ctx, r.store.Collection(heavy), keyFilter(key), def); err != nil {
		return fmt.Errorf("definition %q: write heavy store: %w", key, err)
	}
	metrics.StoreWriteTotal.WithLabelValues("heavy").Inc()

	if err := upsert(ctx, r.store.Collection(registryCollection), keyFilter(key), def.Partial()); err != nil {
		// Heavy write already landed; the caller must know this dual write
		// is half-applied.
		return fmt.Errorf("definition %q: registry write failed after heavy write succeeded: %w", key, err)
	}
	metrics.StoreWriteTotal.WithLabelValues("registry").Inc()
	return nil
}

func (r *definitionRepo) SavePartial(ctx context.Context, rec *domain.DefinitionRecord) error {
	r.logger.Debug("saving partial definition", "key", rec.DefinitionKey)
	if err := upsert(ctx, r.store.Collection(registryCollection), keyFilter(rec.DefinitionKey), rec); err != nil {
		return fmt.Errorf("definition %q: write registry: %w", rec.DefinitionKey, err)
	}
	metrics.StoreWriteTotal.WithLabelValues("registry").Inc()
	return nil
}

func (r *definitionRepo) ListPartial(ctx context.Context) ([]*domain.DefinitionRecord, error) {
	raws, err := r.store.Collection(registryCollection).Find(ctx, nil)
	if errors.Is(err, persistence.ErrCollectionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list registry: %w", err)
	}
	out := make([]*domain.DefinitionRecord, 0, len(raws))
	for _, raw := range raws {
		rec, err := domain.DefinitionRecordFromJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("list registry: %w: %v", persistence.ErrMalformedDocument, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// upsert replaces the matching document or inserts when nothing matches,
// then flushes.
func upsert(ctx context.Context, coll persistence.Collection, filter map[string]any, doc any) error {
	_, err := coll.FindOne(ctx, filter)
	switch {
	case err == nil:
		if err := coll.ReplaceOne(ctx, filter, doc); err != nil {
			return err
		}
	case errors.Is(err, persistence.ErrNotFound), errors.Is(err, persistence.ErrCollectionNotFound):
		if err := coll.InsertOne(ctx, doc); err != nil {
			return err
		}
	default:
		return err
	}
	return coll.Save(ctx)
}
