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

// AssignmentRunRepository persists full graded-run payloads in a dedicated
// collection per (courseId, assignmentId), keeping roster-level aggregates
// free of heavy content.
type AssignmentRunRepository interface {
	// SaveRun upserts the full run payload into its dedicated collection.
	SaveRun(ctx context.Context, run *domain.Assignment) error

	// GetRun loads the full run payload. The error distinguishes a missing
	// collection, a missing record and a malformed record.
	GetRun(ctx context.Context, courseID, assignmentID string) (*domain.Assignment, error)
}

type assignmentRunRepo struct {
	store  persistence.Store
	logger *slog.Logger
}

func NewAssignmentRunRepository(store persistence.Store, logger *slog.Logger) AssignmentRunRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &assignmentRunRepo{store: store, logger: logger}
}

func runFilter(courseID, assignmentID string) map[string]any {
	return map[string]any{"courseId": courseID, "assignmentId": assignmentID}
}

func (r *assignmentRunRepo) SaveRun(ctx context.Context, run *domain.Assignment) error {
	name := RunCollection(run.CourseID, run.AssignmentID)
	r.logger.Debug("saving assignment run",
		"courseId", run.CourseID, "assignmentId", run.AssignmentID, "collection", name)
	if err := upsert(ctx, r.store.Collection(name), runFilter(run.CourseID, run.AssignmentID), run); err != nil {
		return fmt.Errorf("run %s/%s: write run store: %w", run.CourseID, run.AssignmentID, err)
	}
	metrics.StoreWriteTotal.WithLabelValues("run").Inc()
	return nil
}

func (r *assignmentRunRepo) GetRun(ctx context.Context, courseID, assignmentID string) (*domain.Assignment, error) {
	name := RunCollection(courseID, assignmentID)
	raw, err := r.store.Collection(name).FindOne(ctx, runFilter(courseID, assignmentID))
	if errors.Is(err, persistence.ErrCollectionNotFound) {
		return nil, fmt.Errorf("run %s/%s: collection %q: %w", courseID, assignmentID, name, persistence.ErrCollectionNotFound)
	}
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, fmt.Errorf("run %s/%s: %w", courseID, assignmentID, persistence.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("run %s/%s: read run store: %w", courseID, assignmentID, err)
	}
	run, err := domain.AssignmentFromJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("run %s/%s: %w: %v", courseID, assignmentID, persistence.ErrMalformedDocument, err)
	}
	if run.CourseID == "" || run.AssignmentID == "" {
		return nil, fmt.Errorf("run %s/%s: record missing identity fields: %w", courseID, assignmentID, persistence.ErrMalformedDocument)
	}
	return run, nil
}
