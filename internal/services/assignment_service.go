package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/gradepipe/gradepipe/internal/metrics"
	"github.com/gradepipe/gradepipe/internal/repository"
	"github.com/gradepipe/gradepipe/pkg/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// AssignmentService applies the full/partial hydration pattern at graded-run
// granularity: heavy run payloads live in dedicated collections, the class
// aggregate only ever carries partial projections.
type AssignmentService interface {
	// PersistAssignmentRun writes the full run payload to its dedicated
	// collection, then replaces or appends the partial projection inside the
	// class aggregate. The caller's full instance is never mutated.
	PersistAssignmentRun(ctx context.Context, class *domain.ClassRecord, full *domain.Assignment) error

	// RehydrateAssignment swaps the aggregate's partial entry for a freshly
	// loaded full instance and returns it.
	RehydrateAssignment(ctx context.Context, class *domain.ClassRecord, assignmentID string) (*domain.Assignment, error)
}

type assignmentService struct {
	runs   repository.AssignmentRunRepository
	logger *slog.Logger
	now    func() time.Time
}

func NewAssignmentService(runs repository.AssignmentRunRepository, logger *slog.Logger, now func() time.Time) AssignmentService {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &assignmentService{runs: runs, logger: logger, now: now}
}

func (s *assignmentService) PersistAssignmentRun(ctx context.Context, class *domain.ClassRecord, full *domain.Assignment) error {
	ctx, span := otel.Tracer("gradepipe/assignments").Start(ctx, "gradepipe.run.persist",
		trace.WithAttributes(
			attribute.String("gradepipe.course_id", full.CourseID),
			attribute.String("gradepipe.assignment_id", full.AssignmentID),
		),
	)
	defer span.End()

	s.logger.Info("persisting assignment run",
		"courseId", full.CourseID, "assignmentId", full.AssignmentID, "students", len(full.Submissions))

	if err := s.runs.SaveRun(ctx, full); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save run")
		metrics.RunPersistTotal.WithLabelValues("error").Inc()
		return err
	}

	partial := full.Partial()
	if idx := class.FindAssignment(full.AssignmentID); idx >= 0 {
		s.logger.Debug("replacing partial entry in class aggregate",
			"assignmentId", full.AssignmentID, "index", idx)
		class.Assignments[idx] = partial
	} else {
		s.logger.Debug("appending partial entry to class aggregate", "assignmentId", full.AssignmentID)
		class.Assignments = append(class.Assignments, partial)
	}
	metrics.RunPersistTotal.WithLabelValues("ok").Inc()
	return nil
}

func (s *assignmentService) RehydrateAssignment(ctx context.Context, class *domain.ClassRecord, assignmentID string) (*domain.Assignment, error) {
	ctx, span := otel.Tracer("gradepipe/assignments").Start(ctx, "gradepipe.run.rehydrate",
		trace.WithAttributes(
			attribute.String("gradepipe.course_id", class.CourseID),
			attribute.String("gradepipe.assignment_id", assignmentID),
		),
	)
	defer span.End()

	idx := class.FindAssignment(assignmentID)
	if idx < 0 {
		s.logger.Error("rehydration target missing from class aggregate",
			"courseId", class.CourseID, "assignmentId", assignmentID)
		span.SetStatus(codes.Error, "not in aggregate")
		metrics.RehydrationTotal.WithLabelValues("not_in_aggregate").Inc()
		return nil, ErrAssignmentNotInClass
	}

	s.logger.Info("rehydrating assignment run", "courseId", class.CourseID, "assignmentId", assignmentID)
	full, err := s.runs.GetRun(ctx, class.CourseID, assignmentID)
	if err != nil {
		err = classifyHydration(class.CourseID, assignmentID, err)
		s.logger.Error("rehydration failed", "courseId", class.CourseID, "assignmentId", assignmentID, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "load run")
		metrics.RehydrationTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	full.Hydration = domain.HydrationFull
	class.Assignments[idx] = full
	metrics.RehydrationTotal.WithLabelValues("ok").Inc()
	s.logger.Debug("rehydrated entry replaced in place", "assignmentId", assignmentID, "index", idx)
	return full, nil
}
