package services

import (
	"context"
	"fmt"
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

// EnsureDefinitionRequest identifies one assignment definition and its
// source documents.
type EnsureDefinitionRequest struct {
	PrimaryTitle        string
	PrimaryTopic        string
	YearGroup           *int
	DocumentType        string
	ReferenceDocumentID string
	TemplateDocumentID  string
}

// DefinitionService owns the ensure cycle: staleness detection against the
// source documents, re-derivation through the parser, and the dual-store
// persistence that keeps the registry partial and the heavy store full.
type DefinitionService interface {
	EnsureDefinition(ctx context.Context, req EnsureDefinitionRequest) (*domain.AssignmentDefinition, error)
	ListDefinitions(ctx context.Context) ([]*domain.DefinitionRecord, error)
	GetDefinition(ctx context.Context, key string, form domain.HydrationLevel) (*domain.AssignmentDefinition, *domain.DefinitionRecord, error)
}

type definitionService struct {
	repo   repository.DefinitionRepository
	parser DocumentParser
	stamps TimestampProvider
	logger *slog.Logger
	now    func() time.Time
}

func NewDefinitionService(repo repository.DefinitionRepository, parser DocumentParser, stamps TimestampProvider, logger *slog.Logger, now func() time.Time) DefinitionService {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &definitionService{repo: repo, parser: parser, stamps: stamps, logger: logger, now: now}
}

func (s *definitionService) EnsureDefinition(ctx context.Context, req EnsureDefinitionRequest) (*domain.AssignmentDefinition, error) {
	key := domain.ComputeDefinitionKey(req.PrimaryTitle, req.PrimaryTopic, req.YearGroup)

	ctx, span := otel.Tracer("gradepipe/definitions").Start(ctx, "gradepipe.definition.ensure",
		trace.WithAttributes(
			attribute.String("gradepipe.definition_key", key),
			attribute.String("gradepipe.document_type", req.DocumentType),
		),
	)
	defer span.End()

	referenceModifiedAt, err := s.stamps.LastModified(ctx, req.ReferenceDocumentID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolve reference timestamp")
		return nil, fmt.Errorf("definition %q: resolve last-modified of reference document %q: %w", key, req.ReferenceDocumentID, err)
	}
	templateModifiedAt, err := s.stamps.LastModified(ctx, req.TemplateDocumentID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolve template timestamp")
		return nil, fmt.Errorf("definition %q: resolve last-modified of template document %q: %w", key, req.TemplateDocumentID, err)
	}

	def, err := s.repo.GetFull(ctx, key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load definition")
		return nil, err
	}

	stale := def == nil
	if stale {
		s.logger.Info("no stored definition, parsing from scratch", "key", key)
	} else {
		var notes []string
		stale, notes = def.NeedsRefresh(referenceModifiedAt, templateModifiedAt)
		for _, note := range notes {
			s.logger.Info("staleness check", "key", key, "note", note)
		}
	}
	span.SetAttributes(attribute.Bool("gradepipe.stale", stale))

	if !stale {
		metrics.DefinitionFreshHitTotal.Inc()
		s.logger.Debug("definition fresh, skipping parse", "key", key)
		// A re-provisioned document can carry the same content timestamps;
		// the stored ids still have to follow it, without a reparse.
		if def.ReferenceDocumentID != req.ReferenceDocumentID || def.TemplateDocumentID != req.TemplateDocumentID {
			s.logger.Info("source document ids changed on fresh definition", "key", key)
			def.ReferenceDocumentID = req.ReferenceDocumentID
			def.TemplateDocumentID = req.TemplateDocumentID
			def.Touch(s.now())
			if err := s.repo.Save(ctx, def); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "persist")
				return nil, err
			}
			return def, nil
		}
		if err := s.backfillRegistry(ctx, key, def); err != nil {
			return nil, err
		}
		return def, nil
	}

	if def == nil {
		def = domain.NewAssignmentDefinition(req.PrimaryTitle, req.PrimaryTopic, req.YearGroup,
			req.DocumentType, req.ReferenceDocumentID, req.TemplateDocumentID, s.now())
	} else {
		// The documents backing a key may be re-provisioned between runs.
		def.ReferenceDocumentID = req.ReferenceDocumentID
		def.TemplateDocumentID = req.TemplateDocumentID
	}

	parseStart := s.now()
	parsed, err := s.parser.ParseTasks(ctx, req.ReferenceDocumentID, req.TemplateDocumentID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "parse")
		return nil, fmt.Errorf("definition %q: parse documents %q/%q: %w", key, req.ReferenceDocumentID, req.TemplateDocumentID, err)
	}
	metrics.ParseLatencySeconds.Observe(s.now().Sub(parseStart).Seconds())

	tasks, dropped, err := domain.AssembleTasks(parsed)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "assemble")
		return nil, fmt.Errorf("definition %q: assemble tasks: %w", key, err)
	}
	for _, d := range dropped {
		metrics.TaskDroppedTotal.Inc()
		s.logger.Warn("dropping invalid task definition", "key", key, "task", d.Title, "reasons", d.Reasons)
	}
	span.SetAttributes(attribute.Int("gradepipe.tasks", len(tasks)))

	def.ReplaceTasks(tasks, referenceModifiedAt, templateModifiedAt, s.now())
	if ok, reasons := def.Validate(); !ok {
		span.SetStatus(codes.Error, "invalid definition")
		return nil, fmt.Errorf("definition %q: rebuilt definition invalid: %v", key, reasons)
	}

	if err := s.repo.Save(ctx, def); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist")
		return nil, err
	}
	metrics.DefinitionRefreshTotal.Inc()
	s.logger.Info("definition refreshed", "key", key, "tasks", len(tasks), "dropped", len(dropped))
	return def, nil
}

// backfillRegistry repairs the registry record of a fresh definition when a
// prior partial write left its modification timestamps absent. One write,
// registry tier only.
func (s *definitionService) backfillRegistry(ctx context.Context, key string, def *domain.AssignmentDefinition) error {
	rec, err := s.repo.GetPartial(ctx, key)
	if err != nil {
		return err
	}
	if rec != nil && rec.ReferenceLastModified != "" && rec.TemplateLastModified != "" {
		return nil
	}
	s.logger.Info("backfilling registry timestamps", "key", key)
	fresh := def.Partial()
	fresh.Touch(s.now())
	return s.repo.SavePartial(ctx, fresh)
}

func (s *definitionService) ListDefinitions(ctx context.Context) ([]*domain.DefinitionRecord, error) {
	return s.repo.ListPartial(ctx)
}

// GetDefinition reads one definition in the requested form. Exactly one of
// the returned instances is non-nil on a hit; both nil means not found.
func (s *definitionService) GetDefinition(ctx context.Context, key string, form domain.HydrationLevel) (*domain.AssignmentDefinition, *domain.DefinitionRecord, error) {
	if form == domain.HydrationPartial {
		rec, err := s.repo.GetPartial(ctx, key)
		return nil, rec, err
	}
	def, err := s.repo.GetFull(ctx, key)
	return def, nil, err
}
