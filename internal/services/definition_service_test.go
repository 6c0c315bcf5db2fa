package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gradepipe/gradepipe/pkg/domain"
)

// fakeDefinitionRepo keeps both tiers in maps and counts writes so tests can
// assert which tiers a code path touched.
type fakeDefinitionRepo struct {
	full    map[string]*domain.AssignmentDefinition
	partial map[string]*domain.DefinitionRecord

	saveCalls        int
	savePartialCalls int
	saveErr          error
}

func newFakeDefinitionRepo() *fakeDefinitionRepo {
	return &fakeDefinitionRepo{
		full:    make(map[string]*domain.AssignmentDefinition),
		partial: make(map[string]*domain.DefinitionRecord),
	}
}

func (f *fakeDefinitionRepo) GetFull(ctx context.Context, key string) (*domain.AssignmentDefinition, error) {
	return f.full[key], nil
}

func (f *fakeDefinitionRepo) GetPartial(ctx context.Context, key string) (*domain.DefinitionRecord, error) {
	return f.partial[key], nil
}

func (f *fakeDefinitionRepo) Save(ctx context.Context, def *domain.AssignmentDefinition) error {
	f.saveCalls++
	if f.saveErr != nil {
		return f.saveErr
	}
	f.full[def.DefinitionKey] = def
	f.partial[def.DefinitionKey] = def.Partial()
	return nil
}

func (f *fakeDefinitionRepo) SavePartial(ctx context.Context, rec *domain.DefinitionRecord) error {
	f.savePartialCalls++
	f.partial[rec.DefinitionKey] = rec
	return nil
}

func (f *fakeDefinitionRepo) ListPartial(ctx context.Context) ([]*domain.DefinitionRecord, error) {
	out := make([]*domain.DefinitionRecord, 0, len(f.partial))
	for _, rec := range f.partial {
		out = append(out, rec)
	}
	return out, nil
}

type fakeParser struct {
	tasks []domain.ParsedTask
	err   error
	calls int
}

func (f *fakeParser) ParseTasks(ctx context.Context, refDocID, tmplDocID string) ([]domain.ParsedTask, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.tasks, nil
}

type fakeStamps struct {
	byDoc map[string]time.Time
	err   error
}

func (f *fakeStamps) LastModified(ctx context.Context, documentID string) (time.Time, error) {
	if f.err != nil {
		return time.Time{}, f.err
	}
	return f.byDoc[documentID], nil
}

var baseModified = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

func parsedTasks() []domain.ParsedTask {
	return []domain.ParsedTask{
		{
			Title:  "Q1",
			PageID: "p1",
			Index:  0,
			Reference: []domain.ParsedArtifact{
				{Type: domain.TypeText, Content: "model answer"},
			},
			Template: []domain.ParsedArtifact{
				{Type: domain.TypeText, Content: "prompt"},
			},
		},
	}
}

func ensureRequest() EnsureDefinitionRequest {
	return EnsureDefinitionRequest{
		PrimaryTitle:        "Essay",
		PrimaryTopic:        "History",
		DocumentType:        "doc",
		ReferenceDocumentID: "ref-1",
		TemplateDocumentID:  "tmpl-1",
	}
}

func fixedClock() func() time.Time {
	return func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }
}

func TestEnsureParsesWhenNothingStored(t *testing.T) {
	repo := newFakeDefinitionRepo()
	parser := &fakeParser{tasks: parsedTasks()}
	stamps := &fakeStamps{byDoc: map[string]time.Time{"ref-1": baseModified, "tmpl-1": baseModified}}
	svc := NewDefinitionService(repo, parser, stamps, nil, fixedClock())

	def, err := svc.EnsureDefinition(context.Background(), ensureRequest())
	if err != nil {
		t.Fatalf("EnsureDefinition: %v", err)
	}
	if parser.calls != 1 {
		t.Errorf("parser calls = %d, want 1", parser.calls)
	}
	if repo.saveCalls != 1 {
		t.Errorf("save calls = %d, want 1", repo.saveCalls)
	}
	if len(def.Tasks) != 1 {
		t.Errorf("tasks = %d, want 1", len(def.Tasks))
	}
	if def.ReferenceLastModified != baseModified.Format(time.RFC3339) {
		t.Errorf("stored reference timestamp = %q", def.ReferenceLastModified)
	}
}

func TestEnsureSkipsParseWhenFresh(t *testing.T) {
	repo := newFakeDefinitionRepo()
	parser := &fakeParser{tasks: parsedTasks()}
	stamps := &fakeStamps{byDoc: map[string]time.Time{"ref-1": baseModified, "tmpl-1": baseModified}}
	svc := NewDefinitionService(repo, parser, stamps, nil, fixedClock())
	ctx := context.Background()

	if _, err := svc.EnsureDefinition(ctx, ensureRequest()); err != nil {
		t.Fatalf("EnsureDefinition (seed): %v", err)
	}
	parser.calls = 0
	repo.saveCalls = 0
	repo.savePartialCalls = 0

	def, err := svc.EnsureDefinition(ctx, ensureRequest())
	if err != nil {
		t.Fatalf("EnsureDefinition (fresh): %v", err)
	}
	if parser.calls != 0 {
		t.Errorf("fresh hit parsed anyway: %d calls", parser.calls)
	}
	if repo.saveCalls != 0 {
		t.Errorf("fresh hit wrote the heavy tier: %d saves", repo.saveCalls)
	}
	if repo.savePartialCalls != 0 {
		t.Errorf("fresh hit rewrote a complete registry record: %d writes", repo.savePartialCalls)
	}
	if len(def.Tasks) != 1 {
		t.Errorf("fresh hit lost tasks: %d", len(def.Tasks))
	}
}

func TestEnsureRefreshesWhenSourceNewer(t *testing.T) {
	repo := newFakeDefinitionRepo()
	parser := &fakeParser{tasks: parsedTasks()}
	stamps := &fakeStamps{byDoc: map[string]time.Time{"ref-1": baseModified, "tmpl-1": baseModified}}
	svc := NewDefinitionService(repo, parser, stamps, nil, fixedClock())
	ctx := context.Background()

	if _, err := svc.EnsureDefinition(ctx, ensureRequest()); err != nil {
		t.Fatalf("EnsureDefinition (seed): %v", err)
	}
	parser.calls = 0
	repo.saveCalls = 0

	newer := baseModified.Add(time.Hour)
	stamps.byDoc["ref-1"] = newer

	def, err := svc.EnsureDefinition(ctx, ensureRequest())
	if err != nil {
		t.Fatalf("EnsureDefinition (stale): %v", err)
	}
	if parser.calls != 1 {
		t.Errorf("parser calls = %d, want 1", parser.calls)
	}
	if repo.saveCalls != 1 {
		t.Errorf("save calls = %d, want 1", repo.saveCalls)
	}
	if def.ReferenceLastModified != newer.Format(time.RFC3339) {
		t.Errorf("reference timestamp not advanced: %q", def.ReferenceLastModified)
	}
}

func TestEnsureRefreshPicksUpReprovisionedDocuments(t *testing.T) {
	repo := newFakeDefinitionRepo()
	parser := &fakeParser{tasks: parsedTasks()}
	stamps := &fakeStamps{byDoc: map[string]time.Time{
		"ref-1": baseModified, "tmpl-1": baseModified,
		"ref-2": baseModified.Add(time.Hour), "tmpl-2": baseModified.Add(time.Hour),
	}}
	svc := NewDefinitionService(repo, parser, stamps, nil, fixedClock())
	ctx := context.Background()

	if _, err := svc.EnsureDefinition(ctx, ensureRequest()); err != nil {
		t.Fatalf("EnsureDefinition (seed): %v", err)
	}

	req := ensureRequest()
	req.ReferenceDocumentID = "ref-2"
	req.TemplateDocumentID = "tmpl-2"
	def, err := svc.EnsureDefinition(ctx, req)
	if err != nil {
		t.Fatalf("EnsureDefinition (reprovisioned): %v", err)
	}
	if def.ReferenceDocumentID != "ref-2" || def.TemplateDocumentID != "tmpl-2" {
		t.Errorf("document ids not updated: %q / %q", def.ReferenceDocumentID, def.TemplateDocumentID)
	}
}

func TestEnsureFreshHitPersistsReprovisionedDocumentIDs(t *testing.T) {
	repo := newFakeDefinitionRepo()
	parser := &fakeParser{tasks: parsedTasks()}
	stamps := &fakeStamps{byDoc: map[string]time.Time{
		"ref-1": baseModified, "tmpl-1": baseModified,
		// The replacement documents carry the same content timestamps, so
		// the definition itself stays fresh.
		"ref-2": baseModified, "tmpl-2": baseModified,
	}}
	svc := NewDefinitionService(repo, parser, stamps, nil, fixedClock())
	ctx := context.Background()

	if _, err := svc.EnsureDefinition(ctx, ensureRequest()); err != nil {
		t.Fatalf("EnsureDefinition (seed): %v", err)
	}
	parser.calls = 0
	repo.saveCalls = 0
	repo.savePartialCalls = 0

	req := ensureRequest()
	req.ReferenceDocumentID = "ref-2"
	req.TemplateDocumentID = "tmpl-2"
	def, err := svc.EnsureDefinition(ctx, req)
	if err != nil {
		t.Fatalf("EnsureDefinition (fresh, new ids): %v", err)
	}
	if parser.calls != 0 {
		t.Errorf("fresh hit parsed anyway: %d calls", parser.calls)
	}
	if def.ReferenceDocumentID != "ref-2" || def.TemplateDocumentID != "tmpl-2" {
		t.Errorf("document ids not updated: %q / %q", def.ReferenceDocumentID, def.TemplateDocumentID)
	}
	if repo.saveCalls != 1 {
		t.Errorf("save calls = %d, want 1 (new ids must be persisted)", repo.saveCalls)
	}
	stored := repo.full[def.DefinitionKey]
	if stored.ReferenceDocumentID != "ref-2" || stored.TemplateDocumentID != "tmpl-2" {
		t.Errorf("stored ids not updated: %q / %q", stored.ReferenceDocumentID, stored.TemplateDocumentID)
	}
}

func TestEnsureFailsLoudlyOnTimestampError(t *testing.T) {
	repo := newFakeDefinitionRepo()
	parser := &fakeParser{tasks: parsedTasks()}
	wantErr := errors.New("document service unavailable")
	stamps := &fakeStamps{err: wantErr}
	svc := NewDefinitionService(repo, parser, stamps, nil, fixedClock())

	_, err := svc.EnsureDefinition(context.Background(), ensureRequest())
	if !errors.Is(err, wantErr) {
		t.Fatalf("EnsureDefinition = %v, want wrapped %v", err, wantErr)
	}
	if parser.calls != 0 {
		t.Errorf("parsed despite timestamp failure: %d calls", parser.calls)
	}
	if repo.saveCalls != 0 {
		t.Errorf("wrote despite timestamp failure: %d saves", repo.saveCalls)
	}
}

func TestEnsurePropagatesParseError(t *testing.T) {
	repo := newFakeDefinitionRepo()
	wantErr := errors.New("parser crashed")
	parser := &fakeParser{err: wantErr}
	stamps := &fakeStamps{byDoc: map[string]time.Time{"ref-1": baseModified, "tmpl-1": baseModified}}
	svc := NewDefinitionService(repo, parser, stamps, nil, fixedClock())

	_, err := svc.EnsureDefinition(context.Background(), ensureRequest())
	if !errors.Is(err, wantErr) {
		t.Fatalf("EnsureDefinition = %v, want wrapped %v", err, wantErr)
	}
	if repo.saveCalls != 0 {
		t.Errorf("wrote despite parse failure: %d saves", repo.saveCalls)
	}
}

func TestEnsurePropagatesSaveError(t *testing.T) {
	repo := newFakeDefinitionRepo()
	repo.saveErr = errors.New("registry write failed after heavy write succeeded")
	parser := &fakeParser{tasks: parsedTasks()}
	stamps := &fakeStamps{byDoc: map[string]time.Time{"ref-1": baseModified, "tmpl-1": baseModified}}
	svc := NewDefinitionService(repo, parser, stamps, nil, fixedClock())

	_, err := svc.EnsureDefinition(context.Background(), ensureRequest())
	if !errors.Is(err, repo.saveErr) {
		t.Fatalf("EnsureDefinition = %v, want %v", err, repo.saveErr)
	}
}

func TestEnsureDropsInvalidParsedTasks(t *testing.T) {
	repo := newFakeDefinitionRepo()
	tasks := parsedTasks()
	tasks = append(tasks, domain.ParsedTask{
		Title:  "Q2",
		PageID: "p2",
		Index:  1,
		Reference: []domain.ParsedArtifact{
			{Type: domain.TypeText, Content: "only reference, no template"},
		},
	})
	parser := &fakeParser{tasks: tasks}
	stamps := &fakeStamps{byDoc: map[string]time.Time{"ref-1": baseModified, "tmpl-1": baseModified}}
	svc := NewDefinitionService(repo, parser, stamps, nil, fixedClock())

	def, err := svc.EnsureDefinition(context.Background(), ensureRequest())
	if err != nil {
		t.Fatalf("EnsureDefinition: %v", err)
	}
	if len(def.Tasks) != 1 {
		t.Errorf("tasks = %d, want 1 (invalid task should be dropped)", len(def.Tasks))
	}
}

func TestEnsureBackfillsIncompleteRegistryRecord(t *testing.T) {
	repo := newFakeDefinitionRepo()
	parser := &fakeParser{tasks: parsedTasks()}
	stamps := &fakeStamps{byDoc: map[string]time.Time{"ref-1": baseModified, "tmpl-1": baseModified}}
	svc := NewDefinitionService(repo, parser, stamps, nil, fixedClock())
	ctx := context.Background()

	def, err := svc.EnsureDefinition(ctx, ensureRequest())
	if err != nil {
		t.Fatalf("EnsureDefinition (seed): %v", err)
	}

	// Simulate an older registry record written before the modification
	// timestamps existed.
	rec := def.Partial()
	rec.ReferenceLastModified = ""
	rec.TemplateLastModified = ""
	repo.partial[rec.DefinitionKey] = rec
	repo.savePartialCalls = 0
	parser.calls = 0

	if _, err := svc.EnsureDefinition(ctx, ensureRequest()); err != nil {
		t.Fatalf("EnsureDefinition (backfill): %v", err)
	}
	if parser.calls != 0 {
		t.Errorf("backfill should not parse: %d calls", parser.calls)
	}
	if repo.savePartialCalls != 1 {
		t.Errorf("registry backfill writes = %d, want 1", repo.savePartialCalls)
	}
	healed := repo.partial[def.DefinitionKey]
	if healed.ReferenceLastModified == "" || healed.TemplateLastModified == "" {
		t.Error("registry timestamps not backfilled")
	}
}

func TestGetDefinitionByForm(t *testing.T) {
	repo := newFakeDefinitionRepo()
	parser := &fakeParser{tasks: parsedTasks()}
	stamps := &fakeStamps{byDoc: map[string]time.Time{"ref-1": baseModified, "tmpl-1": baseModified}}
	svc := NewDefinitionService(repo, parser, stamps, nil, fixedClock())
	ctx := context.Background()

	seeded, err := svc.EnsureDefinition(ctx, ensureRequest())
	if err != nil {
		t.Fatalf("EnsureDefinition: %v", err)
	}

	full, rec, err := svc.GetDefinition(ctx, seeded.DefinitionKey, domain.HydrationFull)
	if err != nil {
		t.Fatalf("GetDefinition full: %v", err)
	}
	if full == nil || rec != nil {
		t.Errorf("full form = (%v, %v), want (def, nil)", full, rec)
	}

	full, rec, err = svc.GetDefinition(ctx, seeded.DefinitionKey, domain.HydrationPartial)
	if err != nil {
		t.Fatalf("GetDefinition partial: %v", err)
	}
	if full != nil || rec == nil {
		t.Errorf("partial form = (%v, %v), want (nil, record)", full, rec)
	}
}
