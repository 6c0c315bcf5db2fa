package services

import (
	"context"
	"time"

	"github.com/gradepipe/gradepipe/pkg/domain"
)

// DocumentParser extracts index-ordered, role-tagged task primitives from a
// reference/template document pair. How tagging works is the parser's
// business; this core only consumes its output.
type DocumentParser interface {
	ParseTasks(ctx context.Context, referenceDocumentID, templateDocumentID string) ([]domain.ParsedTask, error)
}

// TimestampProvider resolves a document's last-modified instant. It must
// fail on unresolvable identifiers rather than return a default time: a
// silently-stale timestamp would defeat staleness detection.
type TimestampProvider interface {
	LastModified(ctx context.Context, documentID string) (time.Time, error)
}
