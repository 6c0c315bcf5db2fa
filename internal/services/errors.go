package services

import (
	"errors"
	"fmt"

	"github.com/gradepipe/gradepipe/pkg/persistence"
)

// ErrAssignmentNotInClass is returned when a rehydration target has no
// partial entry in the class aggregate.
var ErrAssignmentNotInClass = errors.New("assignment not present in class aggregate")

// HydrationErrorKind tags the distinct rehydration failure causes so callers
// can branch without parsing messages.
type HydrationErrorKind string

const (
	KindCollectionMissing HydrationErrorKind = "collection_missing"
	KindRecordMissing     HydrationErrorKind = "record_missing"
	KindRecordMalformed   HydrationErrorKind = "record_malformed"
)

// HydrationError wraps a load failure from the run store with its cause kind
// and enough identity to diagnose.
type HydrationError struct {
	Kind         HydrationErrorKind
	CourseID     string
	AssignmentID string
	Err          error
}

func (e *HydrationError) Error() string {
	return fmt.Sprintf("rehydrate %s/%s: %s: %v", e.CourseID, e.AssignmentID, e.Kind, e.Err)
}

func (e *HydrationError) Unwrap() error { return e.Err }

// classifyHydration maps store-level errors onto hydration error kinds.
func classifyHydration(courseID, assignmentID string, err error) error {
	kind := KindRecordMalformed
	switch {
	case errors.Is(err, persistence.ErrCollectionNotFound):
		kind = KindCollectionMissing
	case errors.Is(err, persistence.ErrNotFound):
		kind = KindRecordMissing
	case errors.Is(err, persistence.ErrMalformedDocument):
		kind = KindRecordMalformed
	default:
		return err
	}
	return &HydrationError{Kind: kind, CourseID: courseID, AssignmentID: assignmentID, Err: err}
}
