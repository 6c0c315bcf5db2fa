package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var submissionItemNamespace = uuid.MustParse("c4b9e7a1-3d25-4f60-8a12-95d0e6b47f83")

// Assessment is one criterion's grading result for a submission item.
type Assessment struct {
	Score     float64 `json:"score"`
	Reasoning string  `json:"reasoning,omitempty"`
}

// SubmissionItem mirrors one task definition for one student: the
// submission-role artifact plus grading output.
type SubmissionItem struct {
	ID          string                `json:"id"`
	TaskID      string                `json:"taskId"`
	Artifact    *Artifact             `json:"artifact"`
	Assessments map[string]Assessment `json:"assessments,omitempty"`
	Feedback    map[string]any        `json:"feedback,omitempty"`
}

// SubmissionItemID derives item identity from the task and the artifact's
// uid (falling back to its content hash when the uid is empty).
func SubmissionItemID(taskID string, artifact *Artifact) string {
	discriminator := ""
	if artifact != nil {
		discriminator = artifact.UID
		if discriminator == "" {
			discriminator = artifact.ContentHash
		}
	}
	return uuid.NewSHA1(submissionItemNamespace, []byte(taskID+"|"+discriminator)).String()
}

// Submission is the per-student mirror of an assignment definition.
// UpdatedAt is monotonically increasing: same-millisecond touches are
// disambiguated by a sequence encoded in the sub-millisecond digits.
type Submission struct {
	StudentID    string                     `json:"studentId"`
	AssignmentID string                     `json:"assignmentId"`
	DocumentID   string                     `json:"documentId,omitempty"`
	Items        map[string]*SubmissionItem `json:"items"`
	UpdatedAt    string                     `json:"updatedAt"`

	lastStampMillis int64
	seq             int64
}

func NewSubmission(studentID, assignmentID, documentID string, now time.Time) (*Submission, error) {
	if studentID == "" {
		return nil, fmt.Errorf("submission: studentId is required")
	}
	if assignmentID == "" {
		return nil, fmt.Errorf("submission: assignmentId is required")
	}
	s := &Submission{
		StudentID:    studentID,
		AssignmentID: assignmentID,
		DocumentID:   documentID,
		Items:        make(map[string]*SubmissionItem),
	}
	s.Touch(now)
	return s, nil
}

// Touch advances UpdatedAt, never backwards even when called twice inside
// the same millisecond.
func (s *Submission) Touch(now time.Time) {
	stamp := now.UnixMilli()
	if stamp <= s.lastStampMillis {
		s.seq++
		stamp = s.lastStampMillis
	} else {
		s.lastStampMillis = stamp
		s.seq = 0
	}
	instant := time.UnixMilli(stamp).Add(time.Duration(s.seq) * time.Microsecond)
	s.UpdatedAt = instant.UTC().Format(time.RFC3339Nano)
}

// UpsertItem installs or replaces the submission artifact for one task.
// Re-extraction goes through the artifact's atomic content mutator, so the
// stored hash always matches the stored content.
func (s *Submission) UpsertItem(task *TaskDefinition, typ ArtifactType, content any, metadata map[string]any, now time.Time) (*SubmissionItem, error) {
	if task == nil {
		return nil, fmt.Errorf("submission %s: task is required", s.StudentID)
	}
	if s.Items == nil {
		s.Items = make(map[string]*SubmissionItem)
	}
	item, ok := s.Items[task.ID]
	if ok && item.Artifact != nil && item.Artifact.Type == typ {
		if err := item.Artifact.SetContent(content); err != nil {
			return nil, err
		}
		s.Touch(now)
		return item, nil
	}

	artifact, err := NewArtifact(typ, ArtifactParams{
		TaskID:     task.ID,
		TaskIndex:  task.Index,
		Role:       RoleSubmission,
		PageID:     task.PageID,
		DocumentID: s.DocumentID,
		Content:    content,
		Metadata:   metadata,
	})
	if err != nil {
		return nil, err
	}
	item = &SubmissionItem{
		ID:       SubmissionItemID(task.ID, artifact),
		TaskID:   task.ID,
		Artifact: artifact,
	}
	s.Items[task.ID] = item
	s.Touch(now)
	return item, nil
}

// Assess records one criterion result on an item.
func (s *Submission) Assess(taskID, criterion string, result Assessment, now time.Time) error {
	item, ok := s.Items[taskID]
	if !ok {
		return fmt.Errorf("submission %s: no item for task %s", s.StudentID, taskID)
	}
	if item.Assessments == nil {
		item.Assessments = make(map[string]Assessment)
	}
	item.Assessments[criterion] = result
	s.Touch(now)
	return nil
}

// Redacted returns a copy with every item's artifact content cleared.
func (s *Submission) Redacted() *Submission {
	cp := *s
	if s.Items != nil {
		cp.Items = make(map[string]*SubmissionItem, len(s.Items))
		for id, item := range s.Items {
			itemCopy := *item
			if item.Artifact != nil {
				itemCopy.Artifact = item.Artifact.Redacted()
			}
			cp.Items[id] = &itemCopy
		}
	}
	return &cp
}

func (s *Submission) ToJSON() ([]byte, error) { return json.Marshal(s) }

func SubmissionFromJSON(data []byte) (*Submission, error) {
	var s Submission
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("submission from json: %w", err)
	}
	// Re-seed the monotonic guard from the persisted stamp so later touches
	// cannot move backwards.
	if t, err := time.Parse(time.RFC3339Nano, s.UpdatedAt); err == nil {
		s.lastStampMillis = t.UnixMilli()
		s.seq = t.UnixMicro() - t.UnixMilli()*1000
	}
	return &s, nil
}
