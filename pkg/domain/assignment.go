package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Assignment is one graded run of an assignment definition across a roster.
// Hydration marks whether the per-student submissions currently carry real
// artifact content (full) or redacted placeholders (partial).
type Assignment struct {
	CourseID      string                 `json:"courseId"`
	AssignmentID  string                 `json:"assignmentId"`
	Title         string                 `json:"title"`
	DefinitionKey string                 `json:"definitionKey"`
	Hydration     HydrationLevel         `json:"hydration"`
	Submissions   map[string]*Submission `json:"submissions"`
	CreatedAt     time.Time              `json:"createdAt"`
	UpdatedAt     time.Time              `json:"updatedAt"`
}

func NewAssignment(courseID, assignmentID, title, definitionKey string, now time.Time) (*Assignment, error) {
	if strings.TrimSpace(courseID) == "" {
		return nil, fmt.Errorf("assignment: courseId is required")
	}
	if strings.TrimSpace(assignmentID) == "" {
		return nil, fmt.Errorf("assignment: assignmentId is required")
	}
	return &Assignment{
		CourseID:      courseID,
		AssignmentID:  assignmentID,
		Title:         title,
		DefinitionKey: definitionKey,
		Hydration:     HydrationFull,
		Submissions:   make(map[string]*Submission),
		CreatedAt:     now.UTC(),
		UpdatedAt:     now.UTC(),
	}, nil
}

// Partial deep-projects the assignment for roster-level browsing: submission
// structure survives, artifact content and hashes do not. The receiver is
// never mutated.
func (a *Assignment) Partial() *Assignment {
	cp := *a
	cp.Hydration = HydrationPartial
	if a.Submissions != nil {
		cp.Submissions = make(map[string]*Submission, len(a.Submissions))
		for id, sub := range a.Submissions {
			cp.Submissions[id] = sub.Redacted()
		}
	}
	return &cp
}

func (a *Assignment) Touch(now time.Time) { a.UpdatedAt = now.UTC() }

func (a *Assignment) ToJSON() ([]byte, error) { return json.Marshal(a) }

func AssignmentFromJSON(data []byte) (*Assignment, error) {
	var a Assignment
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("assignment from json: %w", err)
	}
	return &a, nil
}

// ClassRecord is the roster-level aggregate: course identity plus the
// partial-form assignment history, so browsing a class never loads every
// student's full artifact content.
type ClassRecord struct {
	CourseID    string        `json:"courseId"`
	CourseName  string        `json:"courseName,omitempty"`
	Assignments []*Assignment `json:"assignments"`
}

// FindAssignment returns the index of the entry with the given id, or -1.
func (c *ClassRecord) FindAssignment(assignmentID string) int {
	for i, a := range c.Assignments {
		if a.AssignmentID == assignmentID {
			return i
		}
	}
	return -1
}
