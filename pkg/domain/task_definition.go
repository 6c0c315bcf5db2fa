package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var taskNamespace = uuid.MustParse("0d6a2f84-51c3-4bb1-a9d4-7e35f9c0d2e6")

// ArtifactSet holds the per-role artifact lists of a task definition.
// Order within each list is the artifact index.
type ArtifactSet struct {
	Reference []*Artifact `json:"reference"`
	Template  []*Artifact `json:"template"`
}

// TaskDefinition groups the reference and template artifacts extracted for
// one task. ID is captured once at construction from (title, pageId) and is
// never recomputed, so cosmetic edits to either field do not move the task's
// identity.
type TaskDefinition struct {
	ID           string         `json:"id"`
	TaskTitle    string         `json:"taskTitle"`
	PageID       string         `json:"pageId,omitempty"`
	TaskNotes    string         `json:"taskNotes,omitempty"`
	TaskMetadata map[string]any `json:"taskMetadata,omitempty"`
	Index        int            `json:"index"`
	Artifacts    ArtifactSet    `json:"artifacts"`
}

// NewTaskDefinition derives the stable task id from title and pageId as they
// are at this moment.
func NewTaskDefinition(title, pageID string, index int) *TaskDefinition {
	return &TaskDefinition{
		ID:        TaskID(title, pageID),
		TaskTitle: title,
		PageID:    pageID,
		Index:     index,
	}
}

// TaskID is the deterministic digest behind task identity.
func TaskID(title, pageID string) string {
	return uuid.NewSHA1(taskNamespace, []byte(title+"|"+pageID)).String()
}

// AddReferenceArtifact constructs and appends a reference artifact. Role and
// taskId are fixed by the owning definition, pageId defaults from it, and the
// artifact index is the current length of the reference list.
func (d *TaskDefinition) AddReferenceArtifact(typ ArtifactType, p ArtifactParams) (*Artifact, error) {
	a, err := d.addArtifact(typ, RoleReference, len(d.Artifacts.Reference), p)
	if err != nil {
		return nil, err
	}
	d.Artifacts.Reference = append(d.Artifacts.Reference, a)
	return a, nil
}

// AddTemplateArtifact is the template-role counterpart of AddReferenceArtifact.
func (d *TaskDefinition) AddTemplateArtifact(typ ArtifactType, p ArtifactParams) (*Artifact, error) {
	a, err := d.addArtifact(typ, RoleTemplate, len(d.Artifacts.Template), p)
	if err != nil {
		return nil, err
	}
	d.Artifacts.Template = append(d.Artifacts.Template, a)
	return a, nil
}

func (d *TaskDefinition) addArtifact(typ ArtifactType, role ArtifactRole, index int, p ArtifactParams) (*Artifact, error) {
	p.TaskID = d.ID
	p.TaskIndex = d.Index
	p.Role = role
	p.ArtifactIndex = index
	if p.PageID == "" {
		p.PageID = d.PageID
	}
	a, err := NewArtifact(typ, p)
	if err != nil {
		return nil, fmt.Errorf("task %q: %w", d.TaskTitle, err)
	}
	return a, nil
}

// Validate reports whether the definition carries at least one artifact for
// each required role. It never panics; the caller decides whether to drop.
func (d *TaskDefinition) Validate() (bool, []string) {
	var reasons []string
	if strings.TrimSpace(d.TaskTitle) == "" {
		reasons = append(reasons, "task title is empty")
	}
	if len(d.Artifacts.Reference) == 0 {
		reasons = append(reasons, "no reference artifacts")
	}
	if len(d.Artifacts.Template) == 0 {
		reasons = append(reasons, "no template artifacts")
	}
	return len(reasons) == 0, reasons
}

// Redacted returns a copy with every artifact's content and hash cleared.
func (d *TaskDefinition) Redacted() *TaskDefinition {
	cp := *d
	cp.Artifacts = ArtifactSet{
		Reference: redactAll(d.Artifacts.Reference),
		Template:  redactAll(d.Artifacts.Template),
	}
	return &cp
}

func redactAll(arts []*Artifact) []*Artifact {
	if arts == nil {
		return nil
	}
	out := make([]*Artifact, len(arts))
	for i, a := range arts {
		out[i] = a.Redacted()
	}
	return out
}

func (d *TaskDefinition) ToJSON() ([]byte, error) { return json.Marshal(d) }

func TaskDefinitionFromJSON(data []byte) (*TaskDefinition, error) {
	var d TaskDefinition
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("task definition from json: %w", err)
	}
	return &d, nil
}
