package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// HydrationLevel marks whether an in-memory instance currently holds full or
// partial content.
type HydrationLevel string

const (
	HydrationFull    HydrationLevel = "full"
	HydrationPartial HydrationLevel = "partial"
)

// yearGroupSentinel stands in for a nil year group inside the definition key.
const yearGroupSentinel = "none"

var keyPartEscaper = strings.NewReplacer(`\`, `\\`, "|", `\|`)

// ComputeDefinitionKey derives the natural key used for registry lookup and
// heavy-store routing. Separators inside a part are escaped so that distinct
// title/topic splits can never collide on the same key.
func ComputeDefinitionKey(title, topic string, yearGroup *int) string {
	year := yearGroupSentinel
	if yearGroup != nil {
		year = strconv.Itoa(*yearGroup)
	}
	return strings.Join([]string{
		keyPartEscaper.Replace(title),
		keyPartEscaper.Replace(topic),
		year,
	}, "|")
}

// DefinitionRecord is the partial form of an assignment definition: the
// lightweight registry tier only ever sees this type, so listing definitions
// can never load task content or source-document identifiers.
type DefinitionRecord struct {
	DefinitionKey         string    `json:"definitionKey"`
	PrimaryTitle          string    `json:"primaryTitle"`
	PrimaryTopic          string    `json:"primaryTopic"`
	YearGroup             *int      `json:"yearGroup"`
	DocumentType          string    `json:"documentType"`
	ReferenceLastModified string    `json:"referenceLastModified,omitempty"`
	TemplateLastModified  string    `json:"templateLastModified,omitempty"`
	CreatedAt             time.Time `json:"createdAt"`
	UpdatedAt             time.Time `json:"updatedAt"`
}

// Validate checks the partial-form requirements only.
func (r *DefinitionRecord) Validate() (bool, []string) {
	var reasons []string
	if strings.TrimSpace(r.PrimaryTitle) == "" {
		reasons = append(reasons, "primary title is empty")
	}
	if strings.TrimSpace(r.PrimaryTopic) == "" {
		reasons = append(reasons, "primary topic is empty")
	}
	if strings.TrimSpace(r.DocumentType) == "" {
		reasons = append(reasons, "document type is empty")
	}
	return len(reasons) == 0, reasons
}

// Touch bumps UpdatedAt; call before any mutation that will be persisted.
func (r *DefinitionRecord) Touch(now time.Time) {
	r.UpdatedAt = now.UTC()
}

func (r *DefinitionRecord) ToJSON() ([]byte, error) { return json.Marshal(r) }

func DefinitionRecordFromJSON(data []byte) (*DefinitionRecord, error) {
	var r DefinitionRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("definition record from json: %w", err)
	}
	return &r, nil
}

// AssignmentDefinition is the full form: record fields plus source-document
// identifiers and the task map with real content. Only the per-key heavy
// store sees this type.
type AssignmentDefinition struct {
	DefinitionRecord
	ReferenceDocumentID string                     `json:"referenceDocumentId"`
	TemplateDocumentID  string                     `json:"templateDocumentId"`
	Tasks               map[string]*TaskDefinition `json:"tasks"`
}

// NewAssignmentDefinition builds an empty full-form definition; Tasks are
// populated later from parser output.
func NewAssignmentDefinition(title, topic string, yearGroup *int, documentType, refDocID, tmplDocID string, now time.Time) *AssignmentDefinition {
	return &AssignmentDefinition{
		DefinitionRecord: DefinitionRecord{
			DefinitionKey: ComputeDefinitionKey(title, topic, yearGroup),
			PrimaryTitle:  title,
			PrimaryTopic:  topic,
			YearGroup:     yearGroup,
			DocumentType:  documentType,
			CreatedAt:     now.UTC(),
			UpdatedAt:     now.UTC(),
		},
		ReferenceDocumentID: refDocID,
		TemplateDocumentID:  tmplDocID,
	}
}

// Validate checks the full-form requirements: partial rules plus both
// document identifiers and a non-nil task map.
func (d *AssignmentDefinition) Validate() (bool, []string) {
	_, reasons := d.DefinitionRecord.Validate()
	if strings.TrimSpace(d.ReferenceDocumentID) == "" {
		reasons = append(reasons, "reference document id is empty")
	}
	if strings.TrimSpace(d.TemplateDocumentID) == "" {
		reasons = append(reasons, "template document id is empty")
	}
	if d.Tasks == nil {
		reasons = append(reasons, "tasks map is nil")
	}
	return len(reasons) == 0, reasons
}

// Partial projects the registry record: a copy of the metadata fields with
// no tasks and no document identifiers, by construction of the type.
func (d *AssignmentDefinition) Partial() *DefinitionRecord {
	cp := d.DefinitionRecord
	return &cp
}

// NeedsRefresh implements the staleness rule set against freshly-observed
// source-document modification times:
//
//  1. empty/absent task map is stale
//  2. an absent stored timestamp is stale
//  3. otherwise stale iff an observed instant is strictly newer than its
//     stored counterpart; equal timestamps are fresh
//
// A stored timestamp that fails to parse is treated as "not newer" on that
// axis; the returned notes carry everything worth logging. This never errors.
func (d *AssignmentDefinition) NeedsRefresh(referenceModifiedAt, templateModifiedAt time.Time) (bool, []string) {
	if len(d.Tasks) == 0 {
		return true, []string{"task map is empty"}
	}
	if d.ReferenceLastModified == "" || d.TemplateLastModified == "" {
		return true, []string{"stored modification timestamps are absent"}
	}

	var notes []string
	newer := func(observed time.Time, stored, axis string) bool {
		parsed, err := time.Parse(time.RFC3339Nano, stored)
		if err != nil {
			notes = append(notes, fmt.Sprintf("stored %s timestamp %q is unparsable, treating as not newer", axis, stored))
			return false
		}
		return observed.After(parsed)
	}
	if newer(referenceModifiedAt, d.ReferenceLastModified, "reference") {
		notes = append(notes, "reference document modified since last parse")
		return true, notes
	}
	if newer(templateModifiedAt, d.TemplateLastModified, "template") {
		notes = append(notes, "template document modified since last parse")
		return true, notes
	}
	return false, notes
}

// ReplaceTasks swaps in a freshly-parsed task map. Stale definitions are
// rebuilt whole, never incrementally patched.
func (d *AssignmentDefinition) ReplaceTasks(tasks map[string]*TaskDefinition, referenceModifiedAt, templateModifiedAt, now time.Time) {
	d.Tasks = tasks
	// RFC3339Nano keeps sub-second precision; truncating here would make an
	// unchanged source instant read as newer on the next comparison.
	d.ReferenceLastModified = referenceModifiedAt.UTC().Format(time.RFC3339Nano)
	d.TemplateLastModified = templateModifiedAt.UTC().Format(time.RFC3339Nano)
	d.Touch(now)
}

func (d *AssignmentDefinition) ToJSON() ([]byte, error) { return json.Marshal(d) }

func AssignmentDefinitionFromJSON(data []byte) (*AssignmentDefinition, error) {
	var d AssignmentDefinition
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("assignment definition from json: %w", err)
	}
	return &d, nil
}
