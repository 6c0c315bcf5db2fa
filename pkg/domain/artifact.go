package domain

import (
	"encoding"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

type ArtifactRole string

const (
	RoleReference  ArtifactRole = "reference"
	RoleTemplate   ArtifactRole = "template"
	RoleSubmission ArtifactRole = "submission"
)

type ArtifactType string

const (
	TypeText        ArtifactType = "TEXT"
	TypeTable       ArtifactType = "TABLE"
	TypeSpreadsheet ArtifactType = "SPREADSHEET"
	TypeImage       ArtifactType = "IMAGE"
)

var (
	_ encoding.BinaryMarshaler = ArtifactRole("")
	_ encoding.TextMarshaler   = ArtifactRole("")
	_ encoding.BinaryMarshaler = ArtifactType("")
	_ encoding.TextMarshaler   = ArtifactType("")
)

func (r ArtifactRole) MarshalBinary() ([]byte, error) { return []byte(string(r)), nil }
func (r ArtifactRole) MarshalText() ([]byte, error)   { return []byte(string(r)), nil }

func (t ArtifactType) MarshalBinary() ([]byte, error) { return []byte(string(t)), nil }
func (t ArtifactType) MarshalText() ([]byte, error)   { return []byte(string(t)), nil }

// ErrImageContent is returned when image content is set through the generic
// mutator instead of MaterializeImage.
var ErrImageContent = errors.New("image content must be set via MaterializeImage")

// artifactNamespace seeds deterministic v5 UIDs so the same identity tuple
// always derives the same uid across re-parses.
var artifactNamespace = uuid.MustParse("8f3c1d52-0b6e-4a97-9f0e-4d2c8c5a1b27")

// Artifact is one typed, normalized, content-hashed unit of content tied to a
// task and a role. Content is nil until set; ContentHash is present exactly
// when Content is non-nil.
type Artifact struct {
	UID         string         `json:"uid"`
	TaskID      string         `json:"taskId"`
	Role        ArtifactRole   `json:"role"`
	PageID      string         `json:"pageId,omitempty"`
	DocumentID  string         `json:"documentId,omitempty"`
	Type        ArtifactType   `json:"type"`
	Content     any            `json:"content"`
	ContentHash string         `json:"contentHash,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ArtifactParams carries construction inputs. TaskID and Role are required;
// everything else is optional. TaskIndex and ArtifactIndex only participate in
// uid derivation when UID is not caller-supplied.
type ArtifactParams struct {
	UID           string
	TaskID        string
	TaskIndex     int
	Role          ArtifactRole
	PageID        string
	DocumentID    string
	ArtifactIndex int
	Content       any
	Metadata      map[string]any
}

// NewArtifact constructs a type-appropriate artifact. Normalization and
// hashing happen here whenever Content is non-nil, so callers never observe
// an un-hashed non-nil-content artifact.
func NewArtifact(typ ArtifactType, p ArtifactParams) (*Artifact, error) {
	if strings.TrimSpace(p.TaskID) == "" {
		return nil, errors.New("artifact: taskId is required")
	}
	if p.Role == "" {
		return nil, errors.New("artifact: role is required")
	}
	switch typ {
	case TypeText, TypeTable, TypeSpreadsheet, TypeImage:
	default:
		return nil, fmt.Errorf("artifact: unsupported type %q", string(typ))
	}

	a := &Artifact{
		UID:        p.UID,
		TaskID:     p.TaskID,
		Role:       p.Role,
		PageID:     p.PageID,
		DocumentID: p.DocumentID,
		Type:       typ,
		Metadata:   p.Metadata,
	}
	if a.UID == "" {
		a.UID = deriveArtifactUID(p)
	}
	if p.Content != nil {
		if typ == TypeImage {
			return nil, ErrImageContent
		}
		if err := a.SetContent(p.Content); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func deriveArtifactUID(p ArtifactParams) string {
	seed := strings.Join([]string{
		p.TaskID,
		strconv.Itoa(p.TaskIndex),
		string(p.Role),
		p.PageID,
		strconv.Itoa(p.ArtifactIndex),
	}, "|")
	return uuid.NewSHA1(artifactNamespace, []byte(seed)).String()
}

// SetContent normalizes v for the artifact's type and rehashes in one step,
// so a content/hash mismatch window cannot exist. Normalizing to "no content"
// clears both fields. Image artifacts reject this path.
func (a *Artifact) SetContent(v any) error {
	if a.Type == TypeImage {
		return ErrImageContent
	}
	normalized := NormalizeContent(a.Type, v)
	if normalized == nil {
		a.Content = nil
		a.ContentHash = ""
		return nil
	}
	hash, err := HashContent(normalized)
	if err != nil {
		return fmt.Errorf("artifact %s: hash content: %w", a.UID, err)
	}
	a.Content = normalized
	a.ContentHash = hash
	return nil
}

// MaterializeImage is the only way image content is populated: the raw bytes
// become an embeddable data URI. Until this is called an image artifact
// carries only metadata (for example a fetchable locator).
func (a *Artifact) MaterializeImage(data []byte, mimeType string) error {
	if a.Type != TypeImage {
		return fmt.Errorf("artifact %s: materialize on non-image type %s", a.UID, a.Type)
	}
	if len(data) == 0 {
		a.Content = nil
		a.ContentHash = ""
		return nil
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	encoded := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))
	hash, err := HashContent(encoded)
	if err != nil {
		return fmt.Errorf("artifact %s: hash image content: %w", a.UID, err)
	}
	a.Content = encoded
	a.ContentHash = hash
	return nil
}

// Redacted returns a copy with content and hash cleared; identity and
// ordering fields are preserved. Used to build partial projections.
func (a *Artifact) Redacted() *Artifact {
	cp := *a
	cp.Content = nil
	cp.ContentHash = ""
	return &cp
}

func (a *Artifact) ToJSON() ([]byte, error) { return json.Marshal(a) }

func ArtifactFromJSON(data []byte) (*Artifact, error) {
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("artifact from json: %w", err)
	}
	return &a, nil
}
