package domain

// ParsedArtifact is one role-tagged primitive produced by the external
// document parser. Content carries the raw extracted value; normalization
// happens when the artifact is constructed.
type ParsedArtifact struct {
	Type       ArtifactType
	PageID     string
	DocumentID string
	Content    any
	Metadata   map[string]any
}

// ParsedTask is one index-ordered extraction result from the reference and
// template source documents.
type ParsedTask struct {
	Title     string
	PageID    string
	Index     int
	Notes     string
	Metadata  map[string]any
	Reference []ParsedArtifact
	Template  []ParsedArtifact
}

// DroppedTask records a parsed task that failed role validation and was
// excluded from the assembled map.
type DroppedTask struct {
	Title   string
	Reasons []string
}

// AssembleTasks builds task definitions from parser output, keyed by task id.
// Tasks missing a required role are dropped, not persisted; the drops are
// returned so the caller can log them.
func AssembleTasks(parsed []ParsedTask) (map[string]*TaskDefinition, []DroppedTask, error) {
	tasks := make(map[string]*TaskDefinition, len(parsed))
	var dropped []DroppedTask
	for _, pt := range parsed {
		def := NewTaskDefinition(pt.Title, pt.PageID, pt.Index)
		def.TaskNotes = pt.Notes
		def.TaskMetadata = pt.Metadata
		for _, pa := range pt.Reference {
			if _, err := def.AddReferenceArtifact(pa.Type, artifactParams(pa)); err != nil {
				return nil, nil, err
			}
		}
		for _, pa := range pt.Template {
			if _, err := def.AddTemplateArtifact(pa.Type, artifactParams(pa)); err != nil {
				return nil, nil, err
			}
		}
		if ok, reasons := def.Validate(); !ok {
			dropped = append(dropped, DroppedTask{Title: pt.Title, Reasons: reasons})
			continue
		}
		tasks[def.ID] = def
	}
	return tasks, dropped, nil
}

func artifactParams(pa ParsedArtifact) ArtifactParams {
	p := ArtifactParams{
		PageID:     pa.PageID,
		DocumentID: pa.DocumentID,
		Metadata:   pa.Metadata,
	}
	// Image content never arrives inline from the parser; it stays nil until
	// MaterializeImage runs with the fetched bytes.
	if pa.Type != TypeImage {
		p.Content = pa.Content
	}
	return p
}
