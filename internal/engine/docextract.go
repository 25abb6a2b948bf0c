package engine

import (
	"context"

	"github.com/constellate-io/constellate/pkg/schema"
)

// DocumentExtractionExecutor runs DocumentExtraction stars: it collects
// documents from run variables and upstream document outputs. No LLM call.
type DocumentExtractionExecutor struct{}

// Kind implements StarExecutor.
func (d *DocumentExtractionExecutor) Kind() schema.StarKind {
	return schema.StarDocumentExtraction
}

// Execute implements StarExecutor.
func (d *DocumentExtractionExecutor) Execute(ctx context.Context, ec *ExecContext, star *schema.Star) (*StarResult, error) {
	var docs []schema.Document

	if raw, ok := ec.Variables["documents"]; ok {
		docs = append(docs, coerceDocuments(raw)...)
	}

	for _, out := range ec.GetUpstreamOutputs(ec.CurrentNode()) {
		if out.Kind == schema.OutputDocuments && out.Documents != nil {
			docs = append(docs, out.Documents.Documents...)
		}
	}

	return &StarResult{
		Output: &schema.StarOutput{
			Kind:      schema.OutputDocuments,
			Documents: &schema.DocumentPayload{Documents: docs},
		},
	}, nil
}

// coerceDocuments accepts the shapes a documents variable may arrive in:
// a plain string, a list of strings, or a list of {name, content} objects.
func coerceDocuments(raw any) []schema.Document {
	switch tv := raw.(type) {
	case string:
		if tv == "" {
			return nil
		}
		return []schema.Document{{Content: tv}}
	case []any:
		var docs []schema.Document
		for _, item := range tv {
			switch doc := item.(type) {
			case string:
				if doc != "" {
					docs = append(docs, schema.Document{Content: doc})
				}
			case map[string]any:
				name, _ := doc["name"].(string)
				content, _ := doc["content"].(string)
				if content != "" {
					docs = append(docs, schema.Document{Name: name, Content: content})
				}
			}
		}
		return docs
	default:
		return nil
	}
}
