package export

import (
	"context"
	"fmt"
	"html/template"
	"time"

	"prooflab/api/internal/expr"
	"prooflab/api/internal/proofjson"
)

// ProofInfo holds the proof metadata an export needs.
type ProofInfo struct {
	ID        string
	Title     string
	OwnerName string
	UpdatedAt time.Time
}

// ProofSource defines the data access interface for exports.
type ProofSource interface {
	GetProofInfo(ctx context.Context, id string) (ProofInfo, error)
	GetProofPayload(ctx context.Context, id, version string) ([]byte, error)
}

// Service provides proof export functionality
type Service struct {
	source ProofSource
}

// NewService creates a new export service
func NewService(source ProofSource) *Service {
	return &Service{source: source}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	info, err := s.source.GetProofInfo(ctx, req.ProofID)
	if err != nil {
		return nil, fmt.Errorf("get proof: %w", err)
	}

	payload, err := s.source.GetProofPayload(ctx, req.ProofID, req.Version)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContentUnavailable, err)
	}

	doc, meta, err := proofjson.Unmarshal(payload, expr.Parse)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContentUnavailable, err)
	}

	rows := BuildRows(doc)
	goals := make([]string, 0, len(meta.Goals))
	for _, g := range meta.Goals {
		goals = append(goals, g.String())
	}

	author := meta.Author
	if author == "" {
		author = info.OwnerName
	}

	if req.Format == FormatLaTeX {
		return exportLaTeX(info.Title, author, goals, rows)
	}

	html, err := RenderProofHTML(TemplateData{
		Title:     info.Title,
		Author:    author,
		Goals:     goals,
		ProofHTML: template.HTML(ProofToHTML(rows)),
		UpdatedAt: info.UpdatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatHTML:
		return &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(info.Title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		return exportPDF(html, info.Title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}
