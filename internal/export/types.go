// Package export renders proof documents to PDF, LaTeX, and HTML.
package export

import "errors"

// Format represents the export output format
type Format string

const (
	FormatPDF   Format = "pdf"
	FormatLaTeX Format = "latex"
	FormatHTML  Format = "html"
)

// Request contains parameters for an export operation
type Request struct {
	ProofID string
	Version string // "latest", commit hash, or named version
	Format  Format
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrContentUnavailable indicates the proof could not be loaded for export.
	ErrContentUnavailable = errors.New("export content unavailable")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
