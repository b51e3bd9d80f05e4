package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

// SafeHTML is a template function that marks a string as safe HTML
func SafeHTML(s interface{}) template.HTML {
	switch v := s.(type) {
	case string:
		return template.HTML(v)
	case template.HTML:
		return v
	default:
		return template.HTML("")
	}
}

//go:embed templates/*.html
var templateFS embed.FS

var proofTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
		"safeHTML": SafeHTML,
	}

	templateContent, err := templateFS.ReadFile("templates/proof.html")
	if err != nil {
		// Fallback to built-in template if file not found
		proofTemplate = template.Must(template.New("proof").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}

	proofTemplate = template.Must(template.New("proof").Funcs(funcMap).Parse(string(templateContent)))
}

// TemplateData holds data for proof template rendering
type TemplateData struct {
	Title     string
	Author    string
	Goals     []string
	ProofHTML template.HTML
	UpdatedAt time.Time
}

// RenderProofHTML renders the proof template with provided data
func RenderProofHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := proofTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// fallbackTemplate is used if the embedded template fails to load
const fallbackTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Georgia, serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    table.proof { border-collapse: collapse; }
    table.proof td { padding: 2px 10px; }
    td.num { color: #888; text-align: right; }
    span.bar { border-left: 1.5px solid #333; padding-left: 14px; margin-right: 2px; }
    tr.premise-last td.expr span.formula { border-bottom: 1.5px solid #333; padding-bottom: 2px; }
    td.cite { color: #555; font-size: 0.9em; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">{{.Author}}{{if not .UpdatedAt.IsZero}} | {{.UpdatedAt.Format "Jan 2, 2006"}}{{end}}</div>
  {{if .Goals}}<p>Goals: {{range $i, $g := .Goals}}{{if $i}}, {{end}}{{$g}}{{end}}</p>{{end}}
  <div>{{.ProofHTML | safeHTML}}</div>
</body>
</html>`
