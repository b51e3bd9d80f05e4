package export

import (
	"fmt"
	"html"
	"strings"

	"prooflab/api/internal/proof"
)

// Row is one display line of a rendered proof.
type Row struct {
	Number    int
	Depth     int
	IsPremise bool
	Expr      string
	Citation  string
}

// BuildRows flattens a proof into display rows with formatted citations.
func BuildRows(p *proof.Proof) []Row {
	flat := p.Flatten()
	rows := make([]Row, 0, len(flat))
	for _, line := range flat {
		rows = append(rows, Row{
			Number:    line.Number,
			Depth:     line.Depth,
			IsPremise: line.IsPremise,
			Expr:      line.Expr,
			Citation:  citation(line),
		})
	}
	return rows
}

// citation formats a step's justification, e.g. "∧I 2, 3" or "→I 3–5".
func citation(line proof.FlatLine) string {
	if line.IsPremise {
		return ""
	}

	parts := make([]string, 0, len(line.Deps)+len(line.SubDeps))
	for _, n := range line.Deps {
		parts = append(parts, fmt.Sprintf("%d", n))
	}
	for _, r := range line.SubDeps {
		parts = append(parts, fmt.Sprintf("%d–%d", r[0], r[1]))
	}

	label := line.Rule.Label()
	if len(parts) == 0 {
		return label
	}
	return label + " " + strings.Join(parts, ", ")
}

// ProofToHTML renders the rows as a Fitch-style HTML table body. Each
// nesting level adds a vertical scope bar; premises end their block
// with the horizontal Fitch bar.
func ProofToHTML(rows []Row) string {
	var b strings.Builder
	b.WriteString(`<table class="proof">` + "\n")
	for i, row := range rows {
		lineClass := "step"
		if row.IsPremise {
			lineClass = "premise"
			// The Fitch bar sits under the last premise of a block.
			if i+1 >= len(rows) || !rows[i+1].IsPremise || rows[i+1].Depth != row.Depth {
				lineClass = "premise premise-last"
			}
		}

		b.WriteString(`  <tr class="` + lineClass + `">`)
		fmt.Fprintf(&b, `<td class="num">%d</td>`, row.Number)

		b.WriteString(`<td class="expr">`)
		for d := 0; d < row.Depth; d++ {
			b.WriteString(`<span class="bar"></span>`)
		}
		b.WriteString(`<span class="formula">` + html.EscapeString(displayExpr(row.Expr)) + `</span>`)
		b.WriteString(`</td>`)

		b.WriteString(`<td class="cite">` + html.EscapeString(row.Citation) + `</td>`)
		b.WriteString("</tr>\n")
	}
	b.WriteString("</table>")
	return b.String()
}

func displayExpr(text string) string {
	if text == "" {
		return "—"
	}
	return text
}
