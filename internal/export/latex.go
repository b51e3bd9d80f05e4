package export

import (
	"fmt"
	"strings"
)

// connective symbols translated to math-mode macros.
var latexSymbols = strings.NewReplacer(
	"→", `\rightarrow `,
	"↔", `\leftrightarrow `,
	"∧", `\land `,
	"∨", `\lor `,
	"¬", `\lnot `,
	"⊥", `\bot `,
	"–", "--",
)

// characters with special meaning in LaTeX text mode.
var latexText = strings.NewReplacer(
	`\`, `\textbackslash{}`,
	"&", `\&`,
	"%", `\%`,
	"$", `\$`,
	"#", `\#`,
	"_", `\_`,
	"{", `\{`,
	"}", `\}`,
	"~", `\textasciitilde{}`,
	"^", `\textasciicircum{}`,
)

// exportLaTeX renders the proof rows as a standalone LaTeX document.
// Subproof nesting becomes vertical rules in math mode; the caller
// compiles the result themselves.
func exportLaTeX(title, author string, goals []string, rows []Row) (*Result, error) {
	var b strings.Builder

	b.WriteString("\\documentclass{article}\n")
	b.WriteString("\\usepackage[utf8]{inputenc}\n")
	b.WriteString("\\usepackage{amssymb,amsmath,array}\n")
	b.WriteString(fmt.Sprintf("\\title{%s}\n", latexText.Replace(title)))
	if author != "" {
		b.WriteString(fmt.Sprintf("\\author{%s}\n", latexText.Replace(author)))
	}
	b.WriteString("\\begin{document}\n\\maketitle\n\n")

	if len(goals) > 0 {
		escaped := make([]string, 0, len(goals))
		for _, g := range goals {
			escaped = append(escaped, "$"+latexFormula(g)+"$")
		}
		b.WriteString(fmt.Sprintf("\\noindent Goals: %s\n\n", strings.Join(escaped, ", ")))
	}

	b.WriteString("\\begin{tabular}{r >{$}l<{$} l}\n")
	for i, row := range rows {
		formula := latexFormula(row.Expr)
		for d := 0; d < row.Depth; d++ {
			formula = `\;\vert\;\; ` + formula
		}
		if row.IsPremise && (i+1 >= len(rows) || !rows[i+1].IsPremise || rows[i+1].Depth != row.Depth) {
			formula = `\underline{` + formula + `}`
		}
		b.WriteString(fmt.Sprintf("%d & %s & %s \\\\\n", row.Number, formula, latexText.Replace(row.Citation)))
	}
	b.WriteString("\\end{tabular}\n\n\\end{document}\n")

	return &Result{
		Data:     []byte(b.String()),
		Filename: sanitizeFilename(title) + ".tex",
		MimeType: "application/x-latex",
	}, nil
}

func latexFormula(text string) string {
	if text == "" {
		return `\;`
	}
	return strings.TrimSpace(latexSymbols.Replace(text))
}
