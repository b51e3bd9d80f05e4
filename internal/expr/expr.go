// Package expr defines the opaque logical expression value consumed by the
// proof model, and the parser contract used to produce it. The real
// expression engine lives outside this service; Parse here only decides
// well-formedness so the editor can reject garbage before storing it.
package expr

import "strings"

// Expr is an immutable logical formula. It is a value type: copying and
// comparing with == are both fine. The zero value is the blank expression.
type Expr struct {
	text string
}

// Parser turns user-edited text into an Expr. It must be pure. The second
// return is false when the text is not a well-formed formula.
type Parser func(text string) (Expr, bool)

// String returns the canonical display form.
func (e Expr) String() string {
	return e.text
}

// IsBlank reports whether the expression is empty.
func (e Expr) IsBlank() bool {
	return e.text == ""
}

// connective spellings accepted from user input, normalized to the
// canonical symbol before storage.
var replacer = strings.NewReplacer(
	"_|_", "⊥",
	"<->", "↔",
	"->", "→",
	"&&", "∧",
	"&", "∧",
	"||", "∨",
	"|", "∨",
	"~", "¬",
	"!", "¬",
)

// Parse is the minimal built-in parser: it normalizes connective
// spellings, requires balanced parentheses and a non-empty body. It does
// not build a syntax tree; Expr stays opaque to the rest of the system.
func Parse(text string) (Expr, bool) {
	normalized := strings.TrimSpace(replacer.Replace(text))
	if normalized == "" {
		return Expr{}, false
	}
	depth := 0
	for _, r := range normalized {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return Expr{}, false
			}
		}
	}
	if depth != 0 {
		return Expr{}, false
	}
	return Expr{text: normalized}, true
}

// Blank returns the empty expression used for freshly inserted lines.
func Blank() Expr {
	return Expr{}
}

// Raw wraps already-canonical text without validation. Used by the
// deserializer after the parser has accepted the stored form.
func Raw(text string) Expr {
	return Expr{text: text}
}
