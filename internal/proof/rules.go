package proof

import "fmt"

// Rule is the closed set of inference rules a justified step may select.
// Reiteration is the default for freshly inserted steps.
type Rule int

const (
	Reiteration Rule = iota
	ConjunctionIntro
	ConjunctionElim
	DisjunctionIntro
	DisjunctionElim
	ConditionalIntro
	ConditionalElim
	BiconditionalIntro
	BiconditionalElim
	NegationIntro
	NegationElim
	ContradictionIntro
	ContradictionElim
	IndirectProof
)

var ruleNames = map[Rule]string{
	Reiteration:        "reiteration",
	ConjunctionIntro:   "conjunction_intro",
	ConjunctionElim:    "conjunction_elim",
	DisjunctionIntro:   "disjunction_intro",
	DisjunctionElim:    "disjunction_elim",
	ConditionalIntro:   "conditional_intro",
	ConditionalElim:    "conditional_elim",
	BiconditionalIntro: "biconditional_intro",
	BiconditionalElim:  "biconditional_elim",
	NegationIntro:      "negation_intro",
	NegationElim:       "negation_elim",
	ContradictionIntro: "contradiction_intro",
	ContradictionElim:  "contradiction_elim",
	IndirectProof:      "indirect_proof",
}

var ruleLabels = map[Rule]string{
	Reiteration:        "R",
	ConjunctionIntro:   "∧I",
	ConjunctionElim:    "∧E",
	DisjunctionIntro:   "∨I",
	DisjunctionElim:    "∨E",
	ConditionalIntro:   "→I",
	ConditionalElim:    "→E",
	BiconditionalIntro: "↔I",
	BiconditionalElim:  "↔E",
	NegationIntro:      "¬I",
	NegationElim:       "¬E",
	ContradictionIntro: "⊥I",
	ContradictionElim:  "⊥E",
	IndirectProof:      "IP",
}

var rulesByName = func() map[string]Rule {
	m := make(map[string]Rule, len(ruleNames))
	for r, name := range ruleNames {
		m[name] = r
	}
	return m
}()

// String returns the stable serialized name of the rule.
func (r Rule) String() string {
	if name, ok := ruleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("rule(%d)", int(r))
}

// Label returns the short symbol shown next to a line in a rendered proof.
func (r Rule) Label() string {
	if label, ok := ruleLabels[r]; ok {
		return label
	}
	return r.String()
}

// DischargesSubproof reports whether the rule closes over whole subproofs,
// i.e. expects subproof dependencies rather than only line dependencies.
func (r Rule) DischargesSubproof() bool {
	switch r {
	case ConditionalIntro, NegationIntro, IndirectProof, DisjunctionElim:
		return true
	default:
		return false
	}
}

// ParseRule maps a serialized rule name back to its Rule.
func ParseRule(name string) (Rule, error) {
	if r, ok := rulesByName[name]; ok {
		return r, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownRule, name)
}

// Rules returns the full rule set in declaration order.
func Rules() []Rule {
	out := make([]Rule, 0, len(ruleNames))
	for r := Reiteration; int(r) < len(ruleNames); r++ {
		out = append(out, r)
	}
	return out
}
