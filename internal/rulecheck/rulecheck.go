// Package rulecheck defines the verification contract for justified steps.
// The full inference engine is an external collaborator; this package fixes
// the interface it is consumed through and ships a basic checker that
// validates citation scope and fully decides reiteration.
package rulecheck

import (
	"fmt"

	"prooflab/api/internal/proof"
)

// Violation is a per-line diagnostic. It is data, not an error: a proof
// containing invalid steps stays a valid, editable document.
type Violation struct {
	Line     int        `json:"line"`
	Rule     proof.Rule `json:"-"`
	RuleName string     `json:"rule"`
	Message  string     `json:"message"`
	// Advisory marks diagnostics for rules the configured checker cannot
	// decide, as opposed to definite violations.
	Advisory bool `json:"advisory,omitempty"`
}

// Checker verifies one justified step against the current document. It
// must be pure: no mutation, nil result means the step passes.
type Checker interface {
	Check(p *proof.Proof, ref proof.StepRef) *Violation
}

// Basic is the built-in checker. It verifies that every citation is in
// scope, that discharge rules cite a subproof, and decides reiteration
// outright; other rules produce an advisory diagnostic.
type Basic struct{}

func (Basic) Check(p *proof.Proof, ref proof.StepRef) *Violation {
	step, err := p.Step(ref)
	if err != nil {
		return &Violation{Message: "step no longer exists"}
	}
	number, _ := p.LineNumber(proof.StepLine(ref))
	violation := func(format string, args ...any) *Violation {
		return &Violation{
			Line:     number,
			Rule:     step.Rule,
			RuleName: step.Rule.String(),
			Message:  fmt.Sprintf(format, args...),
		}
	}

	at := proof.StepLine(ref)
	for _, dep := range step.LineDeps() {
		ok, err := p.InScope(at, proof.LineDep(dep))
		if err != nil {
			return violation("cites a line that no longer exists")
		}
		if !ok {
			n, _ := p.LineNumber(dep)
			return violation("line %d is out of scope", n)
		}
	}
	for _, dep := range step.SubproofDeps() {
		ok, err := p.InScope(at, proof.SubproofDep(dep))
		if err != nil {
			return violation("cites a subproof that no longer exists")
		}
		if !ok {
			return violation("cited subproof is out of scope")
		}
	}

	if step.Rule.DischargesSubproof() && len(step.SubproofDeps()) == 0 {
		return violation("%s discharges a subproof and must cite one", step.Rule.Label())
	}

	if step.Rule == proof.Reiteration {
		return checkReiteration(p, step, violation)
	}

	v := violation("not decided by the basic checker")
	v.Advisory = true
	return v
}

func checkReiteration(p *proof.Proof, step proof.Justification, violation func(string, ...any) *Violation) *Violation {
	if step.Conclusion.IsBlank() {
		return violation("line has no conclusion")
	}
	deps := step.LineDeps()
	if len(deps) == 0 {
		return violation("reiteration must cite the line it repeats")
	}
	for _, dep := range deps {
		value, err := p.Lookup(dep)
		if err != nil {
			return violation("cites a line that no longer exists")
		}
		cited := value.Premise.Expr
		if value.Kind == proof.LineStep {
			cited = value.Step.Conclusion
		}
		if cited == step.Conclusion {
			return nil
		}
	}
	return violation("no cited line matches the conclusion")
}

// CheckAll runs the checker over every justified step in document order.
func CheckAll(p *proof.Proof, checker Checker) []Violation {
	var out []Violation
	for _, row := range p.Flatten() {
		if row.IsPremise {
			continue
		}
		step, ok := row.Ref.Step()
		if !ok {
			continue
		}
		if v := checker.Check(p, step); v != nil {
			out = append(out, *v)
		}
	}
	return out
}
