package proof

import (
	"errors"
	"testing"
)

// nested builds the document used by the scope tests:
//
//	1 | P            premise
//	2 | | Q          premise      (subproof A)
//	3 | | Q          step
//	4 | | R          premise      (subproof B, sibling of A)
//	5 | | R          step
//	6 | Q -> Q       step
func nested(t *testing.T) (p *Proof, outerPremise PremiseRef, subA, subB SubproofRef, stepA, stepB, outerStep StepRef) {
	t.Helper()
	p, pr, st := seed(t)
	outerPremise = pr
	outerStep = st

	if err := p.WithPremise(pr, func(prem *Premise) error {
		prem.Expr = mustParse(t, "P")
		return nil
	}); err != nil {
		t.Fatalf("WithPremise failed: %v", err)
	}

	var err error
	subA, err = p.AddSubproofRelative(StepEntry(st), false)
	if err != nil {
		t.Fatalf("AddSubproofRelative failed: %v", err)
	}
	subB, err = p.AddSubproofRelative(SubproofEntry(subA), true)
	if err != nil {
		t.Fatalf("AddSubproofRelative failed: %v", err)
	}

	linesA, _ := p.Lines(subA)
	stepA, _ = linesA[0].Step()
	linesB, _ := p.Lines(subB)
	stepB, _ = linesB[0].Step()
	return p, outerPremise, subA, subB, stepA, stepB, outerStep
}

func TestScopeAcceptsEnclosingEarlierLine(t *testing.T) {
	p, outerPremise, _, _, stepA, _, _ := nested(t)

	ok, err := p.InScope(StepLine(stepA), LineDep(PremiseLine(outerPremise)))
	if err != nil {
		t.Fatalf("InScope failed: %v", err)
	}
	if !ok {
		t.Errorf("a premise of an enclosing subproof must be citable")
	}
}

func TestScopeAcceptsOwnEarlierLine(t *testing.T) {
	p, _, subA, _, stepA, _, _ := nested(t)

	premisesA, _ := p.Premises(subA)
	ok, err := p.InScope(StepLine(stepA), LineDep(PremiseLine(premisesA[0])))
	if err != nil {
		t.Fatalf("InScope failed: %v", err)
	}
	if !ok {
		t.Errorf("a step must be able to cite its own subproof's premise")
	}
}

func TestScopeRejectsSiblingSubproofLine(t *testing.T) {
	p, _, subA, _, _, stepB, _ := nested(t)

	premisesA, _ := p.Premises(subA)
	ok, err := p.InScope(StepLine(stepB), LineDep(PremiseLine(premisesA[0])))
	if err != nil {
		t.Fatalf("InScope failed: %v", err)
	}
	if ok {
		t.Errorf("a line inside a sibling subproof must never be citable")
	}
}

func TestScopeRejectsLaterSubproof(t *testing.T) {
	p, _, _, subB, stepA, _, _ := nested(t)

	ok, err := p.InScope(StepLine(stepA), SubproofDep(subB))
	if err != nil {
		t.Fatalf("InScope failed: %v", err)
	}
	if ok {
		t.Errorf("a subproof appearing later must never be citable")
	}
}

func TestScopeAcceptsPrecedingSubproofDischarge(t *testing.T) {
	p, _, subA, subB, _, _, outerStep := nested(t)

	for _, sub := range []SubproofRef{subA, subB} {
		ok, err := p.InScope(StepLine(outerStep), SubproofDep(sub))
		if err != nil {
			t.Fatalf("InScope failed: %v", err)
		}
		if !ok {
			t.Errorf("a preceding subproof must be citable for discharge")
		}
	}
}

func TestScopeRejectsOwnAndLaterLines(t *testing.T) {
	p, outerPremise, _, _, _, _, outerStep := nested(t)

	// A line never cites itself.
	ok, err := p.InScope(StepLine(outerStep), LineDep(StepLine(outerStep)))
	if err != nil {
		t.Fatalf("InScope failed: %v", err)
	}
	if ok {
		t.Errorf("self-citation must be rejected")
	}

	// A premise never cites a step that follows it.
	ok, err = p.InScope(PremiseLine(outerPremise), LineDep(StepLine(outerStep)))
	if err != nil {
		t.Fatalf("InScope failed: %v", err)
	}
	if ok {
		t.Errorf("forward citation must be rejected")
	}
}

func TestScopeRejectsRootAsDependency(t *testing.T) {
	p, _, _, _, _, _, outerStep := nested(t)

	ok, err := p.InScope(StepLine(outerStep), SubproofDep(p.Root()))
	if err != nil {
		t.Fatalf("InScope failed: %v", err)
	}
	if ok {
		t.Errorf("the root subproof is not citable")
	}
}

func TestScopeDanglingReferenceReportsNotFound(t *testing.T) {
	p, _, subA, _, _, _, outerStep := nested(t)

	linesA, _ := p.Lines(subA)
	innerStep, _ := linesA[0].Step()
	if err := p.RemoveSubproof(subA); err != nil {
		t.Fatalf("RemoveSubproof failed: %v", err)
	}

	_, err := p.InScope(StepLine(outerStep), LineDep(StepLine(innerStep)))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for a dangling dependency, got %v", err)
	}
	_, err = p.InScope(StepLine(innerStep), LineDep(PremiseLine(PremiseRef{})))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for a dangling citing line, got %v", err)
	}
}
