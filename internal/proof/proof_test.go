package proof

import (
	"errors"
	"testing"

	"prooflab/api/internal/expr"
)

func mustParse(t *testing.T, text string) expr.Expr {
	t.Helper()
	e, ok := expr.Parse(text)
	if !ok {
		t.Fatalf("failed to parse %q", text)
	}
	return e
}

// seed returns the empty document plus its initial premise and step refs.
func seed(t *testing.T) (*Proof, PremiseRef, StepRef) {
	t.Helper()
	p := New()
	premises, err := p.Premises(p.Root())
	if err != nil {
		t.Fatalf("Premises failed: %v", err)
	}
	if len(premises) != 1 {
		t.Fatalf("expected 1 premise in new proof, got %d", len(premises))
	}
	lines, err := p.Lines(p.Root())
	if err != nil {
		t.Fatalf("Lines failed: %v", err)
	}
	if len(lines) != 1 {
		t.Fatalf("expected 1 line in new proof, got %d", len(lines))
	}
	step, ok := lines[0].Step()
	if !ok {
		t.Fatalf("expected initial line to be a step")
	}
	return p, premises[0], step
}

func TestNewProofShape(t *testing.T) {
	p, pr, st := seed(t)

	premise, err := p.Premise(pr)
	if err != nil {
		t.Fatalf("Premise lookup failed: %v", err)
	}
	if !premise.Expr.IsBlank() {
		t.Errorf("expected blank initial premise, got %q", premise.Expr)
	}

	step, err := p.Step(st)
	if err != nil {
		t.Fatalf("Step lookup failed: %v", err)
	}
	if step.Rule != Reiteration {
		t.Errorf("expected default rule reiteration, got %s", step.Rule)
	}
}

func TestInsertPremiseAfterBlank(t *testing.T) {
	p, pr, _ := seed(t)

	newRef, err := p.AddPremiseRelative(mustParse(t, "P & Q"), pr, true)
	if err != nil {
		t.Fatalf("AddPremiseRelative failed: %v", err)
	}
	if newRef == pr {
		t.Fatalf("new premise reference must be distinct from the original")
	}

	premises, _ := p.Premises(p.Root())
	if len(premises) != 2 {
		t.Fatalf("expected 2 premises, got %d", len(premises))
	}
	if premises[0] != pr || premises[1] != newRef {
		t.Errorf("expected insertion after the anchor")
	}

	lines, _ := p.Lines(p.Root())
	if len(lines) != 1 {
		t.Errorf("expected step count unchanged at 1, got %d", len(lines))
	}
}

func TestRemoveLastStepRefused(t *testing.T) {
	p, _, st := seed(t)

	err := p.RemoveLine(StepLine(st))
	if !errors.Is(err, ErrMinimumContent) {
		t.Fatalf("expected ErrMinimumContent, got %v", err)
	}

	lines, _ := p.Lines(p.Root())
	if len(lines) != 1 {
		t.Errorf("subproof changed by refused removal: %d lines", len(lines))
	}
	if p.CanRemoveLine(StepLine(st)) {
		t.Errorf("CanRemoveLine should report false for the last step")
	}
}

func TestRemoveLastPremiseRefused(t *testing.T) {
	p, pr, _ := seed(t)

	err := p.RemoveLine(PremiseLine(pr))
	if !errors.Is(err, ErrMinimumContent) {
		t.Fatalf("expected ErrMinimumContent, got %v", err)
	}

	// A second premise makes the first removable.
	if _, err := p.AddPremise(p.Root(), mustParse(t, "Q")); err != nil {
		t.Fatalf("AddPremise failed: %v", err)
	}
	if !p.CanRemoveLine(PremiseLine(pr)) {
		t.Fatalf("CanRemoveLine should report true with two premises")
	}
	if err := p.RemoveLine(PremiseLine(pr)); err != nil {
		t.Fatalf("RemoveLine failed: %v", err)
	}
	if _, err := p.Premise(pr); !errors.Is(err, ErrNotFound) {
		t.Errorf("removed premise should be gone, got %v", err)
	}
}

func TestReferenceStabilityAcrossEdits(t *testing.T) {
	p, pr, st := seed(t)

	if err := p.WithStep(st, func(j *Justification) error {
		j.Conclusion = mustParse(t, "P")
		return nil
	}); err != nil {
		t.Fatalf("WithStep failed: %v", err)
	}
	before, _ := p.Step(st)

	// Edits elsewhere in the tree must not disturb the step.
	if _, err := p.AddPremiseRelative(mustParse(t, "Q"), pr, false); err != nil {
		t.Fatalf("AddPremiseRelative failed: %v", err)
	}
	if _, err := p.AddStepRelative(mustParse(t, "R"), Reiteration, StepEntry(st), true); err != nil {
		t.Fatalf("AddStepRelative failed: %v", err)
	}
	sub, err := p.AddSubproofRelative(StepEntry(st), true)
	if err != nil {
		t.Fatalf("AddSubproofRelative failed: %v", err)
	}
	if err := p.RemoveSubproof(sub); err != nil {
		t.Fatalf("RemoveSubproof failed: %v", err)
	}

	after, err := p.Step(st)
	if err != nil {
		t.Fatalf("Step lookup after edits failed: %v", err)
	}
	if before.Conclusion != after.Conclusion || before.Rule != after.Rule {
		t.Errorf("step content changed under unrelated edits: %+v vs %+v", before, after)
	}
}

func TestRemovedReferenceNeverReused(t *testing.T) {
	p, pr, _ := seed(t)

	extra, err := p.AddPremise(p.Root(), mustParse(t, "Q"))
	if err != nil {
		t.Fatalf("AddPremise failed: %v", err)
	}
	if err := p.RemoveLine(PremiseLine(extra)); err != nil {
		t.Fatalf("RemoveLine failed: %v", err)
	}

	replacement, err := p.AddPremiseRelative(mustParse(t, "R"), pr, true)
	if err != nil {
		t.Fatalf("AddPremiseRelative failed: %v", err)
	}
	if replacement == extra {
		t.Fatalf("pool reused a removed reference")
	}
	if _, err := p.Premise(extra); !errors.Is(err, ErrNotFound) {
		t.Errorf("stale reference should stay invalid, got %v", err)
	}
}

func TestAddSubproofSeedsMinimumContent(t *testing.T) {
	p, _, st := seed(t)

	sub, err := p.AddSubproofRelative(StepEntry(st), true)
	if err != nil {
		t.Fatalf("AddSubproofRelative failed: %v", err)
	}
	premises, err := p.Premises(sub)
	if err != nil {
		t.Fatalf("Premises failed: %v", err)
	}
	lines, err := p.Lines(sub)
	if err != nil {
		t.Fatalf("Lines failed: %v", err)
	}
	if len(premises) != 1 || len(lines) != 1 {
		t.Errorf("new subproof should hold 1 premise and 1 line, got %d/%d", len(premises), len(lines))
	}
}

func TestRemoveRootRefused(t *testing.T) {
	p, _, _ := seed(t)
	if err := p.RemoveSubproof(p.Root()); !errors.Is(err, ErrRootRemoval) {
		t.Fatalf("expected ErrRootRemoval, got %v", err)
	}
}

func TestRemoveSubproofCascadesCitations(t *testing.T) {
	p, _, st := seed(t)

	sub, err := p.AddSubproofRelative(StepEntry(st), false)
	if err != nil {
		t.Fatalf("AddSubproofRelative failed: %v", err)
	}
	innerLines, _ := p.Lines(sub)
	innerStep, _ := innerLines[0].Step()

	// The outer step cites both the inner step and the whole subproof.
	if err := p.WithStep(st, func(j *Justification) error {
		j.Rule = ConditionalIntro
		j.SetLineDep(StepLine(innerStep), true)
		j.SetSubproofDep(sub, true)
		return nil
	}); err != nil {
		t.Fatalf("WithStep failed: %v", err)
	}

	if err := p.RemoveSubproof(sub); err != nil {
		t.Fatalf("RemoveSubproof failed: %v", err)
	}

	got, _ := p.Step(st)
	if len(got.LineDeps()) != 0 || len(got.SubproofDeps()) != 0 {
		t.Errorf("citations into the removed subtree should be cleaned, got %d line deps and %d subproof deps",
			len(got.LineDeps()), len(got.SubproofDeps()))
	}
	if _, err := p.Step(innerStep); !errors.Is(err, ErrNotFound) {
		t.Errorf("inner step should be gone, got %v", err)
	}
}

func TestIdempotentDependencyToggle(t *testing.T) {
	p, pr, st := seed(t)

	dep := PremiseLine(pr)
	if err := p.WithStep(st, func(j *Justification) error {
		j.SetLineDep(dep, true)
		j.SetLineDep(dep, true)
		return nil
	}); err != nil {
		t.Fatalf("WithStep failed: %v", err)
	}
	got, _ := p.Step(st)
	if len(got.LineDeps()) != 1 {
		t.Fatalf("expected exactly 1 dependency after double set, got %d", len(got.LineDeps()))
	}

	if err := p.WithStep(st, func(j *Justification) error {
		j.SetLineDep(dep, false)
		j.SetLineDep(dep, false)
		return nil
	}); err != nil {
		t.Fatalf("WithStep failed: %v", err)
	}
	got, _ = p.Step(st)
	if len(got.LineDeps()) != 0 {
		t.Fatalf("expected empty dependency set after double clear, got %d", len(got.LineDeps()))
	}
}

func TestLineNumberingAndDepth(t *testing.T) {
	p, pr, st := seed(t)

	if _, err := p.AddPremiseRelative(mustParse(t, "Q"), pr, true); err != nil {
		t.Fatalf("AddPremiseRelative failed: %v", err)
	}
	sub, err := p.AddSubproofRelative(StepEntry(st), false)
	if err != nil {
		t.Fatalf("AddSubproofRelative failed: %v", err)
	}
	innerPremises, _ := p.Premises(sub)
	innerLines, _ := p.Lines(sub)
	innerStep, _ := innerLines[0].Step()

	// Order: premise(1), premise(2), inner premise(3), inner step(4), step(5).
	cases := []struct {
		ref    LineRef
		number int
		depth  int
	}{
		{PremiseLine(pr), 1, 0},
		{PremiseLine(innerPremises[0]), 3, 1},
		{StepLine(innerStep), 4, 1},
		{StepLine(st), 5, 0},
	}
	for _, c := range cases {
		n, err := p.LineNumber(c.ref)
		if err != nil {
			t.Fatalf("LineNumber failed: %v", err)
		}
		if n != c.number {
			t.Errorf("expected line number %d, got %d", c.number, n)
		}
		d, err := p.Depth(c.ref)
		if err != nil {
			t.Fatalf("Depth failed: %v", err)
		}
		if d != c.depth {
			t.Errorf("expected depth %d, got %d", c.depth, d)
		}
	}

	first, last, err := p.SubproofRange(sub)
	if err != nil {
		t.Fatalf("SubproofRange failed: %v", err)
	}
	if first != 3 || last != 4 {
		t.Errorf("expected subproof range 3-4, got %d-%d", first, last)
	}

	// Numbering is derived state: inserting a premise shifts later lines.
	if _, err := p.AddPremiseRelative(mustParse(t, "R"), pr, true); err != nil {
		t.Fatalf("AddPremiseRelative failed: %v", err)
	}
	n, _ := p.LineNumber(StepLine(st))
	if n != 6 {
		t.Errorf("expected step renumbered to 6 after insert, got %d", n)
	}
}

func TestParentOfLine(t *testing.T) {
	p, pr, st := seed(t)

	if _, nested, err := p.ParentOfLine(PremiseLine(pr)); err != nil || nested {
		t.Fatalf("root premise should not report a nested parent (nested=%v err=%v)", nested, err)
	}

	sub, _ := p.AddSubproofRelative(StepEntry(st), true)
	innerLines, _ := p.Lines(sub)
	innerStep, _ := innerLines[0].Step()

	parent, nested, err := p.ParentOfLine(StepLine(innerStep))
	if err != nil {
		t.Fatalf("ParentOfLine failed: %v", err)
	}
	if !nested || parent != sub {
		t.Errorf("expected nested parent %v, got %v (nested=%v)", sub, parent, nested)
	}

	outer, nested, err := p.ParentOfSubproof(sub)
	if err != nil {
		t.Fatalf("ParentOfSubproof failed: %v", err)
	}
	if !nested || outer != p.Root() {
		t.Errorf("expected subproof parent to be root")
	}
}

func TestWithSubproofReorder(t *testing.T) {
	p, pr, _ := seed(t)

	second, _ := p.AddPremiseRelative(mustParse(t, "Q"), pr, true)

	if err := p.WithSubproof(p.Root(), func(s *Subproof) error {
		s.Premises[0], s.Premises[1] = s.Premises[1], s.Premises[0]
		return nil
	}); err != nil {
		t.Fatalf("WithSubproof failed: %v", err)
	}
	premises, _ := p.Premises(p.Root())
	if premises[0] != second || premises[1] != pr {
		t.Errorf("reorder not applied")
	}

	// Dropping a member through the view is rejected and nothing changes.
	err := p.WithSubproof(p.Root(), func(s *Subproof) error {
		s.Premises = s.Premises[:1]
		return nil
	})
	if err == nil {
		t.Fatalf("expected member-change rejection")
	}
	premises, _ = p.Premises(p.Root())
	if len(premises) != 2 {
		t.Errorf("rejected edit must leave the subproof unchanged")
	}
}

func TestUnknownRuleName(t *testing.T) {
	if _, err := ParseRule("modus_tollens"); !errors.Is(err, ErrUnknownRule) {
		t.Fatalf("expected ErrUnknownRule, got %v", err)
	}
	r, err := ParseRule("conditional_intro")
	if err != nil || r != ConditionalIntro {
		t.Fatalf("expected conditional_intro to parse, got %v (%v)", r, err)
	}
}

func TestBuilderRejectsEmptySubproof(t *testing.T) {
	b := NewBuilder()
	if _, err := b.AddPremise(b.Root(), mustParse(t, "P")); err != nil {
		t.Fatalf("AddPremise failed: %v", err)
	}
	// No line added: Finish must refuse.
	if _, err := b.Finish(); !errors.Is(err, ErrMinimumContent) {
		t.Fatalf("expected ErrMinimumContent, got %v", err)
	}
}

func TestFlattenRowShape(t *testing.T) {
	p, pr, st := seed(t)

	if err := p.WithStep(st, func(j *Justification) error {
		j.Conclusion = mustParse(t, "P")
		j.SetLineDep(PremiseLine(pr), true)
		return nil
	}); err != nil {
		t.Fatalf("WithStep failed: %v", err)
	}

	rows := p.Flatten()
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if !rows[0].IsPremise || rows[0].Number != 1 {
		t.Errorf("first row should be premise 1, got %+v", rows[0])
	}
	if rows[1].IsPremise || rows[1].Rule != Reiteration {
		t.Errorf("second row should be a reiteration step, got %+v", rows[1])
	}
	if len(rows[1].Deps) != 1 || rows[1].Deps[0] != 1 {
		t.Errorf("step should cite line 1, got %v", rows[1].Deps)
	}
}
