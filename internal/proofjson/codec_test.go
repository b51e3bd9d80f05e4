package proofjson

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"prooflab/api/internal/expr"
	"prooflab/api/internal/proof"
)

// sample builds a document exercising every structural feature: nested
// subproof, line dependencies, a subproof discharge and goal metadata.
func sample(t *testing.T) (*proof.Proof, Meta) {
	t.Helper()
	p := proof.New()

	premises, _ := p.Premises(p.Root())
	lines, _ := p.Lines(p.Root())
	step, _ := lines[0].Step()

	parse := func(text string) expr.Expr {
		e, ok := expr.Parse(text)
		if !ok {
			t.Fatalf("parse %q failed", text)
		}
		return e
	}

	if err := p.WithPremise(premises[0], func(pr *proof.Premise) error {
		pr.Expr = parse("P")
		return nil
	}); err != nil {
		t.Fatalf("WithPremise failed: %v", err)
	}

	sub, err := p.AddSubproofRelative(proof.StepEntry(step), false)
	if err != nil {
		t.Fatalf("AddSubproofRelative failed: %v", err)
	}
	subPremises, _ := p.Premises(sub)
	subLines, _ := p.Lines(sub)
	subStep, _ := subLines[0].Step()
	if err := p.WithPremise(subPremises[0], func(pr *proof.Premise) error {
		pr.Expr = parse("Q")
		return nil
	}); err != nil {
		t.Fatalf("WithPremise failed: %v", err)
	}
	if err := p.WithStep(subStep, func(j *proof.Justification) error {
		j.Conclusion = parse("Q")
		j.SetLineDep(proof.PremiseLine(subPremises[0]), true)
		return nil
	}); err != nil {
		t.Fatalf("WithStep failed: %v", err)
	}
	if err := p.WithStep(step, func(j *proof.Justification) error {
		j.Conclusion = parse("Q -> Q")
		j.Rule = proof.ConditionalIntro
		j.SetSubproofDep(sub, true)
		j.SetLineDep(proof.PremiseLine(premises[0]), true)
		return nil
	}); err != nil {
		t.Fatalf("WithStep failed: %v", err)
	}

	return p, Meta{Author: "sam", Goals: []expr.Expr{parse("Q -> Q")}}
}

func TestRoundTripByteStable(t *testing.T) {
	p, meta := sample(t)

	first, err := Marshal(p, meta)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	loaded, loadedMeta, err := Unmarshal(first, expr.Parse)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	second, err := Marshal(loaded, loadedMeta)
	if err != nil {
		t.Fatalf("second Marshal failed: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("round trip is not byte stable:\n%s\n---\n%s", first, second)
	}
	if loadedMeta.Author != "sam" {
		t.Errorf("author lost: %q", loadedMeta.Author)
	}
	if len(loadedMeta.Goals) != 1 || loadedMeta.Goals[0].String() != "Q → Q" {
		t.Errorf("goals lost: %v", loadedMeta.Goals)
	}
}

func TestRoundTripPreservesStructure(t *testing.T) {
	p, meta := sample(t)

	data, err := Marshal(p, meta)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	loaded, _, err := Unmarshal(data, expr.Parse)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	want := p.Flatten()
	got := loaded.Flatten()
	if len(want) != len(got) {
		t.Fatalf("row count changed: %d vs %d", len(want), len(got))
	}
	for i := range want {
		if want[i].Number != got[i].Number ||
			want[i].Depth != got[i].Depth ||
			want[i].IsPremise != got[i].IsPremise ||
			want[i].Expr != got[i].Expr ||
			want[i].Rule != got[i].Rule {
			t.Errorf("row %d differs: %+v vs %+v", i, want[i], got[i])
		}
	}
}

func TestUnknownRuleRejected(t *testing.T) {
	doc := `{
  "goals": [],
  "proof": {
    "premises": [{"id": 1, "expr": "P"}],
    "lines": [{"step": {"id": 2, "rule": "wishful_thinking", "expr": "P"}}]
  }
}`
	_, _, err := Unmarshal([]byte(doc), expr.Parse)
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
	if !strings.Contains(decodeErr.Reason, "wishful_thinking") {
		t.Errorf("diagnostic should name the unknown rule, got %q", decodeErr.Reason)
	}
}

func TestUnknownDependencyRejected(t *testing.T) {
	doc := `{
  "goals": [],
  "proof": {
    "premises": [{"id": 1, "expr": "P"}],
    "lines": [{"step": {"id": 2, "rule": "reiteration", "expr": "P", "deps": [99]}}]
  }
}`
	_, _, err := Unmarshal([]byte(doc), expr.Parse)
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected DecodeError for unknown dep id, got %v", err)
	}
	if !strings.Contains(decodeErr.Reason, "99") {
		t.Errorf("diagnostic should name the missing id, got %q", decodeErr.Reason)
	}
}

func TestMalformedExpressionRejected(t *testing.T) {
	doc := `{
  "goals": [],
  "proof": {
    "premises": [{"id": 1, "expr": "(P"}],
    "lines": [{"step": {"id": 2, "rule": "reiteration", "expr": "P"}}]
  }
}`
	_, _, err := Unmarshal([]byte(doc), expr.Parse)
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected DecodeError for malformed expression, got %v", err)
	}
}

func TestEmptySubproofRejected(t *testing.T) {
	doc := `{
  "goals": [],
  "proof": {
    "premises": [{"id": 1, "expr": "P"}],
    "lines": []
  }
}`
	_, _, err := Unmarshal([]byte(doc), expr.Parse)
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected DecodeError for empty line sequence, got %v", err)
	}
}

func TestHashMismatchRejected(t *testing.T) {
	p, meta := sample(t)
	data, _ := Marshal(p, meta)

	tampered := strings.Replace(string(data), `"Q → Q"`, `"Q → P"`, 1)
	if tampered == string(data) {
		t.Fatalf("tampering had no effect on the fixture")
	}
	_, _, err := Unmarshal([]byte(tampered), expr.Parse)
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected DecodeError for hash mismatch, got %v", err)
	}
	if decodeErr.Field != "hash" {
		t.Errorf("expected hash field error, got %q", decodeErr.Field)
	}
}

func TestUnknownMetadataIgnored(t *testing.T) {
	doc := `{
  "future_field": {"nested": true},
  "goals": [],
  "proof": {
    "premises": [{"id": 1, "expr": "P"}],
    "lines": [{"step": {"id": 2, "rule": "reiteration", "expr": "P", "deps": [1]}}]
  }
}`
	loaded, meta, err := Unmarshal([]byte(doc), expr.Parse)
	if err != nil {
		t.Fatalf("Unmarshal failed on unknown metadata: %v", err)
	}
	if meta.Author != "" {
		t.Errorf("author should default to absent, got %q", meta.Author)
	}
	rows := loaded.Flatten()
	if len(rows) != 2 || len(rows[1].Deps) != 1 {
		t.Errorf("tree not rebuilt correctly: %+v", rows)
	}
}
