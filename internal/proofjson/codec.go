// Package proofjson converts a proof document to and from its persisted
// JSON form. The file carries author/integrity/goal metadata alongside the
// tree; dependency citations are encoded as document-local integer ids, so
// pool reference identities never leak into the format and loading a file
// yields fresh references with identical structure.
package proofjson

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"prooflab/api/internal/expr"
	"prooflab/api/internal/proof"
)

// Meta is the document metadata stored next to the tree. All fields are
// optional on load; unknown fields in a file are ignored.
type Meta struct {
	Author string
	Hash   string
	Goals  []expr.Expr
}

// DecodeError describes why a persisted document was rejected. No partial
// document is ever produced alongside one.
type DecodeError struct {
	Field  string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("proofjson: %s: %s", e.Field, e.Reason)
}

func decodeErrorf(field, format string, args ...any) *DecodeError {
	return &DecodeError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

type document struct {
	Author string   `json:"author,omitempty"`
	Hash   string   `json:"hash,omitempty"`
	Goals  []string `json:"goals"`
	Proof  subDoc   `json:"proof"`
}

type subDoc struct {
	ID       int          `json:"id,omitempty"` // absent on the root, which is never citable
	Premises []premiseDoc `json:"premises"`
	Lines    []lineDoc    `json:"lines"`
}

type premiseDoc struct {
	ID   int    `json:"id"`
	Expr string `json:"expr"`
}

type lineDoc struct {
	Step     *stepDoc `json:"step,omitempty"`
	Subproof *subDoc  `json:"subproof,omitempty"`
}

type stepDoc struct {
	ID      int    `json:"id"`
	Rule    string `json:"rule"`
	Expr    string `json:"expr"`
	Deps    []int  `json:"deps,omitempty"`
	Subdeps []int  `json:"subdeps,omitempty"`
}

// Marshal serializes the proof with its metadata. The integrity hash is
// recomputed over the canonical body on every write.
func Marshal(p *proof.Proof, meta Meta) ([]byte, error) {
	enc := encoder{
		proof:   p,
		lineIDs: make(map[proof.LineRef]int),
		subIDs:  make(map[proof.SubproofRef]int),
	}
	enc.assignIDs(p.Root())
	root, err := enc.encodeSubproof(p.Root())
	if err != nil {
		return nil, err
	}
	root.ID = 0

	doc := document{
		Author: meta.Author,
		Goals:  make([]string, 0, len(meta.Goals)),
		Proof:  *root,
	}
	for _, g := range meta.Goals {
		doc.Goals = append(doc.Goals, g.String())
	}
	doc.Hash = hashOf(doc)

	return json.MarshalIndent(doc, "", "  ")
}

type encoder struct {
	proof   *proof.Proof
	nextID  int
	lineIDs map[proof.LineRef]int
	subIDs  map[proof.SubproofRef]int
}

// assignIDs numbers every premise, step and nested subproof in pre-order.
func (e *encoder) assignIDs(sub proof.SubproofRef) {
	premises, _ := e.proof.Premises(sub)
	for _, pr := range premises {
		e.nextID++
		e.lineIDs[proof.PremiseLine(pr)] = e.nextID
	}
	lines, _ := e.proof.Lines(sub)
	for _, entry := range lines {
		switch entry.Kind() {
		case proof.EntryStep:
			st, _ := entry.Step()
			e.nextID++
			e.lineIDs[proof.StepLine(st)] = e.nextID
		case proof.EntrySubproof:
			child, _ := entry.Subproof()
			e.nextID++
			e.subIDs[child] = e.nextID
			e.assignIDs(child)
		}
	}
}

func (e *encoder) encodeSubproof(sub proof.SubproofRef) (*subDoc, error) {
	out := &subDoc{
		ID:       e.subIDs[sub],
		Premises: []premiseDoc{},
		Lines:    []lineDoc{},
	}
	premises, err := e.proof.Premises(sub)
	if err != nil {
		return nil, err
	}
	for _, pr := range premises {
		content, err := e.proof.Premise(pr)
		if err != nil {
			return nil, err
		}
		out.Premises = append(out.Premises, premiseDoc{
			ID:   e.lineIDs[proof.PremiseLine(pr)],
			Expr: content.Expr.String(),
		})
	}
	lines, err := e.proof.Lines(sub)
	if err != nil {
		return nil, err
	}
	for _, entry := range lines {
		switch entry.Kind() {
		case proof.EntryStep:
			st, _ := entry.Step()
			content, err := e.proof.Step(st)
			if err != nil {
				return nil, err
			}
			stepOut := &stepDoc{
				ID:   e.lineIDs[proof.StepLine(st)],
				Rule: content.Rule.String(),
				Expr: content.Conclusion.String(),
			}
			for _, dep := range content.LineDeps() {
				// Dangling citations have no document id and are
				// dropped from the persisted form.
				if id, ok := e.lineIDs[dep]; ok {
					stepOut.Deps = append(stepOut.Deps, id)
				}
			}
			for _, dep := range content.SubproofDeps() {
				if id, ok := e.subIDs[dep]; ok {
					stepOut.Subdeps = append(stepOut.Subdeps, id)
				}
			}
			// Citation order in the file is canonical document order, so
			// a reload-and-save round trip is byte stable.
			sort.Ints(stepOut.Deps)
			sort.Ints(stepOut.Subdeps)
			out.Lines = append(out.Lines, lineDoc{Step: stepOut})
		case proof.EntrySubproof:
			child, _ := entry.Subproof()
			childDoc, err := e.encodeSubproof(child)
			if err != nil {
				return nil, err
			}
			out.Lines = append(out.Lines, lineDoc{Subproof: childDoc})
		}
	}
	return out, nil
}

// Unmarshal parses a persisted document and rebuilds the proof. Malformed
// input is rejected with a *DecodeError; on failure no document is
// produced.
func Unmarshal(data []byte, parse expr.Parser) (*proof.Proof, Meta, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, Meta{}, decodeErrorf("document", "invalid json: %v", err)
	}

	if doc.Hash != "" {
		if computed := hashOf(doc); computed != doc.Hash {
			return nil, Meta{}, decodeErrorf("hash", "integrity hash mismatch")
		}
	}

	meta := Meta{Author: doc.Author, Hash: doc.Hash}
	for i, g := range doc.Goals {
		parsed, ok := parse(g)
		if !ok {
			return nil, Meta{}, decodeErrorf(fmt.Sprintf("goals[%d]", i), "malformed expression %q", g)
		}
		meta.Goals = append(meta.Goals, parsed)
	}

	dec := decoder{
		builder: proof.NewBuilder(),
		parse:   parse,
		lines:   make(map[int]proof.LineRef),
		subs:    make(map[int]proof.SubproofRef),
	}
	if err := dec.decodeSubproof(&doc.Proof, dec.builder.Root()); err != nil {
		return nil, Meta{}, err
	}
	if err := dec.resolveDeps(); err != nil {
		return nil, Meta{}, err
	}

	p, err := dec.builder.Finish()
	if err != nil {
		return nil, Meta{}, decodeErrorf("proof", "subproof missing premises or lines")
	}
	// Dependencies are recorded after Finish: the builder constructs the
	// tree, WithStep applies the citations against the live document.
	for _, pending := range dec.pendingDeps {
		step := pending.step
		deps := pending
		err := p.WithStep(step, func(j *proof.Justification) error {
			for _, d := range deps.lineDeps {
				j.SetLineDep(d, true)
			}
			for _, d := range deps.subDeps {
				j.SetSubproofDep(d, true)
			}
			return nil
		})
		if err != nil {
			return nil, Meta{}, decodeErrorf("deps", "apply dependencies: %v", err)
		}
	}
	return p, meta, nil
}

type pendingDep struct {
	step     proof.StepRef
	lineDeps []proof.LineRef
	subDeps  []proof.SubproofRef
}

type decoder struct {
	builder *proof.Builder
	parse   expr.Parser

	lines map[int]proof.LineRef
	subs  map[int]proof.SubproofRef

	rawSteps    []rawStep
	pendingDeps []pendingDep
}

type rawStep struct {
	ref proof.StepRef
	doc *stepDoc
}

func (d *decoder) parseExpr(field, text string) (expr.Expr, error) {
	if text == "" {
		return expr.Blank(), nil
	}
	parsed, ok := d.parse(text)
	if !ok {
		return expr.Expr{}, decodeErrorf(field, "malformed expression %q", text)
	}
	return parsed, nil
}

func (d *decoder) decodeSubproof(doc *subDoc, into proof.SubproofRef) error {
	for i, pr := range doc.Premises {
		field := fmt.Sprintf("premises[%d]", i)
		parsed, err := d.parseExpr(field, pr.Expr)
		if err != nil {
			return err
		}
		ref, err := d.builder.AddPremise(into, parsed)
		if err != nil {
			return decodeErrorf(field, "%v", err)
		}
		if err := d.recordLine(pr.ID, proof.PremiseLine(ref)); err != nil {
			return err
		}
	}
	for i, line := range doc.Lines {
		field := fmt.Sprintf("lines[%d]", i)
		switch {
		case line.Step != nil && line.Subproof != nil:
			return decodeErrorf(field, "line is both a step and a subproof")
		case line.Step != nil:
			rule, err := proof.ParseRule(line.Step.Rule)
			if err != nil {
				return decodeErrorf(field, "unknown rule %q", line.Step.Rule)
			}
			parsed, err := d.parseExpr(field, line.Step.Expr)
			if err != nil {
				return err
			}
			ref, err := d.builder.AddStep(into, parsed, rule)
			if err != nil {
				return decodeErrorf(field, "%v", err)
			}
			if err := d.recordLine(line.Step.ID, proof.StepLine(ref)); err != nil {
				return err
			}
			d.rawSteps = append(d.rawSteps, rawStep{ref: ref, doc: line.Step})
		case line.Subproof != nil:
			child, err := d.builder.AddSubproof(into)
			if err != nil {
				return decodeErrorf(field, "%v", err)
			}
			if line.Subproof.ID != 0 {
				if _, dup := d.subs[line.Subproof.ID]; dup {
					return decodeErrorf(field, "duplicate id %d", line.Subproof.ID)
				}
				d.subs[line.Subproof.ID] = child
			}
			if err := d.decodeSubproof(line.Subproof, child); err != nil {
				return err
			}
		default:
			return decodeErrorf(field, "line is neither a step nor a subproof")
		}
	}
	return nil
}

func (d *decoder) recordLine(id int, ref proof.LineRef) error {
	if id == 0 {
		return decodeErrorf("id", "missing line id")
	}
	if _, dup := d.lines[id]; dup {
		return decodeErrorf("id", "duplicate id %d", id)
	}
	d.lines[id] = ref
	return nil
}

// resolveDeps maps every cited document id back to a reference. A citation
// of an id absent from the document is a hard error, not a silent drop.
func (d *decoder) resolveDeps() error {
	for _, rs := range d.rawSteps {
		pending := pendingDep{step: rs.ref}
		for _, depID := range rs.doc.Deps {
			ref, ok := d.lines[depID]
			if !ok {
				return decodeErrorf("deps", "dependency cites unknown line id %d", depID)
			}
			pending.lineDeps = append(pending.lineDeps, ref)
		}
		for _, depID := range rs.doc.Subdeps {
			ref, ok := d.subs[depID]
			if !ok {
				return decodeErrorf("subdeps", "dependency cites unknown subproof id %d", depID)
			}
			pending.subDeps = append(pending.subDeps, ref)
		}
		d.pendingDeps = append(d.pendingDeps, pending)
	}
	return nil
}

// hashOf computes the integrity hash: SHA-256 over the compact body with
// the hash field itself zeroed.
func hashOf(doc document) string {
	doc.Hash = ""
	body, err := json.Marshal(doc)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
