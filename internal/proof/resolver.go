package proof

import "fmt"

// The numbering index is derived state: parent links, ordinals, line
// numbers and depths are recomputed by one pre-order walk whenever a
// structural mutation has happened since the last query. Premises and
// justified steps receive sequential numbers; subproofs are not numbered,
// their contents just sit one level deeper.

type index struct {
	parentOf map[id]SubproofRef
	ordinal  map[id]int // position within parent: premises first, then lines
	number   map[id]int // line numbers, premises and steps only
	depth    map[id]int
	first    map[id]int // subproof id -> first line number inside
	last     map[id]int // subproof id -> last line number inside
}

func (p *Proof) index() *index {
	if p.idx != nil && p.idxGen == p.gen {
		return p.idx
	}
	idx := &index{
		parentOf: make(map[id]SubproofRef),
		ordinal:  make(map[id]int),
		number:   make(map[id]int),
		depth:    make(map[id]int),
		first:    make(map[id]int),
		last:     make(map[id]int),
	}
	next := 0
	p.walkIndex(p.root, 0, &next, idx)
	p.idx = idx
	p.idxGen = p.gen
	return idx
}

func (p *Proof) walkIndex(sub SubproofRef, depth int, next *int, idx *index) {
	node := p.pool.subs[sub.id]
	idx.depth[sub.id] = depth
	idx.first[sub.id] = *next + 1
	for i, pr := range node.premises {
		idx.parentOf[pr.id] = sub
		idx.ordinal[pr.id] = i
		idx.depth[pr.id] = depth
		*next++
		idx.number[pr.id] = *next
	}
	base := len(node.premises)
	for i, e := range node.lines {
		key := e.key()
		idx.parentOf[key] = sub
		idx.ordinal[key] = base + i
		switch e.kind {
		case EntryStep:
			idx.depth[key] = depth
			*next++
			idx.number[key] = *next
		case EntrySubproof:
			p.walkIndex(e.sub, depth+1, next, idx)
		}
	}
	idx.last[sub.id] = *next
}

// LineValue is the typed result of Lookup: exactly one of Premise or Step
// is meaningful, selected by Kind.
type LineValue struct {
	Kind    LineKind
	Premise Premise
	Step    Justification
}

// Lookup resolves a line reference to a snapshot of its content.
func (p *Proof) Lookup(ref LineRef) (LineValue, error) {
	switch ref.kind {
	case LinePremise:
		pr, err := p.Premise(ref.premise)
		if err != nil {
			return LineValue{}, err
		}
		return LineValue{Kind: LinePremise, Premise: pr}, nil
	case LineStep:
		st, err := p.Step(ref.step)
		if err != nil {
			return LineValue{}, err
		}
		return LineValue{Kind: LineStep, Step: st}, nil
	default:
		return LineValue{}, fmt.Errorf("%w: empty line reference", ErrNotFound)
	}
}

// Premise resolves a premise reference to a snapshot of its content.
func (p *Proof) Premise(ref PremiseRef) (Premise, error) {
	pr, ok := p.pool.premises[ref.id]
	if !ok {
		return Premise{}, fmt.Errorf("%w: premise", ErrNotFound)
	}
	return *pr, nil
}

// Step resolves a step reference to a snapshot of its content, including
// copies of its dependency sets.
func (p *Proof) Step(ref StepRef) (Justification, error) {
	st, ok := p.pool.steps[ref.id]
	if !ok {
		return Justification{}, fmt.Errorf("%w: step", ErrNotFound)
	}
	return st.clone(), nil
}

// Premises returns the subproof's premise block in order. The slice is a
// copy; re-querying after a mutation reflects the current state.
func (p *Proof) Premises(sub SubproofRef) ([]PremiseRef, error) {
	node, ok := p.pool.subs[sub.id]
	if !ok {
		return nil, fmt.Errorf("%w: subproof", ErrNotFound)
	}
	return append([]PremiseRef(nil), node.premises...), nil
}

// Lines returns the subproof's line sequence in order.
func (p *Proof) Lines(sub SubproofRef) ([]Entry, error) {
	node, ok := p.pool.subs[sub.id]
	if !ok {
		return nil, fmt.Errorf("%w: subproof", ErrNotFound)
	}
	return append([]Entry(nil), node.lines...), nil
}

// HasSubproof reports whether the reference resolves to a live subproof.
func (p *Proof) HasSubproof(ref SubproofRef) bool {
	_, ok := p.pool.subs[ref.id]
	return ok
}

// ParentOfLine returns the enclosing subproof of a line. ok is false for
// lines sitting directly in the root subproof.
func (p *Proof) ParentOfLine(ref LineRef) (SubproofRef, bool, error) {
	key := ref.key()
	if !p.lineExists(ref) {
		return SubproofRef{}, false, fmt.Errorf("%w: line", ErrNotFound)
	}
	parent := p.index().parentOf[key]
	return parent, parent != p.root, nil
}

// ParentOfSubproof returns the enclosing subproof of a nested subproof.
// ok is false for the root.
func (p *Proof) ParentOfSubproof(ref SubproofRef) (SubproofRef, bool, error) {
	if _, ok := p.pool.subs[ref.id]; !ok {
		return SubproofRef{}, false, fmt.Errorf("%w: subproof", ErrNotFound)
	}
	if ref == p.root {
		return SubproofRef{}, false, nil
	}
	return p.index().parentOf[ref.id], true, nil
}

// LineNumber returns the line's current number in the pre-order numbering.
// Numbers are derived state and shift as the document is edited.
func (p *Proof) LineNumber(ref LineRef) (int, error) {
	if !p.lineExists(ref) {
		return 0, fmt.Errorf("%w: line", ErrNotFound)
	}
	return p.index().number[ref.key()], nil
}

// Depth returns the nesting depth of a line; lines in the root are at
// depth zero.
func (p *Proof) Depth(ref LineRef) (int, error) {
	if !p.lineExists(ref) {
		return 0, fmt.Errorf("%w: line", ErrNotFound)
	}
	return p.index().depth[ref.key()], nil
}

// SubproofRange returns the first and last line numbers inside a subproof,
// the range cited when the whole subproof is a dependency.
func (p *Proof) SubproofRange(ref SubproofRef) (first, last int, err error) {
	if _, ok := p.pool.subs[ref.id]; !ok {
		return 0, 0, fmt.Errorf("%w: subproof", ErrNotFound)
	}
	idx := p.index()
	return idx.first[ref.id], idx.last[ref.id], nil
}

func (p *Proof) lineExists(ref LineRef) bool {
	switch ref.kind {
	case LinePremise:
		_, ok := p.pool.premises[ref.premise.id]
		return ok
	case LineStep:
		_, ok := p.pool.steps[ref.step.id]
		return ok
	default:
		return false
	}
}

func (p *Proof) depExists(ref DepRef) bool {
	switch ref.kind {
	case DepLine:
		return p.lineExists(ref.line)
	case DepSubproof:
		_, ok := p.pool.subs[ref.sub.id]
		return ok
	default:
		return false
	}
}

// FlatLine is one row of the flattened document: everything a renderer or
// checker needs to show the line without touching the tree again.
type FlatLine struct {
	Number    int
	Depth     int
	Ref       LineRef
	IsPremise bool
	Expr      string
	Rule      Rule
	Deps      []int    // line numbers of cited lines
	SubDeps   [][2]int // first/last line numbers of cited subproofs
}

// Flatten walks the document in order and returns the numbered rows.
func (p *Proof) Flatten() []FlatLine {
	idx := p.index()
	var rows []FlatLine
	p.flatten(p.root, idx, &rows)
	return rows
}

func (p *Proof) flatten(sub SubproofRef, idx *index, rows *[]FlatLine) {
	node := p.pool.subs[sub.id]
	for _, pr := range node.premises {
		*rows = append(*rows, FlatLine{
			Number:    idx.number[pr.id],
			Depth:     idx.depth[pr.id],
			Ref:       PremiseLine(pr),
			IsPremise: true,
			Expr:      p.pool.premises[pr.id].Expr.String(),
		})
	}
	for _, e := range node.lines {
		switch e.kind {
		case EntryStep:
			st := p.pool.steps[e.step.id]
			row := FlatLine{
				Number: idx.number[e.step.id],
				Depth:  idx.depth[e.step.id],
				Ref:    StepLine(e.step),
				Expr:   st.Conclusion.String(),
				Rule:   st.Rule,
			}
			for _, dep := range st.LineDeps() {
				if n, ok := idx.number[dep.key()]; ok {
					row.Deps = append(row.Deps, n)
				}
			}
			for _, dep := range st.SubproofDeps() {
				if first, ok := idx.first[dep.id]; ok {
					row.SubDeps = append(row.SubDeps, [2]int{first, idx.last[dep.id]})
				}
			}
			*rows = append(*rows, row)
		case EntrySubproof:
			p.flatten(e.sub, idx, rows)
		}
	}
}
