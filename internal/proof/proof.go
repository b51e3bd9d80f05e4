// Package proof implements the proof document model: an arena pool issuing
// stable references, the nested premise/line tree, scoped mutation, derived
// line numbering and the dependency scope validator.
//
// A Proof is single-writer: the surrounding service serializes all edits
// through one control path per document, so the model itself takes no locks.
package proof

import (
	"fmt"

	"prooflab/api/internal/expr"
)

// Premise is the content of an assumed line. The value handed out by
// Lookup is a snapshot; mutation goes through WithPremise.
type Premise struct {
	Expr expr.Expr
}

// Justification is the content of a justified step: a conclusion, a rule
// and the cited dependencies. Dependency sets are unordered (toggling is
// idempotent) but iterate deterministically in reference-creation order.
type Justification struct {
	Conclusion expr.Expr
	Rule       Rule

	lineDeps map[id]LineRef
	subDeps  map[id]SubproofRef
}

// SetLineDep toggles a line dependency. Setting to the current state is a
// no-op.
func (j *Justification) SetLineDep(ref LineRef, on bool) {
	key := ref.key()
	if key == 0 {
		return
	}
	if on {
		if j.lineDeps == nil {
			j.lineDeps = make(map[id]LineRef)
		}
		j.lineDeps[key] = ref
		return
	}
	delete(j.lineDeps, key)
}

// SetSubproofDep toggles a subproof dependency. Setting to the current
// state is a no-op.
func (j *Justification) SetSubproofDep(ref SubproofRef, on bool) {
	if !ref.Valid() {
		return
	}
	if on {
		if j.subDeps == nil {
			j.subDeps = make(map[id]SubproofRef)
		}
		j.subDeps[ref.id] = ref
		return
	}
	delete(j.subDeps, ref.id)
}

// HasLineDep reports whether the step currently cites the line.
func (j *Justification) HasLineDep(ref LineRef) bool {
	_, ok := j.lineDeps[ref.key()]
	return ok
}

// HasSubproofDep reports whether the step currently cites the subproof.
func (j *Justification) HasSubproofDep(ref SubproofRef) bool {
	_, ok := j.subDeps[ref.id]
	return ok
}

// LineDeps returns the cited lines in reference-creation order.
func (j *Justification) LineDeps() []LineRef {
	return sortedValues(j.lineDeps)
}

// SubproofDeps returns the cited subproofs in reference-creation order.
func (j *Justification) SubproofDeps() []SubproofRef {
	return sortedValues(j.subDeps)
}

func sortedValues[V any](m map[id]V) []V {
	keys := make([]id, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	out := make([]V, len(keys))
	for i, k := range keys {
		out[i] = m[k]
	}
	return out
}

func (j *Justification) clone() Justification {
	out := Justification{Conclusion: j.Conclusion, Rule: j.Rule}
	if len(j.lineDeps) > 0 {
		out.lineDeps = make(map[id]LineRef, len(j.lineDeps))
		for k, v := range j.lineDeps {
			out.lineDeps[k] = v
		}
	}
	if len(j.subDeps) > 0 {
		out.subDeps = make(map[id]SubproofRef, len(j.subDeps))
		for k, v := range j.subDeps {
			out.subDeps[k] = v
		}
	}
	return out
}

// Subproof is the mutable content view passed to WithSubproof: the ordered
// premise block followed by the ordered line sequence. The callback may
// reorder members; it may not add or drop them (structural edits go
// through the Add/Remove operations, which keep the pool consistent).
type Subproof struct {
	Premises []PremiseRef
	Lines    []Entry
}

type subproofNode struct {
	premises []PremiseRef
	lines    []Entry
}

type pool struct {
	next     id
	premises map[id]*Premise
	steps    map[id]*Justification
	subs     map[id]*subproofNode
}

func newPool() pool {
	return pool{
		premises: make(map[id]*Premise),
		steps:    make(map[id]*Justification),
		subs:     make(map[id]*subproofNode),
	}
}

func (p *pool) alloc() id {
	p.next++
	return p.next
}

// Proof is the whole document: the pool owning every entity plus the root
// subproof. References from one Proof are never valid against another.
type Proof struct {
	pool pool
	root SubproofRef

	// gen counts structural mutations; the numbering index is rebuilt
	// lazily when it falls behind.
	gen    uint64
	idx    *index
	idxGen uint64
}

// New creates the empty document: a root subproof holding one blank
// premise and one default reiteration step.
func New() *Proof {
	p := &Proof{pool: newPool()}
	root := p.newSubproof()
	p.root = root
	sub := p.pool.subs[root.id]
	sub.premises = append(sub.premises, p.newPremise(expr.Blank()))
	sub.lines = append(sub.lines, StepEntry(p.newStep(expr.Blank(), Reiteration)))
	return p
}

// Root returns the root subproof, which always exists and is never
// removable.
func (p *Proof) Root() SubproofRef {
	return p.root
}

func (p *Proof) newPremise(e expr.Expr) PremiseRef {
	ref := PremiseRef{id: p.pool.alloc()}
	p.pool.premises[ref.id] = &Premise{Expr: e}
	return ref
}

func (p *Proof) newStep(conclusion expr.Expr, rule Rule) StepRef {
	ref := StepRef{id: p.pool.alloc()}
	p.pool.steps[ref.id] = &Justification{Conclusion: conclusion, Rule: rule}
	return ref
}

func (p *Proof) newSubproof() SubproofRef {
	ref := SubproofRef{id: p.pool.alloc()}
	p.pool.subs[ref.id] = &subproofNode{}
	return ref
}

func (p *Proof) mutated() {
	p.gen++
}

// AddPremise appends a premise to the given subproof's premise block.
func (p *Proof) AddPremise(sub SubproofRef, e expr.Expr) (PremiseRef, error) {
	node, ok := p.pool.subs[sub.id]
	if !ok {
		return PremiseRef{}, fmt.Errorf("%w: subproof", ErrNotFound)
	}
	ref := p.newPremise(e)
	node.premises = append(node.premises, ref)
	p.mutated()
	return ref, nil
}

// AddPremiseRelative inserts a premise immediately before or after an
// existing premise of the same subproof. Anchoring on anything but a
// premise would break the contiguous premise block, so only premise
// anchors are accepted.
func (p *Proof) AddPremiseRelative(e expr.Expr, anchor PremiseRef, after bool) (PremiseRef, error) {
	parent, pos, err := p.premisePosition(anchor)
	if err != nil {
		return PremiseRef{}, err
	}
	node := p.pool.subs[parent.id]
	at := pos
	if after {
		at++
	}
	ref := p.newPremise(e)
	node.premises = append(node.premises, PremiseRef{})
	copy(node.premises[at+1:], node.premises[at:])
	node.premises[at] = ref
	p.mutated()
	return ref, nil
}

// AddStepRelative inserts a justified step immediately before or after an
// existing entry in the same subproof's line sequence.
func (p *Proof) AddStepRelative(conclusion expr.Expr, rule Rule, anchor Entry, after bool) (StepRef, error) {
	parent, pos, err := p.entryPosition(anchor)
	if err != nil {
		return StepRef{}, err
	}
	ref := p.newStep(conclusion, rule)
	p.insertEntry(parent, pos, after, StepEntry(ref))
	return ref, nil
}

// AddSubproofRelative inserts a nested subproof immediately before or
// after an existing entry in the same subproof's line sequence. The new
// subproof is seeded with one blank premise and one default step so the
// minimum-content invariant holds from the moment it is observable.
func (p *Proof) AddSubproofRelative(anchor Entry, after bool) (SubproofRef, error) {
	parent, pos, err := p.entryPosition(anchor)
	if err != nil {
		return SubproofRef{}, err
	}
	ref := p.newSubproof()
	node := p.pool.subs[ref.id]
	node.premises = append(node.premises, p.newPremise(expr.Blank()))
	node.lines = append(node.lines, StepEntry(p.newStep(expr.Blank(), Reiteration)))
	p.insertEntry(parent, pos, after, SubproofEntry(ref))
	return ref, nil
}

func (p *Proof) insertEntry(parent SubproofRef, pos int, after bool, e Entry) {
	node := p.pool.subs[parent.id]
	at := pos
	if after {
		at++
	}
	node.lines = append(node.lines, Entry{})
	copy(node.lines[at+1:], node.lines[at:])
	node.lines[at] = e
	p.mutated()
}

// CanRemoveLine reports whether RemoveLine would succeed for the line.
func (p *Proof) CanRemoveLine(ref LineRef) bool {
	switch ref.kind {
	case LinePremise:
		parent, _, err := p.premisePosition(ref.premise)
		if err != nil {
			return false
		}
		return len(p.pool.subs[parent.id].premises) > 1
	case LineStep:
		parent, _, err := p.entryPosition(StepEntry(ref.step))
		if err != nil {
			return false
		}
		return len(p.pool.subs[parent.id].lines) > 1
	default:
		return false
	}
}

// RemoveLine removes a premise or justified step from its subproof. The
// removal is refused when it would leave the subproof without a premise or
// without a line; the document is unchanged on refusal. Citations of the
// removed line elsewhere become permanently dangling (Lookup reports not
// found; the id is never reissued).
func (p *Proof) RemoveLine(ref LineRef) error {
	switch ref.kind {
	case LinePremise:
		parent, pos, err := p.premisePosition(ref.premise)
		if err != nil {
			return err
		}
		node := p.pool.subs[parent.id]
		if len(node.premises) <= 1 {
			return fmt.Errorf("%w: last premise", ErrMinimumContent)
		}
		node.premises = append(node.premises[:pos], node.premises[pos+1:]...)
		delete(p.pool.premises, ref.premise.id)
	case LineStep:
		parent, pos, err := p.entryPosition(StepEntry(ref.step))
		if err != nil {
			return err
		}
		node := p.pool.subs[parent.id]
		if len(node.lines) <= 1 {
			return fmt.Errorf("%w: last line", ErrMinimumContent)
		}
		node.lines = append(node.lines[:pos], node.lines[pos+1:]...)
		delete(p.pool.steps, ref.step.id)
	default:
		return fmt.Errorf("%w: empty line reference", ErrNotFound)
	}
	p.mutated()
	return nil
}

// RemoveSubproof removes a nested subproof and everything inside it, then
// drops every dependency citation elsewhere in the tree that pointed into
// the removed subtree. The root subproof is never removable, and the
// removal is refused when the subproof is its parent's only line.
func (p *Proof) RemoveSubproof(ref SubproofRef) error {
	if ref == p.root {
		return ErrRootRemoval
	}
	parent, pos, err := p.entryPosition(SubproofEntry(ref))
	if err != nil {
		return err
	}
	node := p.pool.subs[parent.id]
	if len(node.lines) <= 1 {
		return fmt.Errorf("%w: last line", ErrMinimumContent)
	}

	removed := make(map[id]bool)
	p.collectSubtree(ref, removed)

	node.lines = append(node.lines[:pos], node.lines[pos+1:]...)
	for rid := range removed {
		delete(p.pool.premises, rid)
		delete(p.pool.steps, rid)
		delete(p.pool.subs, rid)
	}

	// Cascade-clean citations into the removed subtree.
	for _, step := range p.pool.steps {
		for key := range step.lineDeps {
			if removed[key] {
				delete(step.lineDeps, key)
			}
		}
		for key := range step.subDeps {
			if removed[key] {
				delete(step.subDeps, key)
			}
		}
	}
	p.mutated()
	return nil
}

func (p *Proof) collectSubtree(ref SubproofRef, into map[id]bool) {
	into[ref.id] = true
	node := p.pool.subs[ref.id]
	for _, pr := range node.premises {
		into[pr.id] = true
	}
	for _, e := range node.lines {
		switch e.kind {
		case EntryStep:
			into[e.step.id] = true
		case EntrySubproof:
			p.collectSubtree(e.sub, into)
		}
	}
}

// WithPremise runs fn with exclusive access to the premise's content.
func (p *Proof) WithPremise(ref PremiseRef, fn func(*Premise) error) error {
	pr, ok := p.pool.premises[ref.id]
	if !ok {
		return fmt.Errorf("%w: premise", ErrNotFound)
	}
	return fn(pr)
}

// WithStep runs fn with exclusive access to the step's content.
func (p *Proof) WithStep(ref StepRef, fn func(*Justification) error) error {
	st, ok := p.pool.steps[ref.id]
	if !ok {
		return fmt.Errorf("%w: step", ErrNotFound)
	}
	return fn(st)
}

// WithSubproof runs fn with a mutable view of the subproof's ordering. On
// return the view must hold exactly the same members (reordering is fine)
// and keep at least one premise and one line, or the edit is discarded.
func (p *Proof) WithSubproof(ref SubproofRef, fn func(*Subproof) error) error {
	node, ok := p.pool.subs[ref.id]
	if !ok {
		return fmt.Errorf("%w: subproof", ErrNotFound)
	}
	view := Subproof{
		Premises: append([]PremiseRef(nil), node.premises...),
		Lines:    append([]Entry(nil), node.lines...),
	}
	if err := fn(&view); err != nil {
		return err
	}
	if len(view.Premises) == 0 || len(view.Lines) == 0 {
		return ErrMinimumContent
	}
	if !samePremiseMembers(node.premises, view.Premises) || !sameEntryMembers(node.lines, view.Lines) {
		return fmt.Errorf("%w: subproof members may only be reordered", ErrPremiseBoundary)
	}
	node.premises = view.Premises
	node.lines = view.Lines
	p.mutated()
	return nil
}

func samePremiseMembers(a, b []PremiseRef) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[id]int, len(a))
	for _, r := range a {
		seen[r.id]++
	}
	for _, r := range b {
		seen[r.id]--
		if seen[r.id] < 0 {
			return false
		}
	}
	return true
}

func sameEntryMembers(a, b []Entry) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[id]int, len(a))
	for _, e := range a {
		seen[e.key()]++
	}
	for _, e := range b {
		seen[e.key()]--
		if seen[e.key()] < 0 {
			return false
		}
	}
	return true
}

// premisePosition locates a premise's subproof and ordinal within the
// premise block.
func (p *Proof) premisePosition(ref PremiseRef) (SubproofRef, int, error) {
	if _, ok := p.pool.premises[ref.id]; !ok {
		return SubproofRef{}, 0, fmt.Errorf("%w: premise", ErrNotFound)
	}
	idx := p.index()
	parent, ok := idx.parentOf[ref.id]
	if !ok {
		return SubproofRef{}, 0, fmt.Errorf("%w: premise detached", ErrNotFound)
	}
	node := p.pool.subs[parent.id]
	for i, pr := range node.premises {
		if pr == ref {
			return parent, i, nil
		}
	}
	return SubproofRef{}, 0, fmt.Errorf("%w: premise detached", ErrNotFound)
}

// entryPosition locates an entry's subproof and ordinal within the line
// sequence.
func (p *Proof) entryPosition(e Entry) (SubproofRef, int, error) {
	key := e.key()
	if key == 0 {
		return SubproofRef{}, 0, fmt.Errorf("%w: empty entry", ErrNotFound)
	}
	switch e.kind {
	case EntryStep:
		if _, ok := p.pool.steps[e.step.id]; !ok {
			return SubproofRef{}, 0, fmt.Errorf("%w: step", ErrNotFound)
		}
	case EntrySubproof:
		if _, ok := p.pool.subs[e.sub.id]; !ok {
			return SubproofRef{}, 0, fmt.Errorf("%w: subproof", ErrNotFound)
		}
	}
	idx := p.index()
	parent, ok := idx.parentOf[key]
	if !ok {
		return SubproofRef{}, 0, fmt.Errorf("%w: entry detached", ErrNotFound)
	}
	node := p.pool.subs[parent.id]
	for i, have := range node.lines {
		if have.key() == key {
			return parent, i, nil
		}
	}
	return SubproofRef{}, 0, fmt.Errorf("%w: entry detached", ErrNotFound)
}
