package proof

import (
	"fmt"

	"prooflab/api/internal/expr"
)

// Builder assembles a Proof from scratch, for loaders that already hold a
// whole tree (the deserializer, test fixtures). Intermediate states may be
// under-populated; Finish enforces the minimum-content invariant on every
// subproof before the document becomes observable.
type Builder struct {
	proof    *Proof
	finished bool
}

// NewBuilder starts an empty document containing only a bare root
// subproof.
func NewBuilder() *Builder {
	p := &Proof{pool: newPool()}
	p.root = p.newSubproof()
	return &Builder{proof: p}
}

// Root returns the root subproof under construction.
func (b *Builder) Root() SubproofRef {
	return b.proof.root
}

// AddPremise appends a premise to a subproof's premise block.
func (b *Builder) AddPremise(sub SubproofRef, e expr.Expr) (PremiseRef, error) {
	node, ok := b.proof.pool.subs[sub.id]
	if !ok {
		return PremiseRef{}, fmt.Errorf("%w: subproof", ErrNotFound)
	}
	ref := b.proof.newPremise(e)
	node.premises = append(node.premises, ref)
	return ref, nil
}

// AddStep appends a justified step to a subproof's line sequence.
func (b *Builder) AddStep(sub SubproofRef, conclusion expr.Expr, rule Rule) (StepRef, error) {
	node, ok := b.proof.pool.subs[sub.id]
	if !ok {
		return StepRef{}, fmt.Errorf("%w: subproof", ErrNotFound)
	}
	ref := b.proof.newStep(conclusion, rule)
	node.lines = append(node.lines, StepEntry(ref))
	return ref, nil
}

// AddSubproof appends a nested subproof to a parent's line sequence.
func (b *Builder) AddSubproof(parent SubproofRef) (SubproofRef, error) {
	node, ok := b.proof.pool.subs[parent.id]
	if !ok {
		return SubproofRef{}, fmt.Errorf("%w: subproof", ErrNotFound)
	}
	ref := b.proof.newSubproof()
	node.lines = append(node.lines, SubproofEntry(ref))
	return ref, nil
}

// SetLineDep records a line dependency on a step under construction.
func (b *Builder) SetLineDep(step StepRef, dep LineRef) error {
	st, ok := b.proof.pool.steps[step.id]
	if !ok {
		return fmt.Errorf("%w: step", ErrNotFound)
	}
	st.SetLineDep(dep, true)
	return nil
}

// SetSubproofDep records a subproof dependency on a step under
// construction.
func (b *Builder) SetSubproofDep(step StepRef, dep SubproofRef) error {
	st, ok := b.proof.pool.steps[step.id]
	if !ok {
		return fmt.Errorf("%w: step", ErrNotFound)
	}
	st.SetSubproofDep(dep, true)
	return nil
}

// Finish validates every subproof and hands over the document. The builder
// is spent afterwards.
func (b *Builder) Finish() (*Proof, error) {
	if b.finished {
		return nil, fmt.Errorf("proof: builder already finished")
	}
	for _, node := range b.proof.pool.subs {
		if len(node.premises) == 0 || len(node.lines) == 0 {
			return nil, ErrMinimumContent
		}
	}
	b.finished = true
	p := b.proof
	b.proof = nil
	p.mutated()
	return p, nil
}
