package proof

import "fmt"

// InScope decides whether a line may cite dep as a justification
// dependency. dep is reachable when it sits in the citing line's own
// subproof, or in a subproof that textually encloses it, and precedes the
// citing line in that subproof's own ordering. A line inside a sibling
// subproof, or inside a subproof appearing later, is never reachable. A
// whole-subproof dependency is judged by the subproof's own position.
//
// Both references must resolve; a dangling reference is reported as
// ErrNotFound rather than a plain "not allowed".
func (p *Proof) InScope(at LineRef, dep DepRef) (bool, error) {
	if !p.lineExists(at) {
		return false, fmt.Errorf("%w: citing line", ErrNotFound)
	}
	if !p.depExists(dep) {
		return false, fmt.Errorf("%w: dependency", ErrNotFound)
	}
	idx := p.index()

	depParent, depOrdinal, ok := p.depPosition(dep, idx)
	if !ok {
		return false, nil
	}

	// Walk up from the citing line. boundary is the ordinal within the
	// current subproof below which dependencies are visible: first the
	// line's own position, then, at each enclosing level, the position of
	// the subproof we came out of.
	current := idx.parentOf[at.key()]
	boundary := idx.ordinal[at.key()]
	for {
		if depParent == current && depOrdinal < boundary {
			return true, nil
		}
		parent, ok := idx.parentOf[current.id]
		if !ok {
			return false, nil // reached the root without a hit
		}
		boundary = idx.ordinal[current.id]
		current = parent
	}
}

func (p *Proof) depPosition(dep DepRef, idx *index) (SubproofRef, int, bool) {
	var key id
	switch dep.kind {
	case DepLine:
		key = dep.line.key()
	case DepSubproof:
		if dep.sub == p.root {
			return SubproofRef{}, 0, false // the root is not citable
		}
		key = dep.sub.id
	default:
		return SubproofRef{}, 0, false
	}
	parent, ok := idx.parentOf[key]
	if !ok {
		return SubproofRef{}, 0, false
	}
	return parent, idx.ordinal[key], true
}
