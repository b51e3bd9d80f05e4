package proof

// References are stable, non-positional handles issued by a proof's pool.
// They are plain lookup keys: holding one does not keep the entity alive,
// and a removed entity's reference stays invalid forever (ids are never
// reused), so a stale handle can never silently point at a newer line.

type id uint64

// PremiseRef identifies a premise. The zero value is invalid.
type PremiseRef struct{ id id }

// StepRef identifies a justified step. The zero value is invalid.
type StepRef struct{ id id }

// SubproofRef identifies a subproof. The zero value is invalid.
type SubproofRef struct{ id id }

// Valid reports whether the reference was ever issued by a pool.
func (r PremiseRef) Valid() bool  { return r.id != 0 }
func (r StepRef) Valid() bool     { return r.id != 0 }
func (r SubproofRef) Valid() bool { return r.id != 0 }

// LineKind discriminates the two kinds of numbered line.
type LineKind uint8

const (
	LinePremise LineKind = iota + 1
	LineStep
)

// LineRef identifies a numbered line: a premise or a justified step.
type LineRef struct {
	kind    LineKind
	premise PremiseRef
	step    StepRef
}

// PremiseLine wraps a premise reference as a line reference.
func PremiseLine(r PremiseRef) LineRef {
	return LineRef{kind: LinePremise, premise: r}
}

// StepLine wraps a step reference as a line reference.
func StepLine(r StepRef) LineRef {
	return LineRef{kind: LineStep, step: r}
}

// Kind returns the line's discriminator, zero for an empty LineRef.
func (r LineRef) Kind() LineKind { return r.kind }

// Premise returns the underlying premise reference, false if the line is
// not a premise.
func (r LineRef) Premise() (PremiseRef, bool) {
	return r.premise, r.kind == LinePremise
}

// Step returns the underlying step reference, false if the line is not a
// justified step.
func (r LineRef) Step() (StepRef, bool) {
	return r.step, r.kind == LineStep
}

func (r LineRef) key() id {
	switch r.kind {
	case LinePremise:
		return r.premise.id
	case LineStep:
		return r.step.id
	default:
		return 0
	}
}

// DepKind discriminates the two kinds of citable dependency.
type DepKind uint8

const (
	DepLine DepKind = iota + 1
	DepSubproof
)

// DepRef identifies anything a justified step may cite: a line, or a whole
// subproof for discharge rules.
type DepRef struct {
	kind DepKind
	line LineRef
	sub  SubproofRef
}

// LineDep wraps a line reference as a dependency reference.
func LineDep(r LineRef) DepRef {
	return DepRef{kind: DepLine, line: r}
}

// SubproofDep wraps a subproof reference as a dependency reference.
func SubproofDep(r SubproofRef) DepRef {
	return DepRef{kind: DepSubproof, sub: r}
}

// Kind returns the dependency's discriminator, zero for an empty DepRef.
func (r DepRef) Kind() DepKind { return r.kind }

// Line returns the cited line, false for a subproof dependency.
func (r DepRef) Line() (LineRef, bool) {
	return r.line, r.kind == DepLine
}

// Subproof returns the cited subproof, false for a line dependency.
func (r DepRef) Subproof() (SubproofRef, bool) {
	return r.sub, r.kind == DepSubproof
}

func (r DepRef) key() id {
	switch r.kind {
	case DepLine:
		return r.line.key()
	case DepSubproof:
		return r.sub.id
	default:
		return 0
	}
}

// EntryKind discriminates the members of a subproof's line sequence.
type EntryKind uint8

const (
	EntryStep EntryKind = iota + 1
	EntrySubproof
)

// Entry is one member of a subproof's line sequence: a justified step or a
// nested subproof.
type Entry struct {
	kind EntryKind
	step StepRef
	sub  SubproofRef
}

// StepEntry wraps a step reference as a line-sequence entry.
func StepEntry(r StepRef) Entry {
	return Entry{kind: EntryStep, step: r}
}

// SubproofEntry wraps a subproof reference as a line-sequence entry.
func SubproofEntry(r SubproofRef) Entry {
	return Entry{kind: EntrySubproof, sub: r}
}

// Kind returns the entry's discriminator, zero for an empty Entry.
func (e Entry) Kind() EntryKind { return e.kind }

// Step returns the entry's step reference, false for a subproof entry.
func (e Entry) Step() (StepRef, bool) {
	return e.step, e.kind == EntryStep
}

// Subproof returns the entry's subproof reference, false for a step entry.
func (e Entry) Subproof() (SubproofRef, bool) {
	return e.sub, e.kind == EntrySubproof
}

func (e Entry) key() id {
	switch e.kind {
	case EntryStep:
		return e.step.id
	case EntrySubproof:
		return e.sub.id
	default:
		return 0
	}
}
