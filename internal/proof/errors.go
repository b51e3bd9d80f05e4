package proof

import "errors"

var (
	// ErrNotFound indicates a reference that does not resolve, either
	// because it was never issued by this proof's pool or because the
	// entity has been removed.
	ErrNotFound = errors.New("proof: reference not found")

	// ErrMinimumContent indicates a removal that would leave a subproof
	// without at least one premise and one line.
	ErrMinimumContent = errors.New("proof: subproof must keep at least one premise and one line")

	// ErrRootRemoval indicates an attempt to remove the root subproof.
	ErrRootRemoval = errors.New("proof: root subproof is not removable")

	// ErrPremiseBoundary indicates a premise insertion anchored outside
	// the contiguous premise block of a subproof.
	ErrPremiseBoundary = errors.New("proof: premises must stay contiguous at the start of a subproof")

	// ErrUnknownRule indicates a rule name that is not part of the rule set.
	ErrUnknownRule = errors.New("proof: unknown rule")
)
