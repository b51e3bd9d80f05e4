package store

import "time"

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	Role                  string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	DeactivatedAt         *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// ProofDoc is the database record for a proof document. The document
// body itself lives in the git repository as proof.json; the row holds
// the metadata the API lists and searches on.
type ProofDoc struct {
	ID          string
	Title       string
	Description string
	Status      string
	OwnerID     string
	OwnerName   string
	UpdatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Submission struct {
	ID          string
	ProofID     string
	ProofTitle  string
	StudentID   string
	StudentName string
	Status      string
	CommitHash  string
	ReviewNote  string
	ReviewedBy  string
	ReviewedAt  *time.Time
	CreatedAt   time.Time
}

type NamedVersion struct {
	Name      string
	Hash      string
	CreatedBy string
	CreatedAt time.Time
}

type CommitInfo struct {
	Hash      string
	Message   string
	Author    string
	CreatedAt time.Time
	Added     int
	Removed   int
}
