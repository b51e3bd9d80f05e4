package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- users ----

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, role, is_email_verified
		FROM users
		WHERE email=$1 AND deactivated_at IS NULL
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, role, is_email_verified
		FROM users
		WHERE id=$1 AND deactivated_at IS NULL
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) ListUsersByRole(ctx context.Context, role string) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, display_name, email, role
		FROM users
		WHERE role=$1 AND deactivated_at IS NULL AND is_email_verified
		ORDER BY display_name
	`, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, role, is_email_verified, verification_token)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.Role, user.IsEmailVerified, user.VerificationToken)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET verification_token=$2, verification_expires_at=$3, updated_at=NOW()
		WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token=NULL, verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND verification_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return errors.New("invalid or expired verification token")
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1
	`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateUserRole(ctx context.Context, userID, role string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET role=$2, updated_at=NOW() WHERE id=$1
	`, userID, role)
	if err != nil {
		return fmt.Errorf("update role: %w", err)
	}
	return nil
}

// ---- password resets ----

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at)
		VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

// ---- refresh sessions (Postgres fallback when Redis is not configured) ----

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash string, user User, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, user.ID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.display_name, u.role
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Role)
	if err != nil {
		return User{}, err
	}
	if user.Role == "" {
		user.Role = "student"
	}
	return user, nil
}

// ---- revoked access tokens ----

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// ---- proof documents ----

func (s *PostgresStore) ListProofs(ctx context.Context, ownerID string) ([]ProofDoc, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.title, p.description, p.status, p.owner_id, u.display_name, p.updated_by_name, p.created_at, p.updated_at
		FROM proofs p
		JOIN users u ON u.id = p.owner_id
		WHERE ($1 = '' OR p.owner_id = $1)
		ORDER BY p.updated_at DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list proofs: %w", err)
	}
	defer rows.Close()

	items := make([]ProofDoc, 0)
	for rows.Next() {
		var item ProofDoc
		if err := rows.Scan(&item.ID, &item.Title, &item.Description, &item.Status, &item.OwnerID, &item.OwnerName, &item.UpdatedBy, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan proof: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proofs: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetProof(ctx context.Context, proofID string) (ProofDoc, error) {
	var item ProofDoc
	err := s.db.QueryRowContext(ctx, `
		SELECT p.id, p.title, p.description, p.status, p.owner_id, u.display_name, p.updated_by_name, p.created_at, p.updated_at
		FROM proofs p
		JOIN users u ON u.id = p.owner_id
		WHERE p.id=$1
	`, proofID).Scan(&item.ID, &item.Title, &item.Description, &item.Status, &item.OwnerID, &item.OwnerName, &item.UpdatedBy, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return ProofDoc{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertProof(ctx context.Context, item ProofDoc) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO proofs (id, title, description, status, owner_id, updated_by_name)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, item.ID, item.Title, item.Description, item.Status, item.OwnerID, item.UpdatedBy)
	if err != nil {
		return fmt.Errorf("insert proof: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateProofState(ctx context.Context, proofID, title, description, status, updatedBy string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE proofs
		SET title=$2, description=$3, status=$4, updated_by_name=$5, updated_at=NOW()
		WHERE id=$1
	`, proofID, title, description, status, updatedBy)
	if err != nil {
		return fmt.Errorf("update proof state: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteProof(ctx context.Context, proofID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM proofs WHERE id=$1`, proofID)
	if err != nil {
		return false, fmt.Errorf("delete proof: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete proof rows: %w", err)
	}
	return affected > 0, nil
}

// ---- submissions ----

func (s *PostgresStore) CreateSubmission(ctx context.Context, sub Submission) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO submissions (id, proof_id, student_id, status, commit_hash)
		VALUES ($1, $2, $3, $4, $5)
	`, sub.ID, sub.ProofID, sub.StudentID, sub.Status, sub.CommitHash)
	if err != nil {
		return fmt.Errorf("create submission: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSubmission(ctx context.Context, submissionID string) (Submission, error) {
	var item Submission
	err := s.db.QueryRowContext(ctx, `
		SELECT sub.id, sub.proof_id, p.title, sub.student_id, u.display_name, sub.status, sub.commit_hash,
			COALESCE(sub.review_note, ''), COALESCE(sub.reviewed_by_name, ''), sub.reviewed_at, sub.created_at
		FROM submissions sub
		JOIN proofs p ON p.id = sub.proof_id
		JOIN users u ON u.id = sub.student_id
		WHERE sub.id=$1
	`, submissionID).Scan(
		&item.ID,
		&item.ProofID,
		&item.ProofTitle,
		&item.StudentID,
		&item.StudentName,
		&item.Status,
		&item.CommitHash,
		&item.ReviewNote,
		&item.ReviewedBy,
		&item.ReviewedAt,
		&item.CreatedAt,
	)
	if err != nil {
		return Submission{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListSubmissions(ctx context.Context, status string) ([]Submission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sub.id, sub.proof_id, p.title, sub.student_id, u.display_name, sub.status, sub.commit_hash,
			COALESCE(sub.review_note, ''), COALESCE(sub.reviewed_by_name, ''), sub.reviewed_at, sub.created_at
		FROM submissions sub
		JOIN proofs p ON p.id = sub.proof_id
		JOIN users u ON u.id = sub.student_id
		WHERE ($1 = '' OR sub.status = $1)
		ORDER BY sub.created_at DESC
	`, status)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	items := make([]Submission, 0)
	for rows.Next() {
		var item Submission
		if err := rows.Scan(
			&item.ID,
			&item.ProofID,
			&item.ProofTitle,
			&item.StudentID,
			&item.StudentName,
			&item.Status,
			&item.CommitHash,
			&item.ReviewNote,
			&item.ReviewedBy,
			&item.ReviewedAt,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ReviewSubmission(ctx context.Context, submissionID, status, note, reviewedBy string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE submissions
		SET status=$2, review_note=$3, reviewed_by_name=$4, reviewed_at=NOW()
		WHERE id=$1 AND status='submitted'
	`, submissionID, status, note, reviewedBy)
	if err != nil {
		return false, fmt.Errorf("review submission: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("review submission rows: %w", err)
	}
	return affected > 0, nil
}
