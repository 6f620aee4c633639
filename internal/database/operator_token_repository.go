package database

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/expertlane/consult-backend/internal/models"
)

// OperatorTokenRepository handles operator refresh token database operations.
// Tokens are stored as SHA-256 hashes, never in the clear.
type OperatorTokenRepository struct {
	db DB
}

// NewOperatorTokenRepository creates a new operator token repository
func NewOperatorTokenRepository(db DB) *OperatorTokenRepository {
	return &OperatorTokenRepository{
		db: db,
	}
}

func hashOperatorToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// Store persists a refresh token hash for an operator
func (r *OperatorTokenRepository) Store(operatorID uuid.UUID, token string, expiresAt time.Time) error {
	query := `
		INSERT INTO operator_refresh_tokens (operator_id, token_hash, expires_at)
		VALUES ($1, $2, $3)
	`

	_, err := r.db.Exec(query, operatorID, hashOperatorToken(token), expiresAt)
	if err != nil {
		return fmt.Errorf("failed to store refresh token: %w", err)
	}

	return nil
}

// Get retrieves a stored refresh token by its hash, or nil when unknown
func (r *OperatorTokenRepository) Get(token string) (*models.OperatorRefreshToken, error) {
	var stored models.OperatorRefreshToken

	query := `
		SELECT id, operator_id, token_hash, created_at, expires_at,
		       last_used_at, revoked, revoked_at
		FROM operator_refresh_tokens
		WHERE token_hash = $1
	`

	err := r.db.Get(&stored, query, hashOperatorToken(token))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}

	return &stored, nil
}

// Revoke marks a refresh token as revoked
func (r *OperatorTokenRepository) Revoke(token string) error {
	query := `
		UPDATE operator_refresh_tokens
		SET revoked = TRUE,
		    revoked_at = $1
		WHERE token_hash = $2 AND revoked = FALSE
	`

	result, err := r.db.Exec(query, time.Now(), hashOperatorToken(token))
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("token not found or already revoked")
	}

	return nil
}

// RevokeAllForOperator revokes every active refresh token for an operator,
// used after a password change
func (r *OperatorTokenRepository) RevokeAllForOperator(operatorID uuid.UUID) error {
	query := `
		UPDATE operator_refresh_tokens
		SET revoked = TRUE,
		    revoked_at = $1
		WHERE operator_id = $2 AND revoked = FALSE
	`

	_, err := r.db.Exec(query, time.Now(), operatorID)
	if err != nil {
		return fmt.Errorf("failed to revoke operator tokens: %w", err)
	}

	return nil
}

// UpdateLastUsed stamps the token's last successful refresh
func (r *OperatorTokenRepository) UpdateLastUsed(token string) error {
	query := `
		UPDATE operator_refresh_tokens
		SET last_used_at = $1
		WHERE token_hash = $2
	`

	_, err := r.db.Exec(query, time.Now(), hashOperatorToken(token))
	if err != nil {
		return fmt.Errorf("failed to update token last used timestamp: %w", err)
	}

	return nil
}

// CleanupExpired removes refresh tokens past their expiry
func (r *OperatorTokenRepository) CleanupExpired() (int64, error) {
	query := `DELETE FROM operator_refresh_tokens WHERE expires_at < $1`

	result, err := r.db.Exec(query, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired tokens: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}
