package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/expertlane/consult-backend/internal/models"
)

// OperatorRepository handles operator account database operations
type OperatorRepository struct {
	db DB
}

// NewOperatorRepository creates a new operator repository
func NewOperatorRepository(db DB) *OperatorRepository {
	return &OperatorRepository{
		db: db,
	}
}

const operatorColumns = `id, email, password_hash, full_name, roles, is_active,
	last_login_at, created_by, created_at, updated_at`

// Create inserts a new operator account
func (r *OperatorRepository) Create(ctx context.Context, operator *models.Operator) error {
	if operator.ID == uuid.Nil {
		operator.ID = uuid.New()
	}
	operator.Email = strings.ToLower(strings.TrimSpace(operator.Email))

	query := `
		INSERT INTO operators (id, email, password_hash, full_name, roles, is_active, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(
		query,
		operator.ID,
		operator.Email,
		operator.PasswordHash,
		operator.FullName,
		operator.Roles,
		operator.IsActive,
		operator.CreatedBy,
	).Scan(&operator.CreatedAt, &operator.UpdatedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return &models.ConflictError{Resource: "operator", Message: "email already registered"}
		}
		return fmt.Errorf("failed to create operator: %w", err)
	}

	return nil
}

// GetByEmail retrieves an operator by email, or nil when none exists
func (r *OperatorRepository) GetByEmail(ctx context.Context, email string) (*models.Operator, error) {
	var operator models.Operator

	query := fmt.Sprintf(`SELECT %s FROM operators WHERE email = $1`, operatorColumns)

	err := r.db.Get(&operator, query, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get operator by email: %w", err)
	}

	return &operator, nil
}

// GetByID retrieves an operator by ID
func (r *OperatorRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Operator, error) {
	var operator models.Operator

	query := fmt.Sprintf(`SELECT %s FROM operators WHERE id = $1`, operatorColumns)

	err := r.db.Get(&operator, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get operator: %w", err)
	}

	return &operator, nil
}

// UpdateLastLogin stamps the operator's last successful login
func (r *OperatorRepository) UpdateLastLogin(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE operators SET last_login_at = $1, updated_at = $1 WHERE id = $2`

	_, err := r.db.Exec(query, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}

	return nil
}

// UpdatePassword replaces the operator's password hash
func (r *OperatorRepository) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	query := `UPDATE operators SET password_hash = $1, updated_at = $2 WHERE id = $3`

	result, err := r.db.Exec(query, passwordHash, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("operator not found")
	}

	return nil
}

// List retrieves all operator accounts, newest first
func (r *OperatorRepository) List(ctx context.Context) ([]*models.Operator, error) {
	var operators []*models.Operator

	query := fmt.Sprintf(`SELECT %s FROM operators ORDER BY created_at DESC`, operatorColumns)

	err := r.db.Select(&operators, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list operators: %w", err)
	}

	return operators, nil
}
