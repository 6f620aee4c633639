package models

import (
	"time"

	"github.com/google/uuid"
)

// Operator is a back-office user who manages bookings, coupons and payouts
type Operator struct {
	ID           uuid.UUID   `db:"id" json:"id"`
	Email        string      `db:"email" json:"email"`
	PasswordHash string      `db:"password_hash" json:"-"`
	FullName     string      `db:"full_name" json:"full_name"`
	Roles        StringArray `db:"roles" json:"roles"`
	IsActive     bool        `db:"is_active" json:"is_active"`
	LastLoginAt  *time.Time  `db:"last_login_at" json:"last_login_at,omitempty"`
	CreatedBy    *uuid.UUID  `db:"created_by" json:"created_by,omitempty"`
	CreatedAt    time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at" json:"updated_at"`
}

// OperatorRefreshToken is a stored, hashed refresh token
type OperatorRefreshToken struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	OperatorID uuid.UUID  `db:"operator_id" json:"operator_id"`
	TokenHash  string     `db:"token_hash" json:"-"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	ExpiresAt  time.Time  `db:"expires_at" json:"expires_at"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	Revoked    bool       `db:"revoked" json:"revoked"`
	RevokedAt  *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
}

// OperatorLoginRequest is the login payload
type OperatorLoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// OperatorRefreshRequest carries a refresh token for rotation or revocation
type OperatorRefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// OperatorChangePasswordRequest is the password change payload
type OperatorChangePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=8"`
}

// OperatorLoginResponse is returned from login and refresh
type OperatorLoginResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	Operator     *Operator `json:"operator"`
}
