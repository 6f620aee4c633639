package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/expertlane/consult-backend/internal/database"
	"github.com/expertlane/consult-backend/internal/models"
	"github.com/expertlane/consult-backend/pkg/jwt"
)

// OperatorAuthService handles operator authentication business logic
type OperatorAuthService struct {
	operatorRepo       *database.OperatorRepository
	tokenRepo          *database.OperatorTokenRepository
	jwtService         *jwt.Service
	accessTokenExpiry  time.Duration
	refreshTokenExpiry time.Duration
	logger             *logrus.Logger
}

// NewOperatorAuthService creates a new operator auth service
func NewOperatorAuthService(
	operatorRepo *database.OperatorRepository,
	tokenRepo *database.OperatorTokenRepository,
	jwtService *jwt.Service,
	accessTokenExpiry time.Duration,
	refreshTokenExpiry time.Duration,
	logger *logrus.Logger,
) *OperatorAuthService {
	return &OperatorAuthService{
		operatorRepo:       operatorRepo,
		tokenRepo:          tokenRepo,
		jwtService:         jwtService,
		accessTokenExpiry:  accessTokenExpiry,
		refreshTokenExpiry: refreshTokenExpiry,
		logger:             logger,
	}
}

// Login authenticates an operator and returns an access/refresh token pair
func (s *OperatorAuthService) Login(ctx context.Context, email, password string) (*models.OperatorLoginResponse, error) {
	operator, err := s.operatorRepo.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up operator: %w", err)
	}
	if operator == nil {
		return nil, fmt.Errorf("invalid email or password")
	}

	if !operator.IsActive {
		return nil, fmt.Errorf("account is inactive")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(operator.PasswordHash), []byte(password)); err != nil {
		return nil, fmt.Errorf("invalid email or password")
	}

	accessToken, err := s.jwtService.GenerateAccessToken(operator.ID, operator.Email, operator.Roles)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	refreshToken, err := s.jwtService.GenerateRefreshToken(operator.ID, operator.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	expiresAt := time.Now().Add(s.refreshTokenExpiry)
	if err := s.tokenRepo.Store(operator.ID, refreshToken, expiresAt); err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}

	if err := s.operatorRepo.UpdateLastLogin(ctx, operator.ID); err != nil {
		s.logger.WithError(err).WithField("operator_id", operator.ID).
			Warn("Failed to update last login")
	}

	return &models.OperatorLoginResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.accessTokenExpiry.Seconds()),
		Operator:     operator,
	}, nil
}

// Refresh issues a new access token from a valid, unrevoked refresh token
func (s *OperatorAuthService) Refresh(ctx context.Context, refreshToken string) (*models.OperatorLoginResponse, error) {
	claims, err := s.jwtService.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, fmt.Errorf("invalid refresh token: %w", err)
	}

	stored, err := s.tokenRepo.Get(refreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to look up refresh token: %w", err)
	}
	if stored == nil {
		return nil, fmt.Errorf("refresh token not found")
	}
	if stored.Revoked {
		return nil, fmt.Errorf("refresh token has been revoked")
	}
	if time.Now().After(stored.ExpiresAt) {
		return nil, fmt.Errorf("refresh token has expired")
	}

	operator, err := s.operatorRepo.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up operator: %w", err)
	}
	if operator == nil {
		return nil, fmt.Errorf("operator not found")
	}
	if !operator.IsActive {
		return nil, fmt.Errorf("account is inactive")
	}

	accessToken, err := s.jwtService.GenerateAccessToken(operator.ID, operator.Email, operator.Roles)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	if err := s.tokenRepo.UpdateLastUsed(refreshToken); err != nil {
		s.logger.WithError(err).Warn("Failed to update refresh token last used timestamp")
	}

	return &models.OperatorLoginResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.accessTokenExpiry.Seconds()),
		Operator:     operator,
	}, nil
}

// Logout revokes the refresh token
func (s *OperatorAuthService) Logout(ctx context.Context, refreshToken string) error {
	return s.tokenRepo.Revoke(refreshToken)
}

// ChangePassword verifies the old password, stores a new hash and revokes
// every outstanding refresh token for the operator
func (s *OperatorAuthService) ChangePassword(ctx context.Context, operatorID uuid.UUID, oldPassword, newPassword string) error {
	operator, err := s.operatorRepo.GetByID(ctx, operatorID)
	if err != nil {
		return fmt.Errorf("failed to look up operator: %w", err)
	}
	if operator == nil {
		return fmt.Errorf("operator not found")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(operator.PasswordHash), []byte(oldPassword)); err != nil {
		return fmt.Errorf("incorrect old password")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := s.operatorRepo.UpdatePassword(ctx, operatorID, string(hashed)); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	if err := s.tokenRepo.RevokeAllForOperator(operatorID); err != nil {
		s.logger.WithError(err).WithField("operator_id", operatorID).
			Warn("Failed to revoke refresh tokens after password change")
	}

	return nil
}

// CreateOperator provisions a new operator account
func (s *OperatorAuthService) CreateOperator(ctx context.Context, email, password, fullName string, roles []string, createdBy uuid.UUID) (*models.Operator, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	if len(roles) == 0 {
		roles = []string{"operator"}
	}

	operator := &models.Operator{
		Email:        email,
		PasswordHash: string(hashed),
		FullName:     fullName,
		Roles:        roles,
		IsActive:     true,
		CreatedBy:    &createdBy,
	}

	if err := s.operatorRepo.Create(ctx, operator); err != nil {
		return nil, err
	}

	return operator, nil
}

// CleanupExpiredTokens removes refresh tokens past their expiry
func (s *OperatorAuthService) CleanupExpiredTokens() (int64, error) {
	return s.tokenRepo.CleanupExpired()
}

// GetProfile retrieves an operator's profile
func (s *OperatorAuthService) GetProfile(ctx context.Context, operatorID uuid.UUID) (*models.Operator, error) {
	operator, err := s.operatorRepo.GetByID(ctx, operatorID)
	if err != nil {
		return nil, err
	}
	if operator == nil {
		return nil, fmt.Errorf("operator not found")
	}
	return operator, nil
}
