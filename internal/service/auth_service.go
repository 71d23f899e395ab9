package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"careflow/internal/domain"
	"careflow/pkg/auth"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountInactive    = errors.New("account is inactive")
	ErrWeakPassword       = errors.New("password must be at least 10 characters and mix letters and digits")
)

type UserRepository interface {
	Create(ctx context.Context, u *domain.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	RecordLogin(ctx context.Context, id uuid.UUID) error
}

type RegisterUserCommand struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Role      domain.Role
}

type AuthService struct {
	userRepo   UserRepository
	jwtManager *auth.JWTManager
	log        *zap.Logger
}

func NewAuthService(userRepo UserRepository, jwtManager *auth.JWTManager, log *zap.Logger) *AuthService {
	return &AuthService{userRepo: userRepo, jwtManager: jwtManager, log: log}
}

// Register creates a patient or doctor account. Admin accounts are
// provisioned out of band, never through this endpoint.
func (s *AuthService) Register(ctx context.Context, cmd *RegisterUserCommand) (*domain.User, error) {
	if cmd.Role != domain.RolePatient && cmd.Role != domain.RoleDoctor {
		return nil, domain.ErrInvalidRole
	}

	email := strings.ToLower(strings.TrimSpace(cmd.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, &ValidationError{Fields: []string{"email must be a valid address"}}
	}

	if err := validatePasswordStrength(cmd.Password); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cmd.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	u := &domain.User{
		Email:        email,
		PasswordHash: string(hash),
		FirstName:    strings.TrimSpace(cmd.FirstName),
		LastName:     strings.TrimSpace(cmd.LastName),
		Role:         cmd.Role,
		IsActive:     true,
	}

	if err := s.userRepo.Create(ctx, u); err != nil {
		return nil, err
	}

	s.log.Info("user registered",
		zap.String("user_id", u.ID.String()),
		zap.String("role", string(u.Role)),
	)
	return u, nil
}

func (s *AuthService) Login(ctx context.Context, email, password, ip string) (*domain.TokenPair, error) {
	user, err := s.userRepo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		// Burn a bcrypt comparison so response time does not reveal
		// whether the email exists.
		_, _ = bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		return nil, ErrInvalidCredentials
	}

	if !user.IsActive {
		return nil, ErrAccountInactive
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.log.Warn("failed login attempt",
			zap.String("email", email),
			zap.String("ip", ip),
		)
		return nil, ErrInvalidCredentials
	}

	_ = s.userRepo.RecordLogin(ctx, user.ID)

	pair, err := s.jwtManager.GenerateTokenPair(&domain.Claims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
	})
	if err != nil {
		s.log.Error("failed to generate token pair", zap.Error(err))
		return nil, fmt.Errorf("generating tokens: %w", err)
	}

	s.log.Info("user logged in",
		zap.String("user_id", user.ID.String()),
		zap.String("ip", ip),
	)
	return pair, nil
}

// RefreshToken issues a new token pair given a valid refresh token.
func (s *AuthService) RefreshToken(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	claims, err := s.jwtManager.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	// Re-validate the user is still active.
	user, err := s.userRepo.GetByID(ctx, claims.UserID)
	if err != nil || !user.IsActive {
		return nil, ErrInvalidCredentials
	}

	return s.jwtManager.GenerateTokenPair(&domain.Claims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
	})
}

func validatePasswordStrength(password string) error {
	if len(password) < 10 {
		return ErrWeakPassword
	}
	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		return ErrWeakPassword
	}
	return nil
}
