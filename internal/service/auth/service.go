package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/TheBlueGeneral/dockmate/internal/domain"
	"github.com/TheBlueGeneral/dockmate/internal/repository"
	"github.com/TheBlueGeneral/dockmate/pkg/config"
	"github.com/TheBlueGeneral/dockmate/pkg/crypto"
	jwtpkg "github.com/TheBlueGeneral/dockmate/pkg/jwt"
	"github.com/TheBlueGeneral/dockmate/pkg/mailer"
)

// Reset flow errors, mapped to 400s by the HTTP layer.
var (
	ErrInvalidOTP     = errors.New("invalid OTP")
	ErrExpiredOTP     = errors.New("OTP expired")
	ErrOTPNotVerified = errors.New("OTP not verified")
)

// Service handles authentication and password reset workflows.
type Service struct {
	users  repository.UserRepository
	mail   mailer.Mailer
	logger *slog.Logger
	cfg    config.APIConfig
}

// New constructs a Service.
func New(users repository.UserRepository, mail mailer.Mailer, logger *slog.Logger, cfg config.APIConfig) Service {
	return Service{users: users, mail: mail, logger: logger, cfg: cfg}
}

// Token carries an issued access token.
type Token struct {
	AccessToken string        `json:"access_token"`
	TokenType   string        `json:"token_type"`
	ExpiresIn   time.Duration `json:"expires_in"`
}

// Signup registers a new user.
func (s Service) Signup(ctx context.Context, email, password string) (*domain.User, Token, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, Token{}, errors.New("email and password are required")
	}
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return nil, Token{}, err
	}
	user := &domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, Token{}, err
	}
	token, err := s.issueToken(user)
	if err != nil {
		return nil, Token{}, err
	}
	s.logger.Info("user registered", "user_id", user.ID)
	return user, token, nil
}

// Login authenticates a user and returns a token.
func (s Service) Login(ctx context.Context, email, password string) (*domain.User, Token, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, Token{}, err
	}
	if err := crypto.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, Token{}, err
	}
	token, err := s.issueToken(user)
	if err != nil {
		return nil, Token{}, err
	}
	s.logger.Info("user logged in", "user_id", user.ID)
	return user, token, nil
}

// Authorize validates a bearer token and returns the associated user and claims.
func (s Service) Authorize(ctx context.Context, token string) (*domain.User, *jwtpkg.Claims, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil, nil, errors.New("token required")
	}
	claims, err := jwtpkg.Parse(trimmed, s.cfg.JWTSecret)
	if err != nil {
		return nil, nil, err
	}
	user, err := s.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return nil, nil, err
	}
	return user, claims, nil
}

// ForgotPassword issues a one-time code and emails it to the account holder.
// The code replaces any earlier outstanding code for the same address.
func (s Service) ForgotPassword(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := s.users.GetUserByEmail(ctx, email); err != nil {
		return err
	}
	otp, err := generateOTP()
	if err != nil {
		return err
	}
	reset := &domain.PasswordReset{
		Email:     email,
		OTP:       otp,
		ExpiresAt: time.Now().UTC().Add(s.cfg.OTPTTL),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.users.UpsertPasswordReset(ctx, reset); err != nil {
		return err
	}
	body := mailer.OTPBody(otp, int(s.cfg.OTPTTL.Minutes()))
	if err := s.mail.Send(ctx, email, "Password Reset OTP", body); err != nil {
		return fmt.Errorf("send reset email: %w", err)
	}
	s.logger.Info("password reset requested", "email", email)
	return nil
}

// VerifyOTP checks a submitted code and marks the reset verified.
func (s Service) VerifyOTP(ctx context.Context, email, otp string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	reset, err := s.users.GetPasswordReset(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidOTP
		}
		return err
	}
	if reset.OTP != strings.TrimSpace(otp) {
		return ErrInvalidOTP
	}
	if time.Now().UTC().After(reset.ExpiresAt) {
		_ = s.users.DeletePasswordReset(ctx, email)
		return ErrExpiredOTP
	}
	return s.users.MarkPasswordResetVerified(ctx, email)
}

// ResetPassword replaces the password for an account with a verified code.
func (s Service) ResetPassword(ctx context.Context, email, newPassword string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	reset, err := s.users.GetPasswordReset(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrOTPNotVerified
		}
		return err
	}
	if !reset.Verified {
		return ErrOTPNotVerified
	}
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return err
	}
	hash, err := crypto.HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.users.UpdateUserPassword(ctx, user.ID, hash); err != nil {
		return err
	}
	if err := s.users.DeletePasswordReset(ctx, email); err != nil {
		return err
	}
	s.logger.Info("password reset completed", "user_id", user.ID)
	return nil
}

func (s Service) issueToken(user *domain.User) (Token, error) {
	access, err := jwtpkg.GenerateToken(user.ID, user.Email, s.cfg.JWTSecret, s.cfg.AccessTokenTTL)
	if err != nil {
		return Token{}, err
	}
	return Token{AccessToken: access, TokenType: "bearer", ExpiresIn: s.cfg.AccessTokenTTL}, nil
}

// generateOTP returns a 6-digit numeric code.
func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
