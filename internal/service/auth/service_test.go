package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/TheBlueGeneral/dockmate/internal/domain"
	"github.com/TheBlueGeneral/dockmate/internal/repository"
	"github.com/TheBlueGeneral/dockmate/pkg/config"
	"github.com/TheBlueGeneral/dockmate/pkg/crypto"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCfg() config.APIConfig {
	return config.APIConfig{
		JWTSecret:      "test-secret",
		AccessTokenTTL: time.Hour,
		OTPTTL:         5 * time.Minute,
	}
}

type userRepoMock struct {
	createFunc       func(ctx context.Context, user *domain.User) error
	getByEmailFunc   func(ctx context.Context, email string) (*domain.User, error)
	getByIDFunc      func(ctx context.Context, id string) (*domain.User, error)
	updatePassFunc   func(ctx context.Context, userID string, hash []byte) error
	upsertResetFunc  func(ctx context.Context, reset *domain.PasswordReset) error
	getResetFunc     func(ctx context.Context, email string) (*domain.PasswordReset, error)
	markVerifiedFunc func(ctx context.Context, email string) error
	deleteResetFunc  func(ctx context.Context, email string) error
}

func (m userRepoMock) CreateUser(ctx context.Context, user *domain.User) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, user)
	}
	return nil
}

func (m userRepoMock) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	if m.getByEmailFunc != nil {
		return m.getByEmailFunc(ctx, email)
	}
	return nil, repository.ErrNotFound
}

func (m userRepoMock) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	if m.getByIDFunc != nil {
		return m.getByIDFunc(ctx, id)
	}
	return nil, repository.ErrNotFound
}

func (m userRepoMock) UpdateUserPassword(ctx context.Context, userID string, hash []byte) error {
	if m.updatePassFunc != nil {
		return m.updatePassFunc(ctx, userID, hash)
	}
	return nil
}

func (m userRepoMock) UpsertPasswordReset(ctx context.Context, reset *domain.PasswordReset) error {
	if m.upsertResetFunc != nil {
		return m.upsertResetFunc(ctx, reset)
	}
	return nil
}

func (m userRepoMock) GetPasswordReset(ctx context.Context, email string) (*domain.PasswordReset, error) {
	if m.getResetFunc != nil {
		return m.getResetFunc(ctx, email)
	}
	return nil, repository.ErrNotFound
}

func (m userRepoMock) MarkPasswordResetVerified(ctx context.Context, email string) error {
	if m.markVerifiedFunc != nil {
		return m.markVerifiedFunc(ctx, email)
	}
	return nil
}

func (m userRepoMock) DeletePasswordReset(ctx context.Context, email string) error {
	if m.deleteResetFunc != nil {
		return m.deleteResetFunc(ctx, email)
	}
	return nil
}

type mailerMock struct {
	to      string
	subject string
	body    string
	err     error
}

func (m *mailerMock) Send(ctx context.Context, to, subject, htmlBody string) error {
	m.to = to
	m.subject = subject
	m.body = htmlBody
	return m.err
}

func TestSignupIssuesToken(t *testing.T) {
	var stored *domain.User
	repo := userRepoMock{
		createFunc: func(_ context.Context, user *domain.User) error {
			stored = user
			return nil
		},
	}
	svc := New(repo, &mailerMock{}, newLogger(), testCfg())

	user, token, err := svc.Signup(context.Background(), "User@Example.com", "Testing123!")
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if user.Email != "user@example.com" {
		t.Fatalf("email not normalized: %q", user.Email)
	}
	if stored == nil || len(stored.PasswordHash) == 0 {
		t.Fatal("password hash not stored")
	}
	if err := crypto.ComparePassword(stored.PasswordHash, "Testing123!"); err != nil {
		t.Fatalf("stored hash does not match password: %v", err)
	}
	if token.AccessToken == "" || token.TokenType != "bearer" {
		t.Fatalf("token: %+v", token)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	hash, err := crypto.HashPassword("correct-password")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	repo := userRepoMock{
		getByEmailFunc: func(_ context.Context, email string) (*domain.User, error) {
			return &domain.User{ID: "user-1", Email: email, PasswordHash: hash}, nil
		},
	}
	svc := New(repo, &mailerMock{}, newLogger(), testCfg())

	if _, _, err := svc.Login(context.Background(), "user@example.com", "wrong"); err == nil {
		t.Fatal("expected login failure")
	}
}

func TestAuthorizeRoundTrip(t *testing.T) {
	user := &domain.User{ID: "user-1", Email: "user@example.com"}
	repo := userRepoMock{
		getByIDFunc: func(_ context.Context, id string) (*domain.User, error) {
			if id != user.ID {
				return nil, repository.ErrNotFound
			}
			return user, nil
		},
	}
	svc := New(repo, &mailerMock{}, newLogger(), testCfg())

	got, claims, err := svc.Authorize(context.Background(), mustToken(t, svc, user))
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if got.ID != user.ID || claims.UserID != user.ID {
		t.Fatalf("authorized wrong user: %+v", got)
	}
}

func mustToken(t *testing.T, svc Service, user *domain.User) string {
	t.Helper()
	token, err := svc.issueToken(user)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token.AccessToken
}

func TestForgotPasswordStoresAndMailsOTP(t *testing.T) {
	var stored *domain.PasswordReset
	repo := userRepoMock{
		getByEmailFunc: func(_ context.Context, email string) (*domain.User, error) {
			return &domain.User{ID: "user-1", Email: email}, nil
		},
		upsertResetFunc: func(_ context.Context, reset *domain.PasswordReset) error {
			stored = reset
			return nil
		},
	}
	mail := &mailerMock{}
	svc := New(repo, mail, newLogger(), testCfg())

	if err := svc.ForgotPassword(context.Background(), "user@example.com"); err != nil {
		t.Fatalf("forgot password: %v", err)
	}
	if stored == nil {
		t.Fatal("reset not stored")
	}
	if !regexp.MustCompile(`^\d{6}$`).MatchString(stored.OTP) {
		t.Fatalf("otp not 6 digits: %q", stored.OTP)
	}
	if time.Until(stored.ExpiresAt) <= 0 {
		t.Fatal("expiry not in future")
	}
	if mail.to != "user@example.com" {
		t.Fatalf("mail recipient: %q", mail.to)
	}
	if !regexp.MustCompile(stored.OTP).MatchString(mail.body) {
		t.Fatal("otp missing from email body")
	}
}

func TestForgotPasswordUnknownEmail(t *testing.T) {
	svc := New(userRepoMock{}, &mailerMock{}, newLogger(), testCfg())
	if err := svc.ForgotPassword(context.Background(), "nobody@example.com"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestVerifyOTPWrongCode(t *testing.T) {
	repo := userRepoMock{
		getResetFunc: func(_ context.Context, email string) (*domain.PasswordReset, error) {
			return &domain.PasswordReset{Email: email, OTP: "123456", ExpiresAt: time.Now().Add(time.Minute)}, nil
		},
	}
	svc := New(repo, &mailerMock{}, newLogger(), testCfg())

	if err := svc.VerifyOTP(context.Background(), "user@example.com", "000000"); !errors.Is(err, ErrInvalidOTP) {
		t.Fatalf("expected ErrInvalidOTP, got %v", err)
	}
}

func TestVerifyOTPExpiredCodeIsDeleted(t *testing.T) {
	deleted := false
	repo := userRepoMock{
		getResetFunc: func(_ context.Context, email string) (*domain.PasswordReset, error) {
			return &domain.PasswordReset{Email: email, OTP: "123456", ExpiresAt: time.Now().Add(-time.Minute)}, nil
		},
		deleteResetFunc: func(_ context.Context, email string) error {
			deleted = true
			return nil
		},
	}
	svc := New(repo, &mailerMock{}, newLogger(), testCfg())

	if err := svc.VerifyOTP(context.Background(), "user@example.com", "123456"); !errors.Is(err, ErrExpiredOTP) {
		t.Fatalf("expected ErrExpiredOTP, got %v", err)
	}
	if !deleted {
		t.Fatal("expired reset not deleted")
	}
}

func TestVerifyOTPMarksVerified(t *testing.T) {
	marked := false
	repo := userRepoMock{
		getResetFunc: func(_ context.Context, email string) (*domain.PasswordReset, error) {
			return &domain.PasswordReset{Email: email, OTP: "123456", ExpiresAt: time.Now().Add(time.Minute)}, nil
		},
		markVerifiedFunc: func(_ context.Context, email string) error {
			marked = true
			return nil
		},
	}
	svc := New(repo, &mailerMock{}, newLogger(), testCfg())

	if err := svc.VerifyOTP(context.Background(), "user@example.com", "123456"); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !marked {
		t.Fatal("reset not marked verified")
	}
}

func TestResetPasswordRequiresVerifiedOTP(t *testing.T) {
	repo := userRepoMock{
		getResetFunc: func(_ context.Context, email string) (*domain.PasswordReset, error) {
			return &domain.PasswordReset{Email: email, OTP: "123456", Verified: false}, nil
		},
	}
	svc := New(repo, &mailerMock{}, newLogger(), testCfg())

	if err := svc.ResetPassword(context.Background(), "user@example.com", "new-pass"); !errors.Is(err, ErrOTPNotVerified) {
		t.Fatalf("expected ErrOTPNotVerified, got %v", err)
	}
}

func TestResetPasswordUpdatesHashAndClearsReset(t *testing.T) {
	var newHash []byte
	deleted := false
	repo := userRepoMock{
		getResetFunc: func(_ context.Context, email string) (*domain.PasswordReset, error) {
			return &domain.PasswordReset{Email: email, OTP: "123456", Verified: true}, nil
		},
		getByEmailFunc: func(_ context.Context, email string) (*domain.User, error) {
			return &domain.User{ID: "user-1", Email: email}, nil
		},
		updatePassFunc: func(_ context.Context, userID string, hash []byte) error {
			newHash = hash
			return nil
		},
		deleteResetFunc: func(_ context.Context, email string) error {
			deleted = true
			return nil
		},
	}
	svc := New(repo, &mailerMock{}, newLogger(), testCfg())

	if err := svc.ResetPassword(context.Background(), "user@example.com", "new-pass"); err != nil {
		t.Fatalf("reset password: %v", err)
	}
	if err := crypto.ComparePassword(newHash, "new-pass"); err != nil {
		t.Fatalf("new hash does not match: %v", err)
	}
	if !deleted {
		t.Fatal("reset row not deleted")
	}
}
