package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"skilllink/internal/domain"
	"skilllink/internal/repository"
	"skilllink/internal/role"
)

var (
	// ErrInvalidInput wraps every request validation failure.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUserNotFound indicates that no account exists for the given email or id.
	ErrUserNotFound = errors.New("user does not exist")
	// ErrWrongPassword indicates that the account exists but the password does not match.
	ErrWrongPassword = errors.New("wrong password")
	// ErrUserAlreadyExists is returned when attempting to register with an existing email.
	ErrUserAlreadyExists = errors.New("user already exists")
	// ErrInvalidResetToken covers unknown, expired and already used reset tokens.
	ErrInvalidResetToken = errors.New("invalid or expired reset token")
)

const minPasswordLength = 8

// RegisterInput carries signup fields.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
	Role     string
}

// UserService describes user lifecycle operations.
type UserService interface {
	Register(ctx context.Context, in RegisterInput) (*domain.User, error)
	Authenticate(ctx context.Context, email, password string) (*domain.User, error)
	GetByID(ctx context.Context, id string) (*domain.User, error)
	UpdateProfile(ctx context.Context, id, name string) (*domain.User, error)
	// SetAvatar stores asset as the user's avatar and returns the public id of
	// the avatar it replaced, if any.
	SetAvatar(ctx context.Context, id string, asset domain.Asset) (*domain.User, string, error)
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, password string) error
}

// ResetConfig controls password reset links.
type ResetConfig struct {
	TTL     time.Duration
	BaseURL string
}

type userService struct {
	users    repository.UserRepository
	resets   repository.PasswordResetRepository
	notifier Notifier
	reset    ResetConfig
	now      func() time.Time
}

func NewUserService(users repository.UserRepository, resets repository.PasswordResetRepository, notifier Notifier, reset ResetConfig) UserService {
	if reset.TTL <= 0 {
		reset.TTL = time.Hour
	}
	return &userService{
		users:    users,
		resets:   resets,
		notifier: notifier,
		reset:    reset,
		now:      time.Now,
	}
}

func (s *userService) Register(ctx context.Context, in RegisterInput) (*domain.User, error) {
	name := strings.TrimSpace(in.Name)
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if err := checkPassword(in.Password); err != nil {
		return nil, err
	}
	r, err := role.Parse(in.Role)
	if err != nil || r == domain.RoleAdmin {
		return nil, fmt.Errorf("%w: role must be client or freelancer", ErrInvalidInput)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &domain.User{
		Email:        email,
		Name:         name,
		Role:         r,
		PasswordHash: string(hash),
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return nil, ErrUserAlreadyExists
		}
		return nil, err
	}

	return sanitizeUser(user), nil
}

func (s *userService) Authenticate(ctx context.Context, email, password string) (*domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrWrongPassword
	}

	return sanitizeUser(user), nil
}

func (s *userService) GetByID(ctx context.Context, id string) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return sanitizeUser(user), nil
}

func (s *userService) UpdateProfile(ctx context.Context, id, name string) (*domain.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if err := s.users.UpdateName(ctx, id, name); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return s.GetByID(ctx, id)
}

func (s *userService) SetAvatar(ctx context.Context, id string, asset domain.Asset) (*domain.User, string, error) {
	current, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if err := s.users.UpdateAvatar(ctx, id, asset.URL, asset.PublicID); err != nil {
		return nil, "", err
	}
	updated, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, "", err
	}
	previous := current.AvatarID
	if previous == asset.PublicID {
		previous = ""
	}
	return updated, previous, nil
}

func (s *userService) RequestPasswordReset(ctx context.Context, email string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// unknown addresses get the same answer as known ones
			return nil
		}
		return err
	}

	raw, err := randomToken()
	if err != nil {
		return err
	}
	now := s.now().UTC()
	if err := s.resets.Create(ctx, &domain.PasswordReset{
		TokenHash: hashToken(raw),
		UserID:    user.ID,
		ExpiresAt: now.Add(s.reset.TTL),
		CreatedAt: now,
	}); err != nil {
		return err
	}

	return s.notifier.SendPasswordReset(ctx, sanitizeUser(user), s.resetLink(raw))
}

func (s *userService) ResetPassword(ctx context.Context, token, password string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%w: token is required", ErrInvalidInput)
	}
	if err := checkPassword(password); err != nil {
		return err
	}

	hashed := hashToken(token)
	reset, err := s.resets.Get(ctx, hashed)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidResetToken
		}
		return err
	}
	now := s.now().UTC()
	if reset.UsedAt != nil || now.After(reset.ExpiresAt) {
		return ErrInvalidResetToken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.resets.Consume(ctx, hashed, now, string(hash)); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidResetToken
		}
		return err
	}
	return nil
}

func (s *userService) resetLink(token string) string {
	base := s.reset.BaseURL
	if base == "" {
		return token
	}
	u, err := url.Parse(base)
	if err != nil {
		return base + "?token=" + url.QueryEscape(token)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return "", fmt.Errorf("%w: email is malformed", ErrInvalidInput)
	}
	return email, nil
}

func checkPassword(password string) error {
	if strings.TrimSpace(password) == "" {
		return fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	if len(password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	return nil
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func sanitizeUser(user *domain.User) *domain.User {
	if user == nil {
		return nil
	}
	clean := user.Clone()
	clean.PasswordHash = ""
	return clean
}
