// Package service provides the identity logic of the development API:
// pilot and email sign-in, registration and token issuing, delegating
// persistence to a UserRepository.
package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/atinyakov/koracockpit/internal/models"
	"github.com/atinyakov/koracockpit/internal/repository"
)

var (
	// ErrInvalidCredentials signals a wrong email, password or pilot secret.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrInvalidRole signals a pilot role other than operator or anchor.
	ErrInvalidRole = errors.New("auth: role must be operator or anchor")
	// ErrInvalidRequest signals a missing email or password.
	ErrInvalidRequest = errors.New("auth: email and password are required")
	// ErrWeakPassword signals a password shorter than MinPasswordLen.
	ErrWeakPassword = errors.New("auth: password must be at least 8 characters")
	// ErrEmailTaken signals a registration for an existing email.
	ErrEmailTaken = errors.New("auth: user already exists")
	// ErrUserNotFound signals an authenticated id with no user behind it.
	ErrUserNotFound = errors.New("auth: user not found")
)

// MinPasswordLen is the shortest accepted password for email accounts.
const MinPasswordLen = 8

// UserRepository defines the persistence operations required by the service.
type UserRepository interface {
	CreateUser(ctx context.Context, u models.User) error
	UpsertUser(ctx context.Context, u models.User) error
	GetUserByID(ctx context.Context, id string) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
	GetWallet(ctx context.Context, userID string) (models.Wallet, error)
}

// Options configures token issuing and pilot secrets.
type Options struct {
	Secret         []byte
	TTL            time.Duration
	PilotPasswords map[models.Role]string
}

// Claims is the payload of issued tokens.
type Claims struct {
	RegionID string `json:"regionId,omitempty"`
	jwt.RegisteredClaims
}

// Service implements the identity endpoints.
type Service struct {
	repo UserRepository
	opts Options
	now  func() time.Time
}

// NewAuthService constructs a Service using the provided repository.
func NewAuthService(repo UserRepository, opts Options) *Service {
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	return &Service{repo: repo, opts: opts, now: time.Now}
}

// PilotUser returns the shared account signed in for a pilot role.
func PilotUser(role models.Role) models.User {
	return models.User{
		ID:       "pilot-" + string(role),
		Name:     "Pilot " + string(role),
		Role:     role,
		RegionID: models.DefaultRegion,
	}
}

// PilotLogin checks the shared secret of role and signs in its pilot user.
func (s *Service) PilotLogin(ctx context.Context, role models.Role, password string) (models.AuthResponse, error) {
	if !role.Valid() {
		return models.AuthResponse{}, ErrInvalidRole
	}
	want, ok := s.opts.PilotPasswords[role]
	if !ok || want == "" || subtle.ConstantTimeCompare([]byte(want), []byte(password)) != 1 {
		return models.AuthResponse{}, ErrInvalidCredentials
	}

	u := PilotUser(role)
	if err := s.repo.UpsertUser(ctx, u); err != nil {
		return models.AuthResponse{}, fmt.Errorf("auth: save pilot user: %w", err)
	}
	return s.respond(u)
}

// Login authenticates an email account.
func (s *Service) Login(ctx context.Context, email, password string) (models.AuthResponse, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return models.AuthResponse{}, ErrInvalidRequest
	}

	u, err := s.repo.GetUserByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return models.AuthResponse{}, ErrInvalidCredentials
	}
	if err != nil {
		return models.AuthResponse{}, err
	}
	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return models.AuthResponse{}, ErrInvalidCredentials
	}
	return s.respond(u)
}

// Register creates an email account with an empty wallet and signs it in.
func (s *Service) Register(ctx context.Context, email, password, name string) (models.AuthResponse, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return models.AuthResponse{}, ErrInvalidRequest
	}
	if len(password) < MinPasswordLen {
		return models.AuthResponse{}, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.AuthResponse{}, fmt.Errorf("auth: hash password: %w", err)
	}
	u := models.User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         strings.TrimSpace(name),
		RegionID:     models.DefaultRegion,
		PasswordHash: hash,
	}
	if err := s.repo.CreateUser(ctx, u); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return models.AuthResponse{}, ErrEmailTaken
		}
		return models.AuthResponse{}, err
	}
	return s.respond(u)
}

// Me returns the user and wallet of userID. A missing wallet is reported as nil.
func (s *Service) Me(ctx context.Context, userID string) (models.Me, error) {
	u, err := s.repo.GetUserByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return models.Me{}, ErrUserNotFound
	}
	if err != nil {
		return models.Me{}, err
	}

	me := models.Me{User: &u}
	w, err := s.repo.GetWallet(ctx, userID)
	switch {
	case err == nil:
		me.Wallet = &w
	case !errors.Is(err, repository.ErrNotFound):
		return models.Me{}, err
	}
	return me, nil
}

// VerifyToken validates an HS256 token and returns its subject.
func (s *Service) VerifyToken(token string) (string, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.opts.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return "", fmt.Errorf("auth: parse token: %w", err)
	}
	if claims.Subject == "" {
		return "", errors.New("auth: token has no subject")
	}
	return claims.Subject, nil
}

func (s *Service) respond(u models.User) (models.AuthResponse, error) {
	token, err := s.issue(u)
	if err != nil {
		return models.AuthResponse{}, fmt.Errorf("auth: generate token: %w", err)
	}
	u.PasswordHash = nil
	return models.AuthResponse{User: u, Token: token}, nil
}

func (s *Service) issue(u models.User) (string, error) {
	now := s.now()
	claims := Claims{
		RegionID: u.RegionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.opts.TTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.opts.Secret)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
