package app

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"medscan/internal/model"
	"medscan/internal/pkg/jwtutil"
	"medscan/internal/repository"
)

var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrEmailExists           = errors.New("email already exists")
	ErrWeakPassword          = errors.New("password is too weak")
	ErrInvalidCredential     = errors.New("invalid email or password")
	ErrUserNotFound          = errors.New("user not found")
	ErrInvalidVerifyToken    = errors.New("invalid or expired verification link")
	ErrTokenRevoked          = errors.New("token has been revoked")
	ErrEmailAlreadyConfirmed = errors.New("email already verified")
)

const maxNameLength = 128

type UserStore interface {
	Create(ctx context.Context, user *model.User) error
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByGoogleID(ctx context.Context, googleID string) (*model.User, error)
	GetByID(ctx context.Context, id uint) (*model.User, error)
	Update(ctx context.Context, user *model.User) error
}

type VerificationMailer interface {
	SendVerification(toEmail, name, link string) error
}

type TokenDenylist interface {
	Revoke(tokenID string, until time.Time)
	IsRevoked(tokenID string) bool
}

type AuthConfig struct {
	JWTSecret         string
	TokenTTL          time.Duration
	VerifyTokenTTL    time.Duration
	MinPasswordLength int
	// PublicURL prefixes the verification link.
	PublicURL string
}

type AuthService struct {
	users    UserStore
	mailer   VerificationMailer
	denylist TokenDenylist
	cfg      AuthConfig
	logger   *zap.Logger
}

type RegisterInput struct {
	Email    string
	Password string
	Name     string
}

type LoginInput struct {
	Email    string
	Password string
}

type ProfileInput struct {
	Name *string
	// Avatar is a URL; an empty string clears it.
	Avatar *string
}

// GoogleProfile is the userinfo returned by Google after consent.
type GoogleProfile struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
}

type AuthResult struct {
	Token string
	User  *model.User
}

func NewAuthService(users UserStore, mailer VerificationMailer, denylist TokenDenylist, cfg AuthConfig, logger *zap.Logger) *AuthService {
	if cfg.MinPasswordLength <= 0 {
		cfg.MinPasswordLength = 6
	}
	if cfg.VerifyTokenTTL <= 0 {
		cfg.VerifyTokenTTL = 24 * time.Hour
	}
	return &AuthService{
		users:    users,
		mailer:   mailer,
		denylist: denylist,
		cfg:      cfg,
		logger:   logger,
	}
}

func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*AuthResult, error) {
	email := normalizeEmail(input.Email)
	name := strings.TrimSpace(input.Name)
	if !validEmail(email) || utf8.RuneCountInString(name) > maxNameLength {
		return nil, ErrInvalidInput
	}
	if utf8.RuneCountInString(input.Password) < s.cfg.MinPasswordLength {
		return nil, ErrWeakPassword
	}

	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password failed: %w", err)
	}

	user := &model.User{
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrEmailExists
		}
		return nil, err
	}

	s.logger.Info("user registered", zap.Uint("user_id", user.ID))
	return s.issue(user)
}

func (s *AuthService) Login(ctx context.Context, input LoginInput) (*AuthResult, error) {
	email := normalizeEmail(input.Email)
	if email == "" || input.Password == "" {
		return nil, ErrInvalidCredential
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.HasPassword() {
		return nil, ErrInvalidCredential
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)); err != nil {
		return nil, ErrInvalidCredential
	}
	return s.issue(user)
}

// Authenticate validates an access token and rejects revoked ones.
func (s *AuthService) Authenticate(token string) (*jwtutil.Claims, error) {
	claims, err := jwtutil.ParseToken(s.cfg.JWTSecret, token)
	if err != nil {
		return nil, err
	}
	if s.denylist != nil && s.denylist.IsRevoked(claims.ID) {
		return nil, ErrTokenRevoked
	}
	return claims, nil
}

// Logout revokes the token described by claims until it expires.
func (s *AuthService) Logout(claims *jwtutil.Claims) {
	if s.denylist == nil || claims == nil || claims.ExpiresAt == nil {
		return
	}
	s.denylist.Revoke(claims.ID, claims.ExpiresAt.Time)
}

func (s *AuthService) GetUserByID(ctx context.Context, id uint) (*model.User, error) {
	if id == 0 {
		return nil, ErrInvalidInput
	}
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// UpdateProfile applies the non-nil fields of input and returns the stored user.
func (s *AuthService) UpdateProfile(ctx context.Context, userID uint, input ProfileInput) (*model.User, error) {
	user, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if utf8.RuneCountInString(name) > maxNameLength {
			return nil, ErrInvalidInput
		}
		user.Name = name
	}
	if input.Avatar != nil {
		avatar := strings.TrimSpace(*input.Avatar)
		switch {
		case avatar == "":
			user.AvatarURL = nil
		case validAvatarURL(avatar):
			user.AvatarURL = &avatar
		default:
			return nil, ErrInvalidInput
		}
	}

	if err := s.users.Update(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// SendVerification mails a signed confirmation link to the user.
func (s *AuthService) SendVerification(ctx context.Context, userID uint) error {
	user, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.EmailVerified {
		return ErrEmailAlreadyConfirmed
	}

	token, err := jwtutil.GenerateVerifyToken(s.cfg.JWTSecret, s.cfg.VerifyTokenTTL, user.ID, user.Email)
	if err != nil {
		return err
	}
	link := strings.TrimRight(s.cfg.PublicURL, "/") + "/api/v1/auth/verify?token=" + url.QueryEscape(token)
	if err := s.mailer.SendVerification(user.Email, user.Name, link); err != nil {
		return fmt.Errorf("send verification failed: %w", err)
	}
	return nil
}

func (s *AuthService) VerifyEmail(ctx context.Context, token string) (*model.User, error) {
	claims, err := jwtutil.ParseVerifyToken(s.cfg.JWTSecret, token)
	if err != nil {
		return nil, ErrInvalidVerifyToken
	}
	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	// the link is void once the address on the account changes
	if user == nil || user.Email != claims.Email {
		return nil, ErrInvalidVerifyToken
	}
	if user.EmailVerified {
		return user, nil
	}

	user.EmailVerified = true
	if err := s.users.Update(ctx, user); err != nil {
		return nil, err
	}
	s.logger.Info("email verified", zap.Uint("user_id", user.ID))
	return user, nil
}

// SignInWithGoogle links the Google account to an existing user or creates
// one, then issues a token.
func (s *AuthService) SignInWithGoogle(ctx context.Context, profile GoogleProfile) (*AuthResult, error) {
	email := normalizeEmail(profile.Email)
	if profile.Subject == "" || !validEmail(email) {
		return nil, ErrInvalidInput
	}

	user, err := s.users.GetByGoogleID(ctx, profile.Subject)
	if err != nil {
		return nil, err
	}
	if user != nil {
		return s.issue(user)
	}

	user, err = s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user != nil {
		// only a verified Google address may take over a password account
		if !profile.EmailVerified {
			return nil, ErrEmailExists
		}
		subject := profile.Subject
		user.GoogleID = &subject
		user.EmailVerified = true
		if user.AvatarURL == nil && validAvatarURL(profile.Picture) {
			picture := profile.Picture
			user.AvatarURL = &picture
		}
		if err := s.users.Update(ctx, user); err != nil {
			return nil, err
		}
		return s.issue(user)
	}

	subject := profile.Subject
	user = &model.User{
		Email:         email,
		Name:          strings.TrimSpace(profile.Name),
		GoogleID:      &subject,
		EmailVerified: profile.EmailVerified,
	}
	if validAvatarURL(profile.Picture) {
		picture := profile.Picture
		user.AvatarURL = &picture
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrEmailExists
		}
		return nil, err
	}
	s.logger.Info("user registered with google", zap.Uint("user_id", user.ID))
	return s.issue(user)
}

func (s *AuthService) issue(user *model.User) (*AuthResult, error) {
	token, err := jwtutil.GenerateToken(s.cfg.JWTSecret, s.cfg.TokenTTL, user.ID, user.Email)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, User: user}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	at := strings.LastIndex(email, "@")
	return at > 0 && at < len(email)-1 && !strings.ContainsAny(email, " \t\r\n")
}

func validAvatarURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
