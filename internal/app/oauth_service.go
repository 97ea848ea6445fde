package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const googleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

var (
	ErrOAuthDisabled     = errors.New("google sign-in is not configured")
	ErrInvalidRedirect   = errors.New("redirect_uri must be a loopback http url")
	ErrInvalidOAuthState = errors.New("unknown or expired oauth state")
)

type OAuthStateStore interface {
	Put(state, redirectURI string)
	Take(state string) (string, bool)
}

type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Endpoint and UserInfoURL default to Google's.
	Endpoint    oauth2.Endpoint
	UserInfoURL string
}

type GoogleOAuthService struct {
	conf        *oauth2.Config
	userInfoURL string
	states      OAuthStateStore
	auth        *AuthService
	logger      *zap.Logger
}

func NewGoogleOAuthService(cfg GoogleOAuthConfig, states OAuthStateStore, auth *AuthService, logger *zap.Logger) *GoogleOAuthService {
	if cfg.Endpoint.AuthURL == "" {
		cfg.Endpoint = google.Endpoint
	}
	if cfg.UserInfoURL == "" {
		cfg.UserInfoURL = googleUserInfoURL
	}
	var conf *oauth2.Config
	if cfg.ClientID != "" {
		conf = &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     cfg.Endpoint,
		}
	}
	return &GoogleOAuthService{
		conf:        conf,
		userInfoURL: cfg.UserInfoURL,
		states:      states,
		auth:        auth,
		logger:      logger,
	}
}

// LoginURL starts a flow that will finish by redirecting to redirectURI,
// which must point at the caller's loopback listener.
func (s *GoogleOAuthService) LoginURL(redirectURI string) (string, error) {
	if s.conf == nil {
		return "", ErrOAuthDisabled
	}
	if !isLoopbackURL(redirectURI) {
		return "", ErrInvalidRedirect
	}
	state, err := randomState()
	if err != nil {
		return "", err
	}
	s.states.Put(state, redirectURI)
	return s.conf.AuthCodeURL(state, oauth2.AccessTypeOnline), nil
}

// Callback finishes the flow and returns where to send the browser: the
// loopback URI with either ?token= or ?error=.
func (s *GoogleOAuthService) Callback(ctx context.Context, state, code, denied string) (string, error) {
	if s.conf == nil {
		return "", ErrOAuthDisabled
	}
	redirectURI, ok := s.states.Take(state)
	if !ok {
		return "", ErrInvalidOAuthState
	}
	if denied != "" {
		return withQuery(redirectURI, "error", denied), nil
	}
	if code == "" {
		return withQuery(redirectURI, "error", "missing_code"), nil
	}

	profile, err := s.fetchProfile(ctx, code)
	if err != nil {
		s.logger.Warn("google oauth exchange failed", zap.Error(err))
		return withQuery(redirectURI, "error", "exchange_failed"), nil
	}

	result, err := s.auth.SignInWithGoogle(ctx, *profile)
	if err != nil {
		reason := "sign_in_failed"
		if errors.Is(err, ErrEmailExists) {
			reason = "email_in_use"
		}
		s.logger.Warn("google sign-in rejected", zap.Error(err))
		return withQuery(redirectURI, "error", reason), nil
	}
	return withQuery(redirectURI, "token", result.Token), nil
}

type googleUserInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

func (s *GoogleOAuthService) fetchProfile(ctx context.Context, code string) (*GoogleProfile, error) {
	token, err := s.conf.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange code failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build userinfo request failed: %w", err)
	}
	resp, err := s.conf.Client(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch userinfo failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read userinfo failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("userinfo status %d", resp.StatusCode)
	}

	var info googleUserInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decode userinfo failed: %w", err)
	}
	return &GoogleProfile{
		Subject:       info.Sub,
		Email:         info.Email,
		EmailVerified: info.EmailVerified,
		Name:          info.Name,
		Picture:       info.Picture,
	}, nil
}

func isLoopbackURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "http" || u.User != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func withQuery(raw, key, value string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}

func randomState() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate oauth state failed: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
