package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"medscan/pkg/apicode"
	"medscan/pkg/failure"
	"medscan/pkg/predict"
)

const (
	defaultPopupTimeout = 5 * time.Minute
	restoreTimeout      = 10 * time.Second
)

// Opener shows url to the user, typically by launching a browser.
type Opener func(url string) error

type HTTPProviderConfig struct {
	BaseURL    string
	HTTPClient *http.Client
	// Token restores a previous session; validated against /auth/me at startup.
	Token        string
	Opener       Opener
	PopupTimeout time.Duration
	Logger       *zap.Logger
}

// HTTPProvider is a Provider backed by the medscan REST API.
type HTTPProvider struct {
	baseURL      string
	httpClient   *http.Client
	opener       Opener
	popupTimeout time.Duration
	logger       *zap.Logger

	mu    sync.RWMutex
	token string
	user  *User
	ready bool
	// gen counts session changes made by sign-in and sign-out calls.
	gen uint64

	events *emitter
}

var _ Provider = (*HTTPProvider)(nil)

func NewHTTPProvider(cfg HTTPProviderConfig) *HTTPProvider {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.PopupTimeout <= 0 {
		cfg.PopupTimeout = defaultPopupTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	p := &HTTPProvider{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:   cfg.HTTPClient,
		opener:       cfg.Opener,
		popupTimeout: cfg.PopupTimeout,
		logger:       cfg.Logger,
		events:       newEmitter(),
	}
	go p.restore(cfg.Token)
	return p
}

// restore validates the stored token. Its result is dropped when a sign-in
// or sign-out finished first; that call already published the newer state.
func (p *HTTPProvider) restore(token string) {
	p.mu.RLock()
	startGen := p.gen
	p.mu.RUnlock()

	var user *User
	if token != "" {
		ctx, cancel := context.WithTimeout(context.Background(), restoreTimeout)
		defer cancel()
		u, err := p.fetchMe(ctx, token)
		if err != nil {
			p.logger.Warn("restore session failed", zap.Error(err))
			token = ""
		} else {
			user = u
		}
	}

	p.mu.Lock()
	if p.gen != startGen {
		p.mu.Unlock()
		p.logger.Debug("restored session superseded")
		return
	}
	p.token = token
	p.user = user
	p.ready = true
	p.mu.Unlock()
	p.events.publish(user)
}

// OnAuthStateChanged subscribes fn. If the provider has already restored
// its state, fn receives the current user as its first callback; otherwise
// the first callback arrives when restoring completes.
func (p *HTTPProvider) OnAuthStateChanged(fn Listener) func() {
	p.mu.RLock()
	ready := p.ready
	current := p.user.Clone()
	p.mu.RUnlock()
	return p.events.subscribe(fn, ready, current)
}

func (p *HTTPProvider) CurrentUser() *User {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.user.Clone()
}

// Token returns the bearer token of the signed-in user, or "".
func (p *HTTPProvider) Token() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.token
}

// Close stops event delivery.
func (p *HTTPProvider) Close() {
	p.events.close()
}

type authPayload struct {
	Token string `json:"token"`
	User  *User  `json:"user"`
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (p *HTTPProvider) SignInWithPassword(ctx context.Context, email, password string) (*User, error) {
	var out authPayload
	if err := p.call(ctx, http.MethodPost, "/api/v1/auth/login", "", credentials{Email: email, Password: password}, &out); err != nil {
		return nil, fmt.Errorf("sign in failed: %w", err)
	}
	p.setSession(out.Token, out.User)
	return out.User.Clone(), nil
}

func (p *HTTPProvider) CreateUser(ctx context.Context, email, password string) (*User, error) {
	var out authPayload
	if err := p.call(ctx, http.MethodPost, "/api/v1/auth/register", "", credentials{Email: email, Password: password}, &out); err != nil {
		return nil, fmt.Errorf("create user failed: %w", err)
	}
	p.setSession(out.Token, out.User)
	return out.User.Clone(), nil
}

// UpdateProfile writes the update and returns the acknowledged profile. It
// does not emit an auth state change; the account is still the same one.
func (p *HTTPProvider) UpdateProfile(ctx context.Context, update ProfileUpdate) (*User, error) {
	token := p.Token()
	if token == "" {
		return nil, ErrNotSignedIn
	}
	var out User
	if err := p.call(ctx, http.MethodPatch, "/api/v1/auth/profile", token, update, &out); err != nil {
		return nil, fmt.Errorf("update profile failed: %w", err)
	}

	p.mu.Lock()
	if p.token == token {
		p.user = out.Clone()
	}
	p.mu.Unlock()
	return out.Clone(), nil
}

func (p *HTTPProvider) SendEmailVerification(ctx context.Context) error {
	token := p.Token()
	if token == "" {
		return ErrNotSignedIn
	}
	if err := p.call(ctx, http.MethodPost, "/api/v1/auth/verification", token, nil, nil); err != nil {
		return fmt.Errorf("send email verification failed: %w", err)
	}
	return nil
}

// SignOut always clears the local session. Revoking the token server-side
// is best effort.
func (p *HTTPProvider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	token := p.token
	// listeners waiting for the first callback must hear about it too
	notify := p.user != nil || !p.ready
	p.token = ""
	p.user = nil
	p.ready = true
	p.gen++
	p.mu.Unlock()

	if notify {
		p.events.publish(nil)
	}
	if token != "" {
		if err := p.call(ctx, http.MethodPost, "/api/v1/auth/logout", token, nil, nil); err != nil {
			p.logger.Warn("revoke token failed", zap.Error(err))
		}
	}
	return nil
}

type popupResult struct {
	token  string
	reason string
}

// SignInWithPopup runs the Google OAuth flow through a loopback redirect.
// Cancelling ctx, denying consent or letting the popup time out returns
// ErrPopupClosed.
func (p *HTTPProvider) SignInWithPopup(ctx context.Context) (*User, error) {
	if p.opener == nil {
		return nil, fmt.Errorf("%w: no opener configured", ErrPopupClosed)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("start oauth callback listener failed: %w", err)
	}
	results := make(chan popupResult, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		res := popupResult{token: q.Get("token"), reason: q.Get("error")}
		if res.token == "" && res.reason == "" {
			res.reason = "missing token"
		}
		if res.reason != "" {
			_, _ = io.WriteString(w, "Sign-in was cancelled. You can close this window.")
		} else {
			_, _ = io.WriteString(w, "Signed in. You can close this window.")
		}
		select {
		case results <- res:
		default:
		}
	})
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.logger.Warn("oauth callback listener stopped", zap.Error(err))
		}
	}()
	defer srv.Close()

	redirect := "http://" + ln.Addr().String() + "/callback"
	loginURL := p.baseURL + "/api/v1/auth/google/login?redirect_uri=" + url.QueryEscape(redirect)
	if err := p.opener(loginURL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPopupClosed, err)
	}

	timer := time.NewTimer(p.popupTimeout)
	defer timer.Stop()

	var res popupResult
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrPopupClosed, ctx.Err())
	case <-timer.C:
		return nil, fmt.Errorf("%w: timed out", ErrPopupClosed)
	case res = <-results:
	}
	if res.reason != "" {
		return nil, fmt.Errorf("%w: %s", ErrPopupClosed, res.reason)
	}

	user, err := p.fetchMe(ctx, res.token)
	if err != nil {
		return nil, fmt.Errorf("load google account failed: %w", err)
	}
	p.setSession(res.token, user)
	return user.Clone(), nil
}

// UploadAvatar stores an avatar image and returns its public URL. It does
// not change the profile; pass the URL to UpdateProfile.
func (p *HTTPProvider) UploadAvatar(ctx context.Context, filename string, data []byte) (string, error) {
	token := p.Token()
	if token == "" {
		return "", ErrNotSignedIn
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("build avatar form failed: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("build avatar form failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("build avatar form failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/v1/profile/avatar", &buf)
	if err != nil {
		return "", fmt.Errorf("build avatar request failed: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	var out struct {
		URL string `json:"url"`
	}
	if err := p.do(req, &out); err != nil {
		return "", fmt.Errorf("upload avatar failed: %w", err)
	}
	return out.URL, nil
}

func (p *HTTPProvider) setSession(token string, user *User) {
	p.mu.Lock()
	p.token = token
	p.user = user.Clone()
	p.ready = true
	p.gen++
	p.mu.Unlock()
	p.events.publish(user)
}

func (p *HTTPProvider) fetchMe(ctx context.Context, token string) (*User, error) {
	var out User
	if err := p.call(ctx, http.MethodGet, "/api/v1/auth/me", token, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *HTTPProvider) call(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request failed: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request failed: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return p.do(req, out)
}

func (p *HTTPProvider) do(req *http.Request, out any) error {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return failure.New(failure.KindTransient, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return failure.New(failure.KindTransient, fmt.Errorf("read response failed: %w", err))
	}

	var env apicode.Envelope[json.RawMessage]
	if err := json.Unmarshal(raw, &env); err != nil {
		return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}
	if resp.StatusCode >= 300 || env.Code != apicode.OK {
		return codeError(resp.StatusCode, env.Code, env.Message)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response data failed: %w", err)
	}
	return nil
}

// APIError is a backend rejection that has no dedicated sentinel.
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d, code %d): %s", e.Status, e.Code, e.Message)
}

func (e *APIError) FailureKind() failure.Kind {
	if e.Status == http.StatusBadRequest {
		return failure.KindValidation
	}
	return failure.KindPermanent
}

func codeError(status, code int, message string) error {
	switch code {
	case apicode.InvalidCredentials:
		return ErrInvalidCredentials
	case apicode.EmailExists:
		return ErrEmailAlreadyInUse
	case apicode.WeakPassword:
		return ErrWeakPassword
	case apicode.Unauthorized:
		return fmt.Errorf("%w: %s", ErrNotSignedIn, message)
	default:
		return &APIError{Status: status, Code: code, Message: message}
	}
}

// ListPredictions returns the signed-in user's prediction history, newest
// first. limit <= 0 lets the server pick its default.
func (p *HTTPProvider) ListPredictions(ctx context.Context, limit int) ([]predict.Record, error) {
	token := p.Token()
	if token == "" {
		return nil, ErrNotSignedIn
	}
	path := "/api/v1/predictions"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Items []predict.Record `json:"items"`
	}
	if err := p.call(ctx, http.MethodGet, path, token, nil, &out); err != nil {
		return nil, fmt.Errorf("list predictions failed: %w", err)
	}
	return out.Items, nil
}
