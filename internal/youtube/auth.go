package youtube

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"camlapse/internal/logging"
	"camlapse/internal/services"
)

// UploadScope is the only OAuth2 scope requested.
const UploadScope = "https://www.googleapis.com/auth/youtube.upload"

// ErrInteractionUnavailable is returned by prompters that cannot reach a human.
var ErrInteractionUnavailable = errors.New("interactive authorization unavailable")

// AuthState is the credential lifecycle position after the last Authenticate.
type AuthState int

const (
	StateNoToken AuthState = iota
	StateValid
	StateExpired
	StateReauthorized
	StateReauthFailed
)

func (s AuthState) String() string {
	switch s {
	case StateNoToken:
		return "no_token"
	case StateValid:
		return "valid"
	case StateExpired:
		return "expired"
	case StateReauthorized:
		return "reauthorized"
	case StateReauthFailed:
		return "reauth_failed"
	default:
		return "unknown"
	}
}

// CodePrompter shows authURL to a human and returns the verification code they
// obtained. Headless deployments return ErrInteractionUnavailable.
type CodePrompter func(ctx context.Context, authURL string) (string, error)

// LoadClientConfig reads Google installed-app client secrets.
func LoadClientConfig(path string) (*oauth2.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "upload", "read client secrets", path, err)
	}
	cfg, err := google.ConfigFromJSON(data, UploadScope)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "upload", "parse client secrets", path, err)
	}
	return cfg, nil
}

// AuthOption customises Authenticator construction.
type AuthOption func(*Authenticator)

// WithPrompter installs the interactive code exchange.
func WithPrompter(prompt CodePrompter) AuthOption {
	return func(a *Authenticator) {
		a.prompt = prompt
	}
}

// WithTokenHTTPClient overrides the client used to reach the token endpoint.
func WithTokenHTTPClient(client *http.Client) AuthOption {
	return func(a *Authenticator) {
		a.tokenClient = client
	}
}

// WithAuthLogger attaches a logger.
func WithAuthLogger(logger *slog.Logger) AuthOption {
	return func(a *Authenticator) {
		a.logger = logging.NewComponentLogger(logger, "youtube-auth")
	}
}

// Authenticator yields HTTP clients bound to a valid credential.
type Authenticator struct {
	oauth       *oauth2.Config
	store       TokenStore
	prompt      CodePrompter
	tokenClient *http.Client
	logger      *slog.Logger

	mu    sync.Mutex
	state AuthState
}

// NewAuthenticator builds an Authenticator.
func NewAuthenticator(cfg *oauth2.Config, store TokenStore, opts ...AuthOption) *Authenticator {
	a := &Authenticator{
		oauth:  cfg,
		store:  store,
		logger: logging.NewNop(),
		state:  StateNoToken,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// State reports the credential state reached by the most recent call.
func (a *Authenticator) State() AuthState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Authenticator) setState(state AuthState) {
	a.mu.Lock()
	a.state = state
	a.mu.Unlock()
}

func (a *Authenticator) oauthContext(ctx context.Context) context.Context {
	if a.tokenClient != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, a.tokenClient)
	}
	return ctx
}

// Authenticate returns a client that attaches and refreshes the credential.
// An expired token is refreshed silently; a missing or unrefreshable one
// requires the interactive exchange. Failures wrap services.ErrAuthorization.
func (a *Authenticator) Authenticate(ctx context.Context) (*http.Client, error) {
	if a.oauth == nil || a.store == nil {
		return nil, services.Wrap(services.ErrConfiguration, "upload", "authenticate", "oauth client not configured", nil)
	}
	token, err := a.store.Load()
	if err != nil {
		return nil, services.Wrap(services.ErrAuthorization, "upload", "load token", "", err)
	}

	switch {
	case token == nil:
		a.setState(StateNoToken)
		a.logger.Info("no stored credential; interactive authorization required")
		token, err = a.exchange(ctx)
		if err != nil {
			return nil, err
		}
		a.setState(StateValid)
	case token.Valid():
		a.setState(StateValid)
	default:
		a.setState(StateExpired)
		fresh, refreshErr := a.refresh(ctx, token)
		if refreshErr == nil {
			token = fresh
			a.setState(StateReauthorized)
			a.logger.Info("credential refreshed", logging.Any("expiry", token.Expiry))
			break
		}
		a.setState(StateReauthFailed)
		logging.WarnWithContext(a.logger, "credential refresh failed", "auth_refresh_failed",
			logging.Error(refreshErr),
			logging.String(logging.FieldErrorHint, "run camlapse auth to authorize again"),
			logging.String(logging.FieldImpact, "upload deferred until authorization succeeds"),
		)
		if a.prompt == nil {
			return nil, services.Wrap(services.ErrAuthorization, "upload", "refresh token", "reauthorization required", refreshErr)
		}
		token, err = a.exchange(ctx)
		if err != nil {
			return nil, err
		}
		a.setState(StateValid)
	}
	return a.client(ctx, token), nil
}

// Reauthorize discards any stored credential state and runs the interactive
// exchange unconditionally.
func (a *Authenticator) Reauthorize(ctx context.Context) error {
	if a.oauth == nil || a.store == nil {
		return services.Wrap(services.ErrConfiguration, "upload", "authorize", "oauth client not configured", nil)
	}
	if _, err := a.exchange(ctx); err != nil {
		return err
	}
	a.setState(StateValid)
	return nil
}

func (a *Authenticator) refresh(ctx context.Context, token *oauth2.Token) (*oauth2.Token, error) {
	if strings.TrimSpace(token.RefreshToken) == "" {
		return nil, errors.New("stored credential has no refresh token")
	}
	fresh, err := a.oauth.TokenSource(a.oauthContext(ctx), token).Token()
	if err != nil {
		return nil, err
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = token.RefreshToken
	}
	if err := a.store.Save(fresh); err != nil {
		return nil, fmt.Errorf("persist refreshed credential: %w", err)
	}
	return fresh, nil
}

func (a *Authenticator) exchange(ctx context.Context) (*oauth2.Token, error) {
	if a.prompt == nil {
		a.setState(StateReauthFailed)
		return nil, services.Wrap(services.ErrAuthorization, "upload", "authorize", "no interactive prompter configured", ErrInteractionUnavailable)
	}
	authURL := a.oauth.AuthCodeURL(uuid.NewString(), oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	code, err := a.prompt(ctx, authURL)
	if err != nil {
		a.setState(StateReauthFailed)
		return nil, services.Wrap(services.ErrAuthorization, "upload", "authorize", "verification code unavailable", err)
	}
	code = strings.TrimSpace(code)
	if code == "" {
		a.setState(StateReauthFailed)
		return nil, services.Wrap(services.ErrAuthorization, "upload", "authorize", "empty verification code", nil)
	}
	token, err := a.oauth.Exchange(a.oauthContext(ctx), code)
	if err != nil {
		a.setState(StateReauthFailed)
		return nil, services.Wrap(services.ErrAuthorization, "upload", "exchange code", "", err)
	}
	if err := a.store.Save(token); err != nil {
		return nil, services.Wrap(services.ErrResource, "upload", "save token", "", err)
	}
	a.logger.Info("authorization stored")
	return token, nil
}

func (a *Authenticator) client(ctx context.Context, token *oauth2.Token) *http.Client {
	ctx = a.oauthContext(ctx)
	src := &persistingSource{
		base:   oauth2.ReuseTokenSource(token, a.oauth.TokenSource(ctx, token)),
		store:  a.store,
		last:   token.AccessToken,
		logger: a.logger,
	}
	return oauth2.NewClient(ctx, src)
}

// persistingSource writes tokens refreshed mid-upload back to the store.
type persistingSource struct {
	base   oauth2.TokenSource
	store  TokenStore
	logger *slog.Logger

	mu   sync.Mutex
	last string
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	token, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if token.AccessToken != s.last {
		s.last = token.AccessToken
		if err := s.store.Save(token); err != nil {
			s.logger.Warn("persist refreshed credential failed", logging.Error(err))
		}
	}
	return token, nil
}
