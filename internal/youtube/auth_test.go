package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"camlapse/internal/services"
)

type memoryStore struct {
	mu    sync.Mutex
	token *oauth2.Token
	saves int
}

func (m *memoryStore) Load() (*oauth2.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == nil {
		return nil, nil
	}
	clone := *m.token
	return &clone, nil
}

func (m *memoryStore) Save(token *oauth2.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *token
	m.token = &clone
	m.saves++
	return nil
}

func (m *memoryStore) current() *oauth2.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// newOAuthServer serves the token endpoint plus an /echo resource that
// reports the bearer token it received.
func newOAuthServer(t *testing.T) (*httptest.Server, *oauth2.Config) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			if err := r.ParseForm(); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			switch r.Form.Get("grant_type") {
			case "refresh_token":
				if r.Form.Get("refresh_token") != "good-refresh" {
					w.WriteHeader(http.StatusBadRequest)
					_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
					return
				}
				_, _ = w.Write([]byte(`{"access_token":"refreshed","token_type":"Bearer","expires_in":3600}`))
			case "authorization_code":
				if r.Form.Get("code") != "paste-me" {
					w.WriteHeader(http.StatusBadRequest)
					_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
					return
				}
				_, _ = w.Write([]byte(`{"access_token":"exchanged","refresh_token":"good-refresh","token_type":"Bearer","expires_in":3600}`))
			default:
				http.Error(w, "unsupported grant", http.StatusBadRequest)
			}
		case "/echo":
			_ = json.NewEncoder(w).Encode(map[string]string{"authorization": r.Header.Get("Authorization")})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	cfg := &oauth2.Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "http://127.0.0.1",
		Scopes:       []string{UploadScope},
		Endpoint: oauth2.Endpoint{
			AuthURL:   srv.URL + "/auth",
			TokenURL:  srv.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	return srv, cfg
}

func bearerSeen(t *testing.T, client *http.Client, base string) string {
	t.Helper()
	resp, err := client.Get(base + "/echo")
	if err != nil {
		t.Fatalf("echo request: %v", err)
	}
	defer resp.Body.Close()
	var payload map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode echo: %v", err)
	}
	return payload["authorization"]
}

func TestAuthenticateValidToken(t *testing.T) {
	srv, cfg := newOAuthServer(t)
	store := &memoryStore{token: &oauth2.Token{AccessToken: "still-good", TokenType: "Bearer", Expiry: time.Now().Add(time.Hour)}}
	auth := NewAuthenticator(cfg, store, WithTokenHTTPClient(srv.Client()))

	client, err := auth.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if auth.State() != StateValid {
		t.Fatalf("expected valid state, got %s", auth.State())
	}
	if got := bearerSeen(t, client, srv.URL); got != "Bearer still-good" {
		t.Fatalf("unexpected authorization header %q", got)
	}
	if store.saves != 0 {
		t.Fatalf("valid token must not be rewritten, saves=%d", store.saves)
	}
}

func TestAuthenticateRefreshesExpiredToken(t *testing.T) {
	srv, cfg := newOAuthServer(t)
	store := &memoryStore{token: &oauth2.Token{AccessToken: "stale", RefreshToken: "good-refresh", Expiry: time.Now().Add(-time.Hour)}}
	auth := NewAuthenticator(cfg, store, WithTokenHTTPClient(srv.Client()))

	client, err := auth.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if auth.State() != StateReauthorized {
		t.Fatalf("expected reauthorized state, got %s", auth.State())
	}
	saved := store.current()
	if saved.AccessToken != "refreshed" {
		t.Fatalf("expected refreshed token persisted, got %q", saved.AccessToken)
	}
	if saved.RefreshToken != "good-refresh" {
		t.Fatalf("refresh token must survive refresh, got %q", saved.RefreshToken)
	}
	if got := bearerSeen(t, client, srv.URL); got != "Bearer refreshed" {
		t.Fatalf("unexpected authorization header %q", got)
	}
}

func TestAuthenticateRefreshFailureWithoutPrompter(t *testing.T) {
	srv, cfg := newOAuthServer(t)
	store := &memoryStore{token: &oauth2.Token{AccessToken: "stale", RefreshToken: "revoked", Expiry: time.Now().Add(-time.Hour)}}
	auth := NewAuthenticator(cfg, store, WithTokenHTTPClient(srv.Client()))

	_, err := auth.Authenticate(context.Background())
	if !errors.Is(err, services.ErrAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}
	if auth.State() != StateReauthFailed {
		t.Fatalf("expected reauth_failed, got %s", auth.State())
	}
	if store.current().AccessToken != "stale" {
		t.Fatal("failed refresh must leave the stored token untouched")
	}
}

func TestAuthenticateRefreshFailureFallsBackToPrompter(t *testing.T) {
	srv, cfg := newOAuthServer(t)
	store := &memoryStore{token: &oauth2.Token{AccessToken: "stale", Expiry: time.Now().Add(-time.Hour)}}
	prompted := false
	auth := NewAuthenticator(cfg, store,
		WithTokenHTTPClient(srv.Client()),
		WithPrompter(func(ctx context.Context, authURL string) (string, error) {
			prompted = true
			return "paste-me", nil
		}),
	)

	if _, err := auth.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !prompted {
		t.Fatal("expected interactive exchange after refresh failure")
	}
	if auth.State() != StateValid {
		t.Fatalf("expected valid state, got %s", auth.State())
	}
	if store.current().AccessToken != "exchanged" {
		t.Fatalf("expected exchanged token stored, got %q", store.current().AccessToken)
	}
}

func TestAuthenticateNoTokenUsesPrompter(t *testing.T) {
	srv, cfg := newOAuthServer(t)
	store := &memoryStore{}
	var seenURL string
	auth := NewAuthenticator(cfg, store,
		WithTokenHTTPClient(srv.Client()),
		WithPrompter(func(ctx context.Context, authURL string) (string, error) {
			seenURL = authURL
			return " paste-me\n", nil
		}),
	)

	client, err := auth.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !strings.HasPrefix(seenURL, srv.URL+"/auth?") || !strings.Contains(seenURL, "access_type=offline") {
		t.Fatalf("unexpected authorization URL %q", seenURL)
	}
	if !strings.Contains(seenURL, "client_id=client-id") {
		t.Fatalf("authorization URL missing client id: %q", seenURL)
	}
	if got := bearerSeen(t, client, srv.URL); got != "Bearer exchanged" {
		t.Fatalf("unexpected authorization header %q", got)
	}
	if store.current().RefreshToken != "good-refresh" {
		t.Fatal("expected refresh token to be stored")
	}
}

func TestAuthenticateNoTokenHeadless(t *testing.T) {
	_, cfg := newOAuthServer(t)
	auth := NewAuthenticator(cfg, &memoryStore{}, WithPrompter(func(context.Context, string) (string, error) {
		return "", ErrInteractionUnavailable
	}))
	_, err := auth.Authenticate(context.Background())
	if !errors.Is(err, services.ErrAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}
	if !errors.Is(err, ErrInteractionUnavailable) {
		t.Fatalf("expected interaction unavailable cause, got %v", err)
	}
	if auth.State() != StateReauthFailed {
		t.Fatalf("expected reauth_failed, got %s", auth.State())
	}
}

func TestLoadClientConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client_secrets.json")
	secrets := `{"installed":{"client_id":"abc.apps.googleusercontent.com","client_secret":"shh",` +
		`"redirect_uris":["http://localhost"],"auth_uri":"https://accounts.google.com/o/oauth2/auth",` +
		`"token_uri":"https://oauth2.googleapis.com/token"}}`
	if err := os.WriteFile(path, []byte(secrets), 0o600); err != nil {
		t.Fatalf("write secrets: %v", err)
	}
	cfg, err := LoadClientConfig(path)
	if err != nil {
		t.Fatalf("LoadClientConfig: %v", err)
	}
	if cfg.ClientID != "abc.apps.googleusercontent.com" {
		t.Fatalf("unexpected client id %q", cfg.ClientID)
	}
	if len(cfg.Scopes) != 1 || cfg.Scopes[0] != UploadScope {
		t.Fatalf("unexpected scopes %v", cfg.Scopes)
	}

	if _, err := LoadClientConfig(filepath.Join(t.TempDir(), "missing.json")); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error for missing file, got %v", err)
	}
}
