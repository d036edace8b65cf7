package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"calbot/internal/models"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
)

const refreshTimeout = 30 * time.Second

// Scopes requested from Google. Listing and inserting events both need the events scope.
var Scopes = []string{calendar.CalendarEventsScope}

// GetOAuthConfig returns the OAuth2 client config.
// It prioritizes an explicit client id/secret pair over the client secret JSON file.
func GetOAuthConfig(clientID, clientSecret, credentialsFile string) (*oauth2.Config, error) {
	if clientID != "" && clientSecret != "" {
		return &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Scopes:       Scopes,
			Endpoint:     google.Endpoint,
		}, nil
	}

	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s not found. Please provide GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET env vars or a client secret file", credentialsFile)
		}
		return nil, fmt.Errorf("unable to read client secret file: %w", err)
	}

	config, err := google.ConfigFromJSON(b, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}
	return config, nil
}

// TokenStore persists a single OAuth token as JSON.
type TokenStore struct {
	path string
}

// NewTokenStore returns a store backed by the file at path.
func NewTokenStore(path string) *TokenStore {
	return &TokenStore{path: path}
}

// Path returns the location of the token file.
func (s *TokenStore) Path() string { return s.path }

// Load reads the persisted token. A missing file yields models.ErrNoCredential.
func (s *TokenStore) Load() (*oauth2.Token, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, models.ErrNoCredential
		}
		return nil, fmt.Errorf("failed to open token file: %w", err)
	}
	defer func() { _ = f.Close() }()

	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("failed to decode token: %w", err)
	}
	return tok, nil
}

// Save writes the token readable by the owner only. The file is replaced atomically.
func (s *TokenStore) Save(token *oauth2.Token) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".token-*.json")
	if err != nil {
		return fmt.Errorf("unable to create token file: %w", err)
	}
	tmp := f.Name()
	defer func() { _ = os.Remove(tmp) }()

	if err := f.Chmod(0600); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to restrict token file: %w", err)
	}
	if err := json.NewEncoder(f).Encode(token); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to encode token: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace token file: %w", err)
	}
	return nil
}

// CredentialStore owns the OAuth credential of the running service.
// It only ever reuses or refreshes a provisioned token; consent happens out of band.
type CredentialStore struct {
	ctx    context.Context
	config *oauth2.Config
	store  *TokenStore
	logger *slog.Logger

	// sem is a one-slot lock over token; waiters give up when their context ends.
	sem   chan struct{}
	token *oauth2.Token
}

// NewCredentialStore creates a credential store. ctx carries the HTTP client used for refreshes.
func NewCredentialStore(ctx context.Context, logger *slog.Logger, config *oauth2.Config, store *TokenStore) *CredentialStore {
	return &CredentialStore{
		ctx:    ctx,
		config: config,
		store:  store,
		logger: logger,
		sem:    make(chan struct{}, 1),
	}
}

// Token implements oauth2.TokenSource using the store's own context.
func (c *CredentialStore) Token() (*oauth2.Token, error) {
	return c.TokenContext(c.ctx)
}

// TokenContext returns a valid token, refreshing and persisting it when expired.
// Concurrent callers wait for a single refresh. ctx bounds both the wait and the refresh.
func (c *CredentialStore) TokenContext(ctx context.Context) (*oauth2.Token, error) {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, &models.AuthError{Op: "wait for credential", Err: ctx.Err()}
	}
	defer func() { <-c.sem }()

	if c.token == nil {
		tok, err := c.store.Load()
		if err != nil {
			return nil, &models.AuthError{Op: "load credential", Err: err}
		}
		c.token = tok
	}

	if c.token.Valid() {
		return c.token, nil
	}

	if c.token.RefreshToken == "" {
		return nil, &models.AuthError{Op: "refresh credential", Err: errors.New("token expired and no refresh token is available")}
	}

	c.logger.Info("Refreshing Google credential.", "expiry", c.token.Expiry)
	ctx, cancel := context.WithTimeout(c.refreshContext(ctx), refreshTimeout)
	defer cancel()

	fresh, err := c.config.TokenSource(ctx, c.token).Token()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		return nil, &models.AuthError{Op: "refresh credential", Err: err}
	}

	if err := c.store.Save(fresh); err != nil {
		// The refreshed token is still usable for this process.
		c.logger.Error("Failed to persist refreshed credential", "file", c.store.Path(), "error", err)
	} else {
		c.logger.Debug("Persisted refreshed credential.", "file", c.store.Path(), "expiry", fresh.Expiry)
	}
	c.token = fresh
	return fresh, nil
}

// refreshContext carries the store's HTTP client into a request context that has none.
func (c *CredentialStore) refreshContext(ctx context.Context) context.Context {
	if _, ok := ctx.Value(oauth2.HTTPClient).(*http.Client); ok {
		return ctx
	}
	if hc, ok := c.ctx.Value(oauth2.HTTPClient).(*http.Client); ok {
		return context.WithValue(ctx, oauth2.HTTPClient, hc)
	}
	return ctx
}

// Client returns an HTTP client that authenticates every request with the stored credential.
// The request context bounds the token lookup.
func (c *CredentialStore) Client(ctx context.Context) *http.Client {
	base := http.DefaultTransport
	if hc, ok := ctx.Value(oauth2.HTTPClient).(*http.Client); ok && hc.Transport != nil {
		base = hc.Transport
	}
	return &http.Client{Transport: &authTransport{creds: c, base: base}}
}

type authTransport struct {
	creds *CredentialStore
	base  http.RoundTripper
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	tok, err := t.creds.TokenContext(req.Context())
	if err != nil {
		if req.Body != nil {
			_ = req.Body.Close()
		}
		return nil, err
	}
	authed := req.Clone(req.Context())
	tok.SetAuthHeader(authed)
	return t.base.RoundTrip(authed)
}
