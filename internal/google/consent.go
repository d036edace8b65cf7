package google

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"calbot/internal/models"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// ConsentOptions controls the one-time provisioning flow.
type ConsentOptions struct {
	// Manual prints the URL and reads a pasted authorization code instead of
	// waiting for the loopback redirect.
	Manual bool
	Out    io.Writer
	In     io.Reader
}

// Consent runs the interactive OAuth consent flow and returns a token carrying a refresh token.
func Consent(ctx context.Context, config *oauth2.Config, opts ConsentOptions) (*oauth2.Token, error) {
	if opts.Manual {
		return manualConsent(ctx, config, opts)
	}
	return loopbackConsent(ctx, config, opts)
}

func authURL(config *oauth2.Config, state string) string {
	return config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func manualConsent(ctx context.Context, config *oauth2.Config, opts ConsentOptions) (*oauth2.Token, error) {
	cfg := *config
	if cfg.RedirectURL == "" {
		cfg.RedirectURL = "http://127.0.0.1"
	}

	fmt.Fprintf(opts.Out, "Go to the following link in your browser, approve access, then copy the "+
		"'code' parameter of the page you are redirected to: \n%v\n", authURL(&cfg, uuid.NewString()))
	fmt.Fprint(opts.Out, "Enter Authorization Code: ")

	reader := bufio.NewReader(opts.In)
	code, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, &models.AuthError{Op: "read authorization code", Err: err}
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, &models.AuthError{Op: "read authorization code", Err: errors.New("empty authorization code")}
	}
	return exchange(ctx, &cfg, code)
}

func loopbackConsent(ctx context.Context, config *oauth2.Config, opts ConsentOptions) (*oauth2.Token, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, &models.AuthError{Op: "start loopback listener", Err: err}
	}

	cfg := *config
	cfg.RedirectURL = fmt.Sprintf("http://%s/", ln.Addr().String())
	state := uuid.NewString()

	results := make(chan callbackResult, 1)
	srv := &http.Server{Handler: callbackHandler(state, results)}
	go func() { _ = srv.Serve(ln) }()
	defer func() { _ = srv.Close() }()

	fmt.Fprintf(opts.Out, "Open the following link in your browser to grant calendar access: \n%v\n", authURL(&cfg, state))
	fmt.Fprintln(opts.Out, "Waiting for the authorization redirect...")

	select {
	case <-ctx.Done():
		return nil, &models.AuthError{Op: "wait for authorization", Err: ctx.Err()}
	case res := <-results:
		if res.err != nil {
			return nil, &models.AuthError{Op: "authorization redirect", Err: res.err}
		}
		return exchange(ctx, &cfg, res.code)
	}
}

type callbackResult struct {
	code string
	err  error
}

// callbackHandler accepts the first redirect whose state matches and reports the code.
func callbackHandler(state string, results chan<- callbackResult) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}

		var res callbackResult
		if e := q.Get("error"); e != "" {
			res.err = fmt.Errorf("consent denied: %s", e)
			http.Error(w, "Authorization was not granted. You can close this window.", http.StatusForbidden)
		} else if code := q.Get("code"); code == "" {
			res.err = errors.New("redirect carried no authorization code")
			http.Error(w, "Missing authorization code.", http.StatusBadRequest)
		} else {
			res.code = code
			fmt.Fprintln(w, "Authorization complete. You can close this window.")
		}

		select {
		case results <- res:
		default:
		}
	})
}

func exchange(ctx context.Context, config *oauth2.Config, code string) (*oauth2.Token, error) {
	tok, err := config.Exchange(ctx, code)
	if err != nil {
		return nil, &models.AuthError{Op: "exchange authorization code", Err: err}
	}
	if tok.RefreshToken == "" {
		return nil, &models.AuthError{Op: "exchange authorization code", Err: errors.New("provider issued no refresh token")}
	}
	return tok, nil
}
