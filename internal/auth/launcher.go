package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"
)

const shutdownTimeout = 5 * time.Second

// ConsentStatus is the state of an in-progress consent.
type ConsentStatus struct {
	Done bool
	// CallbackURL is the full redirect URL the authorization server sent
	// the user to, including its query. Set once Done.
	CallbackURL string
}

// ConsentHandle tracks one consent attempt.
type ConsentHandle interface {
	Poll(ctx context.Context) (ConsentStatus, error)
	Close() error
}

// ConsentLauncher presents an authorization URL to the user.
type ConsentLauncher interface {
	Open(ctx context.Context, authURL string) (ConsentHandle, error)
}

// BrowserLauncher opens the authorization URL in a browser and captures the
// redirect on a loopback HTTP server bound to the redirect_uri's host and
// port. The redirect URI must be registered with the provider verbatim.
type BrowserLauncher struct {
	// OpenURL opens a URL in the user's browser. When it fails the URL is
	// printed to stderr instead.
	OpenURL func(string) error
	Logger  *slog.Logger
}

// Open starts the callback server and launches the browser.
func (b *BrowserLauncher) Open(ctx context.Context, authURL string) (ConsentHandle, error) {
	logger := b.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	redirect, err := redirectFromAuthURL(authURL)
	if err != nil {
		return nil, err
	}

	lc := net.ListenConfig{}

	listener, err := lc.Listen(ctx, "tcp", redirect.Host)
	if err != nil {
		return nil, fmt.Errorf("auth: binding callback listener %s: %w", redirect.Host, err)
	}

	h := &browserHandle{logger: logger, results: make(chan string, 1)}

	callbackPath := redirect.Path
	if callbackPath == "" {
		callbackPath = "/"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+callbackPath, func(w http.ResponseWriter, r *http.Request) {
		cb := *redirect
		cb.RawQuery = r.URL.RawQuery

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<html><body><h1>Authorization received</h1>"+
			"<p>You can close this window and return to the terminal.</p></body></html>")

		select {
		case h.results <- cb.String():
		default:
		}
	})

	h.srv = &http.Server{Handler: mux, ReadHeaderTimeout: shutdownTimeout}

	go func() {
		if serveErr := h.srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Warn("callback server error", slog.String("error", serveErr.Error()))
		}
	}()

	logger.Info("callback server listening", slog.String("addr", listener.Addr().String()))
	launchBrowser(authURL, b.OpenURL, logger)

	return h, nil
}

func redirectFromAuthURL(authURL string) (*url.URL, error) {
	u, err := url.Parse(authURL)
	if err != nil {
		return nil, fmt.Errorf("auth: parsing authorization URL: %w", err)
	}

	raw := u.Query().Get("redirect_uri")
	if raw == "" {
		return nil, fmt.Errorf("auth: authorization URL has no redirect_uri")
	}

	redirect, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("auth: parsing redirect_uri: %w", err)
	}

	if redirect.Port() == "" {
		return nil, fmt.Errorf("auth: redirect_uri %s must name an explicit port", raw)
	}

	return redirect, nil
}

// launchBrowser attempts to open the auth URL. If it fails, prints the URL
// to stderr so the user can copy-paste it.
func launchBrowser(authURL string, openURL func(string) error, logger *slog.Logger) {
	logger.Info("opening browser for authorization")

	if openURL == nil {
		fmt.Fprintf(os.Stderr, "Open this URL in your browser:\n%s\n", authURL)
		return
	}

	if openErr := openURL(authURL); openErr != nil {
		logger.Warn("failed to open browser, printing URL",
			slog.String("error", openErr.Error()),
		)

		fmt.Fprintf(os.Stderr, "Open this URL in your browser:\n%s\n", authURL)
	}
}

type browserHandle struct {
	srv     *http.Server
	logger  *slog.Logger
	results chan string

	mu       sync.Mutex
	callback string
	closed   bool
}

func (h *browserHandle) Poll(_ context.Context) (ConsentStatus, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.callback == "" {
		select {
		case cb := <-h.results:
			h.callback = cb
		default:
		}
	}

	return ConsentStatus{Done: h.callback != "", CallbackURL: h.callback}, nil
}

func (h *browserHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}

	h.closed = true

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := h.srv.Shutdown(shutdownCtx); err != nil {
		h.logger.Warn("callback server shutdown error", slog.String("error", err.Error()))
		return fmt.Errorf("auth: shutting down callback server: %w", err)
	}

	return nil
}
