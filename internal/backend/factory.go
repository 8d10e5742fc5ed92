package backend

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/tonimelisma/netdisk-go/internal/auth"
	"github.com/tonimelisma/netdisk-go/internal/backend/archive"
	"github.com/tonimelisma/netdisk-go/internal/backend/dropbox"
	"github.com/tonimelisma/netdisk-go/internal/backend/gdrive"
	"github.com/tonimelisma/netdisk-go/internal/backend/onedrive"
	"github.com/tonimelisma/netdisk-go/internal/backend/s3"
	"github.com/tonimelisma/netdisk-go/internal/backend/webdav"
	"github.com/tonimelisma/netdisk-go/internal/backend/yandex"
	"github.com/tonimelisma/netdisk-go/internal/netdisk"
	"github.com/tonimelisma/netdisk-go/internal/ratelimit"
	"github.com/tonimelisma/netdisk-go/internal/tokenstore"
)

// Deps are the collaborators shared by every backend New builds.
type Deps struct {
	// HTTPClient sends provider and token-endpoint requests. Nil uses
	// http.DefaultClient.
	HTTPClient *http.Client
	// Tokens persists OAuth tokens. Nil keeps them in memory.
	Tokens *tokenstore.Store
	// Launcher runs the consent flow. Nil makes consent fail with
	// netdisk.ErrConsentRequired.
	Launcher auth.ConsentLauncher
	// Limiter bounds concurrent operations. Nil creates one with
	// ratelimit.DefaultMaxConcurrent slots.
	Limiter *ratelimit.Limiter
	Logger  *slog.Logger
	// AuthOptions are passed to every Coordinator.
	AuthOptions []auth.Option
}

func (d *Deps) withDefaults() Deps {
	out := *d

	if out.HTTPClient == nil {
		out.HTTPClient = http.DefaultClient
	}

	if out.Logger == nil {
		out.Logger = slog.Default()
	}

	if out.Tokens == nil {
		out.Tokens = tokenstore.NewStore(tokenstore.NewMemoryKV(), out.Logger)
	}

	if out.Limiter == nil {
		out.Limiter = ratelimit.New(ratelimit.DefaultMaxConcurrent, ratelimit.WithLogger(out.Logger))
	}

	return out
}

// New validates spec, builds its adapter, verifies connectivity and
// credentials, and returns the adapter wrapped in deps.Limiter. Nothing is
// returned unless Verify succeeds.
func New(ctx context.Context, spec Spec, deps Deps) (netdisk.FileSystem, error) {
	if err := Validate(spec); err != nil {
		return nil, err
	}

	d := deps.withDefaults()

	fs, err := build(spec, &d)
	if err != nil {
		return nil, err
	}

	limited := netdisk.Limit(fs, d.Limiter)

	if err := limited.Verify(ctx); err != nil {
		return nil, fmt.Errorf("backend: verifying %s: %w", spec.backendType(), err)
	}

	d.Logger.Info("backend ready",
		slog.String("type", spec.backendType()),
		slog.String("base_path", limited.BasePath()),
	)

	return limited, nil
}

func build(spec Spec, d *Deps) (netdisk.FileSystem, error) {
	switch s := spec.(type) {
	case OneDriveSpec:
		return onedrive.New(onedrive.Options{
			BaseURL:   s.BaseURL,
			BasePath:  s.BasePath,
			Doer:      d.HTTPClient,
			Tokens:    coordinator(auth.OneDriveProvider, s.Name, s.OAuth, d),
			Logger:    d.Logger,
			ChunkSize: s.ChunkSize,
		}), nil
	case GoogleDriveSpec:
		return gdrive.New(gdrive.Options{
			BaseURL:   s.BaseURL,
			UploadURL: s.UploadURL,
			BasePath:  s.BasePath,
			Doer:      d.HTTPClient,
			Tokens:    coordinator(auth.GoogleDriveProvider, s.Name, s.OAuth, d),
			Logger:    d.Logger,
		}), nil
	case DropboxSpec:
		return dropbox.New(dropbox.Options{
			APIURL:     s.APIURL,
			ContentURL: s.ContentURL,
			BasePath:   s.BasePath,
			Doer:       d.HTTPClient,
			Tokens:     coordinator(auth.DropboxProvider, s.Name, s.OAuth, d),
			Logger:     d.Logger,
			ChunkSize:  s.ChunkSize,
		}), nil
	case YandexSpec:
		return yandex.New(yandex.Options{
			BaseURL:  s.BaseURL,
			BasePath: s.BasePath,
			Doer:     d.HTTPClient,
			Tokens:   auth.StaticToken{Backend: yandex.Name, Token: s.Token},
			Logger:   d.Logger,
		}), nil
	case S3Spec:
		fs, err := s3.New(s3.Options{
			Endpoint:     s.Endpoint,
			Region:       s.Region,
			Bucket:       s.Bucket,
			AccessKey:    s.AccessKey,
			SecretKey:    s.SecretKey,
			SessionToken: s.SessionToken,
			PathStyle:    s.PathStyle,
			BasePath:     s.BasePath,
			Doer:         d.HTTPClient,
			Logger:       d.Logger,
		})
		if err != nil {
			return nil, err
		}

		return fs, nil
	case WebDAVSpec:
		fs, err := webdav.New(webdav.Options{
			URL:      s.URL,
			Username: s.Username,
			Password: s.Password,
			BasePath: s.BasePath,
			Doer:     d.HTTPClient,
			Logger:   d.Logger,
		})
		if err != nil {
			return nil, err
		}

		return fs, nil
	case ArchiveSpec:
		store := s.Store
		if store == nil {
			var err error
			if store, err = loadArchive(s.File); err != nil {
				return nil, err
			}
		}

		return archive.New(store, s.File, s.BasePath, d.Logger), nil
	default:
		return nil, fmt.Errorf("%w: unsupported spec %T", ErrInvalidSpec, spec)
	}
}

func loadArchive(file string) (*archive.Store, error) {
	if file == "" {
		return archive.NewStore(), nil
	}

	store, err := archive.OpenFile(file)
	if err != nil {
		return nil, fmt.Errorf("backend: opening archive: %w", err)
	}

	return store, nil
}

// Coordinator returns the token coordinator New would use for an OAuth
// spec. Login and logout go through it. Other specs return
// netdisk.ErrNotSupported.
func Coordinator(spec Spec, deps Deps) (*auth.Coordinator, error) {
	if err := Validate(spec); err != nil {
		return nil, err
	}

	d := deps.withDefaults()

	switch s := spec.(type) {
	case OneDriveSpec:
		return coordinator(auth.OneDriveProvider, s.Name, s.OAuth, &d), nil
	case GoogleDriveSpec:
		return coordinator(auth.GoogleDriveProvider, s.Name, s.OAuth, &d), nil
	case DropboxSpec:
		return coordinator(auth.DropboxProvider, s.Name, s.OAuth, &d), nil
	default:
		return nil, fmt.Errorf("backend: %s has no OAuth login: %w", spec.backendType(), netdisk.ErrNotSupported)
	}
}

type providerFunc func(clientID, clientSecret, redirectURL string) auth.Provider

func coordinator(newProvider providerFunc, name string, o OAuth, d *Deps) *auth.Coordinator {
	p := newProvider(o.ClientID, o.ClientSecret, o.RedirectURL)

	if name != "" {
		p.Name = name
	}

	if o.AuthURL != "" || o.TokenURL != "" {
		p.Config.Endpoint = oauth2.Endpoint{
			AuthURL:  firstNonEmpty(o.AuthURL, p.Config.Endpoint.AuthURL),
			TokenURL: firstNonEmpty(o.TokenURL, p.Config.Endpoint.TokenURL),
		}
	}

	opts := append([]auth.Option{auth.WithHTTPClient(d.HTTPClient)}, d.AuthOptions...)

	return auth.NewCoordinator(p, d.Tokens, d.Launcher, d.Logger, opts...)
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}

	return b
}
