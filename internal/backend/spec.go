// Package backend builds netdisk file systems from declarative specs.
package backend

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/tonimelisma/netdisk-go/internal/backend/archive"
)

// Spec describes one backend instance. The variants below are the only
// implementations.
type Spec interface {
	backendType() string
}

// OAuth configures an OAuth client registered with a provider. AuthURL and
// TokenURL override the provider's well-known endpoints.
type OAuth struct {
	ClientID     string `validate:"required"`
	ClientSecret string
	RedirectURL  string `validate:"required,url"`
	AuthURL      string `validate:"omitempty,url"`
	TokenURL     string `validate:"omitempty,url"`
}

// OneDriveSpec is a OneDrive folder.
type OneDriveSpec struct {
	// Name keys the stored token; empty uses the backend type.
	Name      string
	OAuth     OAuth
	BasePath  string
	BaseURL   string `validate:"omitempty,url"`
	ChunkSize int    `validate:"gte=0"`
}

// GoogleDriveSpec is a Google Drive folder.
type GoogleDriveSpec struct {
	Name      string
	OAuth     OAuth
	BasePath  string
	BaseURL   string `validate:"omitempty,url"`
	UploadURL string `validate:"omitempty,url"`
}

// DropboxSpec is a Dropbox folder.
type DropboxSpec struct {
	Name       string
	OAuth      OAuth
	BasePath   string
	APIURL     string `validate:"omitempty,url"`
	ContentURL string `validate:"omitempty,url"`
	ChunkSize  int    `validate:"gte=0"`
}

// YandexSpec is a Yandex Disk folder reached with a static OAuth token.
type YandexSpec struct {
	Token    string `validate:"required"`
	BasePath string
	BaseURL  string `validate:"omitempty,url"`
}

// S3Spec is a prefix of an S3-compatible bucket.
type S3Spec struct {
	Endpoint     string `validate:"omitempty,url"`
	Region       string
	Bucket       string `validate:"required"`
	AccessKey    string `validate:"required"`
	SecretKey    string `validate:"required"`
	SessionToken string
	PathStyle    bool
	BasePath     string
}

// WebDAVSpec is a WebDAV collection. Credentials may be embedded in URL.
type WebDAVSpec struct {
	URL      string `validate:"required,url"`
	Username string
	Password string `validate:"required_with=Username"`
	BasePath string
}

// ArchiveSpec is an in-memory tree. When Store is nil one is loaded from
// File, or created empty when File is empty.
type ArchiveSpec struct {
	File     string
	BasePath string
	Store    *archive.Store `validate:"-"`
}

func (OneDriveSpec) backendType() string    { return "onedrive" }
func (GoogleDriveSpec) backendType() string { return "gdrive" }
func (DropboxSpec) backendType() string     { return "dropbox" }
func (YandexSpec) backendType() string      { return "yandex" }
func (S3Spec) backendType() string          { return "s3" }
func (WebDAVSpec) backendType() string      { return "webdav" }
func (ArchiveSpec) backendType() string     { return "archive" }

// Type returns the backend type of spec, for example "s3".
func Type(spec Spec) string { return spec.backendType() }

// ErrInvalidSpec is matched by every spec validation failure.
var ErrInvalidSpec = errors.New("backend: invalid spec")

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			if fld.Name == "OAuth" {
				return "oauth"
			}

			return toSnakeCase(fld.Name)
		})
	})

	return validate
}

// Validate checks spec's required fields and URL shapes.
func Validate(spec Spec) error {
	if spec == nil {
		return fmt.Errorf("%w: nil spec", ErrInvalidSpec)
	}

	err := getValidator().Struct(spec)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %s: %w", ErrInvalidSpec, spec.backendType(), err)
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fieldPath(fe)+" "+describe(fe))
	}

	return fmt.Errorf("%w: %s: %s", ErrInvalidSpec, spec.backendType(), strings.Join(msgs, "; "))
}

// fieldPath drops the struct name from the namespace: "oauth.client_id".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}

	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_with":
		return "is required with " + toSnakeCase(fe.Param())
	case "url":
		return "must be a valid URL"
	case "gte":
		return "must be at least " + fe.Param()
	default:
		return "is invalid"
	}
}

// toSnakeCase converts a Go field name to snake_case: "AccessKey" -> "access_key".
func toSnakeCase(s string) string {
	var b strings.Builder

	runes := []rune(s)
	for i, r := range runes {
		upper := r >= 'A' && r <= 'Z'
		if upper && i > 0 {
			prevLower := runes[i-1] >= 'a' && runes[i-1] <= 'z'
			nextLower := i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z'

			if prevLower || nextLower {
				b.WriteByte('_')
			}
		}

		if upper {
			r += 'a' - 'A'
		}

		b.WriteRune(r)
	}

	return b.String()
}
