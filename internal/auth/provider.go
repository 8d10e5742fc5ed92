package auth

import (
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
	"golang.org/x/oauth2/microsoft"
)

// Backend names used as token-store keys.
const (
	OneDrive    = "onedrive"
	GoogleDrive = "gdrive"
	Dropbox     = "dropbox"
)

// Provider describes one OAuth authorization server and the client
// registered with it.
type Provider struct {
	// Name identifies the backend and keys its stored token.
	Name   string
	Config oauth2.Config
	// AuthParams are extra parameters sent on the consent URL.
	AuthParams []oauth2.AuthCodeOption
}

// OneDriveProvider returns the Microsoft identity platform provider with
// the scopes needed for file access and offline refresh.
func OneDriveProvider(clientID, clientSecret, redirectURL string) Provider {
	return Provider{
		Name: OneDrive,
		Config: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     microsoft.AzureADEndpoint("common"),
			RedirectURL:  redirectURL,
			Scopes:       []string{"offline_access", "Files.ReadWrite.All", "User.Read"},
		},
	}
}

// GoogleDriveProvider returns the Google provider. prompt=consent makes
// Google issue a refresh token on every consent, not only the first.
func GoogleDriveProvider(clientID, clientSecret, redirectURL string) Provider {
	return Provider{
		Name: GoogleDrive,
		Config: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     endpoints.Google,
			RedirectURL:  redirectURL,
			Scopes:       []string{"https://www.googleapis.com/auth/drive"},
		},
		AuthParams: []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("prompt", "consent")},
	}
}

// DropboxProvider returns the Dropbox provider requesting offline
// (refreshable) access.
func DropboxProvider(clientID, clientSecret, redirectURL string) Provider {
	return Provider{
		Name: Dropbox,
		Config: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     endpoints.Dropbox,
			RedirectURL:  redirectURL,
		},
		AuthParams: []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("token_access_type", "offline")},
	}
}
