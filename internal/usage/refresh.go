package usage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// DefaultTokenURL is Google's OAuth2 token endpoint.
var DefaultTokenURL = google.Endpoint.TokenURL

// RefreshOutcome is the result of a refresh attempt. Message is safe to
// surface; it never contains token material or response bodies.
type RefreshOutcome struct {
	OK         bool
	Credential *OAuthCredential
	Message    string
}

// Refresher exchanges a refresh token for a new access token and persists
// the updated credential. It is the only writer of credential files.
type Refresher struct {
	store      CredentialStore
	tokenURL   string
	httpClient *http.Client
}

func NewRefresher(store CredentialStore, tokenURL string, httpClient *http.Client) *Refresher {
	if strings.TrimSpace(tokenURL) == "" {
		tokenURL = DefaultTokenURL
	}
	return &Refresher{
		store:      store,
		tokenURL:   tokenURL,
		httpClient: httpClient,
	}
}

func (r *Refresher) Refresh(ctx context.Context, path string, cred OAuthCredential) RefreshOutcome {
	if cred.RefreshToken == "" {
		return RefreshOutcome{Message: "No refresh token found"}
	}
	if cred.ClientID == "" || cred.ClientSecret == "" {
		return RefreshOutcome{Message: "Missing OAuth client credentials"}
	}

	conf := &oauth2.Config{
		ClientID:     cred.ClientID,
		ClientSecret: cred.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  r.tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	if r.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
	}

	token, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken}).Token()
	if err != nil {
		var rErr *oauth2.RetrieveError
		if errors.As(err, &rErr) && rErr.Response != nil {
			log.WithField("status", rErr.Response.StatusCode).Debug("token refresh rejected")
			return RefreshOutcome{Message: refreshStatusMessage(rErr.Response.StatusCode)}
		}
		return RefreshOutcome{Message: "Token refresh error: " + errorTypeName(err)}
	}

	var expiry *int64
	if !token.Expiry.IsZero() {
		v := token.Expiry.Unix()
		expiry = &v
	}
	updated, err := cred.withAccessToken(token.AccessToken, expiry)
	if err != nil {
		return RefreshOutcome{Message: "Token refresh error: " + errorTypeName(err)}
	}
	if err := r.store.Save(path, updated.Raw()); err != nil {
		return RefreshOutcome{Message: "Token refresh error: " + errorTypeName(err)}
	}
	log.WithField("path", path).Debug("refreshed credential saved")

	return RefreshOutcome{OK: true, Credential: &updated}
}

func refreshStatusMessage(code int) string {
	switch code {
	case http.StatusBadRequest:
		return "Refresh token expired - please re-authenticate"
	case http.StatusUnauthorized:
		return "Authentication failed - please re-authenticate"
	default:
		return fmt.Sprintf("Token refresh failed (HTTP %d)", code)
	}
}

// errorTypeName names an error's dynamic type without its message, e.g.
// "url.Error". The message of a refresh error may echo request material.
func errorTypeName(err error) string {
	return strings.TrimLeft(fmt.Sprintf("%T", err), "*")
}
