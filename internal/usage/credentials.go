package usage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ErrCredentialNotFound is returned when a credential file does not exist.
var ErrCredentialNotFound = errors.New("credential file not found")

// CredentialStore supplies raw credential documents and persists updates.
type CredentialStore interface {
	Exists(path string) bool
	Load(path string) ([]byte, error)
	Save(path string, data []byte) error
}

// FileStore is the filesystem-backed CredentialStore.
type FileStore struct{}

func (FileStore) Exists(path string) bool {
	return fileExists(path)
}

func (FileStore) Load(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrCredentialNotFound, path)
		}
		return nil, fmt.Errorf("read credential file: %w", err)
	}
	return data, nil
}

// Save overwrites path atomically, keeping the file private to the user.
// Concurrent writers outside this process are not coordinated.
func (FileStore) Save(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create credential dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp credential file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp credential file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp credential file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp credential file: %w", err)
	}
	return os.Rename(tmpName, path)
}

// OAuthCredential is a refreshable credential. raw keeps the document as
// read from disk so an update rewrites only the fields this package owns.
type OAuthCredential struct {
	AccessToken  string
	RefreshToken string
	ClientID     string
	ClientSecret string
	Expiry       *int64

	raw []byte
}

// ParseOAuthCredential reads a Gemini-style oauth_creds.json document.
// A missing access token is not an error here; callers decide.
func ParseOAuthCredential(data []byte) (OAuthCredential, error) {
	if !gjson.ValidBytes(data) || !gjson.ParseBytes(data).IsObject() {
		return OAuthCredential{}, errors.New("credential file is not a JSON object")
	}
	doc := gjson.ParseBytes(data)
	cred := OAuthCredential{
		AccessToken:  strings.TrimSpace(doc.Get("access_token").String()),
		RefreshToken: strings.TrimSpace(doc.Get("refresh_token").String()),
		ClientID:     strings.TrimSpace(doc.Get("client_id").String()),
		ClientSecret: strings.TrimSpace(doc.Get("client_secret").String()),
		raw:          append([]byte(nil), data...),
	}
	if exp := doc.Get("expiry"); exp.Type == gjson.Number {
		v := exp.Int()
		cred.Expiry = &v
	}
	return cred, nil
}

// requireAccessToken returns the access token or a *MissingFieldError.
func (c OAuthCredential) requireAccessToken() (string, error) {
	if c.AccessToken == "" {
		return "", &MissingFieldError{Field: "access_token"}
	}
	return c.AccessToken, nil
}

// withAccessToken returns a copy carrying a new access token and, when
// expiry is non-nil, an absolute expiry in Unix seconds.
func (c OAuthCredential) withAccessToken(token string, expiry *int64) (OAuthCredential, error) {
	raw, err := sjson.SetBytes(c.raw, "access_token", token)
	if err != nil {
		return OAuthCredential{}, fmt.Errorf("update access_token: %w", err)
	}
	if expiry != nil {
		raw, err = sjson.SetBytes(raw, "expiry", *expiry)
		if err != nil {
			return OAuthCredential{}, fmt.Errorf("update expiry: %w", err)
		}
	}
	out, err := ParseOAuthCredential(raw)
	if err != nil {
		return OAuthCredential{}, err
	}
	// Fallback client credentials are not written into the file.
	if out.ClientID == "" {
		out.ClientID = c.ClientID
	}
	if out.ClientSecret == "" {
		out.ClientSecret = c.ClientSecret
	}
	return out, nil
}

// Raw returns the serialized document.
func (c OAuthCredential) Raw() []byte {
	return c.raw
}

// claudeAccessToken reads claudeAiOauth.accessToken from a Claude
// .credentials.json document.
func claudeAccessToken(data []byte) (string, error) {
	if !gjson.ValidBytes(data) {
		return "", errors.New("credential file is not valid JSON")
	}
	oauth := gjson.GetBytes(data, "claudeAiOauth")
	if !oauth.IsObject() {
		return "", &MissingFieldError{Field: "claudeAiOauth"}
	}
	token := strings.TrimSpace(oauth.Get("accessToken").String())
	if token == "" {
		return "", &MissingFieldError{Field: "accessToken"}
	}
	return token, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
