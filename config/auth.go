package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrInvalidDocument is returned for exported/imported documents that cannot be decoded,
	// including flags that are not JSON booleans.
	ErrInvalidDocument = errors.New("invalid config document")
	// ErrInvalidAuthConfig marks an oauth section that is enabled but unusable.
	ErrInvalidAuthConfig = errors.New("invalid auth config")
)

const (
	documentKeyOAuth = "oauth"

	oauthKeyEnabled      = "enabled"
	oauthKeySilentLogin  = "silent_login"
	oauthKeyProviderURL  = "provider_url"
	oauthKeyClientID     = "client_id"
	oauthKeyClientSecret = "client_secret"
	oauthKeyScopes       = "scopes"
)

// DefaultScopes are requested when the oauth section does not list any.
var DefaultScopes = []string{"openid", "profile", "email", "groups"}

var authValidate = validator.New(validator.WithRequiredStructEnabled())

// AuthConfig is the oauth section of the exported configuration.
// Keys that are not modelled here are kept in Extra and written back unchanged.
type AuthConfig struct {
	Enabled bool
	// SilentLogin defaults to false and only has an effect when Enabled is set.
	SilentLogin  bool
	ProviderURL  string `validate:"required_if=Enabled true,omitempty,url"`
	ClientID     string `validate:"required_if=Enabled true"`
	ClientSecret string
	Scopes       []string

	Extra map[string]json.RawMessage
}

// Validate reports ErrInvalidAuthConfig when an enabled section lacks the provider url or
// the client id.
func (a AuthConfig) Validate() error {
	err := validateStruct(authValidate, a)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAuthConfig, err)
	}
	return nil
}

// Usable is true when oauth is enabled and the section is valid.
// Invalid sections are treated as disabled.
func (a AuthConfig) Usable() bool {
	return a.Enabled && a.Validate() == nil
}

// SilentLoginActive is true only for a usable section with silent_login set.
func (a AuthConfig) SilentLoginActive() bool {
	return a.SilentLogin && a.Usable()
}

// RequestedScopes returns the configured scopes or DefaultScopes.
func (a AuthConfig) RequestedScopes() []string {
	if len(a.Scopes) == 0 {
		return slices.Clone(DefaultScopes)
	}
	return slices.Clone(a.Scopes)
}

func (a AuthConfig) Clone() AuthConfig {
	c := a
	c.Scopes = slices.Clone(a.Scopes)
	c.Extra = maps.Clone(a.Extra)
	return c
}

func (a *AuthConfig) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("%w: oauth must be an object: %v", ErrInvalidDocument, err)
	}
	if fields == nil {
		*a = AuthConfig{}
		return nil
	}

	var out AuthConfig
	var err error
	if out.Enabled, err = decodeBool(fields, oauthKeyEnabled); err != nil {
		return err
	}
	if out.SilentLogin, err = decodeBool(fields, oauthKeySilentLogin); err != nil {
		return err
	}
	if out.ProviderURL, err = decodeString(fields, oauthKeyProviderURL); err != nil {
		return err
	}
	if out.ClientID, err = decodeString(fields, oauthKeyClientID); err != nil {
		return err
	}
	if out.ClientSecret, err = decodeString(fields, oauthKeyClientSecret); err != nil {
		return err
	}
	if raw, ok := fields[oauthKeyScopes]; ok {
		if err := json.Unmarshal(raw, &out.Scopes); err != nil {
			return fmt.Errorf("%w: oauth.%s must be a list of strings", ErrInvalidDocument, oauthKeyScopes)
		}
	}

	for _, key := range []string{oauthKeyEnabled, oauthKeySilentLogin, oauthKeyProviderURL, oauthKeyClientID, oauthKeyClientSecret, oauthKeyScopes} {
		delete(fields, key)
	}
	if len(fields) > 0 {
		out.Extra = fields
	}
	*a = out
	return nil
}

func (a AuthConfig) MarshalJSON() ([]byte, error) {
	fields := make(map[string]any, len(a.Extra)+6)
	for key, value := range a.Extra {
		fields[key] = value
	}
	fields[oauthKeyEnabled] = a.Enabled
	fields[oauthKeySilentLogin] = a.SilentLogin
	fields[oauthKeyProviderURL] = a.ProviderURL
	fields[oauthKeyClientID] = a.ClientID
	fields[oauthKeyClientSecret] = a.ClientSecret
	if a.Scopes != nil {
		fields[oauthKeyScopes] = a.Scopes
	}
	return json.Marshal(fields)
}

// Document is the structure served by the export endpoint and accepted by import.
// Only the oauth section is interpreted; every other top-level key is preserved verbatim.
type Document struct {
	OAuth *AuthConfig
	Extra map[string]json.RawMessage
}

// ParseDocument decodes a Document from JSON.
func ParseDocument(data []byte) (*Document, error) {
	doc := new(Document)
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, wrapDocumentError(err)
	}
	return doc, nil
}

// Auth returns the oauth section or the zero value (disabled) when it is missing.
func (d *Document) Auth() AuthConfig {
	if d == nil || d.OAuth == nil {
		return AuthConfig{}
	}
	return d.OAuth.Clone()
}

func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := &Document{Extra: maps.Clone(d.Extra)}
	if d.OAuth != nil {
		auth := d.OAuth.Clone()
		c.OAuth = &auth
	}
	return c
}

func (d *Document) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("%w: config must be an object: %v", ErrInvalidDocument, err)
	}
	if fields == nil {
		return fmt.Errorf("%w: config must be an object", ErrInvalidDocument)
	}
	var out Document
	if raw, ok := fields[documentKeyOAuth]; ok && !isNull(raw) {
		auth := new(AuthConfig)
		if err := auth.UnmarshalJSON(raw); err != nil {
			return err
		}
		out.OAuth = auth
	}
	delete(fields, documentKeyOAuth)
	if len(fields) > 0 {
		out.Extra = fields
	}
	*d = out
	return nil
}

// MarshalJSON writes compact JSON with sorted keys, so an exported document that is
// imported unchanged exports to the same bytes.
func (d Document) MarshalJSON() ([]byte, error) {
	fields := make(map[string]any, len(d.Extra)+1)
	for key, value := range d.Extra {
		fields[key] = value
	}
	if d.OAuth != nil {
		fields[documentKeyOAuth] = d.OAuth
	}
	return json.Marshal(fields)
}

// ImportRequest is the body of POST /api/v1/configs/import.
type ImportRequest struct {
	Config *Document `json:"config"`
}

// ParseImportRequest decodes an import body and requires the config object.
func ParseImportRequest(data []byte) (*Document, error) {
	var req ImportRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, wrapDocumentError(err)
	}
	if req.Config == nil {
		return nil, fmt.Errorf("%w: missing config", ErrInvalidDocument)
	}
	return req.Config, nil
}

// --- helper ---

func decodeBool(fields map[string]json.RawMessage, key string) (bool, error) {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return false, nil
	}
	var value bool
	if err := json.Unmarshal(raw, &value); err != nil {
		return false, fmt.Errorf("%w: oauth.%s must be a boolean, got %s", ErrInvalidDocument, key, raw)
	}
	return value, nil
}

func decodeString(fields map[string]json.RawMessage, key string) (string, error) {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return "", nil
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", fmt.Errorf("%w: oauth.%s must be a string", ErrInvalidDocument, key)
	}
	return value, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func wrapDocumentError(err error) error {
	if errors.Is(err, ErrInvalidDocument) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
}
