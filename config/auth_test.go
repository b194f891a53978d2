package config

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestParseDocumentPreservesUnknownFields(t *testing.T) {
	raw := `{"ui":{"banner":"hi"},"oauth":{"enabled":true,"silent_login":true,"provider_url":"https://idp.example.com","client_id":"gw","team_claim":"org","providers":{"x":1}},"version":3}`
	doc, err := ParseDocument([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	auth := doc.Auth()
	assert.Equal(t, true, auth.Enabled)
	assert.Equal(t, true, auth.SilentLogin)
	assert.Equal(t, "https://idp.example.com", auth.ProviderURL)
	assert.Equal(t, `"org"`, string(auth.Extra["team_claim"]))
	assert.Equal(t, `{"x":1}`, string(auth.Extra["providers"]))
	assert.Equal(t, `3`, string(doc.Extra["version"]))

	out, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	again, err := ParseDocument(out)
	if err != nil {
		t.Fatal(err)
	}
	out2, err := json.Marshal(again)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, string(out), string(out2))
}

func TestParseDocumentRejectsNonBooleanFlags(t *testing.T) {
	tests := []string{
		`{"oauth":{"silent_login":"true"}}`,
		`{"oauth":{"silent_login":1}}`,
		`{"oauth":{"enabled":"yes"}}`,
		`{"oauth":{"provider_url":42}}`,
		`{"oauth":{"scopes":"openid"}}`,
		`{"oauth":[]}`,
		`[]`,
	}
	for _, raw := range tests {
		_, err := ParseDocument([]byte(raw))
		if !errors.Is(err, ErrInvalidDocument) {
			t.Errorf("expected ErrInvalidDocument for %s, got %v", raw, err)
		}
	}
}

func TestSilentLoginDefaultsToFalse(t *testing.T) {
	doc, err := ParseDocument([]byte(`{"oauth":{"enabled":true,"provider_url":"https://idp.example.com","client_id":"gw"}}`))
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, false, doc.Auth().SilentLogin)
	assert.Equal(t, true, doc.Auth().Usable())
	assert.Equal(t, false, doc.Auth().SilentLoginActive())

	doc, err = ParseDocument([]byte(`{"oauth":{"enabled":true,"silent_login":null,"provider_url":"https://idp.example.com","client_id":"gw"}}`))
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, false, doc.Auth().SilentLogin)
}

func TestAuthConfigUsable(t *testing.T) {
	tests := []struct {
		name   string
		cfg    AuthConfig
		usable bool
		silent bool
	}{
		{"disabled", AuthConfig{SilentLogin: true, ProviderURL: "https://idp", ClientID: "c"}, false, false},
		{"enabled", AuthConfig{Enabled: true, ProviderURL: "https://idp.example.com", ClientID: "c"}, true, false},
		{"enabled silent", AuthConfig{Enabled: true, SilentLogin: true, ProviderURL: "https://idp.example.com", ClientID: "c"}, true, true},
		{"missing provider", AuthConfig{Enabled: true, SilentLogin: true, ClientID: "c"}, false, false},
		{"missing client", AuthConfig{Enabled: true, SilentLogin: true, ProviderURL: "https://idp.example.com"}, false, false},
		{"bad provider url", AuthConfig{Enabled: true, SilentLogin: true, ProviderURL: "not a url", ClientID: "c"}, false, false},
	}
	for _, test := range tests {
		assert.Equal(t, test.usable, test.cfg.Usable())
		assert.Equal(t, test.silent, test.cfg.SilentLoginActive())
		if !test.usable && test.cfg.Enabled && !errors.Is(test.cfg.Validate(), ErrInvalidAuthConfig) {
			t.Errorf("%s: expected ErrInvalidAuthConfig", test.name)
		}
	}
}

func TestParseImportRequest(t *testing.T) {
	doc, err := ParseImportRequest([]byte(`{"config":{"oauth":{"silent_login":true}}}`))
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, true, doc.Auth().SilentLogin)

	_, err = ParseImportRequest([]byte(`{"oauth":{"silent_login":true}}`))
	assert.Equal(t, true, errors.Is(err, ErrInvalidDocument))

	_, err = ParseImportRequest([]byte(`{"config":{"oauth":{"silent_login":"false"}}}`))
	assert.Equal(t, true, errors.Is(err, ErrInvalidDocument))

	_, err = ParseImportRequest([]byte(`{"config":`))
	assert.Equal(t, true, errors.Is(err, ErrInvalidDocument))
}

func TestDocumentCloneIsIndependent(t *testing.T) {
	doc, err := ParseDocument([]byte(`{"oauth":{"enabled":true,"scopes":["openid"]}}`))
	if err != nil {
		t.Fatal(err)
	}
	clone := doc.Clone()
	clone.OAuth.Enabled = false
	clone.OAuth.Scopes[0] = "email"
	assert.Equal(t, true, doc.OAuth.Enabled)
	assert.Equal(t, "openid", doc.OAuth.Scopes[0])
	assert.Equal(t, []string{"openid", "profile", "email", "groups"}, AuthConfig{}.RequestedScopes())
}
