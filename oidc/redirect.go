package oidc

import (
	"net/url"
	"strings"

	"golang.org/x/oauth2"
)

const (
	LoginPath       = "/oauth/oidc/login"
	CallbackPath    = "/oauth/oidc/callback"
	LogoutPath      = "/oauth/logout"
	NativeLoginPath = "/auth"
)

// Mode selects between a login with provider UI and a silent one without.
type Mode int

const (
	ModeInteractive Mode = iota
	ModeSilent
)

func (m Mode) String() string {
	if m == ModeSilent {
		return "silent"
	}
	return "interactive"
}

// modeParams returns the query parameters that distinguish the modes. This is the only
// place that adds silent=true to any url. For the provider url, silent mode also asks for
// prompt=none.
func modeParams(m Mode, provider bool) url.Values {
	params := url.Values{}
	if m != ModeSilent {
		return params
	}
	params.Set("silent", "true")
	if provider {
		params.Set("prompt", "none")
	}
	return params
}

// AuthorizationRequest holds everything needed to build the provider authorization url.
type AuthorizationRequest struct {
	AuthorizationEndpoint string
	ClientID              string
	Scopes                []string
	Mode                  Mode
	State                 string
}

// RedirectBuilder builds the urls the gate redirects to. All methods are pure.
type RedirectBuilder struct {
	redirectURI string
}

// NewRedirectBuilder creates a builder for a gateway reachable at baseUrl.
func NewRedirectBuilder(baseUrl string) RedirectBuilder {
	return RedirectBuilder{redirectURI: strings.TrimRight(baseUrl, "/") + CallbackPath}
}

// RedirectURI is the callback url registered at the provider.
func (b RedirectBuilder) RedirectURI() string {
	return b.redirectURI
}

// LoginURL is the login entry url for the given mode. The original url is carried in next
// to be restored after the login.
func (b RedirectBuilder) LoginURL(mode Mode, originalURL string) string {
	query := modeParams(mode, false)
	if next := sanitizeNext(originalURL); next != "/" {
		query.Set("next", next)
	}
	return withQuery(LoginPath, query)
}

// NativeLoginURL is the native login page. A non-empty reason makes the page render
// instead of dispatching to oidc again.
func (b RedirectBuilder) NativeLoginURL(originalURL, reason string) string {
	query := url.Values{}
	if next := sanitizeNext(originalURL); next != "/" {
		query.Set("next", next)
	}
	if reason != "" {
		query.Set("reason", reason)
	}
	return withQuery(NativeLoginPath, query)
}

// AuthorizationURL is the provider authorization url with client_id, redirect_uri, state,
// response_type and scope, plus the mode parameters.
func (b RedirectBuilder) AuthorizationURL(req AuthorizationRequest) string {
	cfg := oauth2.Config{
		ClientID:    req.ClientID,
		RedirectURL: b.redirectURI,
		Endpoint:    oauth2.Endpoint{AuthURL: req.AuthorizationEndpoint},
		Scopes:      req.Scopes,
	}
	var opts []oauth2.AuthCodeOption
	for key, values := range modeParams(req.Mode, true) {
		opts = append(opts, oauth2.SetAuthURLParam(key, values[0]))
	}
	return cfg.AuthCodeURL(req.State, opts...)
}

// sanitizeNext only lets local absolute paths through, everything else becomes "/".
func sanitizeNext(next string) string {
	if next == "" || next[0] != '/' || strings.HasPrefix(next, "//") || strings.ContainsAny(next, "\\\r\n") {
		return "/"
	}
	parsed, err := url.Parse(next)
	if err != nil || parsed.Scheme != "" || parsed.Host != "" {
		return "/"
	}
	return next
}

func withQuery(path string, query url.Values) string {
	if len(query) == 0 {
		return path
	}
	return path + "?" + query.Encode()
}
