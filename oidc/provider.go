package oidc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"oauth-gateway/config"

	log "github.com/sirupsen/logrus"
)

// ErrProviderUnavailable is returned when the discovery document can not be fetched.
var ErrProviderUnavailable = errors.New("oidc provider unavailable")

const maxCachedProviders = 16

// Provider is a discovered OIDC provider for one auth config.
type Provider struct {
	provider     *oidc.Provider
	oauth2Config oauth2.Config
	verifier     *oidc.IDTokenVerifier
}

// AuthorizationEndpoint is the discovered authorization url.
func (p *Provider) AuthorizationEndpoint() string {
	return p.oauth2Config.Endpoint.AuthURL
}

type providerKey struct {
	issuer       string
	clientID     string
	clientSecret string
	scopes       string
	redirectURI  string
}

// Providers caches discovered providers per auth config. The auth config can change at
// any time, so the cache is keyed by every value that ends up in the oauth2 config.
type Providers struct {
	timeout time.Duration

	mu      sync.Mutex
	entries map[providerKey]*Provider
	group   singleflight.Group
}

func NewProviders(timeout time.Duration) *Providers {
	return &Providers{
		timeout: timeout,
		entries: make(map[providerKey]*Provider),
	}
}

// Get returns the provider for auth, running the discovery at most once per key.
func (p *Providers) Get(ctx context.Context, auth config.AuthConfig, redirectURI string) (*Provider, error) {
	scopes := auth.RequestedScopes()
	key := providerKey{
		issuer:       strings.TrimRight(auth.ProviderURL, "/"),
		clientID:     auth.ClientID,
		clientSecret: auth.ClientSecret,
		scopes:       strings.Join(scopes, " "),
		redirectURI:  redirectURI,
	}
	p.mu.Lock()
	cached, ok := p.entries[key]
	p.mu.Unlock()
	if ok {
		return cached, nil
	}

	v, err, _ := p.group.Do(fmt.Sprintf("%#v", key), func() (any, error) {
		provider, err := p.discover(ctx, key, scopes)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		if len(p.entries) >= maxCachedProviders {
			clear(p.entries)
		}
		p.entries[key] = provider
		return provider, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Provider), nil
}

// discover fetches the discovery document and builds the oauth2 config.
// The callback-url is part of the key, because it must match exactly on exchange.
// The result is shared with every waiter of the key, so only the timeout bounds it and
// not the request that happened to start it.
func (p *Providers) discover(ctx context.Context, key providerKey, scopes []string) (*Provider, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	provider, err := oidc.NewProvider(ctx, key.issuer)
	if err != nil {
		log.WithField("issuer", key.issuer).
			WithError(err).
			Error("Failed to create oidc provider.")
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	log.WithField("issuer", key.issuer).Debug("oidc provider discovered")
	return &Provider{
		provider: provider,
		oauth2Config: oauth2.Config{
			ClientID:     key.clientID,
			ClientSecret: key.clientSecret,
			RedirectURL:  key.redirectURI,
			Endpoint:     provider.Endpoint(),
			Scopes:       scopes,
		},
		verifier: provider.Verifier(&oidc.Config{ClientID: key.clientID}),
	}, nil
}
