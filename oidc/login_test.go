package oidc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/labstack/echo/v4"
	"github.com/oauth2-proxy/mockoidc"

	"oauth-gateway/config"
)

// cancellingStateStore ends the request right after a state was issued.
type cancellingStateStore struct {
	StateStore
	cancel context.CancelFunc
	issued string
}

func (s *cancellingStateStore) Issue(ctx context.Context, originalURL string, mode Mode) (RedirectRequest, error) {
	req, err := s.StateStore.Issue(ctx, originalURL, mode)
	s.issued = req.State
	s.cancel()
	return req, err
}

func TestLoginDiscardsStateOfGoneClient(t *testing.T) {
	m, err := mockoidc.Run()
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		_ = m.Shutdown()
	}()
	configs := &fakeConfigSource{}
	configs.set(config.AuthConfig{Enabled: true, SilentLogin: true, ProviderURL: m.Issuer(), ClientID: m.ClientID, ClientSecret: m.ClientSecret}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	states := &cancellingStateStore{StateStore: NewMemoryStateStore(time.Minute), cancel: cancel}
	gate := NewGate(configs, states, NewProviders(5*time.Second), NewRedirectBuilder("http://localhost"), nil)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/oauth/oidc/login?silent=true&next=/private/page", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	err = gate.Login(e.NewContext(req, rec))
	assert.Equal(t, true, errors.Is(err, context.Canceled))
	assert.Equal(t, "", rec.Header().Get("Location"))

	if states.issued == "" {
		t.Fatal("expected an issued state")
	}
	_, err = states.Consume(context.Background(), states.issued)
	assert.Equal(t, true, errors.Is(err, ErrStateNotFound))
}
