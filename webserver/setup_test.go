package webserver

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/oauth2-proxy/mockoidc"
	"github.com/prometheus/client_golang/prometheus"

	"oauth-gateway/config"
	"oauth-gateway/configstore"
	testHelper "oauth-gateway/internal/test"
	"oauth-gateway/oidc"
)

const adminToken = "test-admin-token"

var (
	User1 = &mockoidc.MockUser{
		Subject:           "1",
		PreferredUsername: "mocker1",
		Groups:            []string{"group-test"},
	}
	User2 = &mockoidc.MockUser{
		Subject:           "2",
		PreferredUsername: "mocker2",
		Groups:            nil,
	}
)

type httpTestEnv struct {
	M      *mockoidc.MockOIDC
	WS     *Webserver
	Store  *configstore.Store
	Client *http.Client
	Config *config.Config

	cleanup func()
}

func (h *httpTestEnv) url(path string) string {
	return fmt.Sprintf("%s/%s", h.Config.Content.BaseUrl, path)
}

func (h *httpTestEnv) resetClient(t *testing.T) {
	h.Client = testHelper.HttpClient(t)
}

// adminRequest sends a config API request with the admin token.
func (h *httpTestEnv) adminRequest(t *testing.T, method, path string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, h.url(path), bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+adminToken)
	req.Header.Set("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func (h *httpTestEnv) export(t *testing.T) []byte {
	t.Helper()
	res := h.adminRequest(t, http.MethodGet, "api/v1/configs/export", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("export failed with status %d", res.StatusCode)
	}
	return bytes.TrimSpace(testHelper.ReadBody(t, res))
}

func (h *httpTestEnv) importDocument(t *testing.T, doc []byte) *http.Response {
	t.Helper()
	return h.adminRequest(t, http.MethodPost, "api/v1/configs/import", []byte(fmt.Sprintf(`{"config":%s}`, doc)))
}

func createConfig(m *mockoidc.MockOIDC, port int, sessionPath, staticPath string) config.Config {
	return config.Config{
		Settings: config.Settings{
			Host: config.SettingsHost{Address: "", Port: port},
			Session: config.SettingsSession{
				Key:            "472347328478392",
				StoreDriver:    "filesystem",
				StoreDirectory: sessionPath,
			},
			AuthConfig: config.SettingsAuthConfig{
				Driver:          "file",
				Path:            filepath.Join(sessionPath, "auth.yaml"),
				RefreshInterval: time.Second,
				ReadTimeout:     time.Second,
				MaxStaleness:    time.Minute,
			},
			State: config.SettingsState{StoreDriver: "memory", TTL: time.Minute},
			Admin: config.SettingsAdmin{Token: adminToken},
		},
		Content: config.ContentConfig{
			BaseUrl: fmt.Sprintf("http://localhost:%d", port),
			StaticPages: []config.StaticPage{
				{
					Id:         "page-1",
					Dir:        fmt.Sprintf("%s/page1", staticPath),
					Url:        "/page1",
					Protection: nil,
				},
				{
					Id:         "page-2",
					Dir:        fmt.Sprintf("%s/page2", staticPath),
					Url:        "/page2",
					Protection: &config.StaticPageProtection{},
				},
				{
					Id:  "page-3",
					Dir: fmt.Sprintf("%s/page3", staticPath),
					Url: "/page3",
					Protection: &config.StaticPageProtection{
						Groups: []string{"group-test"},
					},
				},
				{
					Id:  "page-4",
					Dir: fmt.Sprintf("%s/page4", staticPath),
					Url: "/page4",
					Protection: &config.StaticPageProtection{
						Expression: `len(user.groups) == 0`,
					},
				},
			},
			InitialAuth: map[string]any{
				"oauth": map[string]any{
					"enabled":       true,
					"silent_login":  false,
					"provider_url":  m.Issuer(),
					"client_id":     m.ClientID,
					"client_secret": m.ClientSecret,
				},
			},
		},
	}
}

// newHttpTestEnv starts mockoidc and a webserver wired like main, with a file backed
// auth config seeded from the content config.
func newHttpTestEnv(t *testing.T) *httpTestEnv {
	t.Helper()
	m, err := mockoidc.Run()
	if err != nil {
		t.Fatal(err)
	}
	rm, contentPath, err := testHelper.PrepareContentFolder()
	if err != nil {
		_ = m.Shutdown()
		t.Fatal(err)
	}
	sessionStorage, err := os.MkdirTemp("", fmt.Sprintf("oauth-gateway-session-%s", testHelper.RandHex(8)))
	if err != nil {
		_ = m.Shutdown()
		rm()
		t.Fatal(err)
	}
	port, err := testHelper.GetFreePort()
	if err != nil {
		t.Fatal(err)
	}
	cfg := createConfig(m, port, sessionStorage, contentPath)

	ctx, cancel := context.WithCancel(context.Background())
	env := &httpTestEnv{M: m, Config: &cfg}
	env.cleanup = func() {
		cancel()
		if env.WS != nil {
			_ = env.WS.Close()
		}
		_ = m.Shutdown()
		rm()
		_ = os.RemoveAll(sessionStorage)
	}
	t.Cleanup(env.cleanup)

	env.Store = configstore.New(configstore.NewFileBackend(cfg.Settings.AuthConfig.Path), configstore.OptionsFromSettings(cfg.Settings.AuthConfig))
	initial, err := cfg.Content.InitialDocument()
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Store.SeedIfEmpty(ctx, initial); err != nil {
		t.Fatal(err)
	}
	env.Store.Start(ctx)

	registry := prometheus.NewRegistry()
	gate := oidc.NewGate(
		env.Store,
		oidc.NewMemoryStateStore(cfg.Settings.State.TTL),
		oidc.NewProviders(5*time.Second),
		oidc.NewRedirectBuilder(cfg.Content.BaseUrl),
		oidc.NewMetrics(registry),
	)
	env.WS, err = NewWebserver(&cfg, env.Store, gate, registry)
	if err != nil {
		t.Fatal(err)
	}
	if err := env.WS.StartAsync(); err != nil {
		t.Fatal(err)
	}
	env.Client = testHelper.HttpClient(t)
	return env
}
