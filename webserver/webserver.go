package webserver

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/boj/redistore"
	"github.com/gorilla/sessions"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"oauth-gateway/config"
	"oauth-gateway/configstore"
	"oauth-gateway/oidc"

	log "github.com/sirupsen/logrus"
)

type Webserver struct {
	e        *echo.Echo
	cfg      *config.Config
	store    *configstore.Store
	gate     *oidc.Gate
	registry *prometheus.Registry

	fsStore    *sessions.FilesystemStore
	redisStore *redistore.RediStore
}

// NewWebserver creates the Echo instance, the session store and registers all middleware and pages.
// The registry receives the http metrics and is served on /metrics.
func NewWebserver(cfg *config.Config, store *configstore.Store, gate *oidc.Gate, registry *prometheus.Registry) (*Webserver, error) {
	ws := &Webserver{
		e:        echo.New(),
		cfg:      cfg,
		store:    store,
		gate:     gate,
		registry: registry,
	}
	err := ws.createSessionStore()
	if err != nil {
		log.WithError(err).Error("Error creating session store")
		return nil, err
	}
	log.Info("Session-Store initialized")

	// register session store
	sessionStore, err := ws.getStore()
	if err != nil {
		log.WithError(err).Error("Error getting session store")
		return nil, err
	}

	ws.e.Use(middleware.Recover())
	ws.e.Use(requestLogger())
	ws.e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Namespace:  "oauth_gateway",
		Registerer: registry,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/metrics"
		},
	}))
	ws.e.Use(session.Middleware(sessionStore))

	// setup oidc login routes
	gate.RegisterHandlers(ws.e)
	page, err := embeddedFiles.ReadFile("static/login.html")
	if err != nil {
		return nil, err
	}
	ws.e.GET(oidc.NativeLoginPath, gate.CreateLoginPageHandler(page))
	log.Debug("OIDC login handlers registered")

	ws.registerConfigAPI()
	ws.e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{Gatherer: registry}))
	ws.e.GET("/healthz", ws.health)

	// register all pages
	for _, page := range cfg.Content.StaticPages {
		_, err := ws.createStaticPage(page)
		if err != nil {
			return nil, err
		}
	}

	// add error pages
	if err := ws.setupErrorPages(); err != nil {
		return nil, err
	}

	// hide some stuff
	ws.e.HideBanner = true
	ws.e.HidePort = true

	return ws, nil
}

// Start the webserver with the Address and Port specified in the config.
func (w *Webserver) Start() error {
	address := w.cfg.Settings.GetWSAddress()
	log.Infof("Listening on %s", address)
	return w.e.Start(address)
}

// StartAsync binds the listener and serves in the background. Requests can be sent as soon
// as it returns.
func (w *Webserver) StartAsync() error {
	address := w.cfg.Settings.GetWSAddress()
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	w.e.Listener = listener
	log.Infof("Listening on %s", address)
	go func() {
		err := w.e.Start(address)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("webserver stopped")
		}
	}()
	return nil
}

// Shutdown stops accepting requests and waits for running ones until ctx is done.
func (w *Webserver) Shutdown(ctx context.Context) error {
	return w.e.Shutdown(ctx)
}

func (w *Webserver) Close() error {
	err := w.e.Close()
	if w.redisStore != nil {
		return errors.Join(err, w.redisStore.Close())
	}
	return err
}

//go:embed static
var embeddedFiles embed.FS

func (w *Webserver) setupErrorPages() error {
	// get subdirectory to remove "static" in path
	fsError, err := fs.Sub(embeddedFiles, "static")
	if err != nil {
		log.WithError(err).Error("Error getting embedded static files")
		return err
	}
	w.e.StaticFS("/error", fsError)
	return nil
}

func (w *Webserver) health(c echo.Context) error {
	snap, err := w.store.Snapshot()
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]any{"status": "ok", "revision": snap.Revision})
}

// getStore return the existing store or an error, if no store exists.
func (w *Webserver) getStore() (sessions.Store, error) {
	if w.redisStore != nil {
		return w.redisStore, nil
	} else if w.fsStore != nil {
		return w.fsStore, nil
	}
	return nil, errors.New("no session store available")
}

// createSessionStore build the session store from config and set it into the object.
func (w *Webserver) createSessionStore() error {
	cfg := w.cfg.Settings.Session
	if cfg.StoreDriver == "redis" {
		store, err := redistore.NewRediStore(
			cfg.Redis.PoolSize, "tcp",
			fmt.Sprintf("%s:%d", cfg.Redis.Address, cfg.Redis.Port),
			cfg.Redis.Username, cfg.Redis.Password,
			[]byte(cfg.Key),
		)
		if err != nil || store == nil {
			log.WithError(err).Error("Error creating redis session store")
			return err
		}
		applySessionOptions(store.Options, cfg.MaxAge)
		w.redisStore = store
		return nil
	} else if cfg.StoreDriver == "filesystem" {
		err := os.MkdirAll(cfg.StoreDirectory, 0700)
		if err != nil {
			log.WithError(err).Error("Error creating Filesystem session store")
			return err
		}

		key := []byte(cfg.Key)
		store := sessions.NewFilesystemStore(cfg.StoreDirectory, key)
		applySessionOptions(store.Options, cfg.MaxAge)
		w.fsStore = store
		return nil
	}
	log.Errorf("Invalid session store driver: %s", cfg.StoreDriver)
	return errors.New("invalid session store driver")
}

// applySessionOptions sets the cookie attributes. Lax keeps the cookie on the top level
// redirect back from the provider.
func applySessionOptions(options *sessions.Options, maxAge int) {
	if maxAge <= 0 {
		maxAge = 60 * 60 * 24 // 1 day
	}
	options.Path = "/"
	options.MaxAge = maxAge
	options.HttpOnly = true
	options.SameSite = http.SameSiteLaxMode
}

func (w *Webserver) createStaticPage(page config.StaticPage) (*echo.Group, error) {
	log.WithFields(log.Fields{
		"id":  page.Id,
		"dir": page.Dir,
		"url": page.Url,
	}).Info("Starting registering static page")

	// remove trailing slash if present
	baseUrl := strings.TrimRight(page.Url, "/")
	group := w.e.Group(baseUrl)

	// attach protection if configured
	protection := page.Protection
	if protection != nil {
		rule, err := oidc.NewAccessRule(protection)
		if err != nil {
			return nil, fmt.Errorf("static page %q: %w", page.Id, err)
		}
		log.WithFields(log.Fields{"id": page.Id, "groups": protection.Groups}).Info("attaching protection for static page")
		group.Use(w.gate.CreateMiddleware(rule))
	}

	group.Static("/", page.Dir)

	return group, nil
}

// requestLogger logs every request through logrus. Only the path is logged, the query may
// carry codes and state tokens.
func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURIPath: true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			entry := log.WithFields(log.Fields{
				"method":  v.Method,
				"path":    v.URIPath,
				"status":  v.Status,
				"latency": v.Latency,
			})
			if v.Error != nil {
				entry.WithError(v.Error).Warn("request failed")
				return nil
			}
			entry.Debug("request")
			return nil
		},
	})
}
