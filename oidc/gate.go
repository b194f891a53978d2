package oidc

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"oauth-gateway/config"

	log "github.com/sirupsen/logrus"
)

// Outcome is the terminal state of the gate for one request.
type Outcome string

const (
	OutcomeAllowed               Outcome = "allowed"
	OutcomeRedirectedNative      Outcome = "redirected_native"
	OutcomeRedirectedInteractive Outcome = "redirected_interactive"
	OutcomeRedirectedSilent      Outcome = "redirected_silent"
)

// Reasons passed to the native login page.
const (
	ReasonConfigUnavailable   = "config_unavailable"
	ReasonProviderUnavailable = "provider_unavailable"
	ReasonLoggedOut           = "logged_out"
	ReasonLoginFailed         = "login_failed"
)

// ConfigSource is the read side of the config store.
type ConfigSource interface {
	Get() (config.AuthConfig, error)
}

// Decision is the result of evaluating an unauthenticated request.
type Decision struct {
	Outcome  Outcome
	Location string
}

// Gate guards protected routes and drives the login round trip.
type Gate struct {
	configs   ConfigSource
	states    StateStore
	providers *Providers
	redirects RedirectBuilder
	metrics   *Metrics
	now       func() time.Time
}

func NewGate(configs ConfigSource, states StateStore, providers *Providers, redirects RedirectBuilder, metrics *Metrics) *Gate {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Gate{
		configs:   configs,
		states:    states,
		providers: providers,
		redirects: redirects,
		metrics:   metrics,
		now:       time.Now,
	}
}

// Decide picks the redirect for a request without a valid session. It never returns
// OutcomeAllowed. Unreadable or unusable configs end on the native login page, silent
// login is only chosen for a usable config with silent_login set.
func (g *Gate) Decide(originalURL string) Decision {
	auth, err := g.configs.Get()
	if err != nil {
		log.WithError(err).Warn("auth config unavailable, falling back to native login")
		return Decision{OutcomeRedirectedNative, g.redirects.NativeLoginURL(originalURL, ReasonConfigUnavailable)}
	}
	if !auth.Enabled {
		return Decision{OutcomeRedirectedNative, g.redirects.NativeLoginURL(originalURL, "")}
	}
	if err := auth.Validate(); err != nil {
		log.WithError(err).Warn("oauth is enabled but not usable, treating it as disabled")
		return Decision{OutcomeRedirectedNative, g.redirects.NativeLoginURL(originalURL, "")}
	}
	if auth.SilentLogin {
		return Decision{OutcomeRedirectedSilent, g.redirects.LoginURL(ModeSilent, originalURL)}
	}
	return Decision{OutcomeRedirectedInteractive, g.redirects.LoginURL(ModeInteractive, originalURL)}
}

// CreateMiddleware creates a middleware, which protects all following routes.
// Requests with a valid session pass if the rule allows the user, all others get exactly
// one redirect chosen by Decide.
func (g *Gate) CreateMiddleware(rule AccessRule) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user, ok := currentUser(c, g.now())
			if ok {
				if !rule.Allows(user) {
					return c.String(http.StatusForbidden, "You do not have the required permissions to access this resource.")
				}
				g.metrics.outcome(OutcomeAllowed)
				return next(c)
			}
			decision := g.Decide(c.Request().URL.RequestURI())
			g.metrics.outcome(decision.Outcome)
			log.WithFields(log.Fields{
				"path":    c.Request().URL.Path,
				"outcome": decision.Outcome,
			}).Debug("unauthenticated request redirected")
			return c.Redirect(http.StatusFound, decision.Location)
		}
	}
}

// CreateLoginPageHandler serves the native login page. For visitors without a session and
// a usable oauth config it dispatches to the oidc login entry instead. A reason parameter
// always renders the page, so failed logins do not loop.
func (g *Gate) CreateLoginPageHandler(page []byte) echo.HandlerFunc {
	return func(c echo.Context) error {
		next := sanitizeNext(c.QueryParam("next"))
		if _, ok := currentUser(c, g.now()); ok {
			return c.Redirect(http.StatusFound, next)
		}
		if reason := c.QueryParam("reason"); reason != "" {
			status := http.StatusOK
			if reason == ReasonConfigUnavailable || reason == ReasonProviderUnavailable {
				status = http.StatusServiceUnavailable
			}
			return c.HTMLBlob(status, page)
		}
		auth, err := g.configs.Get()
		if err != nil {
			log.WithError(err).Warn("auth config unavailable, rendering native login")
			return c.HTMLBlob(http.StatusServiceUnavailable, page)
		}
		if !auth.Usable() {
			return c.HTMLBlob(http.StatusOK, page)
		}
		decision := g.Decide(next)
		g.metrics.outcome(decision.Outcome)
		return c.Redirect(http.StatusFound, decision.Location)
	}
}
