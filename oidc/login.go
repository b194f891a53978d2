package oidc

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	log "github.com/sirupsen/logrus"
)

type idTokenClaims struct {
	Subject           string   `json:"sub"`
	Name              string   `json:"name"`
	PreferredUsername string   `json:"preferred_username"`
	Email             string   `json:"email"`
	Groups            []string `json:"groups"`
}

// silentFailureErrors are the provider answers to prompt=none that mean "the user has to
// interact", see OpenID Connect Core 3.1.2.6.
var silentFailureErrors = map[string]bool{
	"login_required":             true,
	"interaction_required":       true,
	"consent_required":           true,
	"account_selection_required": true,
}

// RegisterHandlers registers the login entry, the callback and the logout handler.
func (g *Gate) RegisterHandlers(e *echo.Echo) {
	e.GET(LoginPath, g.Login)
	e.GET(CallbackPath, g.Callback)
	e.GET(LogoutPath, g.Logout)
}

// Login is the oidc login entry. It issues a state bound to the original url and redirects
// to the provider. silent=true is only honoured while the config allows silent login.
func (g *Gate) Login(c echo.Context) error {
	ctx := c.Request().Context()
	next := sanitizeNext(c.QueryParam("next"))

	auth, err := g.configs.Get()
	if err != nil {
		log.WithError(err).Warn("auth config unavailable at login entry")
		return c.Redirect(http.StatusFound, g.redirects.NativeLoginURL(next, ReasonConfigUnavailable))
	}
	if !auth.Usable() {
		return c.Redirect(http.StatusFound, g.redirects.NativeLoginURL(next, ""))
	}

	mode := ModeInteractive
	if c.QueryParam("silent") == "true" {
		if auth.SilentLogin {
			mode = ModeSilent
		} else {
			log.Debug("silent login requested while disabled, using interactive login")
		}
	}

	provider, err := g.providers.Get(ctx, auth, g.redirects.RedirectURI())
	if err != nil {
		return c.Redirect(http.StatusFound, g.redirects.NativeLoginURL(next, ReasonProviderUnavailable))
	}

	req, err := g.states.Issue(ctx, next, mode)
	if err != nil {
		log.WithError(err).Error("cannot issue state")
		return c.String(http.StatusInternalServerError, "cannot start login")
	}
	if ctx.Err() != nil {
		// the client is gone, the state would only wait for its expiry
		discardCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = g.states.Discard(discardCtx, req.State)
		return ctx.Err()
	}

	authURL := g.redirects.AuthorizationURL(AuthorizationRequest{
		AuthorizationEndpoint: provider.AuthorizationEndpoint(),
		ClientID:              provider.oauth2Config.ClientID,
		Scopes:                provider.oauth2Config.Scopes,
		Mode:                  mode,
		State:                 req.State,
	})
	g.metrics.providerRedirect(mode)
	return c.Redirect(http.StatusFound, authURL)
}

// Callback consumes the state, falls back to interactive login when a silent attempt
// failed and otherwise exchanges the code and creates the user session.
func (g *Gate) Callback(c echo.Context) error {
	ctx := c.Request().Context()

	req, err := g.states.Consume(ctx, c.QueryParam("state"))
	if err != nil {
		if errors.Is(err, ErrStateNotFound) || errors.Is(err, ErrStateExpired) {
			log.WithError(err).Warn("rejected oidc callback state")
			g.metrics.callback("state_rejected")
			return c.Redirect(http.StatusFound, g.redirects.LoginURL(ModeInteractive, "/"))
		}
		log.WithError(err).Error("cannot read state")
		return c.String(http.StatusInternalServerError, "cannot read login state")
	}

	if providerErr := c.QueryParam("error"); providerErr != "" {
		if req.Mode == ModeSilent {
			log.WithField("error", providerErr).Info("silent login failed, falling back to interactive login")
			g.metrics.callback("silent_failed")
			return c.Redirect(http.StatusFound, g.redirects.LoginURL(ModeInteractive, req.OriginalURL))
		}
		log.WithField("error", providerErr).Warn("interactive login failed")
		g.metrics.callback("failed")
		if silentFailureErrors[providerErr] {
			return c.Redirect(http.StatusFound, g.redirects.NativeLoginURL(req.OriginalURL, ReasonLoginFailed))
		}
		return c.String(http.StatusUnauthorized, "login failed: "+providerErr)
	}

	code := c.QueryParam("code")
	if code == "" {
		return c.String(http.StatusBadRequest, "missing 'code' parameter")
	}

	auth, err := g.configs.Get()
	if err != nil || !auth.Usable() {
		return c.Redirect(http.StatusFound, g.redirects.NativeLoginURL(req.OriginalURL, ReasonConfigUnavailable))
	}
	provider, err := g.providers.Get(ctx, auth, g.redirects.RedirectURI())
	if err != nil {
		return c.Redirect(http.StatusFound, g.redirects.NativeLoginURL(req.OriginalURL, ReasonProviderUnavailable))
	}

	oauth2Token, err := provider.oauth2Config.Exchange(ctx, code)
	if err != nil {
		log.WithError(err).Warn("token exchange failed")
		g.metrics.callback("failed")
		return c.String(http.StatusBadGateway, "token exchange failed")
	}
	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok {
		g.metrics.callback("failed")
		return c.String(http.StatusBadGateway, "no id_token in token response")
	}
	idToken, err := provider.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		log.WithError(err).Warn("id token verification failed")
		g.metrics.callback("failed")
		return c.String(http.StatusUnauthorized, "id token verification failed")
	}
	var claims idTokenClaims
	if err := idToken.Claims(&claims); err != nil {
		g.metrics.callback("failed")
		return c.String(http.StatusBadGateway, "cannot read id token claims")
	}

	expiresAt := idToken.Expiry
	if !oauth2Token.Expiry.IsZero() && oauth2Token.Expiry.Before(expiresAt) {
		expiresAt = oauth2Token.Expiry
	}
	name := claims.Name
	if name == "" {
		name = claims.PreferredUsername
	}
	user := UserSession{
		UserID:    claims.Subject,
		ExpiresAt: expiresAt.Unix(),
		Name:      name,
		Email:     claims.Email,
		Groups:    claims.Groups,
	}
	if err := saveUser(c, user); err != nil {
		log.WithError(err).Error("cannot save session")
		return c.String(http.StatusInternalServerError, "cannot save session")
	}
	log.WithFields(log.Fields{"user": user.UserID, "mode": req.Mode.String()}).Info("user logged in")
	g.metrics.callback("success_" + req.Mode.String())
	return c.Redirect(http.StatusFound, req.OriginalURL)
}

// Logout destroys the session and shows the native login page. The reason keeps the page
// from starting a silent login right away.
func (g *Gate) Logout(c echo.Context) error {
	if err := clearUser(c); err != nil {
		log.WithError(err).Warn("cannot clear session")
	}
	return c.Redirect(http.StatusFound, g.redirects.NativeLoginURL("/", ReasonLoggedOut))
}
