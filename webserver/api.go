package webserver

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"oauth-gateway/config"
	"oauth-gateway/configstore"

	log "github.com/sirupsen/logrus"
)

const (
	ConfigAPIPath = "/api/v1/configs"
	maxImportSize = 1 << 20
)

type apiError struct {
	Error string `json:"error"`
}

// registerConfigAPI registers the export and import endpoints behind the admin bearer
// token. Without a token the endpoints do not exist.
func (w *Webserver) registerConfigAPI() {
	token := w.cfg.Settings.Admin.Token
	if token == "" {
		log.Warn("no admin token configured, config API not registered")
		return
	}
	api := w.e.Group(ConfigAPIPath, middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup:  "header:" + echo.HeaderAuthorization,
		AuthScheme: "Bearer",
		Validator: func(key string, c echo.Context) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(key), []byte(token)) == 1, nil
		},
		ErrorHandler: func(err error, c echo.Context) error {
			log.WithError(err).WithField("remote", c.RealIP()).Warn("rejected config API request")
			return c.JSON(http.StatusUnauthorized, apiError{"unauthorized"})
		},
	}))
	api.GET("/export", w.exportConfig)
	api.POST("/import", w.importConfig)
	log.Debug("config API registered")
}

func (w *Webserver) exportConfig(c echo.Context) error {
	doc, err := w.store.Export(c.Request().Context())
	if err != nil {
		return storeError(c, err)
	}
	return c.JSON(http.StatusOK, doc)
}

func (w *Webserver) importConfig(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxImportSize))
	if err != nil {
		return c.JSON(http.StatusBadRequest, apiError{"cannot read request body"})
	}
	doc, err := config.ParseImportRequest(body)
	if err != nil {
		log.WithError(err).Info("rejected config import")
		return c.JSON(http.StatusBadRequest, apiError{err.Error()})
	}
	stored, err := w.store.Import(c.Request().Context(), doc)
	if err != nil {
		return storeError(c, err)
	}
	auth := stored.Auth()
	log.WithFields(log.Fields{
		"oauth":        auth.Enabled,
		"silent_login": auth.SilentLogin,
	}).Info("auth config imported")
	return c.JSON(http.StatusOK, stored)
}

func storeError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, config.ErrInvalidDocument):
		return c.JSON(http.StatusBadRequest, apiError{err.Error()})
	case errors.Is(err, configstore.ErrUnavailable):
		log.WithError(err).Warn("auth config store unavailable")
		return c.JSON(http.StatusServiceUnavailable, apiError{"auth config store unavailable"})
	default:
		log.WithError(err).Error("auth config store failed")
		return c.JSON(http.StatusInternalServerError, apiError{"internal error"})
	}
}
