package oidc

import (
	"encoding/gob"
	"time"

	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
)

const sessionName = "oauth_gateway_session"
const userSessionKey = "user"

// UserSession is the authenticated user stored in the browser session.
type UserSession struct {
	UserID    string   `json:"user_id"`
	ExpiresAt int64    `json:"expires_at"`
	Name      string   `json:"name"`
	Email     string   `json:"email"`
	Groups    []string `json:"groups"`
}

func init() {
	// register the custom session type
	gob.Register(UserSession{})
}

// Valid is true for a session with a user that has not expired yet.
func (u UserSession) Valid(now time.Time) bool {
	return u.UserID != "" && now.Unix() < u.ExpiresAt
}

// currentUser returns the valid user of the request session, if any.
func currentUser(c echo.Context, now time.Time) (UserSession, bool) {
	sess, err := session.Get(sessionName, c)
	if err != nil {
		return UserSession{}, false
	}
	user, ok := sess.Values[userSessionKey].(UserSession)
	if !ok || !user.Valid(now) {
		return UserSession{}, false
	}
	return user, true
}

func saveUser(c echo.Context, user UserSession) error {
	sess, err := session.Get(sessionName, c)
	if err != nil {
		return err
	}
	sess.Values[userSessionKey] = user
	return sess.Save(c.Request(), c.Response())
}

func clearUser(c echo.Context) error {
	sess, err := session.Get(sessionName, c)
	if err != nil {
		return err
	}
	delete(sess.Values, userSessionKey)
	sess.Options.MaxAge = -1
	return sess.Save(c.Request(), c.Response())
}
