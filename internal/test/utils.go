package test

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"os"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/labstack/gommon/random"

	log "github.com/sirupsen/logrus"
)

func RandHex(n uint8) string {
	r := random.New()
	return r.String(n, random.Hex)
}

// PrepareContentFolder creates a temp dir with the page dirs page1 to page4, each holding a
// file.txt with the content "page=<n>".
func PrepareContentFolder() (func(), string, error) {
	// generate random 8 hex chars for tmp dir
	chars := RandHex(8)
	dirName, err := os.MkdirTemp("", fmt.Sprintf("oauth-gateway-%s", chars))
	if err != nil {
		return nil, "", err
	}
	for i := 0; i < 4; i++ {
		pageDir := fmt.Sprintf("%s/page%d", dirName, i+1)
		err := os.Mkdir(pageDir, 0o755)
		if err != nil {
			_ = os.RemoveAll(dirName)
			return nil, "", err
		}
		err = os.WriteFile(fmt.Sprintf("%s/file.txt", pageDir), []byte(fmt.Sprintf("page=%d", i+1)), 0o644)
		if err != nil {
			_ = os.RemoveAll(dirName)
			return nil, "", err
		}
	}
	return func() {
		_ = os.RemoveAll(dirName)
	}, dirName, nil
}

// HttpClient is a browser like client with a cookie jar that follows redirects.
func HttpClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	return &http.Client{Timeout: time.Second * 10, Jar: jar}
}

// InterceptingClient records every request url the client sends, including the ones of
// followed redirects.
func InterceptingClient(t *testing.T, seen *[]string) *http.Client {
	t.Helper()
	client := HttpClient(t)
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		*seen = append(*seen, req.URL.String())
		if len(via) >= 10 {
			return http.ErrUseLastResponse
		}
		return nil
	}
	return client
}

// NoRedirectClient returns every redirect response to the caller.
func NoRedirectClient(t *testing.T) *http.Client {
	t.Helper()
	client := HttpClient(t)
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return client
}

func ReadBody(t *testing.T, res *http.Response) []byte {
	t.Helper()
	buf, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatal(err)
	}
	_ = res.Body.Close()
	return buf
}

func AssertBodyString(t *testing.T, res *http.Response, expected string) {
	t.Helper()
	body := string(ReadBody(t, res))
	assert.Equal(t, expected, body)
}

// GetFreePort asks the kernel for a free open port that is ready to use.
// From: https://gist.github.com/sevkin/96bdae9274465b2d09191384f86ef39d
func GetFreePort() (port int, err error) {
	var a *net.TCPAddr
	if a, err = net.ResolveTCPAddr("tcp", "localhost:0"); err == nil {
		var l *net.TCPListener
		if l, err = net.ListenTCP("tcp", a); err == nil {
			defer func(l *net.TCPListener) {
				err := l.Close()
				if err != nil {
					log.WithError(err).Error("Failed to close listener")
				}
			}(l)
			return l.Addr().(*net.TCPAddr).Port, nil
		}
	}
	return
}
