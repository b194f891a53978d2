package configstore

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"oauth-gateway/config"
)

func TestFileBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	backend := NewFileBackend(filepath.Join(t.TempDir(), "auth.yaml"))

	_, err := backend.Load(ctx)
	assert.Equal(t, true, errors.Is(err, ErrNotFound))

	doc := testDocument(t, true)
	if err := backend.Save(ctx, doc); err != nil {
		t.Fatal(err)
	}
	loaded, err := backend.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	auth := loaded.Auth()
	assert.Equal(t, true, auth.SilentLogin)
	assert.Equal(t, "https://idp.example.com", auth.ProviderURL)
	assert.Equal(t, `{"a":[1,2]}`, string(auth.Extra["extra_field"]))
	assert.Equal(t, `{"name":"gw"}`, string(loaded.Extra["webui"]))
}

func TestFileBackendKeepsOpaqueNumbers(t *testing.T) {
	ctx := context.Background()
	store := New(NewFileBackend(filepath.Join(t.TempDir(), "auth.yaml")), testOptions())

	raw := `{"oauth":{"big":1e400,"client_id":"gw","client_secret":"","enabled":true,"provider_url":"https://idp.example.com","ratio":1.50,"silent_login":true,"tenant_id":12345678901234567}}`
	doc, err := config.ParseDocument([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	imported, err := store.Import(ctx, doc)
	if err != nil {
		t.Fatal(err)
	}
	exported, err := store.Export(ctx)
	if err != nil {
		t.Fatal(err)
	}

	importedRaw, err := json.Marshal(imported)
	if err != nil {
		t.Fatal(err)
	}
	exportedRaw, err := json.Marshal(exported)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, raw, string(importedRaw))
	assert.Equal(t, raw, string(exportedRaw))
}

func TestFileBackendReadsHandWrittenYaml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.yaml")
	content := "oauth:\n  enabled: true\n  silent_login: yes_please\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := NewFileBackend(path).Load(context.Background())
	assert.NotEqual(t, nil, err)
}

func TestFileBackendWatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	path := filepath.Join(t.TempDir(), "auth.yaml")
	backend := NewFileBackend(path)

	changed := make(chan struct{}, 1)
	go func() {
		_ = backend.Watch(ctx, func() {
			select {
			case changed <- struct{}{}:
			default:
			}
		})
	}()
	// give the watcher time to register
	time.Sleep(100 * time.Millisecond)

	if err := backend.Save(ctx, testDocument(t, true)); err != nil {
		t.Fatal(err)
	}
	select {
	case <-changed:
	case <-time.After(3 * time.Second):
		t.Fatal("no change notification")
	}
}

func TestFileBackendLoadsYaml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.yaml")
	content := "oauth:\n  enabled: true\n  silent_login: true\n  provider_url: https://idp.example.com\n  client_id: gw\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	doc, err := NewFileBackend(path).Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, true, doc.Auth().SilentLogin)
	assert.Equal(t, true, doc.Auth().Usable())
}
