package configstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"oauth-gateway/config"

	log "github.com/sirupsen/logrus"
)

const fileDebounceInterval = 100 * time.Millisecond

// FileBackend stores the document on disk. Saved documents are written as their own JSON
// encoding, which is valid YAML and keeps opaque values byte for byte. Hand-written YAML
// files are read as well. Writes go through a temporary file and a rename, so readers
// never observe a partially written file.
type FileBackend struct {
	path string
}

func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: filepath.Clean(path)}
}

func (f *FileBackend) Load(ctx context.Context) (*config.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	content, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if json.Valid(content) {
		doc, err := config.ParseDocument(content)
		if err != nil {
			return nil, err
		}
		if doc.OAuth == nil && len(doc.Extra) == 0 {
			return nil, ErrNotFound
		}
		return doc, nil
	}
	var fields map[string]any
	if err := yaml.Unmarshal(content, &fields); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", config.ErrInvalidDocument, f.path, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return config.DocumentFromMap(fields)
}

func (f *FileBackend) Save(ctx context.Context, doc *config.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	content, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrInvalidDocument, err)
	}
	content = append(content, '\n')

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	tmp, err := os.CreateTemp(dir, ".auth-config-*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()
	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Watch reports changes of the config file. The directory is watched instead of the file,
// because atomic replacement by rename drops a watch placed on the old inode.
func (f *FileBackend) Watch(ctx context.Context, changed func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() {
		_ = watcher.Close()
	}()
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	if err := watcher.Add(dir); err != nil {
		return err
	}
	log.WithField("path", f.path).Debug("watching auth config file")

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("file watcher closed")
			}
			if filepath.Clean(event.Name) != f.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				debounce = time.After(fileDebounceInterval)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("file watcher closed")
			}
			log.WithField("path", f.path).WithError(err).Warn("auth config file watcher error")
		case <-debounce:
			debounce = nil
			changed()
		}
	}
}
