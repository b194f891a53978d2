package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type ContentConfig struct {
	BaseUrl     string       `yaml:"base_url" validate:"required,url"`
	StaticPages []StaticPage `yaml:"static_pages" validate:"dive,required"`
	// InitialAuth seeds the auth config backend when it is still empty.
	InitialAuth map[string]any `yaml:"initial_auth"`
}

type StaticPage struct {
	Id         string                `yaml:"id" validate:"alphanum"`
	Dir        string                `yaml:"dir" validate:"dir"`
	Url        string                `yaml:"url" validate:"required,uri"`
	Protection *StaticPageProtection `yaml:"protection"`
}

// StaticPageProtection marks a page as protected. An empty protection only requires a
// valid session; groups and expression narrow the access further.
type StaticPageProtection struct {
	Groups     []string `yaml:"groups" validate:"dive,alphanum"`
	Expression string   `yaml:"expression"`
}

func (c *ContentConfig) Validate(validate *validator.Validate) error {
	err := validateStruct(validate, c)
	if err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	for _, staticPage := range c.StaticPages {
		if staticPage.Protection != nil {
			err := validateStruct(validate, staticPage.Protection)
			if err != nil {
				return fmt.Errorf("static page %q protection validation failed: %w", staticPage.Id, err)
			}
		}
	}
	return nil
}

func (c *ContentConfig) Process() error {
	c.BaseUrl = strings.TrimRight(c.BaseUrl, "/")
	return nil
}

// InitialDocument converts the optional initial_auth section into a Document.
// It returns nil when the section is missing.
func (c *ContentConfig) InitialDocument() (*Document, error) {
	if len(c.InitialAuth) == 0 {
		return nil, nil
	}
	return DocumentFromMap(c.InitialAuth)
}

// DocumentFromMap converts a generic decoded map (e.g. from YAML) into a Document by
// passing it through the JSON codec, so the strict type checks apply.
func DocumentFromMap(m map[string]any) (*Document, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return ParseDocument(raw)
}

func loadContentConfig(path string) (*ContentConfig, error) {
	var contentCfg ContentConfig
	err := loadConfigFromFile(path, &contentCfg)
	if err != nil {
		return nil, err
	}
	return &contentCfg, nil
}

func loadConfigFromFile(path string, contentCfg *ContentConfig) error {
	file, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(file, contentCfg)
}
