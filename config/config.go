package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"

	log "github.com/sirupsen/logrus"
)

var (
	_ Validatable = (*Config)(nil)
	_ Validatable = (*ContentConfig)(nil)
	_ Validatable = Settings{}
	_ Processable = (*Config)(nil)
	_ Processable = (*ContentConfig)(nil)
)

// Config is the main configuration struct containing settings and content config
type Config struct {
	// contains the process settings, read from the environment
	Settings Settings
	// contains the pages, their protection and the initial auth config
	Content ContentConfig
}

// loadConfig loads the configuration from environment variables and config file
func loadConfig() (*Config, error) {
	cfg := new(Config)
	settings, err := loadSettingsFromEnv()
	if err != nil {
		help, errHelp := cleanenv.GetDescription(&cfg.Settings, nil)
		if errHelp != nil {
			log.WithError(err).WithError(errHelp).Error("can not get help text")
		} else {
			log.WithError(err).Error(help)
		}
		return nil, err
	}
	cfg.Settings = settings
	contentCfg, err := loadContentConfig(settings.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("loading content config %q: %w", settings.ConfigPath, err)
	}
	cfg.Content = *contentCfg
	return cfg, nil
}

// LoadAndProcessConfig loads, validates and resolves the configuration
func LoadAndProcessConfig() (*Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	err = cfg.Validate(validate)
	if err != nil {
		log.WithError(err).Error("configuration is not valid")
		return nil, err
	}
	log.Info("Config read and validated successfully")

	err = cfg.Process()
	if err != nil {
		log.WithError(err).Error("Error resolving config")
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate(validate *validator.Validate) error {
	if err := c.Settings.Validate(validate); err != nil {
		return err
	}
	return c.Content.Validate(validate)
}

func (c *Config) Process() error {
	return c.Content.Process()
}

// Validate checks the settings against their validate tags. The redis url is required by
// whichever component uses the redis driver.
func (s Settings) Validate(validate *validator.Validate) error {
	if err := validateStruct(validate, s); err != nil {
		return fmt.Errorf("settings validation failed: %w", err)
	}
	if s.Redis.URL == "" {
		if s.AuthConfig.Driver == "redis" {
			return fmt.Errorf("REDIS_URL is required for the redis auth config driver")
		}
		if s.State.StoreDriver == "redis" {
			return fmt.Errorf("REDIS_URL is required for the redis state store")
		}
	}
	if s.Admin.Token == "" {
		log.Warn("ADMIN_TOKEN is empty, the config API is disabled")
	}
	return nil
}
