package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/adrg/xdg"
)

const (
	defaultCalendarID      = "primary"
	defaultTimeZone        = "America/Los_Angeles"
	defaultMaxResults      = 25
	defaultProviderTimeout = "10s"
	defaultCredentialsFile = "credentials.json"
)

// Config holds everything the bot needs at startup.
// Values come from an optional TOML file and are overridden by environment variables.
type Config struct {
	DiscordToken       string `toml:"discord_token"`
	GuildID            string `toml:"guild_id"`
	AllowedID          string `toml:"allowed_id"`
	GoogleClientID     string `toml:"google_client_id"`
	GoogleClientSecret string `toml:"google_client_secret"`
	CredentialsFile    string `toml:"credentials_file"`
	TokenFile          string `toml:"token_file"`
	CalendarID         string `toml:"calendar_id"`
	TimeZone           string `toml:"timezone"`
	MaxResults         int64  `toml:"max_results"`
	ProviderTimeout    string `toml:"provider_timeout"`
}

// DefaultTokenFile returns the XDG data path used for the OAuth token when none is configured.
func DefaultTokenFile() string {
	return filepath.Join(xdg.DataHome, "calbot", "token.json")
}

// Load builds a Config from defaults, the TOML file at path (skipped when path is empty)
// and the environment, in that order of precedence.
func Load(path string) (*Config, error) {
	cfg := &Config{
		CalendarID:      defaultCalendarID,
		TimeZone:        defaultTimeZone,
		MaxResults:      defaultMaxResults,
		ProviderTimeout: defaultProviderTimeout,
		CredentialsFile: defaultCredentialsFile,
	}

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if cfg.TokenFile == "" {
		cfg.TokenFile = DefaultTokenFile()
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	strVars := map[string]*string{
		"DISCORD_BOT_TOKEN":       &c.DiscordToken,
		"DISCORD_GUILD_ID":        &c.GuildID,
		"ALLOWED_ROLE_ID":         &c.AllowedID,
		"GOOGLE_CLIENT_ID":        &c.GoogleClientID,
		"GOOGLE_CLIENT_SECRET":    &c.GoogleClientSecret,
		"GOOGLE_CREDENTIALS_FILE": &c.CredentialsFile,
		"GOOGLE_TOKEN_FILE":       &c.TokenFile,
		"GOOGLE_CALENDAR_ID":      &c.CalendarID,
		"CALBOT_TIMEZONE":         &c.TimeZone,
		"CALBOT_PROVIDER_TIMEOUT": &c.ProviderTimeout,
	}
	for name, dst := range strVars {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			*dst = v
		}
	}

	if v := strings.TrimSpace(os.Getenv("CALBOT_MAX_RESULTS")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid CALBOT_MAX_RESULTS %q: %w", v, err)
		}
		c.MaxResults = n
	}
	return nil
}

// Location resolves the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone '%s': %w", c.TimeZone, err)
	}
	return loc, nil
}

// Timeout returns the bound applied to each calendar provider call.
func (c *Config) Timeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.ProviderTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid provider timeout '%s': %w", c.ProviderTimeout, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("provider timeout must be positive, got %s", d)
	}
	return d, nil
}

// HasClientPair reports whether the OAuth client id and secret are both set inline.
func (c *Config) HasClientPair() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// ValidateGoogle checks the settings needed to talk to the calendar provider.
func (c *Config) ValidateGoogle() error {
	var errs []error
	if !c.HasClientPair() {
		if _, err := os.Stat(c.CredentialsFile); err != nil {
			errs = append(errs, fmt.Errorf("GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET are not set and %s is not readable", c.CredentialsFile))
		}
	}
	if c.CalendarID == "" {
		errs = append(errs, errors.New("calendar_id is empty"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if c.MaxResults <= 0 {
		errs = append(errs, fmt.Errorf("max_results must be positive, got %d", c.MaxResults))
	}
	if _, err := c.Timeout(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ValidateBot checks everything serve needs, including the Discord side.
func (c *Config) ValidateBot() error {
	var errs []error
	if c.DiscordToken == "" {
		errs = append(errs, errors.New("DISCORD_BOT_TOKEN is not set"))
	}
	if c.AllowedID == "" {
		errs = append(errs, errors.New("ALLOWED_ROLE_ID is not set"))
	}
	if err := c.ValidateGoogle(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
