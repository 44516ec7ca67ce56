// TOML configuration: parsing, defaults and validation.
//
// Parsing happens in two phases. The file is first decoded into a loose document, then every
// block is walked with presence and type checks so that mistakes are reported by their full key
// path (eg "`expressions.ban.usernames[2].re` must be a string"), and finally the typed Config
// is assembled and cross-checked.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/forgeguard/forgeguard/automod/rules"
	"github.com/forgeguard/forgeguard/forge"

	"github.com/pelletier/go-toml/v2"
)

const (
	ConfigPathEnv     = "FORGEGUARD_CONFIG"
	DefaultConfigPath = "/app/forgeguard.toml"
	DefaultDBPath     = "/app/forgeguard.db"
)

type Config struct {
	// evaluate rules and alert, but never ban
	DryRun        bool
	HideUserEmail bool
	Database      Database
	Forgejo       Forgejo
	Expressions   Expressions
	Inactive      Inactive
	LazyPurge     LazyPurge
	Telegram      Telegram
	Matrix        Matrix
	Slack         Slack
}

type Database struct {
	// pebble database directory
	Path string
	// when set, redis is used instead of pebble
	RedisURL string
}

type Forgejo struct {
	InstanceURL string
	Token       string
	// client-side requests per second; zero means unlimited
	RateLimit float64
}

type Expressions struct {
	Interval           time.Duration
	Limit              int
	ReqLimit           int
	ReqInterval        time.Duration
	BanAction          forge.BanAction
	BanAlert           bool
	SafeMode           bool
	CheckExistingUsers bool
	CheckUpdatedUsers  bool
	ActiveNotice       bool
	Ban                rules.Expr
	Sus                rules.Expr
}

type Inactive struct {
	Enabled         bool
	Exclude         []string
	SourceID        []int64
	SourceIDExclude []int64
	CheckTokens     bool
	CheckOAuth2     bool
	Days            int
	ReqLimit        int
	ReqInterval     time.Duration
	Interval        time.Duration
}

type LazyPurge struct {
	Enabled     bool
	Interval    time.Duration
	ReqLimit    int
	ReqInterval time.Duration
	PurgeAfter  time.Duration
}

type Telegram struct {
	Enabled bool
	Token   string
	Chat    int64
}

type Matrix struct {
	Enabled     bool
	Homeserver  string
	UserID      string
	AccessToken string
	Room        string
}

type Slack struct {
	Enabled    bool
	WebhookURL string
}

// FrontEnd names the enabled chat front-end, or "" if none is.
func (c *Config) FrontEnd() string {
	switch {
	case c.Telegram.Enabled:
		return "telegram"
	case c.Matrix.Enabled:
		return "matrix"
	case c.Slack.Enabled:
		return "slack"
	}
	return ""
}

// Interactive reports whether the front-end can take moderator decisions.
func (c *Config) Interactive() bool {
	return c.Telegram.Enabled || c.Matrix.Enabled
}

// Load reads and parses the config file at path. Warnings are non-fatal findings for the
// caller to log.
func Load(path string) (*Config, []string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg, warnings, err := Parse(raw)
	if err != nil {
		return nil, warnings, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, warnings, nil
}

// Parse decodes, checks and validates a TOML document.
func Parse(raw []byte) (*Config, []string, error) {
	var doc map[string]any
	if err := toml.Unmarshal(raw, &doc); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return nil, nil, fmt.Errorf("invalid TOML at line %d column %d: %w", row, col, err)
		}
		return nil, nil, fmt.Errorf("invalid TOML: %w", err)
	}

	d := &decoder{}
	cfg := d.config(root(d, doc))
	if err := errors.Join(d.errs...); err != nil {
		return nil, d.warnings, err
	}
	if err := cfg.validate(); err != nil {
		return nil, d.warnings, err
	}
	return cfg, append(d.warnings, cfg.warnings()...), nil
}
