// Package config loads node settings from a TOML file, applies XCHANGE_*
// environment overrides and validates the result against an embedded CUE
// schema.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	"github.com/roach88/xchange/internal/model"
)

//go:embed schema.cue
var schemaSource string

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "XCHANGE_"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Inbound bounds how fast a single remote domain may feed this node.
type Inbound struct {
	Rate  float64 `toml:"rate"`
	Burst int     `toml:"burst"`
}

// RemoteDevice is a mirror registered at startup so local clients can
// submit orders to it.
type RemoteDevice struct {
	Device       string `toml:"device"`
	Home         string `toml:"home"`
	Penalty      uint64 `toml:"penalty"`
	WorkDuration uint64 `toml:"work_duration"`
}

// Config holds the settings for one domain node.
type Config struct {
	Domain        string         `toml:"domain"`
	DB            string         `toml:"db"`
	Spool         string         `toml:"spool"`
	LogLevel      string         `toml:"log_level"`
	MetricsAddr   string         `toml:"metrics_addr"`
	PollInterval  time.Duration  `toml:"poll_interval"`
	Inbound       Inbound        `toml:"inbound"`
	AutoAccept    []string       `toml:"auto_accept"`
	RemoteDevices []RemoteDevice `toml:"remote_devices"`
}

// envOverrides lists the settings that may come from the environment.
// Empty values leave the file setting untouched.
type envOverrides struct {
	Domain      string `env:"DOMAIN"`
	DB          string `env:"DB"`
	Spool       string `env:"SPOOL"`
	LogLevel    string `env:"LOG_LEVEL"`
	MetricsAddr string `env:"METRICS_ADDR"`
}

// Default returns the settings used when neither file nor environment set a
// value.
func Default() Config {
	return Config{
		DB:           "xchange.db",
		LogLevel:     "info",
		PollInterval: 250 * time.Millisecond,
		Inbound:      Inbound{Rate: 50, Burst: 100},
	}
}

// Load reads path (skipped when empty) over Default and then applies the
// environment. The result is not validated; callers apply flag overrides
// first and then call Validate.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("load config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, err
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) applyEnv(opts env.Options) error {
	var o envOverrides
	if err := env.ParseWithOptions(&o, opts); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.Domain, o.Domain)
	set(&c.DB, o.DB)
	set(&c.Spool, o.Spool)
	set(&c.LogLevel, o.LogLevel)
	set(&c.MetricsAddr, o.MetricsAddr)
	return nil
}

func (c *Config) normalize() {
	c.Domain = strings.TrimSpace(c.Domain)
	c.DB = strings.TrimSpace(c.DB)
	c.Spool = strings.TrimSpace(c.Spool)
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.MetricsAddr = strings.TrimSpace(c.MetricsAddr)
}

// Validate checks c against the CUE schema and then applies the checks CUE
// cannot express.
func (c *Config) Validate() error {
	c.normalize()

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))
	doc := ctx.Encode(c.document())
	if err := doc.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := def.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.TrimSpace(cueerrors.Details(err, nil)))
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: poll_interval must be positive", ErrInvalid)
	}
	self, err := c.DomainID()
	if err != nil {
		return fmt.Errorf("%w: domain: %v", ErrInvalid, err)
	}
	for i, rd := range c.RemoteDevices {
		home, err := model.ParseDomainID(rd.Home)
		if err != nil {
			return fmt.Errorf("%w: remote_devices[%d].home: %v", ErrInvalid, i, err)
		}
		if home == self {
			return fmt.Errorf("%w: remote_devices[%d]: device %q is homed on this domain", ErrInvalid, i, rd.Device)
		}
	}
	return nil
}

// document mirrors c using the TOML key names so schema errors point at the
// keys a user actually wrote.
func (c *Config) document() map[string]any {
	doc := map[string]any{
		"domain":        c.Domain,
		"db":            c.DB,
		"log_level":     c.LogLevel,
		"poll_interval": c.PollInterval.String(),
		"inbound": map[string]any{
			"rate":  c.Inbound.Rate,
			"burst": c.Inbound.Burst,
		},
	}
	if c.Spool != "" {
		doc["spool"] = c.Spool
	}
	if c.MetricsAddr != "" {
		doc["metrics_addr"] = c.MetricsAddr
	}
	accept := make([]any, 0, len(c.AutoAccept))
	for _, a := range c.AutoAccept {
		accept = append(accept, a)
	}
	doc["auto_accept"] = accept
	remotes := make([]any, 0, len(c.RemoteDevices))
	for _, rd := range c.RemoteDevices {
		remotes = append(remotes, map[string]any{
			"device":        rd.Device,
			"home":          rd.Home,
			"penalty":       rd.Penalty,
			"work_duration": rd.WorkDuration,
		})
	}
	doc["remote_devices"] = remotes
	return doc
}

// DomainID returns the normalized local domain.
func (c *Config) DomainID() (model.DomainID, error) {
	return model.ParseDomainID(c.Domain)
}

// AutoAcceptDevices parses the auto_accept list.
func (c *Config) AutoAcceptDevices() ([]model.AccountID, error) {
	out := make([]model.AccountID, 0, len(c.AutoAccept))
	for _, raw := range c.AutoAccept {
		id, err := model.ParseAccountID(raw)
		if err != nil {
			return nil, fmt.Errorf("auto_accept %q: %w", raw, err)
		}
		out = append(out, id)
	}
	return out, nil
}

// Level maps log_level onto slog. Unknown values fall back to Info.
func (c *Config) Level() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
