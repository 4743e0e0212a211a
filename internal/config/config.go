// Package config provides functionality for managing configuration options
// for the cockpit and the development API using command-line flags,
// environment variables and an optional JSON or YAML file.
//
// Precedence, lowest first: built-in defaults, config file, environment,
// explicitly set flags.
package config

import (
	"cmp"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/atinyakov/koracockpit/internal/view"
)

// Defaults used when nothing else is configured.
const (
	DefaultAPIURL       = "http://localhost:4000"
	DefaultExplorerBase = "https://amoy.polygonscan.com/tx/"
	DefaultTimeout      = 10 * time.Second
)

// Build-time defaults, set with
// -ldflags "-X github.com/atinyakov/koracockpit/internal/config.buildAPIURL=...".
var (
	buildAPIURL       string
	buildExplorerBase string
)

// Duration is a time.Duration that reads "10s"-style strings from flags,
// JSON and YAML.
type Duration struct {
	time.Duration
}

func (d *Duration) Set(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"10s\": %w", err)
	}
	return d.Set(s)
}

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	return d.Set(s)
}

// Cockpit holds the configuration of the terminal cockpit.
type Cockpit struct {
	// APIURL is the pilot API root. Empty falls back to the stored override.
	APIURL       string `json:"api_url" yaml:"api_url"`
	ExplorerBase string `json:"explorer_base" yaml:"explorer_base"`

	// Storage selects the session backend: file, memory, redis or postgres.
	Storage     string `json:"storage" yaml:"storage"`
	StoragePath string `json:"storage_path" yaml:"storage_path"`
	RedisAddr   string `json:"redis_addr" yaml:"redis_addr"`
	DatabaseDSN string `json:"database_dsn" yaml:"database_dsn"`
	Profile     string `json:"profile" yaml:"profile"`

	LogLevel string `json:"log_level" yaml:"log_level"`
	LogFile  string `json:"log_file" yaml:"log_file"`

	CAFile   string   `json:"ca_file" yaml:"ca_file"`
	CertFile string   `json:"cert_file" yaml:"cert_file"`
	KeyFile  string   `json:"key_file" yaml:"key_file"`
	Timeout  Duration `json:"timeout" yaml:"timeout"`

	// Panels overrides the API path of data-backed views, keyed by view name.
	Panels map[string]string `json:"panels" yaml:"panels"`

	ShowVersion bool   `json:"-" yaml:"-"`
	Config      string `json:"-" yaml:"-"`
}

// DevAPI holds the configuration of the development API server.
type DevAPI struct {
	// Addr defines the server's listening address (ip:port).
	Addr string `json:"address" yaml:"address"`
	// DatabaseDSN selects PostgreSQL; empty keeps users in memory.
	DatabaseDSN string `json:"database_dsn" yaml:"database_dsn"`

	JWTSecret        string   `json:"jwt_secret" yaml:"jwt_secret"`
	TokenTTL         Duration `json:"token_ttl" yaml:"token_ttl"`
	OperatorPassword string   `json:"operator_password" yaml:"operator_password"`
	AnchorPassword   string   `json:"anchor_password" yaml:"anchor_password"`

	LogLevel string `json:"log_level" yaml:"log_level"`

	ShowVersion bool   `json:"-" yaml:"-"`
	Config      string `json:"-" yaml:"-"`
}

// ParseCockpit parses args (without the program name) and the environment.
func ParseCockpit(args []string) (*Cockpit, error) {
	o := &Cockpit{Timeout: Duration{DefaultTimeout}}

	fs := flag.NewFlagSet("cockpit", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&o.APIURL, "api", buildAPIURL, "pilot API base URL")
	fs.StringVar(&o.ExplorerBase, "explorer", cmp.Or(buildExplorerBase, DefaultExplorerBase), "transaction explorer URL prefix")
	fs.StringVar(&o.Storage, "storage", "file", "session storage: file | memory | redis | postgres")
	fs.StringVar(&o.StoragePath, "storage-path", "cockpit.json", "session file for the file backend")
	fs.StringVar(&o.RedisAddr, "redis", "localhost:6379", "redis address for the redis backend")
	fs.StringVar(&o.DatabaseDSN, "d", "", "postgres DSN for the postgres backend")
	fs.StringVar(&o.Profile, "profile", "default", "session namespace for shared backends")
	fs.StringVar(&o.LogLevel, "log-level", "warn", "log level")
	fs.StringVar(&o.LogFile, "log-file", "", "write logs to this file instead of stderr")
	fs.StringVar(&o.CAFile, "ca", "", "path to CA cert")
	fs.StringVar(&o.CertFile, "cert", "", "path to client cert")
	fs.StringVar(&o.KeyFile, "key", "", "path to client key")
	fs.Var(&o.Timeout, "timeout", "request timeout")
	fs.BoolVar(&o.ShowVersion, "version", false, "show build version and date")
	fs.StringVar(&o.Config, "config", "", "path to config file")
	fs.StringVar(&o.Config, "c", "", "path to config file (shorthand)")

	err := parse(fs, args, &o.Config, o, func() {
		envString(&o.APIURL, "KORA_API_URL")
		envString(&o.ExplorerBase, "KORA_EXPLORER_BASE")
		envString(&o.Storage, "KORA_STORAGE")
		envString(&o.StoragePath, "KORA_STORAGE_PATH")
		envString(&o.RedisAddr, "KORA_REDIS_ADDR")
		envString(&o.DatabaseDSN, "DATABASE_DSN")
		envString(&o.Profile, "KORA_PROFILE")
		envString(&o.LogLevel, "LOG_LEVEL")
	})
	if err != nil {
		return nil, err
	}
	if o.Timeout.Duration <= 0 {
		return nil, fmt.Errorf("timeout must be positive, got %s", o.Timeout)
	}
	return o, nil
}

// ParseDevAPI parses args (without the program name) and the environment.
func ParseDevAPI(args []string) (*DevAPI, error) {
	o := &DevAPI{TokenTTL: Duration{24 * time.Hour}}

	fs := flag.NewFlagSet("devapi", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&o.Addr, "a", "localhost:4000", "run on ip:port server")
	fs.StringVar(&o.DatabaseDSN, "d", "", "db address")
	fs.StringVar(&o.JWTSecret, "jwt-secret", "dev-secret", "HS256 signing secret")
	fs.Var(&o.TokenTTL, "token-ttl", "lifetime of issued tokens")
	fs.StringVar(&o.OperatorPassword, "operator-password", "operator", "shared secret for pilot operators")
	fs.StringVar(&o.AnchorPassword, "anchor-password", "anchor", "shared secret for pilot anchors")
	fs.StringVar(&o.LogLevel, "log-level", "info", "log level")
	fs.BoolVar(&o.ShowVersion, "version", false, "show build version and date")
	fs.StringVar(&o.Config, "config", "config.json", "path to config file")
	fs.StringVar(&o.Config, "c", "config.json", "path to config file (shorthand)")

	err := parse(fs, args, &o.Config, o, func() {
		envString(&o.Addr, "SERVER_ADDRESS")
		envString(&o.DatabaseDSN, "DATABASE_DSN")
		envString(&o.JWTSecret, "JWT_SECRET")
		envString(&o.OperatorPassword, "PILOT_OPERATOR_PASSWORD")
		envString(&o.AnchorPassword, "PILOT_ANCHOR_PASSWORD")
		envString(&o.LogLevel, "LOG_LEVEL")
	})
	if err != nil {
		return nil, err
	}
	if o.JWTSecret == "" {
		return nil, errors.New("jwt secret must not be empty")
	}
	return o, nil
}

// parse applies flags, then the config file, then env, then the flags
// again so that explicit flags win.
func parse(fs *flag.FlagSet, args []string, configPath *string, dst any, applyEnv func()) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	envString(configPath, "CONFIG")

	if *configPath != "" {
		if err := loadFile(*configPath, dst); err != nil {
			return err
		}
	}
	applyEnv()

	return fs.Parse(args)
}

// loadFile decodes path into dst. A missing file is not an error.
func loadFile(path string, dst any) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("error while reading config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, dst)
	default:
		err = json.Unmarshal(data, dst)
	}
	if err != nil {
		return fmt.Errorf("error while parsing config file: %w", err)
	}
	return nil
}

func envString(dst *string, name string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

// ResolveAPIURL picks the API root: the configured value, then the stored
// override, then DefaultAPIURL.
func ResolveAPIURL(configured, stored string) string {
	return cmp.Or(configured, stored, DefaultAPIURL)
}

// PanelPaths validates the panel overrides and keys them by view.
func (c *Cockpit) PanelPaths() (map[view.View]string, error) {
	out := make(map[view.View]string, len(c.Panels))
	for name, path := range c.Panels {
		v, err := view.Parse(name)
		if err != nil {
			return nil, fmt.Errorf("panels: %w", err)
		}
		out[v] = path
	}
	return out, nil
}
