// Package config loads the room server's settings: defaults, then an optional
// YAML file, then command-line flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("config: invalid")

const (
	BackendNone     = "none"
	BackendHTTP     = "http"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type Config struct {
	Room     RoomConfig     `yaml:"room"`
	Registry RegistryConfig `yaml:"registry"`
	Stats    StatsConfig    `yaml:"stats"`
	Log      LogConfig      `yaml:"log"`
}

type RoomConfig struct {
	Name         string `yaml:"name" validate:"required"`
	Admin        string `yaml:"admin" validate:"required"`
	MinAPM       int    `yaml:"min_apm" validate:"gte=0"`
	MaxAPM       int    `yaml:"max_apm" validate:"gtefield=MinAPM"`
	Private      bool   `yaml:"private"`
	Default      bool   `yaml:"default"`
	Listen       string `yaml:"listen" validate:"required,hostname_port"`
	Advertise    string `yaml:"advertise" validate:"omitempty,hostname_port"`
	InnerAddress string `yaml:"inner_address" validate:"omitempty,hostname_port"`
	Transport    string `yaml:"transport" validate:"oneof=tcp websocket"`

	// Zero derives the first match port from the listen port.
	MatchBasePort  int           `yaml:"match_base_port" validate:"gte=0,lte=65535"`
	MaxMessageSize int           `yaml:"max_message_size" validate:"gte=0"`
	ReadTimeout    time.Duration `yaml:"read_timeout" validate:"gte=0"`
	JoinTimeout    time.Duration `yaml:"join_timeout" validate:"gte=0"`
	SettleWindow   time.Duration `yaml:"settle_window" validate:"gte=0"`
}

type RegistryConfig struct {
	Backend string        `yaml:"backend" validate:"oneof=http redis none"`
	URL     string        `yaml:"url" validate:"omitempty,url"`
	Redis   RedisConfig   `yaml:"redis"`
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" validate:"omitempty,hostname_port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
}

type StatsConfig struct {
	Backend  string         `yaml:"backend" validate:"oneof=http postgres none"`
	URL      string         `yaml:"url" validate:"omitempty,url"`
	Postgres PostgresConfig `yaml:"postgres"`
	NATS     NATSConfig     `yaml:"nats"`
}

type PostgresConfig struct {
	DSN     string `yaml:"dsn"`
	Migrate bool   `yaml:"migrate"`
}

// NATSConfig enables game events alongside the stats backend when URL is set.
type NATSConfig struct {
	URL     string `yaml:"url" validate:"omitempty,url"`
	Subject string `yaml:"subject"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=console json"`
}

// Default returns a config that runs a standalone TCP room with no
// registry or stats backend.
func Default() Config {
	return Config{
		Room: RoomConfig{
			Name:        "gotris",
			Admin:       "admin",
			MaxAPM:      999,
			Listen:      "0.0.0.0:44444",
			Transport:   "tcp",
			ReadTimeout: time.Second,
			JoinTimeout: 30 * time.Second,
		},
		Registry: RegistryConfig{
			Backend: BackendNone,
			Timeout: 5 * time.Second,
		},
		Stats: StatsConfig{
			Backend:  BackendNone,
			Postgres: PostgresConfig{Migrate: true},
			NATS:     NATSConfig{Subject: "gotris.games.recorded"},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds a config from args (without the program name).
func Load(args []string, stderr io.Writer) (Config, error) {
	fs := flag.NewFlagSet("gotris-server", flag.ContinueOnError)
	fs.SetOutput(stderr)

	path := fs.String("config", "", "path to a YAML config file")
	name := fs.String("name", "", "room name")
	admin := fs.String("admin", "", "admin username; the room closes when they leave")
	minAPM := fs.Int("min-apm", 0, "minimum actions per minute")
	maxAPM := fs.Int("max-apm", 0, "maximum actions per minute")
	private := fs.Bool("private", false, "hide the room from public listings")
	addr := fs.String("addr", "", "listen address (host:port)")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := Default()
	if *path != "" {
		if err := cfg.loadFile(*path); err != nil {
			return Config{}, err
		}
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "name":
			cfg.Room.Name = *name
		case "admin":
			cfg.Room.Admin = *admin
		case "min-apm":
			cfg.Room.MinAPM = *minAPM
		case "max-apm":
			cfg.Room.MaxAPM = *maxAPM
		case "private":
			cfg.Room.Private = *private
		case "addr":
			cfg.Room.Listen = *addr
		}
	})

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// --- Validation ---

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(validateConfig, Config{})
	v.RegisterStructValidation(validateRegistry, RegistryConfig{})
	v.RegisterStructValidation(validateStats, StatsConfig{})
	return v
}

// Validate checks field ranges and that each selected backend has what it
// needs to connect.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("%w: %s", ErrInvalid, describe(verrs))
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// A published room needs an address players can dial, not the bind address.
func validateConfig(sl validator.StructLevel) {
	c := sl.Current().Interface().(Config)
	if c.Registry.Backend != BackendNone && c.Room.Advertise == "" {
		sl.ReportError(c.Room.Advertise, "Room.Advertise", "advertise", "required_for_registry", c.Registry.Backend)
	}
}

func validateRegistry(sl validator.StructLevel) {
	r := sl.Current().Interface().(RegistryConfig)
	switch r.Backend {
	case BackendHTTP:
		if r.URL == "" {
			sl.ReportError(r.URL, "URL", "url", "required_for_backend", BackendHTTP)
		}
	case BackendRedis:
		if r.Redis.Addr == "" {
			sl.ReportError(r.Redis.Addr, "Redis.Addr", "addr", "required_for_backend", BackendRedis)
		}
	}
}

func validateStats(sl validator.StructLevel) {
	s := sl.Current().Interface().(StatsConfig)
	switch s.Backend {
	case BackendHTTP:
		if s.URL == "" {
			sl.ReportError(s.URL, "URL", "url", "required_for_backend", BackendHTTP)
		}
	case BackendPostgres:
		if s.Postgres.DSN == "" {
			sl.ReportError(s.Postgres.DSN, "Postgres.DSN", "dsn", "required_for_backend", BackendPostgres)
		}
	}
}

func describe(verrs validator.ValidationErrors) string {
	msg := ""
	for i, fe := range verrs {
		if i > 0 {
			msg += "; "
		}
		msg += fe.Namespace() + " failed " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
	}
	return msg
}
