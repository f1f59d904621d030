package config

import (
	"fmt"
	"strconv"
	"strings"

	"tf2pug/internal/constants"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

type Config struct {
	DBPath     string `envconfig:"DB_PATH" default:"pugs.db"`
	ServerPort string `envconfig:"SERVER_PORT" default:"8080"`
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`

	// LogAddress is the ip game servers send their logs to.
	LogAddress    string `envconfig:"LOG_ADDRESS" default:"127.0.0.1"`
	LogListenHost string `envconfig:"LOG_LISTEN_HOST" default:"0.0.0.0"`
	LogPortMin    int    `envconfig:"LOG_PORT_MIN"`
	LogPortMax    int    `envconfig:"LOG_PORT_MAX"`

	Maps        []string `envconfig:"MAPS"`
	DefaultSize int      `envconfig:"DEFAULT_SIZE"`

	LivelogsAddress string `envconfig:"LIVELOGS_ADDRESS"`
	LivelogsAPIKey  string `envconfig:"LIVELOGS_API_KEY"`

	BootstrapKey     string   `envconfig:"BOOTSTRAP_KEY"`
	BootstrapServers []string `envconfig:"BOOTSTRAP_SERVERS"`
}

const prefix = "pug"

func Load(logger zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg(".env file not found, using environment variables or defaults")
	}

	cfg := &Config{}
	if err := envconfig.Process(prefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}
	if len(cfg.Maps) == 0 {
		cfg.Maps = constants.DefaultMaps
	}
	if cfg.DefaultSize == 0 {
		cfg.DefaultSize = constants.DefaultPugSize
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.Info().
		Str("db_path", cfg.DBPath).
		Str("server_port", cfg.ServerPort).
		Str("log_level", cfg.LogLevel).
		Str("log_address", cfg.LogAddress).
		Int("default_size", cfg.DefaultSize).
		Strs("maps", cfg.Maps).
		Bool("livelogs", cfg.LivelogsAddress != "").
		Msg("configuration loaded")

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DefaultSize <= 0 || c.DefaultSize%2 != 0 {
		return fmt.Errorf("PUG_DEFAULT_SIZE must be even and positive, got %d", c.DefaultSize)
	}
	if c.LogPortMin < 0 || c.LogPortMax > 65535 || c.LogPortMin > c.LogPortMax {
		return fmt.Errorf("invalid log port range %d-%d", c.LogPortMin, c.LogPortMax)
	}
	if (c.LogPortMin == 0) != (c.LogPortMax == 0) {
		return fmt.Errorf("PUG_LOG_PORT_MIN and PUG_LOG_PORT_MAX must be set together")
	}
	if c.LivelogsAddress != "" && c.LivelogsAPIKey == "" {
		return fmt.Errorf("PUG_LIVELOGS_API_KEY is required with PUG_LIVELOGS_ADDRESS")
	}
	for _, entry := range c.BootstrapServers {
		if _, err := ParseServerEntry(entry); err != nil {
			return err
		}
	}
	return nil
}

// ServerEntry is one host:port:rcon_password item of PUG_BOOTSTRAP_SERVERS.
type ServerEntry struct {
	Host         string
	Port         int
	RconPassword string
}

func ParseServerEntry(s string) (ServerEntry, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 || parts[0] == "" {
		return ServerEntry{}, fmt.Errorf("invalid server entry %q, want host:port:rcon_password", s)
	}
	port, err := strconv.Atoi(parts[1])
	if err != nil || port <= 0 || port > 65535 {
		return ServerEntry{}, fmt.Errorf("invalid port in server entry %q", s)
	}
	return ServerEntry{Host: parts[0], Port: port, RconPassword: parts[2]}, nil
}

var Module = fx.Provide(Load)
