package config

import (
	"testing"

	"tf2pug/internal/constants"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, "pugs.db", cfg.DBPath)
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, constants.DefaultPugSize, cfg.DefaultSize)
	assert.Equal(t, constants.DefaultMaps, cfg.Maps)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("PUG_MAPS", "cp_granary,cp_badlands")
	t.Setenv("PUG_DEFAULT_SIZE", "18")
	t.Setenv("PUG_LOG_PORT_MIN", "27500")
	t.Setenv("PUG_LOG_PORT_MAX", "27510")
	t.Setenv("PUG_BOOTSTRAP_SERVERS", "10.0.0.2:27015:secret,10.0.0.3:27015:other")

	cfg, err := Load(zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, []string{"cp_granary", "cp_badlands"}, cfg.Maps)
	assert.Equal(t, 18, cfg.DefaultSize)
	assert.Equal(t, 27500, cfg.LogPortMin)
	assert.Len(t, cfg.BootstrapServers, 2)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := Config{DefaultSize: 12}

	tests := []struct {
		name   string
		modify func(c *Config)
		ok     bool
	}{
		{"valid", func(c *Config) {}, true},
		{"odd size", func(c *Config) { c.DefaultSize = 11 }, false},
		{"zero size", func(c *Config) { c.DefaultSize = 0 }, false},
		{"reversed ports", func(c *Config) { c.LogPortMin, c.LogPortMax = 27510, 27500 }, false},
		{"half port range", func(c *Config) { c.LogPortMax = 27500 }, false},
		{"livelogs without key", func(c *Config) { c.LivelogsAddress = "http://ll" }, false},
		{"bad server entry", func(c *Config) { c.BootstrapServers = []string{"10.0.0.2:27015"} }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.modify(&c)
			err := c.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestParseServerEntry(t *testing.T) {
	t.Parallel()

	e, err := ParseServerEntry("10.0.0.2:27015:pa:ss")
	require.NoError(t, err)
	assert.Equal(t, ServerEntry{Host: "10.0.0.2", Port: 27015, RconPassword: "pa:ss"}, e)

	_, err = ParseServerEntry("10.0.0.2:port:pass")
	assert.Error(t, err)
}
