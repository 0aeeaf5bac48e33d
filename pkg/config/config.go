// Package config layers flags, environment (PAWFECT_*), an optional YAML file and
// a .env file into the settings every pawfect command reads.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/go-go-golems/pawfect/pkg/redisstream"
)

const EnvPrefix = "PAWFECT"

type ServerSettings struct {
	Addr          string        `mapstructure:"addr" yaml:"addr"`
	DBPath        string        `mapstructure:"db" yaml:"db"`
	JWTSecret     string        `mapstructure:"jwt-secret" yaml:"jwt-secret"`
	AccessTTL     time.Duration `mapstructure:"access-ttl" yaml:"access-ttl"`
	RefreshTTL    time.Duration `mapstructure:"refresh-ttl" yaml:"refresh-ttl"`
	AdminEmail    string        `mapstructure:"admin-email" yaml:"admin-email"`
	AdminPassword string        `mapstructure:"admin-password" yaml:"admin-password"`
	RoomIdle      time.Duration `mapstructure:"room-idle" yaml:"room-idle"`
	EvictInterval time.Duration `mapstructure:"evict-interval" yaml:"evict-interval"`
}

type ClientSettings struct {
	BaseURL       string        `mapstructure:"base-url" yaml:"base-url"`
	TypingTimeout time.Duration `mapstructure:"typing-timeout" yaml:"typing-timeout"`
}

type GeoSettings struct {
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	APIKey   string `mapstructure:"api-key" yaml:"api-key"`
}

type LogSettings struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Settings is the full effective configuration.
type Settings struct {
	Server ServerSettings       `mapstructure:"server" yaml:"server"`
	Redis  redisstream.Settings `mapstructure:"redis" yaml:"redis"`
	Client ClientSettings       `mapstructure:"client" yaml:"client"`
	Geo    GeoSettings          `mapstructure:"geo" yaml:"geo"`
	Log    LogSettings          `mapstructure:"log" yaml:"log"`
}

// SetDefaults registers every key so environment variables resolve even without
// a config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.db", "")
	v.SetDefault("server.jwt-secret", "")
	v.SetDefault("server.access-ttl", 15*time.Minute)
	v.SetDefault("server.refresh-ttl", 7*24*time.Hour)
	v.SetDefault("server.admin-email", "")
	v.SetDefault("server.admin-password", "")
	v.SetDefault("server.room-idle", 5*time.Minute)
	v.SetDefault("server.evict-interval", time.Minute)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.group", "pawfect")
	v.SetDefault("redis.consumer", "")

	v.SetDefault("client.base-url", "http://localhost:8080")
	v.SetDefault("client.typing-timeout", 2*time.Second)

	v.SetDefault("geo.endpoint", "https://us1.locationiq.com/v1/autocomplete.php")
	v.SetDefault("geo.api-key", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "auto")
}

// NewViper returns a viper instance wired for pawfect: defaults, PAWFECT_ env
// mapping (server.jwt-secret -> PAWFECT_SERVER_JWT_SECRET) and, if configFile is
// set, that YAML file.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", configFile)
		}
	}
	return v, nil
}

// LoadDotEnv loads the given .env files into the process environment. Missing
// files are ignored; malformed files are an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return errors.Wrapf(err, "load %s", f)
		}
	}
	return nil
}

// Load decodes the effective settings.
func Load(v *viper.Viper) (Settings, error) {
	var s Settings
	if v == nil {
		return s, errors.New("viper instance is nil")
	}
	if err := v.Unmarshal(&s); err != nil {
		return s, errors.Wrap(err, "decode settings")
	}
	if s.Client.TypingTimeout <= 0 {
		return s, errors.Errorf("client.typing-timeout must be positive, got %s", s.Client.TypingTimeout)
	}
	if s.Server.AccessTTL <= 0 || s.Server.RefreshTTL <= 0 {
		return s, errors.New("server token ttls must be positive")
	}
	return s, nil
}

const redacted = "<redacted>"

// Redacted returns a copy safe to print.
func (s Settings) Redacted() Settings {
	if s.Server.JWTSecret != "" {
		s.Server.JWTSecret = redacted
	}
	if s.Server.AdminPassword != "" {
		s.Server.AdminPassword = redacted
	}
	if s.Geo.APIKey != "" {
		s.Geo.APIKey = redacted
	}
	return s
}
