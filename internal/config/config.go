package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/config"

	"github.com/wellio/pushagent/internal/models"
)

type Config struct {
	App           AppConfig           `yaml:"app"`
	Server        ServerConfig        `yaml:"server"`
	Push          PushConfig          `yaml:"push"`
	API           APIConfig           `yaml:"api"`
	Database      DatabaseConfig      `yaml:"database"`
	Logging       LoggingConfig       `yaml:"logging"`
	Notifications NotificationsConfig `yaml:"notifications"`
	VAPID         VAPIDConfig         `yaml:"vapid"`
}

type AppConfig struct {
	Name string `yaml:"name"`
	// Role is the default audience of pushes that do not name one.
	Role string `yaml:"role"`
	// Origin is the application the deep links point into.
	Origin string `yaml:"origin"`
}

type ServerConfig struct {
	HTTPPort   string `yaml:"http_port"`
	HTTPSPort  string `yaml:"https_port"`
	Domain     string `yaml:"domain"`
	HTTPOnly   bool   `yaml:"http_only"`
	SelfSigned bool   `yaml:"self_signed"`
	CertsDir   string `yaml:"certs_dir"`
}

type PushConfig struct {
	// BaseURL is the public URL of the agent; subscription endpoints live under it.
	BaseURL     string `yaml:"base_url"`
	Scope       string `yaml:"scope"`
	ScriptURL   string `yaml:"script_url"`
	OpenCommand string `yaml:"open_command"`
}

type APIConfig struct {
	BaseURL          string        `yaml:"base_url"`
	Token            string        `yaml:"token"`
	Timeout          time.Duration `yaml:"timeout"`
	PersistAttempts  int           `yaml:"persist_attempts"`
	PersistBaseDelay time.Duration `yaml:"persist_base_delay"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type NotificationsConfig struct {
	Enabled bool `yaml:"enabled"`
}

type VAPIDConfig struct {
	PublicKey  string `yaml:"public_key"`
	PrivateKey string `yaml:"private_key"`
	Subject    string `yaml:"subject"`
	KeysDir    string `yaml:"keys_dir"`
}

func Default() Config {
	return Config{
		App: AppConfig{
			Name:   "wellio",
			Role:   string(models.UserTypeCoach),
			Origin: "http://localhost:3000",
		},
		Server: ServerConfig{
			HTTPPort:  "8080",
			HTTPSPort: "8443",
			Domain:    "localhost",
			CertsDir:  dirNextToExecutable("certs"),
		},
		Push: PushConfig{
			BaseURL:   "http://localhost:8080",
			Scope:     "/",
			ScriptURL: "/sw.js",
		},
		API: APIConfig{
			BaseURL: "http://localhost:3000",
			Timeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Path: dirNextToExecutable("data/platform.db"),
		},
		Logging:       LoggingConfig{Level: "info"},
		Notifications: NotificationsConfig{Enabled: true},
		VAPID: VAPIDConfig{
			Subject: "mailto:push@wellio.app",
			KeysDir: dirNextToExecutable("keys"),
		},
	}
}

// Load reads defaults, then the YAML file at path (if any, with ${VAR}
// expansion), then environment overrides.
func Load(path string) (*Config, error) {
	opts := []config.YAMLOption{config.Static(Default())}
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		opts = append(opts, config.File(path))
	}
	opts = append(opts, config.Expand(os.LookupEnv))

	provider, err := config.NewYAML(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create config provider: %w", err)
	}

	var cfg Config
	if err := provider.Get(config.Root).Populate(&cfg); err != nil {
		return nil, fmt.Errorf("failed to populate config: %w", err)
	}

	cfg.overrideFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) overrideFromEnv() {
	c.App.Name = getEnv("APP_NAME", c.App.Name)
	c.App.Role = getEnv("APP_ROLE", c.App.Role)
	c.App.Origin = getEnv("APP_ORIGIN", c.App.Origin)

	c.Server.HTTPPort = getEnv("HTTP_PORT", c.Server.HTTPPort)
	c.Server.HTTPSPort = getEnv("HTTPS_PORT", c.Server.HTTPSPort)
	c.Server.Domain = getEnv("DOMAIN", c.Server.Domain)
	c.Server.HTTPOnly = getEnvBool("HTTP_ONLY", c.Server.HTTPOnly)
	c.Server.SelfSigned = getEnvBool("SELF_SIGNED", c.Server.SelfSigned)

	c.Push.BaseURL = getEnv("PUSH_BASE_URL", c.Push.BaseURL)
	c.Push.OpenCommand = getEnv("OPEN_COMMAND", c.Push.OpenCommand)

	c.API.BaseURL = getEnv("API_BASE_URL", c.API.BaseURL)
	c.API.Token = getEnv("API_TOKEN", c.API.Token)
	c.API.Timeout = getEnvDuration("API_TIMEOUT", c.API.Timeout)
	c.API.PersistAttempts = getEnvInt("PUSH_PERSIST_ATTEMPTS", c.API.PersistAttempts)
	c.API.PersistBaseDelay = getEnvDuration("PUSH_PERSIST_BASE_DELAY", c.API.PersistBaseDelay)

	c.Database.Path = getEnv("DATABASE_PATH", c.Database.Path)
	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Notifications.Enabled = getEnvBool("NOTIFICATIONS_ENABLED", c.Notifications.Enabled)

	c.VAPID.PublicKey = getEnv("VAPID_PUBLIC_KEY", c.VAPID.PublicKey)
	c.VAPID.PrivateKey = getEnv("VAPID_PRIVATE_KEY", c.VAPID.PrivateKey)
	c.VAPID.Subject = getEnv("VAPID_SUBJECT", c.VAPID.Subject)
	c.VAPID.KeysDir = getEnv("VAPID_KEYS_DIR", c.VAPID.KeysDir)
}

func (c *Config) Validate() error {
	var errs []error
	if _, err := models.ParseUserType(c.App.Role); err != nil {
		errs = append(errs, fmt.Errorf("app.role: %w", err))
	}
	if _, err := c.OriginURL(); err != nil {
		errs = append(errs, fmt.Errorf("app.origin: %w", err))
	}
	if c.Push.BaseURL != "" {
		if _, err := absoluteURL(c.Push.BaseURL); err != nil {
			errs = append(errs, fmt.Errorf("push.base_url: %w", err))
		}
	}
	if !strings.HasPrefix(c.Push.Scope, "/") {
		errs = append(errs, fmt.Errorf("push.scope must start with /"))
	}
	if c.API.PersistAttempts < 0 {
		errs = append(errs, fmt.Errorf("api.persist_attempts must not be negative"))
	}
	if c.Database.Path == "" {
		errs = append(errs, fmt.Errorf("database.path is required"))
	}
	return errors.Join(errs...)
}

func (c *Config) UserType() models.UserType {
	role, _ := models.ParseUserType(c.App.Role)
	return role
}

func (c *Config) OriginURL() (*url.URL, error) {
	return absoluteURL(c.App.Origin)
}

func absoluteURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("%q is not an absolute URL", raw)
	}
	return u, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func dirNextToExecutable(name string) string {
	execPath, err := os.Executable()
	if err != nil {
		// Fallback to current directory
		return name
	}
	return filepath.Join(filepath.Dir(execPath), name)
}
