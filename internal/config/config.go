// Package config loads jukutatsu configuration: defaults, then a YAML file,
// then a .env file, then JUKUTATSU_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Remote drivers.
const (
	RemoteNone     = "none"
	RemoteMemory   = "memory"
	RemoteHTTP     = "http"
	RemoteSupabase = "supabase"
)

// AI providers.
const (
	AINone   = "none"
	AIOpenAI = "openai"
	AIGemini = "gemini"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Local       LocalConfig       `yaml:"local"`
	Remote      RemoteConfig      `yaml:"remote"`
	Replication ReplicationConfig `yaml:"replication"`
	AI          AIConfig          `yaml:"ai"`
	Backup      BackupConfig      `yaml:"backup"`
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
}

// LocalConfig selects the on-device snapshot store.
type LocalConfig struct {
	Driver string `yaml:"driver" validate:"oneof=sqlite badger"`
	Path   string `yaml:"path" validate:"required"`
	Key    string `yaml:"key" validate:"required"`
}

// RemoteConfig selects the remote store adapter.
type RemoteConfig struct {
	Driver  string   `yaml:"driver" validate:"oneof=none memory http supabase"`
	URL     string   `yaml:"url" validate:"omitempty,url"`
	APIKey  string   `yaml:"-"` // env-only, never in YAML
	Timeout Duration `yaml:"timeout" validate:"gt=0"`
	Breaker bool     `yaml:"breaker"`
}

// ReplicationConfig tunes the retry worker.
type ReplicationConfig struct {
	RetryInterval Duration `yaml:"retry_interval" validate:"gt=0"`
	MaxAttempts   int      `yaml:"max_attempts" validate:"min=1"`
	BatchSize     int      `yaml:"batch_size" validate:"min=1"`

	// ResyncInterval re-runs the full resync periodically; 0 disables it.
	ResyncInterval Duration `yaml:"resync_interval" validate:"gte=0"`
}

// AIConfig selects the chat partner.
type AIConfig struct {
	Provider  string `yaml:"provider" validate:"oneof=none openai gemini"`
	Model     string `yaml:"model"`
	OpenAIKey string `yaml:"-"` // env-only, never in YAML
	GeminiKey string `yaml:"-"` // env-only, never in YAML
}

// BackupConfig points at S3-compatible storage for snapshot backups. An
// empty bucket disables backups.
type BackupConfig struct {
	Endpoint  string   `yaml:"endpoint" validate:"required_with=Bucket"`
	Bucket    string   `yaml:"bucket"`
	Region    string   `yaml:"region"`
	UseSSL    *bool    `yaml:"use_ssl"`
	URLExpiry Duration `yaml:"url_expiry" validate:"gt=0"`
	AccessKey string   `yaml:"-"` // env-only, never in YAML
	SecretKey string   `yaml:"-"` // env-only, never in YAML
}

// ServerConfig contains HTTP server settings for `jukutatsu serve`.
type ServerConfig struct {
	Port            int      `yaml:"port" validate:"min=1,max=65535"`
	DBPath          string   `yaml:"db_path" validate:"required"`
	ReadTimeout     Duration `yaml:"read_timeout" validate:"gt=0"`
	WriteTimeout    Duration `yaml:"write_timeout" validate:"gt=0"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout" validate:"gt=0"`
	APIKey          string   `yaml:"-"` // env-only, never in YAML
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json text"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Load loads configuration with precedence: defaults → YAML file → .env →
// env vars. Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	return LoadFromFile(getEnv("JUKUTATSU_CONFIG_PATH", "config/jukutatsu.yaml"))
}

// LoadFromFile loads configuration using path as the YAML file. A missing
// file is not an error.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	if err := loadYAMLFile(cfg, path); err != nil {
		return nil, err
	}
	if err := loadDotEnv(getEnv("JUKUTATSU_ENV_FILE", ".env")); err != nil {
		return nil, err
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Local: LocalConfig{
			Driver: "sqlite",
			Path:   "data/jukutatsu.db",
			Key:    "jukutatsu_state",
		},
		Remote: RemoteConfig{
			Driver:  RemoteNone,
			Timeout: Duration(10 * time.Second),
			Breaker: true,
		},
		Replication: ReplicationConfig{
			RetryInterval: Duration(1 * time.Minute),
			MaxAttempts:   10,
			BatchSize:     50,
		},
		AI: AIConfig{
			Provider: AINone,
		},
		Backup: BackupConfig{
			URLExpiry: Duration(15 * time.Minute),
		},
		Server: ServerConfig{
			Port:            8080,
			DBPath:          "data/jukutatsu-remote.db",
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

// loadDotEnv exports variables from path without overriding the real
// environment. A missing file is not an error.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading env file: %w", err)
	}
	return nil
}

func envDuration(key string, dst *Duration) error {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = Duration(d)
	}
	return nil
}

func envInt(key string, dst *int) error {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
	}
	return nil
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) error {
	envString("JUKUTATSU_LOCAL_DRIVER", &cfg.Local.Driver)
	envString("JUKUTATSU_LOCAL_PATH", &cfg.Local.Path)
	envString("JUKUTATSU_LOCAL_KEY", &cfg.Local.Key)

	envString("JUKUTATSU_REMOTE_DRIVER", &cfg.Remote.Driver)
	envString("JUKUTATSU_REMOTE_URL", &cfg.Remote.URL)
	envString("JUKUTATSU_REMOTE_API_KEY", &cfg.Remote.APIKey)
	if v := os.Getenv("JUKUTATSU_REMOTE_BREAKER"); v != "" {
		cfg.Remote.Breaker = v == "true" || v == "1"
	}

	envString("JUKUTATSU_AI_PROVIDER", &cfg.AI.Provider)
	envString("JUKUTATSU_AI_MODEL", &cfg.AI.Model)
	envString("OPENAI_API_KEY", &cfg.AI.OpenAIKey)
	envString("GEMINI_API_KEY", &cfg.AI.GeminiKey)

	envString("JUKUTATSU_BACKUP_ENDPOINT", &cfg.Backup.Endpoint)
	envString("JUKUTATSU_BACKUP_BUCKET", &cfg.Backup.Bucket)
	envString("JUKUTATSU_BACKUP_REGION", &cfg.Backup.Region)
	envString("JUKUTATSU_BACKUP_ACCESS_KEY", &cfg.Backup.AccessKey)
	envString("JUKUTATSU_BACKUP_SECRET_KEY", &cfg.Backup.SecretKey)
	if v := os.Getenv("JUKUTATSU_BACKUP_USE_SSL"); v != "" {
		ssl := v == "true" || v == "1"
		cfg.Backup.UseSSL = &ssl
	}

	envString("JUKUTATSU_SERVER_DB_PATH", &cfg.Server.DBPath)
	envString("JUKUTATSU_SERVER_API_KEY", &cfg.Server.APIKey)

	envString("JUKUTATSU_LOG_LEVEL", &cfg.Log.Level)
	envString("JUKUTATSU_LOG_FORMAT", &cfg.Log.Format)

	for _, f := range []func() error{
		func() error { return envDuration("JUKUTATSU_REMOTE_TIMEOUT", &cfg.Remote.Timeout) },
		func() error { return envDuration("JUKUTATSU_RETRY_INTERVAL", &cfg.Replication.RetryInterval) },
		func() error { return envInt("JUKUTATSU_RETRY_MAX_ATTEMPTS", &cfg.Replication.MaxAttempts) },
		func() error { return envInt("JUKUTATSU_RETRY_BATCH_SIZE", &cfg.Replication.BatchSize) },
		func() error { return envDuration("JUKUTATSU_RESYNC_INTERVAL", &cfg.Replication.ResyncInterval) },
		func() error { return envInt("JUKUTATSU_PORT", &cfg.Server.Port) },
		func() error { return envDuration("JUKUTATSU_READ_TIMEOUT", &cfg.Server.ReadTimeout) },
		func() error { return envDuration("JUKUTATSU_WRITE_TIMEOUT", &cfg.Server.WriteTimeout) },
		func() error { return envDuration("JUKUTATSU_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout) },
	} {
		if err := f(); err != nil {
			return fmt.Errorf("invalid environment override: %w", err)
		}
	}
	return nil
}

// validate checks field constraints and cross-field requirements.
func (c *Config) validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	switch c.Remote.Driver {
	case RemoteHTTP, RemoteSupabase:
		if c.Remote.URL == "" {
			return fmt.Errorf("remote.url is required for driver %q", c.Remote.Driver)
		}
		if c.Remote.APIKey == "" {
			return errors.New("JUKUTATSU_REMOTE_API_KEY is required")
		}
	}
	if c.Backup.Bucket != "" && (c.Backup.AccessKey == "" || c.Backup.SecretKey == "") {
		return errors.New("JUKUTATSU_BACKUP_ACCESS_KEY and JUKUTATSU_BACKUP_SECRET_KEY are required when backup.bucket is set")
	}
	switch c.AI.Provider {
	case AIOpenAI:
		if c.AI.OpenAIKey == "" {
			return errors.New("OPENAI_API_KEY is required")
		}
	case AIGemini:
		if c.AI.GeminiKey == "" {
			return errors.New("GEMINI_API_KEY is required")
		}
	}
	return nil
}

// ValidateServer checks the settings only `serve` needs.
func (c *Config) ValidateServer() error {
	if c.Server.APIKey == "" {
		return errors.New("JUKUTATSU_SERVER_API_KEY is required")
	}
	return nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
