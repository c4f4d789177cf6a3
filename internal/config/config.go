package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Blob     BlobConfig     `mapstructure:"blob"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Vector   VectorConfig   `mapstructure:"vector"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Secrets  SecretsConfig  `mapstructure:"secrets"`
	Log      LogConfig      `mapstructure:"log"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

type ServerConfig struct {
	Addr           string `mapstructure:"addr"`
	HealthAddr     string `mapstructure:"health_addr"`
	MaxUploadBytes int64  `mapstructure:"max_upload_bytes"`
	AutoImport     bool   `mapstructure:"auto_import"`
	ImportDir      string `mapstructure:"import_dir"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type BlobConfig struct {
	Dir string `mapstructure:"dir"`
}

type LLMConfig struct {
	APIKey           string `mapstructure:"api_key"`
	BaseURL          string `mapstructure:"base_url"`
	DescriptionModel string `mapstructure:"description_model"`
	MetadataModel    string `mapstructure:"metadata_model"`
	AnswerModel      string `mapstructure:"answer_model"`
}

type VectorConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	Collection    string `mapstructure:"collection"`
	FallbackCache int    `mapstructure:"fallback_cache"`
}

type WorkerConfig struct {
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	ErrorInterval time.Duration `mapstructure:"error_interval"`
	StaleAfter    time.Duration `mapstructure:"stale_after"`
}

type SecretsConfig struct {
	Provider   string `mapstructure:"provider"`
	File       string `mapstructure:"file"`
	VaultAddr  string `mapstructure:"vault_addr"`
	VaultToken string `mapstructure:"vault_token"`
	VaultMount string `mapstructure:"vault_mount"`
	VaultPath  string `mapstructure:"vault_path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	Environment  string `mapstructure:"environment"`
}

// Validate checks configuration for issues and returns warnings.
func (c *Config) Validate() []string {
	var warnings []string

	if c.LLM.APIKey == "" {
		warnings = append(warnings, "llm api_key is empty; text generation will return demo placeholders")
	}
	if c.Worker.StaleAfter < time.Minute {
		warnings = append(warnings, fmt.Sprintf("worker stale_after %s is very short; in-flight jobs may be reclaimed while still running", c.Worker.StaleAfter))
	}
	if c.Worker.PollInterval <= 0 {
		warnings = append(warnings, "worker poll_interval must be positive")
	}
	if c.Vector.FallbackCache < 0 {
		warnings = append(warnings, "vector fallback_cache must not be negative")
	}

	return warnings
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.health_addr", ":8081")
	v.SetDefault("server.max_upload_bytes", int64(50<<20))
	v.SetDefault("server.auto_import", true)
	v.SetDefault("server.import_dir", "seed")
	v.SetDefault("database.path", "astra.db")
	v.SetDefault("blob.dir", "storage")
	v.SetDefault("llm.description_model", "gemini-2.5-flash")
	v.SetDefault("llm.metadata_model", "gemini-2.5-pro")
	v.SetDefault("llm.answer_model", "gemini-2.5-pro")
	v.SetDefault("vector.host", "localhost")
	v.SetDefault("vector.port", 6334)
	v.SetDefault("vector.collection", "files")
	v.SetDefault("vector.fallback_cache", 1024)
	v.SetDefault("worker.poll_interval", 2*time.Second)
	v.SetDefault("worker.error_interval", 5*time.Second)
	v.SetDefault("worker.stale_after", 10*time.Minute)
	v.SetDefault("secrets.provider", "env")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration from file and environment. A missing config file
// is not an error; defaults and ASTRA_* environment variables still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("ASTRA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if warnings := cfg.Validate(); len(warnings) > 0 {
		for _, warning := range warnings {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
		}
	}

	return &cfg, nil
}
