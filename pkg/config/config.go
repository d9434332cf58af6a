package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the full worker/CLI configuration.
//
// Keys map 1:1 to environment variables (STORE_URL, DATA_DIR, ...) and to
// the optional stoker.yaml config file. Environment always wins over the
// file; defaults fill the rest.
type Config struct {
	// StoreURL is the shared key-value store endpoint. redis:// for the
	// multi-process deployment, bolt:// for embedded single-process use.
	StoreURL string `mapstructure:"store_url" validate:"required,store_url"`

	// DataDir is the root of the uploads/jobs/outputs subtrees.
	DataDir string `mapstructure:"data_dir" validate:"required"`

	// HostDataDir, when set, marks the worker as running inside a
	// container: it is the host path mapped to DataDir and is used to
	// rewrite bind-mount sources when launching sibling containers.
	HostDataDir string `mapstructure:"host_data_dir"`

	// DockerHost is the explicit engine endpoint, tried last in the
	// socket discovery order (after the per-user and system sockets).
	DockerHost string `mapstructure:"docker_host"`

	LogLevel string `mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
	LogJSON  bool   `mapstructure:"log_json"`

	// MetricsAddr is the listen address for /metrics and /healthz.
	// Empty disables the endpoint.
	MetricsAddr string `mapstructure:"metrics_addr"`

	PollInterval      time.Duration `mapstructure:"poll_interval" validate:"min=0"`
	BusyDelay         time.Duration `mapstructure:"busy_delay" validate:"min=0"`
	CancelGrace       time.Duration `mapstructure:"cancel_grace" validate:"min=0"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval" validate:"min=0"`
}

// Load reads configuration with priority:
// 1. Environment variables (highest)
// 2. Config file (stoker.yaml)
// 3. Defaults (lowest)
func Load(configPath string) (*Config, error) {
	// Load .env if present (missing file is fine)
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("stoker")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/stoker")
	}

	// Defaults must be registered before AutomaticEnv lookups so every
	// key is visible to Unmarshal even when set only via environment.
	setDefaults(v)

	// No prefix: the store/data/engine variables are a shared contract
	// with the producer side and keep their exact names.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Env values arrive as strings; the decoder has a duration hook but
	// no bool hook, so pick this one up through viper's cast.
	cfg.LogJSON = v.GetBool("log_json")

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration and panics on error (for use in main)
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}
