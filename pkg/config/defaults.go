package config

import (
	"time"

	"github.com/spf13/viper"
)

// Defaults for every configuration key. Registered with viper before env
// and file lookup so all keys participate in precedence resolution.
const (
	DefaultStoreURL          = "redis://localhost:6379"
	DefaultDataDir           = "./data"
	DefaultLogLevel          = "info"
	DefaultPollInterval      = 5 * time.Second
	DefaultBusyDelay         = 2 * time.Second
	DefaultCancelGrace       = 5 * time.Second
	DefaultReconcileInterval = 30 * time.Second
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("store_url", DefaultStoreURL)
	v.SetDefault("data_dir", DefaultDataDir)
	v.SetDefault("host_data_dir", "")
	v.SetDefault("docker_host", "")
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("log_json", false)
	v.SetDefault("metrics_addr", "")
	v.SetDefault("poll_interval", DefaultPollInterval)
	v.SetDefault("busy_delay", DefaultBusyDelay)
	v.SetDefault("cancel_grace", DefaultCancelGrace)
	v.SetDefault("reconcile_interval", DefaultReconcileInterval)
}

// Default returns a Config populated with defaults only, without touching
// the environment or any config file. Used by tests and the one-shot
// local runner.
func Default() *Config {
	return &Config{
		StoreURL:          DefaultStoreURL,
		DataDir:           DefaultDataDir,
		LogLevel:          DefaultLogLevel,
		PollInterval:      DefaultPollInterval,
		BusyDelay:         DefaultBusyDelay,
		CancelGrace:       DefaultCancelGrace,
		ReconcileInterval: DefaultReconcileInterval,
	}
}
