package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultStoreURL, cfg.StoreURL)
	assert.Equal(t, DefaultDataDir, cfg.DataDir)
	assert.Empty(t, cfg.HostDataDir)
	assert.Empty(t, cfg.DockerHost)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.LogJSON)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, 2*time.Second, cfg.BusyDelay)
	assert.Equal(t, 5*time.Second, cfg.CancelGrace)
	assert.Equal(t, 30*time.Second, cfg.ReconcileInterval)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("STORE_URL", "redis://redis.internal:6380/2")
	t.Setenv("DATA_DIR", "/srv/stoker")
	t.Setenv("HOST_DATA_DIR", "/mnt/host/stoker")
	t.Setenv("DOCKER_HOST", "unix:///run/user/1000/docker.sock")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_JSON", "true")
	t.Setenv("POLL_INTERVAL", "10s")
	t.Setenv("BUSY_DELAY", "500ms")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "redis://redis.internal:6380/2", cfg.StoreURL)
	assert.Equal(t, "/srv/stoker", cfg.DataDir)
	assert.Equal(t, "/mnt/host/stoker", cfg.HostDataDir)
	assert.Equal(t, "unix:///run/user/1000/docker.sock", cfg.DockerHost)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.LogJSON)
	assert.Equal(t, 10*time.Second, cfg.PollInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.BusyDelay)
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"unsupported store scheme", "STORE_URL", "postgres://localhost/jobs"},
		{"unknown log level", "LOG_LEVEL", "verbose"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestLoadBoltStoreURL(t *testing.T) {
	t.Setenv("STORE_URL", "bolt:///var/lib/stoker/state.db")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "bolt:///var/lib/stoker/state.db", cfg.StoreURL)
}

func TestResourceValidationRule(t *testing.T) {
	type request struct {
		Resource string `validate:"required,resource"`
	}

	tests := []struct {
		name     string
		resource string
		wantErr  bool
	}{
		{"cpu", "cpu", false},
		{"gpu zero", "gpu:0", false},
		{"gpu multi digit", "gpu:12", false},
		{"bare gpu", "gpu", true},
		{"gpu empty index", "gpu:", true},
		{"gpu negative", "gpu:-1", true},
		{"gpu alpha", "gpu:a", true},
		{"unknown", "tpu:0", true},
	}

	v := NewValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(&request{Resource: tt.resource})
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
