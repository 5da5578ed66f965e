package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	tests := []struct {
		expected    *Config
		name        string
		args        []string
		expectPanic bool
	}{
		{
			name: "all flags",
			args: []string{"cmd",
				"-a", "127.0.0.1:9090", "-d", "db", "-r", "redis://r", "-s", "auth:1",
				"-e", "prod", "-l", "warn", "-p", "81112223344", "-t", "60", "-i", "5",
			},
			expected: &Config{
				EndpointAddrHTTP:       "127.0.0.1:9090",
				DatabaseDSN:            "db",
				RedisURL:               "redis://r",
				AuthServiceAddr:        "auth:1",
				Env:                    "prod",
				LogLevel:               "warn",
				SuperAdminPhonenumber:  "81112223344",
				TokenTTL:               time.Hour,
				SessionCleanupInterval: 5 * time.Minute,
			},
		},
		{
			name: "foreign flags are ignored",
			args: []string{"cmd", "-c", "server.json", "-x", "1", "-a", ":1"},
			expected: &Config{
				EndpointAddrHTTP: ":1",
			},
		},
		{
			name:        "bad int panics",
			args:        []string{"cmd", "-t", "soon"},
			expectPanic: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Args = tt.args
			config := &Config{}

			if tt.expectPanic {
				require.Panics(t, func() { parseFlags(config) })
				return
			}
			require.NotPanics(t, func() { parseFlags(config) })
			assert.Equal(t, tt.expected, config)
		})
	}
}
