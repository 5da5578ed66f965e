package flagx

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

var serverFlags = []string{"-a", "-d", "-r", "-s", "-e", "-l", "-p", "-t", "-i"}

func TestFilterArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		allowed []string
		want    []string
	}{
		{
			name:    "server flags survive, config and cli flags dropped",
			args:    []string{"-c", "server.yaml", "-a", ":8080", "-u", "root", "-r", "redis://cache:6379/0"},
			allowed: serverFlags,
			want:    []string{"-a", ":8080", "-r", "redis://cache:6379/0"},
		},
		{
			name:    "cli username picked out of a server command line",
			args:    []string{"-d", "postgres://db", "-u", "root", "-e", "dev"},
			allowed: []string{"-u"},
			want:    []string{"-u", "root"},
		},
		{
			name:    "equals form",
			args:    []string{"-t=90", "-x=1", "-config=/etc/mmarket/server.json"},
			allowed: serverFlags,
			want:    []string{"-t=90"},
		},
		{
			name:    "equals form keeps dash-looking value",
			args:    []string{"-e=-weird"},
			allowed: []string{"-e"},
			want:    []string{"-e=-weird"},
		},
		{
			name:    "trailing flag without value",
			args:    []string{"-a", ":8080", "-l"},
			allowed: serverFlags,
			want:    []string{"-a", ":8080", "-l"},
		},
		{
			name:    "next dash token is never a value",
			args:    []string{"-p", "-a", ":9090"},
			allowed: serverFlags,
			want:    []string{"-p", "-a", ":9090"},
		},
		{
			name:    "positional arguments ignored",
			args:    []string{"bootstrap", "now"},
			allowed: serverFlags,
			want:    []string{},
		},
		{
			name:    "repeated flag preserved in order",
			args:    []string{"-i", "30", "-i", "0"},
			allowed: []string{"-i"},
			want:    []string{"-i", "30", "-i", "0"},
		},
		{
			name:    "empty",
			args:    nil,
			allowed: serverFlags,
			want:    []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FilterArgs(tt.args, tt.allowed))
		})
	}
}

func TestConfigFileFlags(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	t.Run("short form", func(t *testing.T) {
		os.Args = []string{"server", "-a", ":8080", "-c", "/etc/mmarket/server.json"}
		assert.Equal(t, "/etc/mmarket/server.json", ConfigFileFlags())
	})

	t.Run("long form", func(t *testing.T) {
		os.Args = []string{"server", "-config", "/etc/mmarket/server.yml"}
		assert.Equal(t, "/etc/mmarket/server.yml", ConfigFileFlags())
	})

	t.Run("absent", func(t *testing.T) {
		os.Args = []string{"server", "-a", ":8080", "-u", "root"}
		assert.Empty(t, ConfigFileFlags())
	})

	t.Run("last one wins", func(t *testing.T) {
		os.Args = []string{"server", "-c", "/tmp/a.json", "-config", "/tmp/b.yaml"}
		assert.Equal(t, "/tmp/b.yaml", ConfigFileFlags())
	})
}

func TestConfigFileFlagsFrom(t *testing.T) {
	assert.Equal(t, "/etc/mmarket/server.yaml", ConfigFileFlagsFrom([]string{"-a", ":8080", "-config=/etc/mmarket/server.yaml"}))
	assert.Equal(t, "", ConfigFileFlagsFrom([]string{"-a", ":8080"}))
}
