package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/mmarket/internal/flagx"
	"github.com/dmitrijs2005/mmarket/internal/timex"
	"gopkg.in/yaml.v3"
)

// FileConfig is the DTO decoded from a JSON or YAML config file. Durations
// use timex.Duration, so both "1h" and integer nanoseconds are accepted.
// Empty fields leave the current value untouched.
type FileConfig struct {
	Env                    string         `json:"env" yaml:"env"`
	EndpointAddrHTTP       string         `json:"endpoint_addr_http" yaml:"endpoint_addr_http"`
	DatabaseDSN            string         `json:"database_dsn" yaml:"database_dsn"`
	RedisURL               string         `json:"redis_url" yaml:"redis_url"`
	AuthServiceAddr        string         `json:"auth_service_addr" yaml:"auth_service_addr"`
	AuthServiceCAFile      string         `json:"auth_service_ca_file" yaml:"auth_service_ca_file"`
	TokenTTL               timex.Duration `json:"token_ttl" yaml:"token_ttl"`
	TokenIssuer            string         `json:"token_issuer" yaml:"token_issuer"`
	SessionCleanupInterval timex.Duration `json:"session_cleanup_interval" yaml:"session_cleanup_interval"`
	SuperAdminPhonenumber  string         `json:"superadmin_phonenumber" yaml:"superadmin_phonenumber"`
	MinPasswordLen         int            `json:"min_password_len" yaml:"min_password_len"`
	MaxPasswordLen         int            `json:"max_password_len" yaml:"max_password_len"`
	LogLevel               string         `json:"log_level" yaml:"log_level"`
}

// parseFile overlays values from the file named by -c/-config. Files ending
// in .yaml or .yml are decoded as YAML, everything else as JSON. A missing
// flag means nothing to load; unreadable or malformed files panic.
func parseFile(config *Config) {
	path := flagx.ConfigFileFlags()
	if path == "" {
		return
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	c := &FileConfig{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, c)
	default:
		err = json.Unmarshal(raw, c)
	}
	if err != nil {
		panic(err)
	}

	c.apply(config)
}

func (c *FileConfig) apply(config *Config) {
	setString(&config.Env, c.Env)
	setString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.RedisURL, c.RedisURL)
	setString(&config.AuthServiceAddr, c.AuthServiceAddr)
	setString(&config.AuthServiceCAFile, c.AuthServiceCAFile)
	setString(&config.TokenIssuer, c.TokenIssuer)
	setString(&config.SuperAdminPhonenumber, c.SuperAdminPhonenumber)
	setString(&config.LogLevel, c.LogLevel)

	if c.TokenTTL.Duration != 0 {
		config.TokenTTL = c.TokenTTL.Duration
	}
	if c.SessionCleanupInterval.Duration != 0 {
		config.SessionCleanupInterval = c.SessionCleanupInterval.Duration
	}
	if c.MinPasswordLen != 0 {
		config.MinPasswordLen = c.MinPasswordLen
	}
	if c.MaxPasswordLen != 0 {
		config.MaxPasswordLen = c.MaxPasswordLen
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
