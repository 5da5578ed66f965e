package config

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// Environment variables read by parseEnv.
const (
	envAppEnv             = "APP_ENV"
	envDatabaseDSN        = "DATABASE_DSN"
	envRedisURL           = "REDIS_URL"
	envAuthServiceAddr    = "AUTH_SERVICE_ADDR"
	envAuthServiceCAFile  = "AUTH_SERVICE_CA_FILE"
	envSuperAdminUsername = "SUPERADMIN_USERNAME"
	envSuperAdminPassword = "SUPERADMIN_PASSWORD"
)

// envFile is the dotenv file consulted before the process environment.
var envFile = ".env"

// parseEnv loads envFile into the process environment (variables already
// set win) and overlays the recognised variables. A missing envFile is
// not an error.
func parseEnv(config *Config) {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		panic(err)
	}

	setString(&config.Env, os.Getenv(envAppEnv))
	setString(&config.DatabaseDSN, os.Getenv(envDatabaseDSN))
	setString(&config.RedisURL, os.Getenv(envRedisURL))
	setString(&config.AuthServiceAddr, os.Getenv(envAuthServiceAddr))
	setString(&config.AuthServiceCAFile, os.Getenv(envAuthServiceCAFile))
	setString(&config.SuperAdminUsername, os.Getenv(envSuperAdminUsername))
	setString(&config.SuperAdminPassword, os.Getenv(envSuperAdminPassword))
}
