package config

import (
	"flag"
	"io"
	"os"
	"time"

	"github.com/dmitrijs2005/mmarket/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags:
//
//	-a string   HTTP bind address (e.g. ":8080")
//	-d string   PostgreSQL DSN
//	-r string   Redis URL
//	-s string   credential authority gRPC address
//	-e string   environment (dev, test, prod)
//	-l string   log level
//	-p string   superadmin phonenumber
//	-t int      token TTL, minutes
//	-i int      session cleanup interval, minutes (0 disables)
//
// os.Args is filtered with flagx.FilterArgs first, so -c/-config and flags
// of other components do not break parsing.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-r", "-s", "-e", "-l", "-p", "-t", "-i"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.RedisURL, "r", config.RedisURL, "redis URL")
	fs.StringVar(&config.AuthServiceAddr, "s", config.AuthServiceAddr, "auth service address")
	fs.StringVar(&config.Env, "e", config.Env, "environment")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")
	fs.StringVar(&config.SuperAdminPhonenumber, "p", config.SuperAdminPhonenumber, "superadmin phonenumber")

	tokenTTL := fs.Int("t", int(config.TokenTTL.Minutes()), "token ttl (in minutes)")
	cleanupInterval := fs.Int("i", int(config.SessionCleanupInterval.Minutes()), "session cleanup interval (in minutes)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.TokenTTL = time.Duration(*tokenTTL) * time.Minute
	config.SessionCleanupInterval = time.Duration(*cleanupInterval) * time.Minute
}
