// Package config provides functionality for managing configuration options
// for the key directory server using command-line flags and environment
// variables.
package config

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"
)

// Options holds the configuration values for the key directory server.
type Options struct {
	// Port defines the server's listening address (ip:port).
	Port string

	// DatabaseDSN holds the database connection string.
	DatabaseDSN string

	// AdminToken is the shared bearer token guarding the admin endpoints.
	// Leaving it empty disables them.
	AdminToken string

	// CertFile and KeyFile point at the TLS serving credentials. When the
	// files are missing the server falls back to a generated self-signed
	// pair.
	CertFile string
	KeyFile  string

	// CleanInterval is how often the retention cleaner runs.
	CleanInterval time.Duration

	// Retention is how long removed keys and stale unverified submissions
	// are kept before the cleaner purges them.
	Retention time.Duration

	// Config is the path to the Config file.
	Config string
}

// options holds the current configuration values.
var options = &Options{}

// init initializes command-line flags and sets default values.
func init() {
	flag.StringVar(&options.Port, "a", "localhost:8080", "run on ip:port server")
	flag.StringVar(&options.DatabaseDSN, "d", "", "db address")
	flag.StringVar(&options.AdminToken, "t", "", "admin bearer token (empty disables admin endpoints)")
	flag.StringVar(&options.CertFile, "crt", "certs/server.crt", "path to TLS certificate")
	flag.StringVar(&options.KeyFile, "key", "certs/server.key", "path to TLS key")
	flag.DurationVar(&options.CleanInterval, "clean-interval", time.Hour, "how often the retention cleaner runs")
	flag.DurationVar(&options.Retention, "retention", 30*24*time.Hour, "how long removed and unverified keys are kept")
	flag.StringVar(&options.Config, "config", "config.json", "path to config file")
	flag.StringVar(&options.Config, "c", "config.json", "path to config file (shorthand)")
}

// Parse parses the command-line flags and environment variables to set
// configuration values. It returns a pointer to the Options struct containing
// the parsed configuration values.
func Parse() *Options {
	flag.Parse()

	// Override flags with environment variables if set
	if configPath := os.Getenv("CONFIG"); configPath != "" {
		options.Config = configPath
	}

	if options.Config != "" {
		if _, err := os.Stat(options.Config); err == nil {
			data, err := os.ReadFile(options.Config)
			if err != nil {
				log.Fatalf("error while reading config file: %v", err)
			}
			if err := json.Unmarshal(data, options); err != nil {
				log.Fatalf("error while parsing config file: %v", err)
			}
		}
	}

	if serverAddress := os.Getenv("SERVER_ADDRESS"); serverAddress != "" {
		options.Port = serverAddress
	}
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		options.DatabaseDSN = dsn
	}
	if token := os.Getenv("ADMIN_TOKEN"); token != "" {
		options.AdminToken = token
	}

	return options
}
