package config

import (
	"flag"
	"fmt"
	"io"
)

// CLIFlags holds command-line overrides. A nil field was not given.
type CLIFlags struct {
	ConfigPath *string
	Port       *string
	LogLevel   *string
	DSN        *string
	NatsURL    *string
	Driver     *string
}

// ParseFlags parses server flags. Both long and short forms are accepted
// for --config/-c and --port/-p.
func ParseFlags(args []string) (CLIFlags, error) {
	fs := flag.NewFlagSet("flowboard", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var configPath, port, logLevel, dsn, natsURL, driver string
	fs.StringVar(&configPath, "config", "", "path to YAML config file")
	fs.StringVar(&configPath, "c", "", "shorthand for --config")
	fs.StringVar(&port, "port", "", "HTTP listen port")
	fs.StringVar(&port, "p", "", "shorthand for --port")
	fs.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.StringVar(&dsn, "dsn", "", "PostgreSQL DSN")
	fs.StringVar(&natsURL, "nats-url", "", "NATS server URL")
	fs.StringVar(&driver, "storage", "", "storage driver (postgres, sqlite)")

	if err := fs.Parse(args); err != nil {
		return CLIFlags{}, fmt.Errorf("parse flags: %w", err)
	}

	var out CLIFlags
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "config", "c":
			out.ConfigPath = &configPath
		case "port", "p":
			out.Port = &port
		case "log-level":
			out.LogLevel = &logLevel
		case "dsn":
			out.DSN = &dsn
		case "nats-url":
			out.NatsURL = &natsURL
		case "storage":
			out.Driver = &driver
		}
	})
	return out, nil
}

// LoadWithCLI loads configuration with the full hierarchy
// defaults < YAML < ENV < CLI and returns the resolved YAML path.
func LoadWithCLI(flags CLIFlags) (*Config, string, error) {
	path := DefaultConfigFile
	if flags.ConfigPath != nil {
		path = *flags.ConfigPath
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, path); err != nil {
		return nil, path, fmt.Errorf("config yaml: %w", err)
	}
	loadEnv(&cfg)
	applyCLI(&cfg, flags)

	if err := validate(&cfg); err != nil {
		return nil, path, fmt.Errorf("config validate: %w", err)
	}
	return &cfg, path, nil
}

func applyCLI(cfg *Config, flags CLIFlags) {
	if flags.Port != nil {
		cfg.Server.Port = *flags.Port
	}
	if flags.LogLevel != nil {
		cfg.Logging.Level = *flags.LogLevel
	}
	if flags.DSN != nil {
		cfg.Postgres.DSN = *flags.DSN
	}
	if flags.NatsURL != nil {
		cfg.NATS.URL = *flags.NatsURL
	}
	if flags.Driver != nil {
		cfg.Storage.Driver = *flags.Driver
	}
}
