package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"

	"github.com/BurntSushi/toml"

	"errwatch.dev/errwatch/v1/errwatch/collector/httpserver"
	"errwatch.dev/errwatch/v1/errwatch/exitcodes"
	ewlogger "errwatch.dev/errwatch/v1/errwatchlib/logger"
)

const (
	CONFIG_PATH     = "ERRWATCH_CONFIG_PATH"     // Path to an optional TOML config file
	LISTEN_ADDR     = "ERRWATCH_LISTEN_ADDR"     // Address the collector listens on
	LOG_PATH        = "ERRWATCH_LOG_PATH"        // Path to log file for the collector
	LOG_LEVEL       = "ERRWATCH_LOG_LEVEL"       // One of trace, debug, info, warn, error
	RATE_PER_MINUTE = "ERRWATCH_RATE_PER_MINUTE" // Requests per minute allowed per client
	RATE_BURST      = "ERRWATCH_RATE_BURST"      // Requests a client may burst above its rate

	defaultListenAddr = ":8080"
)

type EnvVar struct {
	Value string
	Seen  bool
}

// environment variable management dictionary
// maps the name of an env var to its value and whether or not it is set
func readEnv(lookup func(string) (string, bool)) map[string]EnvVar {
	env := map[string]EnvVar{
		CONFIG_PATH:     {},
		LISTEN_ADDR:     {},
		LOG_PATH:        {},
		LOG_LEVEL:       {},
		RATE_PER_MINUTE: {},
		RATE_BURST:      {},
	}

	for name := range env {
		if value, ok := lookup(name); ok && value != "" {
			env[name] = EnvVar{Value: value, Seen: true}
		}
	}
	return env
}

// FileConfig is the layout of the TOML config file
type FileConfig struct {
	Listen string `toml:"listen"`

	Log struct {
		Path       string `toml:"path"`
		Level      string `toml:"level"`
		MaxSizeMB  int    `toml:"max_size_mb"`
		MaxBackups int    `toml:"max_backups"`
		MaxAgeDays int    `toml:"max_age_days"`
	} `toml:"log"`

	RateLimit struct {
		PerMinute float64 `toml:"per_minute"`
		Burst     int     `toml:"burst"`
	} `toml:"rate_limit"`
}

func loadFile(path string) (*FileConfig, error) {
	var file FileConfig
	if path == "" {
		return &file, nil
	}

	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return &file, nil
}

// Settings is everything the collector runs with. Flags win over environment
// variables, which win over the config file.
type Settings struct {
	Logger ewlogger.Config
	Server httpserver.Config
}

func loadSettings(args []string, lookupEnv func(string) (string, bool), output io.Writer) (*Settings, error) {
	var configPath, listenAddr, logPath, logLevel string
	var perMinute float64
	var burst int

	flags := flag.NewFlagSet("collector", flag.ContinueOnError)
	flags.SetOutput(output)
	flags.StringVar(&configPath, "configPath", "", "Path to an optional TOML config file")
	flags.StringVar(&listenAddr, "listenAddr", "", "Address to listen on (default "+defaultListenAddr+")")
	flags.StringVar(&logPath, "logPath", "", "Path to log file for the collector")
	flags.StringVar(&logLevel, "logLevel", "", "The log level to use")
	flags.Float64Var(&perMinute, "ratePerMinute", 0, "Requests per minute allowed per client")
	flags.IntVar(&burst, "rateBurst", 0, "Requests a client may burst above its rate")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, err
		}
		return nil, &exitcodes.ConfigError{Err: err}
	}

	// Put all of the flags we've seen into a dict
	seen := make(map[string]bool)
	flags.Visit(func(f *flag.Flag) { seen[f.Name] = true })

	env := readEnv(lookupEnv)
	if !seen["configPath"] && env[CONFIG_PATH].Seen {
		configPath = env[CONFIG_PATH].Value
	}

	file, err := loadFile(configPath)
	if err != nil {
		return nil, &exitcodes.ConfigError{Err: err}
	}

	pick := func(flagName string, flagValue string, envName string, fileValue string) string {
		switch {
		case seen[flagName]:
			return flagValue
		case env[envName].Seen:
			return env[envName].Value
		default:
			return fileValue
		}
	}

	settings := &Settings{
		Logger: ewlogger.Config{
			FilePath:   pick("logPath", logPath, LOG_PATH, file.Log.Path),
			LogLevel:   pick("logLevel", logLevel, LOG_LEVEL, file.Log.Level),
			MaxSize:    file.Log.MaxSizeMB,
			MaxBackups: file.Log.MaxBackups,
			MaxAge:     file.Log.MaxAgeDays,
		},
		Server: httpserver.Config{
			Addr:          pick("listenAddr", listenAddr, LISTEN_ADDR, file.Listen),
			RatePerMinute: file.RateLimit.PerMinute,
			Burst:         file.RateLimit.Burst,
		},
	}

	if settings.Server.Addr == "" {
		settings.Server.Addr = defaultListenAddr
	}

	switch {
	case seen["ratePerMinute"]:
		settings.Server.RatePerMinute = perMinute
	case env[RATE_PER_MINUTE].Seen:
		value, err := strconv.ParseFloat(env[RATE_PER_MINUTE].Value, 64)
		if err != nil {
			return nil, &exitcodes.ConfigError{Err: fmt.Errorf("%s: %w", RATE_PER_MINUTE, err)}
		}
		settings.Server.RatePerMinute = value
	}

	switch {
	case seen["rateBurst"]:
		settings.Server.Burst = burst
	case env[RATE_BURST].Seen:
		value, err := strconv.Atoi(env[RATE_BURST].Value)
		if err != nil {
			return nil, &exitcodes.ConfigError{Err: fmt.Errorf("%s: %w", RATE_BURST, err)}
		}
		settings.Server.Burst = value
	}

	if settings.Server.RatePerMinute < 0 || settings.Server.Burst < 0 {
		return nil, &exitcodes.ConfigError{Err: fmt.Errorf("rate limits cannot be negative")}
	}

	return settings, nil
}
