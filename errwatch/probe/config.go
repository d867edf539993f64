package main

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// probeEnv holds the environment the flags fall back to
type probeEnv struct {
	ServiceUrl  string        `env:"ERRWATCH_SERVICE_URL"  envDefault:"http://localhost:8080"`
	Locale      string        `env:"ERRWATCH_LOCALE"`
	LogPath     string        `env:"ERRWATCH_LOG_PATH"`
	LogLevel    string        `env:"ERRWATCH_LOG_LEVEL"    envDefault:"info"`
	WsAddr      string        `env:"ERRWATCH_WS_ADDR"`
	WaitTimeout time.Duration `env:"ERRWATCH_WAIT_TIMEOUT" envDefault:"30s"`
}

func loadEnv(environment map[string]string) (probeEnv, error) {
	var raw probeEnv

	options := env.Options{}
	if environment != nil {
		options.Environment = environment
	}
	if err := env.ParseWithOptions(&raw, options); err != nil {
		return raw, fmt.Errorf("parse env: %w", err)
	}
	return raw, nil
}
