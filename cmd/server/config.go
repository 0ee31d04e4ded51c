package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/liamcoop/prepbook/statemachine"
)

// Config is read from the environment
type Config struct {
	DatabaseURL       string // empty: in-memory stores
	Port              string
	StrictRules       bool // fail startup on dangling dependencies or cycles
	TransitionRetries int
}

func loadConfig() (Config, error) {
	cfg := Config{
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		Port:              os.Getenv("PORT"),
		StrictRules:       true,
		TransitionRetries: statemachine.DefaultMaxRetries,
	}

	if cfg.Port == "" {
		cfg.Port = "8080"
	}

	if v := os.Getenv("RULES_STRICT"); v != "" {
		strict, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return cfg, fmt.Errorf("invalid RULES_STRICT %q: %w", v, err)
		}
		cfg.StrictRules = strict
	}

	if v := os.Getenv("TRANSITION_RETRIES"); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n < 0 {
			return cfg, fmt.Errorf("invalid TRANSITION_RETRIES %q", v)
		}
		cfg.TransitionRetries = n
	}

	return cfg, nil
}
