package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/star/polargen/internal/api"
	"github.com/star/polargen/internal/auth"
	"github.com/star/polargen/internal/batch"
)

// solverConfig locates the solver and its report cache.
type solverConfig struct {
	Path          string
	AirfoilDir    string
	Timeout       time.Duration
	CacheDir      string
	CacheMaxFiles int
}

func loadBatchConfig(logger *slog.Logger) batch.Config {
	cfg := batch.Config{
		Airfoil:     os.Getenv("POLARGEN_AIRFOIL"),
		Mach:        0.05,
		AoAMin:      -10,
		AoAMax:      20,
		AoAStep:     1,
		AspectRatio: 6,
		NCrit:       9,
		Iterations:  250,
		Workers:     runtime.NumCPU(),
	}

	cfg.Mach = envFloat(logger, "POLARGEN_MACH", cfg.Mach, func(v float64) bool { return v >= 0 && v < 1 })
	cfg.AoAMin = envFloat(logger, "POLARGEN_AOA_MIN", cfg.AoAMin, nil)
	cfg.AoAMax = envFloat(logger, "POLARGEN_AOA_MAX", cfg.AoAMax, nil)
	cfg.AoAStep = envFloat(logger, "POLARGEN_AOA_STEP", cfg.AoAStep, positive)
	cfg.AspectRatio = envFloat(logger, "POLARGEN_ASPECT_RATIO", cfg.AspectRatio, positive)
	cfg.NCrit = envFloat(logger, "POLARGEN_NCRIT", cfg.NCrit, positive)
	cfg.Iterations = envInt(logger, "POLARGEN_ITERATIONS", cfg.Iterations)
	cfg.Workers = envInt(logger, "POLARGEN_WORKERS", cfg.Workers)

	if v := os.Getenv("POLARGEN_REYNOLDS"); v != "" {
		re, err := parseReynoldsList(v)
		if err != nil {
			logger.Warn("invalid POLARGEN_REYNOLDS value, ignoring", "value", v, "error", err)
		} else {
			cfg.Reynolds = re
		}
	}

	return cfg
}

func loadSolverConfig(logger *slog.Logger) solverConfig {
	cfg := solverConfig{
		Path:          "xfoil",
		AirfoilDir:    ".",
		Timeout:       120 * time.Second,
		CacheDir:      filepath.Join(os.TempDir(), "polargen", "reports"),
		CacheMaxFiles: 5,
	}

	if v := os.Getenv("POLARGEN_XFOIL_PATH"); v != "" {
		cfg.Path = v
	}
	if v := os.Getenv("POLARGEN_AIRFOIL_DIR"); v != "" {
		cfg.AirfoilDir = v
	}
	if v := os.Getenv("POLARGEN_CACHE_DIR"); v != "" {
		cfg.CacheDir = v
	}

	if v := os.Getenv("POLARGEN_XFOIL_TIMEOUT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid POLARGEN_XFOIL_TIMEOUT value, using default", "value", v, "default", 120)
		} else {
			cfg.Timeout = time.Duration(n) * time.Second
		}
	}

	cfg.CacheMaxFiles = envInt(logger, "POLARGEN_CACHE_MAX_FILES", cfg.CacheMaxFiles)
	return cfg
}

func loadAPIConfig(logger *slog.Logger) (api.Config, error) {
	cfg := api.Config{
		Addr:          ":8080",
		MaxConcurrent: 4,
		RunTimeout:    10 * time.Minute,
	}

	if v := os.Getenv("POLARGEN_HTTP_ADDR"); v != "" {
		cfg.Addr = v
	}
	cfg.MaxConcurrent = envInt(logger, "POLARGEN_API_MAX_CONCURRENT", cfg.MaxConcurrent)
	cfg.RunTimeout = time.Duration(envInt(logger, "POLARGEN_API_RUN_TIMEOUT", int(cfg.RunTimeout.Seconds()))) * time.Second

	if v := os.Getenv("POLARGEN_TRUST_PROXY"); v != "" {
		trust, err := strconv.ParseBool(v)
		if err != nil {
			logger.Warn("invalid POLARGEN_TRUST_PROXY value, using default", "value", v, "default", false)
		} else {
			cfg.TrustProxy = trust
		}
	}

	authCfg, err := loadAuthConfig(logger)
	if err != nil {
		return cfg, err
	}
	cfg.Auth = authCfg
	return cfg, nil
}

func loadAuthConfig(logger *slog.Logger) (auth.Config, error) {
	cfg := auth.Config{}

	if v := os.Getenv("POLARGEN_AUTH_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, errors.New("POLARGEN_AUTH_ENABLED must be a boolean value (true/false/1/0)")
		}
		cfg.Enabled = enabled
	}

	if cfg.Enabled {
		cfg.Token = os.Getenv("POLARGEN_AUTH_TOKEN")
		if cfg.Token == "" {
			return cfg, errors.New("POLARGEN_AUTH_TOKEN is required when auth is enabled")
		}
		logger.Info("auth enabled")
	}

	return cfg, nil
}

// envFloat reads key as a float, keeping def when unset or rejected by ok.
func envFloat(logger *slog.Logger, key string, def float64, ok func(float64) bool) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || (ok != nil && !ok(f)) {
		logger.Warn("invalid "+key+" value, using default", "value", v, "default", def)
		return def
	}
	return f
}

// envInt reads key as a positive integer, keeping def otherwise.
func envInt(logger *slog.Logger, key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		logger.Warn("invalid "+key+" value, using default", "value", v, "default", def)
		return def
	}
	return n
}

func positive(v float64) bool { return v > 0 }

// parseReynoldsList parses a comma separated list such as "1e5,2e5,500000".
func parseReynoldsList(s string) ([]float64, error) {
	var out []float64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		re, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, fmt.Errorf("reynolds %q: %w", part, err)
		}
		if !(re > 0) {
			return nil, fmt.Errorf("reynolds %q must be positive", part)
		}
		out = append(out, re)
	}
	if len(out) == 0 {
		return nil, errors.New("empty reynolds list")
	}
	return out, nil
}

// parseLogLevel maps debug/info/warn/error onto a slog level.
func parseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log level %q: %w", s, err)
	}
	return level, nil
}
