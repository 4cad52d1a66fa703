package config

import (
	"os"
	"runtime"
	"strconv"

	"github.com/PennBBL/GAMM-Tutorial/internal/errors"
	"github.com/PennBBL/GAMM-Tutorial/internal/orchestrator"
)

// Config represents the complete application configuration
type Config struct {
	Stats StatsConfig
	Plot  PlotConfig
	Paths PathConfig
	Log   LogConfig
}

// StatsConfig holds the statistical settings shared by every task
type StatsConfig struct {
	Alpha             float64
	BonferroniDivisor float64
	SimCount          int
	Seed              uint64
	Workers           int
	GridSize          int
	CIMultiplier      float64
}

// PlotConfig holds figure settings, kept apart from the statistics
type PlotConfig struct {
	Width    int
	Height   int
	FontSize float64
	DPI      float64
}

// PathConfig holds file system paths
type PathConfig struct {
	DataFile  string
	OutputDir string
}

// LogConfig holds logging settings
type LogConfig struct {
	Level string
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	config := &Config{
		Stats: loadStatsConfig(),
		Plot:  loadPlotConfig(),
		Paths: loadPathConfig(),
		Log:   LogConfig{Level: getEnvOrDefault("LOG_LEVEL", "INFO")},
	}

	if err := validateConfig(config); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return config, nil
}

// Orchestrator converts the statistical settings for the task runner.
func (c *Config) Orchestrator() orchestrator.Config {
	return orchestrator.Config{
		Alpha:             c.Stats.Alpha,
		BonferroniDivisor: c.Stats.BonferroniDivisor,
		SimCount:          c.Stats.SimCount,
		Seed:              c.Stats.Seed,
		Workers:           c.Stats.Workers,
		GridSize:          c.Stats.GridSize,
		CIMultiplier:      c.Stats.CIMultiplier,
	}
}

func loadStatsConfig() StatsConfig {
	d := orchestrator.DefaultConfig()
	return StatsConfig{
		Alpha:             getEnvFloatOrDefault("GAMM_ALPHA", d.Alpha),
		BonferroniDivisor: getEnvFloatOrDefault("GAMM_BONFERRONI_DIVISOR", d.BonferroniDivisor),
		SimCount:          getEnvIntOrDefault("GAMM_SIM_COUNT", d.SimCount),
		Seed:              getEnvUintOrDefault("GAMM_SEED", d.Seed),
		Workers:           getEnvIntOrDefault("GAMM_WORKERS", runtime.NumCPU()),
		GridSize:          getEnvIntOrDefault("GAMM_GRID_SIZE", d.GridSize),
		CIMultiplier:      getEnvFloatOrDefault("GAMM_CI_MULTIPLIER", d.CIMultiplier),
	}
}

func loadPlotConfig() PlotConfig {
	return PlotConfig{
		Width:    getEnvIntOrDefault("GAMM_PLOT_WIDTH", 800),
		Height:   getEnvIntOrDefault("GAMM_PLOT_HEIGHT", 600),
		FontSize: getEnvFloatOrDefault("GAMM_FONT_SIZE", 12),
		DPI:      getEnvFloatOrDefault("GAMM_DPI", 96),
	}
}

func loadPathConfig() PathConfig {
	return PathConfig{
		DataFile:  getEnvOrDefault("GAMM_DATA_FILE", ""),
		OutputDir: getEnvOrDefault("GAMM_OUTPUT_DIR", "./output"),
	}
}

func validateConfig(config *Config) error {
	s := config.Stats
	if s.Alpha <= 0 || s.Alpha >= 1 {
		return errors.ConfigInvalid("GAMM_ALPHA must be in (0, 1)")
	}
	if s.BonferroniDivisor < 1 {
		return errors.ConfigInvalid("GAMM_BONFERRONI_DIVISOR must be at least 1")
	}
	if s.SimCount < 1 {
		return errors.ConfigInvalid("GAMM_SIM_COUNT must be positive")
	}
	if s.Workers < 1 {
		return errors.ConfigInvalid("GAMM_WORKERS must be positive")
	}
	if s.GridSize < 2 {
		return errors.ConfigInvalid("GAMM_GRID_SIZE must be at least 2")
	}
	if s.CIMultiplier <= 0 {
		return errors.ConfigInvalid("GAMM_CI_MULTIPLIER must be positive")
	}
	p := config.Plot
	if p.Width < 100 || p.Height < 100 {
		return errors.ConfigInvalid("plot dimensions must be at least 100 pixels")
	}
	if p.FontSize <= 0 || p.DPI <= 0 {
		return errors.ConfigInvalid("GAMM_FONT_SIZE and GAMM_DPI must be positive")
	}
	if config.Paths.OutputDir == "" {
		return errors.ConfigInvalid("output directory is required")
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvUintOrDefault(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if uintValue, err := strconv.ParseUint(value, 10, 64); err == nil {
			return uintValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
