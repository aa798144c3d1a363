// Package config loads causage's run configuration: cache geometries,
// logging level, and debug-trace output, following the same
// defaults-then-YAML-then-environment-then-flags layering the rest of
// the ecosystem uses viper for.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Sentinel validation errors.
var (
	ErrInvalidSize          = errors.New("cache size must be positive")
	ErrInvalidAssociativity = errors.New("cache associativity must be positive")
	ErrInvalidLineSize      = errors.New("cache line size must be positive")
)

// Default geometry values, chosen to match a modest L1/LL split.
const (
	defaultD1SizeBytes  = 32 * 1024
	defaultD1Assoc      = 8
	defaultLineSize     = 64
	defaultI1SizeBytes  = 32 * 1024
	defaultI1Assoc      = 8
	defaultLLSizeBytes  = 8 * 1024 * 1024
	defaultLLAssoc      = 16
	defaultLoggingLevel = "info"
)

// GeometryParams is the file/env/flag-facing mirror of causage.GeometryConfig.
type GeometryParams struct {
	SizeBytes     uint64 `mapstructure:"size_bytes"`
	Associativity int    `mapstructure:"associativity"`
	LineSizeBytes uint64 `mapstructure:"line_size_bytes"`
}

// Validate reports whether g's fields are all positive. It does not
// repeat causage's power-of-two / divisibility checks; those surface
// naturally from Simulator construction.
func (g GeometryParams) Validate() error {
	if g.SizeBytes == 0 {
		return ErrInvalidSize
	}
	if g.Associativity <= 0 {
		return ErrInvalidAssociativity
	}
	if g.LineSizeBytes == 0 {
		return ErrInvalidLineSize
	}
	return nil
}

// LoggingConfig controls the ambient slog logger.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// DebugConfig controls the optional causage.dbg trace.
type DebugConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Config is the fully resolved run configuration.
type Config struct {
	I1      GeometryParams `mapstructure:"i1"`
	D1      GeometryParams `mapstructure:"d1"`
	LL      GeometryParams `mapstructure:"ll"`
	Logging LoggingConfig  `mapstructure:"logging"`
	Debug   DebugConfig    `mapstructure:"debug"`
}

// New creates a viper instance seeded with causage's defaults and
// environment-variable support (CAUSAGE_I1_SIZE_BYTES, etc). Callers
// bind CLI flags on top with BindFlags before calling Load.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CAUSAGE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("i1.size_bytes", defaultI1SizeBytes)
	v.SetDefault("i1.associativity", defaultI1Assoc)
	v.SetDefault("i1.line_size_bytes", defaultLineSize)

	v.SetDefault("d1.size_bytes", defaultD1SizeBytes)
	v.SetDefault("d1.associativity", defaultD1Assoc)
	v.SetDefault("d1.line_size_bytes", defaultLineSize)

	v.SetDefault("ll.size_bytes", defaultLLSizeBytes)
	v.SetDefault("ll.associativity", defaultLLAssoc)
	v.SetDefault("ll.line_size_bytes", defaultLineSize)

	v.SetDefault("logging.level", defaultLoggingLevel)
	v.SetDefault("debug.enabled", false)
	v.SetDefault("debug.path", "causage.dbg")
}

// BindFlags binds a command's flag set on top of v, so an explicitly set
// flag outranks the environment, which outranks the config file, which
// outranks the built-in default.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	if err := v.BindPFlags(flags); err != nil {
		return fmt.Errorf("config: bind flags: %w", err)
	}
	return nil
}

// Load reads configPath (if non-empty) into v and unmarshals the result.
// A missing config file is not an error; every other read failure is.
func Load(v *viper.Viper, configPath string) (*Config, error) {
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config: read %s: %w", configPath, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	for name, g := range map[string]GeometryParams{"i1": cfg.I1, "d1": cfg.D1, "ll": cfg.LL} {
		if err := g.Validate(); err != nil {
			return nil, fmt.Errorf("config: %s geometry: %w", name, err)
		}
	}

	return &cfg, nil
}
