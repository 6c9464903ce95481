// Package config loads grove settings from defaults, an optional grove.yaml,
// a .env file and GROVE_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"grove/internal/failure"
	"grove/internal/logging"
	"grove/internal/model"
	"grove/internal/storage"
)

// EnvPrefix prefixes every environment override, e.g. GROVE_BASE_PACKAGE or
// GROVE_LOGGER_LEVEL.
const EnvPrefix = "GROVE"

// Config is the complete grove configuration.
type Config struct {
	// SourceDirs are scanned and generated into; the first one receives
	// generated code.
	SourceDirs  []string `mapstructure:"source_dirs" yaml:"source_dirs"`
	BasePackage string   `mapstructure:"base_package" yaml:"base_package"`
	// ModulePath overrides the import path derived from go.mod.
	ModulePath string   `mapstructure:"module_path" yaml:"module_path"`
	Storage    []string `mapstructure:"storage" yaml:"storage"`
	FailOnWarn bool     `mapstructure:"fail_on_warn" yaml:"fail_on_warn"`
	Format     bool     `mapstructure:"format" yaml:"format"`
	// Editor runs update-process edits. Empty means $EDITOR, then vi.
	Editor   string         `mapstructure:"editor" yaml:"editor"`
	Scan     ScanConfig     `mapstructure:"scan" yaml:"scan"`
	Resolver ResolverConfig `mapstructure:"resolver" yaml:"resolver"`
	Logger   logging.Config `mapstructure:"logger" yaml:"logger"`

	storages storage.Set
}

// ScanConfig controls which files the scanner reads.
type ScanConfig struct {
	// Exclude holds globs relative to each source dir, bare ("gen/**") or
	// wrapped in Read() ("Read(./gen/**)").
	Exclude []string `mapstructure:"exclude" yaml:"exclude"`
}

// ResolverConfig controls lookup of message types outside the model.
type ResolverConfig struct {
	// Patterns are go/packages patterns; empty disables the resolver.
	Patterns  []string `mapstructure:"patterns" yaml:"patterns"`
	CacheSize int      `mapstructure:"cache_size" yaml:"cache_size"`
}

// Storages returns the parsed storage selection. It is set by Validate.
func (c *Config) Storages() storage.Set { return c.storages }

// GenerationDir returns the source dir generated code is written to.
func (c *Config) GenerationDir() string {
	if len(c.SourceDirs) == 0 {
		return ""
	}
	return c.SourceDirs[0]
}

// SetDefaults registers every key so that environment variables can
// override keys absent from the config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("source_dirs", []string{"."})
	v.SetDefault("base_package", "")
	v.SetDefault("module_path", "")
	v.SetDefault("storage", []string{string(storage.Internal)})
	v.SetDefault("fail_on_warn", false)
	v.SetDefault("format", true)
	v.SetDefault("editor", "")

	v.SetDefault("scan.exclude", []string{})

	v.SetDefault("resolver.patterns", []string{})
	v.SetDefault("resolver.cache_size", 1024)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.file", "")
	v.SetDefault("logger.max_size", 10)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 28)
	v.SetDefault("logger.compress", false)
}

// LoadOptions locates the configuration.
type LoadOptions struct {
	// File is an explicit config file; it must exist.
	File string
	// Dir is searched for grove.yaml and .grove/grove.yaml, and holds the
	// optional .env file. Empty means the working directory.
	Dir string
}

// Load reads and validates the configuration.
func Load(opts LoadOptions) (*Config, error) {
	dir := opts.Dir
	if dir == "" {
		dir = "."
	}
	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, failure.Wrap(failure.ErrConfig, "config", err, "read .env")
	}

	v := viper.New()
	SetDefaults(v)
	if opts.File != "" {
		v.SetConfigFile(opts.File)
	} else {
		v.SetConfigName("grove")
		v.SetConfigType("yaml")
		v.AddConfigPath(dir)
		v.AddConfigPath(filepath.Join(dir, ".grove"))
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.File != "" || !errors.As(err, &notFound) {
			return nil, failure.Wrap(failure.ErrConfig, "config", err, "read config")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, failure.Wrap(failure.ErrConfig, "config", err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration and parses the storage selection. It
// stops at the first problem.
func (c *Config) Validate() error {
	if len(c.SourceDirs) == 0 {
		return failure.Configf("config", "source_dirs must name at least one directory")
	}
	for _, d := range c.SourceDirs {
		if strings.TrimSpace(d) == "" {
			return failure.Configf("config", "source_dirs contains an empty entry")
		}
	}
	if c.BasePackage != "" && !model.ValidPackage(c.BasePackage) {
		return failure.Configf("config", "base_package %q is not a dotted Go package name", c.BasePackage)
	}
	set, err := storage.ParseSet(c.Storage)
	if err != nil {
		return err
	}
	c.storages = set
	if c.Resolver.CacheSize < 0 {
		return failure.Configf("config", "resolver.cache_size must not be negative")
	}
	return c.Logger.Validate()
}
