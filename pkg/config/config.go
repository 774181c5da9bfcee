package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var GlobalConfig *Config

// Config is the materialized configuration object for the pool controller.
// Parsing it from flags/env is out of scope; this is the shape every loader
// is expected to produce, plus a minimal YAML file-loading convenience.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Pool       PoolConfig       `yaml:"pool"`
	Runtime    RuntimeConfig    `yaml:"runtime"`
	Logger     LoggerConfig     `yaml:"logger"`
}

// ServerConfig describes the proxy's own listener.
type ServerConfig struct {
	Port int    `yaml:"port" validate:"required,gt=0,lt=65536"`
	Mode string `yaml:"mode"` // debug, release
}

// PoolConfig is the autoscaler / dispatcher tuning surface from spec.md §6.
type PoolConfig struct {
	MinInstances       int `yaml:"minInstances" validate:"gte=0"`
	MaxInstances       int `yaml:"maxInstances" validate:"required,gtfield=MinInstances"`
	CheckIntervalMS    int `yaml:"checkInterval" validate:"required,gt=0"`
	HealthTimeoutMS    int `yaml:"healthTimeout" validate:"required,gt=0"`
	ScaleUpThreshold   float64 `yaml:"scaleUpThreshold" validate:"required,gt=0"`
	ScaleDownThreshold float64 `yaml:"scaleDownThreshold" validate:"gte=0"`
	IdleTimeoutMS      int `yaml:"idleTimeout" validate:"required,gt=0"`
	BasePort           int `yaml:"basePort" validate:"required,gt=0,lt=65536"`
}

// RuntimeConfig selects and configures the Worker Runtime Adapter backend.
type RuntimeConfig struct {
	Backend        string `yaml:"backend" validate:"required,oneof=subprocess docker kubernetes"`
	HealthEndpoint string `yaml:"healthEndpoint"`
	NamePrefix     string `yaml:"namePrefix" validate:"required"`

	// subprocess backend
	Interpreter string `yaml:"interpreter"`
	EntryPath   string `yaml:"entryPath"`

	// container backends (docker / kubernetes)
	Image          string            `yaml:"image"`
	ContainerPort  int               `yaml:"containerPort"`
	Env            map[string]string `yaml:"env"`
	Volumes        []string          `yaml:"volumes"`
	Network        string            `yaml:"network"`
	PullPolicy     string            `yaml:"pullPolicy" validate:"omitempty,oneof=always missing never"`

	// kubernetes backend
	Namespace string `yaml:"namespace"`
}

// LoggerConfig mirrors the ambient zap wrapper's configuration surface.
type LoggerConfig struct {
	Level  string           `yaml:"level"`  // debug, info, warn, error
	Output string           `yaml:"output"` // console, file, both
	File   LoggerFileConfig `yaml:"file"`
}

type LoggerFileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`  // megabytes per file before rotation
	MaxBackups int    `yaml:"maxBackups"` // old rotated files to retain
	MaxAgeDays int    `yaml:"maxAgeDays"` // days to retain old rotated files
	Compress   bool   `yaml:"compress"`   // gzip rotated files
}

// Defaults applies spec.md §6's defaults to zero-value fields. Callers that
// materialize a Config by hand (tests, embedders) can call this before Validate.
func (c *Config) Defaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 4000
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "release"
	}
	if c.Pool.MinInstances == 0 {
		c.Pool.MinInstances = 2
	}
	if c.Pool.MaxInstances == 0 {
		c.Pool.MaxInstances = 10
	}
	if c.Pool.CheckIntervalMS == 0 {
		c.Pool.CheckIntervalMS = 5000
	}
	if c.Pool.HealthTimeoutMS == 0 {
		c.Pool.HealthTimeoutMS = 2000
	}
	if c.Pool.ScaleUpThreshold == 0 {
		c.Pool.ScaleUpThreshold = 3
	}
	if c.Pool.ScaleDownThreshold == 0 {
		c.Pool.ScaleDownThreshold = 0.5
	}
	if c.Pool.IdleTimeoutMS == 0 {
		c.Pool.IdleTimeoutMS = 30000
	}
	if c.Pool.BasePort == 0 {
		c.Pool.BasePort = 5001
	}
	if c.Runtime.HealthEndpoint == "" {
		c.Runtime.HealthEndpoint = "/health"
	}
	if c.Runtime.NamePrefix == "" {
		c.Runtime.NamePrefix = "fleetkeeper-worker"
	}
	if c.Runtime.PullPolicy == "" {
		c.Runtime.PullPolicy = "missing"
	}
	if c.Logger.File.MaxSizeMB == 0 {
		c.Logger.File.MaxSizeMB = 5
	}
	if c.Logger.File.MaxBackups == 0 {
		c.Logger.File.MaxBackups = 3
	}
	if c.Logger.File.MaxAgeDays == 0 {
		c.Logger.File.MaxAgeDays = 28
	}
}

var validate = validator.New()

// Validate surfaces the spec.md §7 "configuration error" fatal-at-startup path.
func Validate(c *Config) error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Init loads the configuration from CONFIG_PATH (or config/config.yaml),
// applies defaults, validates it, and stores it in GlobalConfig.
func Init() error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", configPath, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parsing config file %s: %w", configPath, err)
	}

	cfg.Defaults()
	if err := Validate(&cfg); err != nil {
		return err
	}

	GlobalConfig = &cfg
	return nil
}
