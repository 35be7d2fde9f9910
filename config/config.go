// Package config provides configuration loading for the worker.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// SimulationRate is the only supported worker.tick_rate. Controllers are
// trained at 60 ticks per simulated second; the observation oscillators,
// MoveFar duration and reported simulated time all count in these ticks.
const SimulationRate = 60

// Config holds all worker configuration parameters.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Proxy     ProxyConfig     `yaml:"proxy"`
	Worker    WorkerConfig    `yaml:"worker"`
	Physics   PhysicsConfig   `yaml:"physics"`
	Fitness   FitnessConfig   `yaml:"fitness"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Journal   JournalConfig   `yaml:"journal"`
	Health    HealthConfig    `yaml:"health"`
	Log       LogConfig       `yaml:"log"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// ServerConfig holds the address of the work server and socket timeouts.
type ServerConfig struct {
	Address     string        `yaml:"address"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	ReadTimeout time.Duration `yaml:"read_timeout"` // 0 = wait forever
}

// ProxyConfig holds batching proxy parameters.
type ProxyConfig struct {
	Enabled           bool          `yaml:"enabled"`
	InitialQueueSize  int           `yaml:"initial_queue_size"`
	GrowthFactor      int           `yaml:"growth_factor"`
	MaxQueueSize      int           `yaml:"max_queue_size"`      // 0 = unbounded
	MaxPendingResults int           `yaml:"max_pending_results"` // undelivered results kept, 0 = unbounded
	Interval          time.Duration `yaml:"interval"`
	MaxInterval       time.Duration `yaml:"max_interval"`
	Backoff           string        `yaml:"backoff"` // constant | exponential
	FlushOnStop       bool          `yaml:"flush_on_stop"`
	FlushTimeout      time.Duration `yaml:"flush_timeout"`
}

// WorkerConfig holds worker loop parameters.
type WorkerConfig struct {
	Count         int           `yaml:"count"`     // 0 = GOMAXPROCS
	TickRate      int           `yaml:"tick_rate"` // must equal SimulationRate
	IdleInterval  time.Duration `yaml:"idle_interval"`
	MaxCreatures  int           `yaml:"max_creatures"` // per worker, 0 = unbounded
	SpawnPosition [3]float64    `yaml:"spawn_position"`
}

// PhysicsConfig holds parameters of the articulated-body world.
type PhysicsConfig struct {
	Gravity          float64 `yaml:"gravity"`
	GroundFriction   float64 `yaml:"ground_friction"`
	MaxMotorForce    float64 `yaml:"max_motor_force"`
	MaxMotorVelocity float64 `yaml:"max_motor_velocity"`
	MassScale        float64 `yaml:"mass_scale"`
	ContactSlop      float64 `yaml:"contact_slop"`
}

// FitnessConfig holds fitness task parameters.
type FitnessConfig struct {
	MoveFarTicks int `yaml:"move_far_ticks"`
}

// TelemetryConfig holds statistics and output parameters.
type TelemetryConfig struct {
	StatsWindow time.Duration `yaml:"stats_window"`
	PerfWindow  int           `yaml:"perf_window"`
	OutputDir   string        `yaml:"output_dir"` // empty = no CSV output
}

// JournalConfig selects where completed results are recorded.
type JournalConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
	Keep    int    `yaml:"keep"` // memory backend: best entries retained, 0 = all
}

// HealthConfig holds the HTTP health endpoint address. Empty disables it.
type HealthConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DerivedConfig holds computed values derived from the loaded config.
type DerivedConfig struct {
	TickDuration time.Duration // wall-equivalent of one simulation tick
	DT           float64       // seconds per tick
	Workers      int           // effective worker count
	LogLevel     slog.Level
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Unmarshal into same struct - only overwrites fields present in file
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.computeDerived()

	return cfg, nil
}

// Default returns the embedded defaults. It panics if they do not parse.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(fmt.Sprintf("config: embedded defaults: %v", err))
	}
	return cfg
}

// Validate reports configuration values the worker cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Address == "" {
		errs = append(errs, errors.New("server.address is empty"))
	}
	if c.Worker.TickRate != SimulationRate {
		errs = append(errs, fmt.Errorf("worker.tick_rate must be %d, got %d", SimulationRate, c.Worker.TickRate))
	}
	if c.Worker.Count < 0 {
		errs = append(errs, fmt.Errorf("worker.count must not be negative, got %d", c.Worker.Count))
	}
	if c.Proxy.InitialQueueSize <= 0 {
		errs = append(errs, fmt.Errorf("proxy.initial_queue_size must be positive, got %d", c.Proxy.InitialQueueSize))
	}
	if c.Proxy.Interval <= 0 {
		errs = append(errs, fmt.Errorf("proxy.interval must be positive, got %v", c.Proxy.Interval))
	}
	if c.Proxy.MaxInterval <= 0 {
		errs = append(errs, fmt.Errorf("proxy.max_interval must be positive, got %v", c.Proxy.MaxInterval))
	}
	if c.Proxy.MaxPendingResults < 0 {
		errs = append(errs, fmt.Errorf("proxy.max_pending_results must not be negative, got %d", c.Proxy.MaxPendingResults))
	}
	if c.Proxy.GrowthFactor < 1 {
		errs = append(errs, fmt.Errorf("proxy.growth_factor must be at least 1, got %d", c.Proxy.GrowthFactor))
	}
	switch c.Proxy.Backoff {
	case "constant", "exponential":
	default:
		errs = append(errs, fmt.Errorf("proxy.backoff: unknown policy %q", c.Proxy.Backoff))
	}
	switch c.Journal.Backend {
	case "memory", "sqlite", "none":
	default:
		errs = append(errs, fmt.Errorf("journal.backend: unknown backend %q", c.Journal.Backend))
	}
	if c.Journal.Keep < 0 {
		errs = append(errs, fmt.Errorf("journal.keep must not be negative, got %d", c.Journal.Keep))
	}
	if c.Fitness.MoveFarTicks <= 0 {
		errs = append(errs, fmt.Errorf("fitness.move_far_ticks must be positive, got %d", c.Fitness.MoveFarTicks))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Recompute validates the config and refreshes derived values after fields
// were overridden in code, e.g. from command-line flags.
func (c *Config) Recompute() error {
	if err := c.Validate(); err != nil {
		return err
	}
	c.computeDerived()
	return nil
}

// computeDerived calculates values derived from loaded config.
func (c *Config) computeDerived() {
	c.Derived.DT = 1 / float64(c.Worker.TickRate)
	c.Derived.TickDuration = time.Second / time.Duration(c.Worker.TickRate)
	c.Derived.Workers = c.Worker.Count
	if c.Derived.Workers == 0 {
		c.Derived.Workers = runtime.GOMAXPROCS(0)
	}
	c.Derived.LogLevel, _ = parseLevel(c.Log.Level)
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// WriteYAML writes the current configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
