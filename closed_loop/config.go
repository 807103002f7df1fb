package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/caarlos0/env"
	"gopkg.in/yaml.v2"

	"sca-ctrl-core/actuator"
	"sca-ctrl-core/control"
)

// Config is the controller configuration file.
type Config struct {
	Interface   string        `yaml:"interface"`
	CyclePeriod time.Duration `yaml:"cycle_period"`
	// Duration stops the run after the given time; 0 runs until signalled.
	Duration time.Duration `yaml:"duration"`
	Simulate bool          `yaml:"simulate"`
	LogLevel string        `yaml:"log_level"`
	LogFile  string        `yaml:"log_file"`

	// CurrentScale divides the cascade output into the normalised current
	// setpoint sent to the actuator.
	CurrentScale float64 `yaml:"current_scale"`
	// HandshakeEvery sends a keep-alive handshake every N drive cycles.
	HandshakeEvery int `yaml:"handshake_every"`

	Engine actuator.EngineConfig `yaml:"engine"`
	Axes   []AxisConfig          `yaml:"axes"`
}

// LoopConfig holds the gains and output limits of one PID loop. Equal
// limits leave the loop unbounded.
type LoopConfig struct {
	Kp  float64 `yaml:"kp"`
	Ki  float64 `yaml:"ki"`
	Kd  float64 `yaml:"kd"`
	Max float64 `yaml:"max"`
	Min float64 `yaml:"min"`
}

type Setpoint struct {
	Position float64 `yaml:"position"`
	Velocity float64 `yaml:"velocity"`
	Current  float64 `yaml:"current"`
}

type AxisConfig struct {
	ID       uint8      `yaml:"id"`
	Mode     string     `yaml:"mode"`
	Current  LoopConfig `yaml:"current_loop"`
	Velocity LoopConfig `yaml:"velocity_loop"`
	Position LoopConfig `yaml:"position_loop"`
	Setpoint Setpoint   `yaml:"setpoint"`

	mode control.OperatingMode
}

// OperatingMode is valid after Validate.
func (a AxisConfig) OperatingMode() control.OperatingMode { return a.mode }

// Loop returns the loop settings of stage s.
func (a AxisConfig) Loop(s control.Stage) LoopConfig {
	switch s {
	case control.PositionStage:
		return a.Position
	case control.VelocityStage:
		return a.Velocity
	default:
		return a.Current
	}
}

// envOverrides are read from the environment after the file. Empty means
// unset.
type envOverrides struct {
	Interface string `env:"SCA_IFACE"`
	LogLevel  string `env:"SCA_LOG_LEVEL"`
	Simulate  string `env:"SCA_SIM"`
}

func DefaultConfig() Config {
	return Config{
		Interface:      "can0",
		CyclePeriod:    10 * time.Millisecond,
		LogLevel:       "info",
		LogFile:        "closed_loop.log",
		CurrentScale:   33,
		HandshakeEvery: 100,
		Engine:         actuator.DefaultEngineConfig(),
	}
}

// LoadConfig reads path over the defaults, applies environment overrides
// and validates the result.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("environment: %w", err)
	}
	if o.Interface != "" {
		c.Interface = o.Interface
	}
	if o.LogLevel != "" {
		c.LogLevel = o.LogLevel
	}
	if o.Simulate != "" {
		sim, err := strconv.ParseBool(o.Simulate)
		if err != nil {
			return fmt.Errorf("SCA_SIM: %w", err)
		}
		c.Simulate = sim
	}
	return nil
}

// Validate checks the configuration and resolves axis modes.
func (c *Config) Validate() error {
	if c.CyclePeriod <= 0 {
		return fmt.Errorf("invalid cycle_period: %v", c.CyclePeriod)
	}
	if c.CurrentScale <= 0 {
		return fmt.Errorf("invalid current_scale: %v", c.CurrentScale)
	}
	if c.HandshakeEvery < 0 {
		return fmt.Errorf("invalid handshake_every: %d", c.HandshakeEvery)
	}
	if !c.Simulate && c.Interface == "" {
		return fmt.Errorf("interface required unless simulating")
	}
	if len(c.Axes) == 0 {
		return fmt.Errorf("no axes configured")
	}

	seen := make(map[uint8]bool, len(c.Axes))
	for i := range c.Axes {
		a := &c.Axes[i]
		if seen[a.ID] {
			return fmt.Errorf("axis %d: duplicate device id", a.ID)
		}
		seen[a.ID] = true

		mode, err := control.ParseOperatingMode(a.Mode)
		if err != nil {
			return fmt.Errorf("axis %d: %w", a.ID, err)
		}
		a.mode = mode

		for _, s := range mode.Stages() {
			if a.Loop(s).Kp == 0 {
				return fmt.Errorf("axis %d: %s loop needs a non-zero kp", a.ID, s)
			}
		}
	}
	return nil
}

// IDs lists the configured device ids in file order.
func (c Config) IDs() []uint8 {
	ids := make([]uint8, len(c.Axes))
	for i, a := range c.Axes {
		ids[i] = a.ID
	}
	return ids
}
