package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxConfigFileBytes bounds the size of a config file accepted by Load.
const MaxConfigFileBytes = 1 << 20

// ServerConfig holds the command server settings.
type ServerConfig struct {
	Host                string `yaml:"host"`
	Port                int    `yaml:"port"`
	BroadcastIntervalMs int    `yaml:"broadcast_interval_ms"` // unsolicited position report period
	ManualIntervalMs    int    `yaml:"manual_interval_ms"`    // manual-motion tick period
	WriteTimeoutMs      int    `yaml:"write_timeout_ms"`      // per-line socket write deadline
}

// StatusConfig holds the optional HTTP status surface. Port 0 disables it.
type StatusConfig struct {
	Port int `yaml:"port"`
}

// GPIOConfig selects the line backend.
type GPIOConfig struct {
	Backend  string `yaml:"backend"`  // "cdev" (default) or "rpio"
	Chip     string `yaml:"chip"`     // e.g., "gpiochip0"
	Consumer string `yaml:"consumer"` // label shown by gpioinfo
}

// AxisConfig holds the lines and calibration of one stepper axis.
type AxisConfig struct {
	EnablePin      int     `yaml:"enable_pin"` // ENABLE pin (BCM). 0 = not used. Active LOW.
	DirPin         int     `yaml:"dir_pin"`
	StepPin        int     `yaml:"step_pin"`
	StepsPerRev    int     `yaml:"steps_per_rev"`
	Microstepping  int     `yaml:"microstepping"`
	StepsPerDegree float64 `yaml:"steps_per_degree"` // overrides steps_per_rev * microstepping / 360 when > 0
	DirForwardHigh bool    `yaml:"dir_forward_high"`
}

// MotionConfig holds the pulse timing shared by both axes.
type MotionConfig struct {
	StepDelayUs int `yaml:"step_delay_us"` // full step period
	DirSettleUs int `yaml:"dir_settle_us"` // DIR setup time before the first pulse
}

// ActuatorConfig describes the trigger relay.
type ActuatorConfig struct {
	Pin        int  `yaml:"pin"`
	ActiveHigh bool `yaml:"active_high"`
	PulseMs    int  `yaml:"pulse_ms"`  // relay hold time
	SettleMs   int  `yaml:"settle_ms"` // wait after release
}

// EStopConfig describes the emergency-stop input (pulled up, asserted LOW).
type EStopConfig struct {
	Pin     int  `yaml:"pin"`
	Enabled bool `yaml:"enabled"`
}

// JournalConfig holds the event journal location. Empty path disables it.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// DefaultsConfig contains generic runtime parameters.
type DefaultsConfig struct {
	DebugLevel int  `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio"`   // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Status   StatusConfig   `yaml:"status"`
	GPIO     GPIOConfig     `yaml:"gpio"`
	Yaw      AxisConfig     `yaml:"yaw"`
	Pitch    AxisConfig     `yaml:"pitch"`
	Motion   MotionConfig   `yaml:"motion"`
	Actuator ActuatorConfig `yaml:"actuator"`
	EStop    EStopConfig    `yaml:"estop"`
	Journal  JournalConfig  `yaml:"journal"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

// Default returns the configuration of the reference rig.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                "0.0.0.0",
			Port:                12345,
			BroadcastIntervalMs: 100,
			ManualIntervalMs:    30,
			WriteTimeoutMs:      1000,
		},
		GPIO: GPIOConfig{Backend: "cdev", Chip: "gpiochip0", Consumer: "turretd"},
		Yaw: AxisConfig{
			EnablePin: 17, DirPin: 27, StepPin: 22,
			StepsPerRev: 200, Microstepping: 32,
		},
		Pitch: AxisConfig{
			EnablePin: 24, DirPin: 23, StepPin: 25,
			StepsPerRev: 200, Microstepping: 32,
		},
		Motion:   MotionConfig{StepDelayUs: 1250, DirSettleUs: 1},
		Actuator: ActuatorConfig{Pin: 16, ActiveHigh: true, PulseMs: 100, SettleMs: 100},
		EStop:    EStopConfig{Pin: 18, Enabled: true},
		Defaults: DefaultsConfig{DebugLevel: 1},
	}
}

// ValidateConfigPath rejects paths that are empty, not .yaml, or that
// climb out of their directory with "..".
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("config path %q must not contain ..", path)
		}
	}
	if filepath.Ext(path) != ".yaml" {
		return fmt.Errorf("config path %q must have a .yaml extension", path)
	}
	return nil
}

// Load reads a YAML file over the defaults and validates the result.
// Sections and keys absent from the file keep their default value.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read is Load without the final Validate, for callers that apply further
// overrides before validating.
func Read(path string) (*Config, error) {
	if err := ValidateConfigPath(path); err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if info.Size() > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file %s is %d bytes, limit is %d", path, info.Size(), MaxConfigFileBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	return cfg, nil
}

// Validate checks ranges and pin assignments.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Status.Port < 0 || c.Status.Port > 65535 {
		return fmt.Errorf("status.port must be between 0 and 65535, got %d", c.Status.Port)
	}
	if c.Status.Port != 0 && c.Status.Port == c.Server.Port {
		return fmt.Errorf("status.port must differ from server.port (%d)", c.Server.Port)
	}

	positive := []struct {
		name  string
		value int
	}{
		{"server.broadcast_interval_ms", c.Server.BroadcastIntervalMs},
		{"server.manual_interval_ms", c.Server.ManualIntervalMs},
		{"server.write_timeout_ms", c.Server.WriteTimeoutMs},
		{"motion.step_delay_us", c.Motion.StepDelayUs},
		{"motion.dir_settle_us", c.Motion.DirSettleUs},
		{"actuator.pulse_ms", c.Actuator.PulseMs},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be > 0, got %d", p.name, p.value)
		}
	}
	if c.Actuator.SettleMs < 0 {
		return fmt.Errorf("actuator.settle_ms must be >= 0, got %d", c.Actuator.SettleMs)
	}

	switch c.GPIO.Backend {
	case "", "cdev", "rpio":
	default:
		return fmt.Errorf("gpio.backend must be cdev or rpio, got %q", c.GPIO.Backend)
	}

	if c.Yaw.StepsPerDeg() <= 0 {
		return errors.New("yaw: steps_per_degree (or steps_per_rev and microstepping) must be > 0")
	}
	if c.Pitch.StepsPerDeg() <= 0 {
		return errors.New("pitch: steps_per_degree (or steps_per_rev and microstepping) must be > 0")
	}

	return c.validatePins()
}

func (c *Config) validatePins() error {
	used := make(map[int]string)
	add := func(name string, pin int) error {
		if pin < 0 {
			return fmt.Errorf("%s must be >= 0, got %d", name, pin)
		}
		if other, ok := used[pin]; ok {
			return fmt.Errorf("%s and %s share pin %d", other, name, pin)
		}
		used[pin] = name
		return nil
	}

	pins := []struct {
		name string
		pin  int
		skip bool
	}{
		{"yaw.step_pin", c.Yaw.StepPin, false},
		{"yaw.dir_pin", c.Yaw.DirPin, false},
		{"yaw.enable_pin", c.Yaw.EnablePin, c.Yaw.EnablePin == 0},
		{"pitch.step_pin", c.Pitch.StepPin, false},
		{"pitch.dir_pin", c.Pitch.DirPin, false},
		{"pitch.enable_pin", c.Pitch.EnablePin, c.Pitch.EnablePin == 0},
		{"actuator.pin", c.Actuator.Pin, false},
		{"estop.pin", c.EStop.Pin, !c.EStop.Enabled},
	}
	for _, p := range pins {
		if p.skip {
			continue
		}
		if err := add(p.name, p.pin); err != nil {
			return err
		}
	}
	return nil
}

// StepsPerDeg returns the axis calibration constant.
func (a AxisConfig) StepsPerDeg() float64 {
	if a.StepsPerDegree > 0 {
		return a.StepsPerDegree
	}
	return float64(a.StepsPerRev*a.Microstepping) / 360.0
}

// ListenAddr returns host:port for the command server.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// StatusAddr returns host:port for the status surface, or "" when disabled.
func (c *Config) StatusAddr() string {
	if c.Status.Port == 0 {
		return ""
	}
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Status.Port))
}

// BroadcastInterval returns the unsolicited position report period.
func (c *Config) BroadcastInterval() time.Duration {
	return time.Duration(c.Server.BroadcastIntervalMs) * time.Millisecond
}

// ManualInterval returns the manual-motion tick period.
func (c *Config) ManualInterval() time.Duration {
	return time.Duration(c.Server.ManualIntervalMs) * time.Millisecond
}

// WriteTimeout returns the per-line socket write deadline.
func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.Server.WriteTimeoutMs) * time.Millisecond
}

// StepDelay returns the full step period.
func (c *Config) StepDelay() time.Duration {
	return time.Duration(c.Motion.StepDelayUs) * time.Microsecond
}

// HalfStep returns half of the step period (one HIGH or LOW phase).
func (c *Config) HalfStep() time.Duration {
	return c.StepDelay() / 2
}

// DirSettle returns the DIR setup time.
func (c *Config) DirSettle() time.Duration {
	return time.Duration(c.Motion.DirSettleUs) * time.Microsecond
}

// ActuatorPulse returns the relay hold time.
func (c *Config) ActuatorPulse() time.Duration {
	return time.Duration(c.Actuator.PulseMs) * time.Millisecond
}

// ActuatorSettle returns the wait after relay release.
func (c *Config) ActuatorSettle() time.Duration {
	return time.Duration(c.Actuator.SettleMs) * time.Millisecond
}
