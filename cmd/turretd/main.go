package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/cjeanneret/turret/internal/config"
	"github.com/cjeanneret/turret/internal/debug"
	"github.com/cjeanneret/turret/internal/hw/actuator"
	"github.com/cjeanneret/turret/internal/hw/gpio"
	"github.com/cjeanneret/turret/internal/hw/stepper"
	"github.com/cjeanneret/turret/internal/journal"
	"github.com/cjeanneret/turret/internal/logic/geometry"
	"github.com/cjeanneret/turret/internal/logic/motion"
	"github.com/cjeanneret/turret/internal/observability"
	"github.com/cjeanneret/turret/internal/safety"
	"github.com/cjeanneret/turret/internal/server"
	"github.com/cjeanneret/turret/internal/web"
)

// exitTripped tells the supervisor the e-stop fired and a restart is needed.
const exitTripped = 2

var defaultConfigPath = filepath.Join("configs", "default.yaml")

// overrides holds CLI values applied on top of the config file.
// Zero values mean "use config".
type overrides struct {
	Port       int
	StatusPort int
	Mock       bool
	DebugLevel int // -1 = use config
}

func main() {
	// CLI flags
	statusPort := &statusPortFlag{defaultPort: 8080}
	flag.Var(statusPort, "status", "start status HTTP server on port; -status= for default 8080")
	cfgPath := flag.String("config", defaultConfigPath, "path to config file")
	port := flag.Int("port", 0, "override command server port")
	mock := flag.Bool("mock", false, "use mock GPIO (simulation mode)")
	debugLevel := flag.Int("debug", -1, "override debug level (0-4)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig(*cfgPath, flagPassed("config"))
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	if err := config.ApplyEnv(cfg); err != nil {
		log.Fatalf("environment override failed: %v", err)
	}

	ov := overrides{Port: *port, StatusPort: statusPort.port(), Mock: *mock, DebugLevel: *debugLevel}
	if err := validateCLIOverrides(ov); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}
	applyOverrides(cfg, ov)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	err = run(ctx, cfg)
	switch {
	case errors.Is(err, safety.ErrTripped):
		log.Printf("emergency stop tripped, restart required")
		cancel()
		os.Exit(exitTripped)
	case err != nil:
		log.Fatalf("turretd: %v", err)
	}
}

// run builds the hardware stack and serves until ctx is cancelled or the
// interlock trips.
func run(ctx context.Context, cfg *config.Config) error {
	debug.Init(cfg.Defaults.DebugLevel)

	var broadcaster *web.StatusBroadcaster
	if cfg.StatusAddr() != "" {
		broadcaster = web.NewStatusBroadcaster()
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))
	}

	debug.Section("Initialization")
	debug.Value("Listen address", cfg.ListenAddr())
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	// Initialize GPIO
	debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
	debug.Step(1, "Opening GPIO lines")
	lines := gpio.Open(gpio.Options{
		Backend:  cfg.GPIO.Backend,
		Chip:     cfg.GPIO.Chip,
		Consumer: cfg.GPIO.Consumer,
		Mock:     cfg.Defaults.MockGPIO,
	})
	defer func() {
		if err := lines.Close(); err != nil {
			log.Printf("closing GPIO lines failed: %v", err)
		}
	}()

	// Initialize stepper motors
	debug.Step(2, "Initializing stepper motors")
	yaw, err := stepper.NewStepper(stepper.Yaw, lines, stepperConfig(cfg.Yaw))
	if err != nil {
		return fmt.Errorf("init yaw stepper: %w", err)
	}
	debug.PrintStruct("Yaw stepper config", cfg.Yaw)
	pitch, err := stepper.NewStepper(stepper.Pitch, lines, stepperConfig(cfg.Pitch))
	if err != nil {
		return fmt.Errorf("init pitch stepper: %w", err)
	}
	debug.PrintStruct("Pitch stepper config", cfg.Pitch)
	dual := stepper.NewDualAxis(yaw, pitch, cfg.HalfStep(), cfg.DirSettle())

	metrics, err := observability.NewCollector(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	ctrl := motion.NewController(dual, geometry.NewStepsCalculator(cfg))
	ctrl.SetRecorder(metrics)

	// Initialize actuator
	debug.Step(3, "Initializing actuator relay")
	relay, err := actuator.NewRelay(lines, actuator.Config{
		Pin:        cfg.Actuator.Pin,
		ActiveHigh: cfg.Actuator.ActiveHigh,
		Pulse:      cfg.ActuatorPulse(),
		Settle:     cfg.ActuatorSettle(),
	})
	if err != nil {
		return fmt.Errorf("init relay: %w", err)
	}
	relay.OnFire(metrics.Fired)
	debug.Value("Relay pin", cfg.Actuator.Pin)

	var jr *journal.Journal
	if cfg.Journal.Path != "" {
		debug.Step(4, "Opening event journal")
		if jr, err = journal.Open(cfg.Journal.Path); err != nil {
			return err
		}
		defer jr.Close()
	}

	// Arm the emergency stop last so a trip finds every line claimed.
	debug.Step(5, "Arming emergency stop")
	interlock := safety.New(lines, dual, relay)
	interlock.OnTrip(func(reason string) {
		metrics.Tripped()
		jr.Record(journal.EStopTrip, "", reason)
		broadcaster.Publish(web.KindTrip, map[string]string{"reason": reason})
	})
	if cfg.EStop.Enabled {
		if err := interlock.Arm(cfg.EStop.Pin); err != nil {
			return err
		}
	} else {
		debug.Warn("Emergency stop input disabled")
	}

	opts := server.Options{
		Controller:        ctrl,
		Relay:             relay,
		Interlock:         interlock,
		Lines:             lines,
		Metrics:           metrics,
		Journal:           jr,
		BroadcastInterval: cfg.BroadcastInterval(),
		ManualInterval:    cfg.ManualInterval(),
		WriteTimeout:      cfg.WriteTimeout(),
	}
	if broadcaster != nil {
		opts.Positions = broadcaster
	}
	srv := server.New(opts)

	debug.Section("Serving")
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx, cfg.ListenAddr()) })

	if addr := cfg.StatusAddr(); addr != "" {
		var events web.EventSource
		if jr != nil {
			events = jr
		}
		snapshot := func() web.Snapshot {
			pos, in := ctrl.Position(), ctrl.Intent()
			return web.Snapshot{
				Yaw:            pos.Yaw,
				Pitch:          pos.Pitch,
				YawDir:         in.YawDir,
				PitchDir:       in.PitchDir,
				DegreesPerTick: in.DegreesPerTick,
				Safety:         interlock.State().String(),
				TripReason:     interlock.Reason(),
				Simulated:      lines.Simulated(),
				MotorsEnabled:  ctrl.MotorsEnabled(),
				Session:        srv.ActiveSession(),
			}
		}
		handlers := web.NewHandlers(broadcaster, snapshot, events, metrics.Handler())
		g.Go(func() error { return web.NewServer(addr, handlers).Run(gctx) })
	}

	return g.Wait()
}

func stepperConfig(a config.AxisConfig) stepper.Config {
	return stepper.Config{
		StepPin:        a.StepPin,
		DirPin:         a.DirPin,
		EnablePin:      a.EnablePin,
		DirForwardHigh: a.DirForwardHigh,
	}
}

// loadConfig reads path without validating it. A missing default file falls
// back to built-in defaults; a missing file named explicitly is an error.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	if !explicit {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return config.Default(), nil
		}
	}
	return config.Read(path)
}

func flagPassed(name string) bool {
	passed := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			passed = true
		}
	})
	return passed
}

// validateCLIOverrides checks that non-zero CLI overrides are within valid ranges.
func validateCLIOverrides(ov overrides) error {
	if ov.Port < 0 || ov.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", ov.Port)
	}
	if ov.DebugLevel < -1 || ov.DebugLevel > 4 {
		return fmt.Errorf("debug must be between 0 and 4, got %d", ov.DebugLevel)
	}
	return nil
}

// applyOverrides mutates cfg with overrides. Only set values are applied.
func applyOverrides(cfg *config.Config, ov overrides) {
	if ov.Port > 0 {
		cfg.Server.Port = ov.Port
	}
	if ov.StatusPort > 0 {
		cfg.Status.Port = ov.StatusPort
	}
	if ov.Mock {
		cfg.Defaults.MockGPIO = true
	}
	if ov.DebugLevel >= 0 {
		cfg.Defaults.DebugLevel = ov.DebugLevel
	}
}

// statusPortFlag implements flag.Value for -status: 0 = use config, -status= → 8080, -status 8980 → 8980.
type statusPortFlag struct {
	val         int
	defaultPort int
}

func (w *statusPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *statusPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *statusPortFlag) port() int { return w.val }
