package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. TURRET_SERVER_PORT.
const EnvPrefix = "TURRET"

// ApplyEnv overlays TURRET_* environment variables onto cfg. Keys follow the
// YAML layout with dots replaced by underscores, and every key is bound.
// A value that does not parse for its field is an error. The result is not
// validated: callers validate once all overrides are applied.
func ApplyEnv(cfg *Config) error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	ints := map[string]*int{
		"server.port":                  &cfg.Server.Port,
		"server.broadcast_interval_ms": &cfg.Server.BroadcastIntervalMs,
		"server.manual_interval_ms":    &cfg.Server.ManualIntervalMs,
		"server.write_timeout_ms":      &cfg.Server.WriteTimeoutMs,
		"status.port":                  &cfg.Status.Port,
		"yaw.enable_pin":               &cfg.Yaw.EnablePin,
		"yaw.dir_pin":                  &cfg.Yaw.DirPin,
		"yaw.step_pin":                 &cfg.Yaw.StepPin,
		"yaw.steps_per_rev":            &cfg.Yaw.StepsPerRev,
		"yaw.microstepping":            &cfg.Yaw.Microstepping,
		"pitch.enable_pin":             &cfg.Pitch.EnablePin,
		"pitch.dir_pin":                &cfg.Pitch.DirPin,
		"pitch.step_pin":               &cfg.Pitch.StepPin,
		"pitch.steps_per_rev":          &cfg.Pitch.StepsPerRev,
		"pitch.microstepping":          &cfg.Pitch.Microstepping,
		"motion.step_delay_us":         &cfg.Motion.StepDelayUs,
		"motion.dir_settle_us":         &cfg.Motion.DirSettleUs,
		"actuator.pin":                 &cfg.Actuator.Pin,
		"actuator.pulse_ms":            &cfg.Actuator.PulseMs,
		"actuator.settle_ms":           &cfg.Actuator.SettleMs,
		"estop.pin":                    &cfg.EStop.Pin,
		"defaults.debug_level":         &cfg.Defaults.DebugLevel,
	}
	strs := map[string]*string{
		"server.host":   &cfg.Server.Host,
		"gpio.backend":  &cfg.GPIO.Backend,
		"gpio.chip":     &cfg.GPIO.Chip,
		"gpio.consumer": &cfg.GPIO.Consumer,
		"journal.path":  &cfg.Journal.Path,
	}
	bools := map[string]*bool{
		"yaw.dir_forward_high":   &cfg.Yaw.DirForwardHigh,
		"pitch.dir_forward_high": &cfg.Pitch.DirForwardHigh,
		"actuator.active_high":   &cfg.Actuator.ActiveHigh,
		"estop.enabled":          &cfg.EStop.Enabled,
		"defaults.mock_gpio":     &cfg.Defaults.MockGPIO,
	}
	floats := map[string]*float64{
		"yaw.steps_per_degree":   &cfg.Yaw.StepsPerDegree,
		"pitch.steps_per_degree": &cfg.Pitch.StepsPerDegree,
	}

	var errs []error
	for key, dst := range ints {
		errs = append(errs, override(v, key, dst, cast.ToIntE))
	}
	for key, dst := range strs {
		errs = append(errs, override(v, key, dst, cast.ToStringE))
	}
	for key, dst := range bools {
		errs = append(errs, override(v, key, dst, cast.ToBoolE))
	}
	for key, dst := range floats {
		errs = append(errs, override(v, key, dst, cast.ToFloat64E))
	}
	return errors.Join(errs...)
}

// override stores the parsed value of key in dst when its variable is set.
func override[T any](v *viper.Viper, key string, dst *T, parse func(any) (T, error)) error {
	_ = v.BindEnv(key)
	if !v.IsSet(key) {
		return nil
	}
	val, err := parse(v.Get(key))
	if err != nil {
		name := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = val
	return nil
}
