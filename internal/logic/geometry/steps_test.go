package geometry

import (
	"math"
	"testing"

	"github.com/cjeanneret/turret/internal/config"
)

func newStepsConfig(stepsPerRev, microstepping int) *config.Config {
	return &config.Config{
		Yaw: config.AxisConfig{
			StepsPerRev:   stepsPerRev,
			Microstepping: microstepping,
		},
		Pitch: config.AxisConfig{
			StepsPerRev:   stepsPerRev,
			Microstepping: microstepping,
		},
	}
}

func TestStepsCalculator_KnownConfig(t *testing.T) {
	// 200 steps/rev * 32 microstepping = 6400 microsteps/rev
	// stepsPerDegree = 6400 / 360 ≈ 17.777...
	cfg := newStepsConfig(200, 32)
	sc := NewStepsCalculator(cfg)

	cases := []struct {
		name  string
		angle float64
		want  int
	}{
		{"45_degrees", 45, 800},
		{"negative_30", -30, -533},
		{"zero", 0, 0},
		{"full_180", 180, 3200},
		{"small_1_degree", 1, 18},
	}
	for _, tc := range cases {
		t.Run("Yaw_"+tc.name, func(t *testing.T) {
			got := sc.YawStepsFromAngle(tc.angle)
			if got != tc.want {
				t.Errorf("YawStepsFromAngle(%v) = %d, want %d", tc.angle, got, tc.want)
			}
		})
		t.Run("Pitch_"+tc.name, func(t *testing.T) {
			got := sc.PitchStepsFromAngle(tc.angle)
			if got != tc.want {
				t.Errorf("PitchStepsFromAngle(%v) = %d, want %d", tc.angle, got, tc.want)
			}
		})
	}
}

func TestStepsCalculator_DifferentMicrostepping(t *testing.T) {
	microsteps := []int{1, 2, 4, 8, 16, 32}
	for _, ms := range microsteps {
		sc := NewStepsCalculator(newStepsConfig(200, ms))
		want := int(math.Round(90.0 * float64(200*ms) / 360.0))
		got := sc.YawStepsFromAngle(90)
		if got != want {
			t.Errorf("microstepping=%d: YawStepsFromAngle(90) = %d, want %d", ms, got, want)
		}
	}
}

func TestStepsCalculator_ExplicitStepsPerDegree(t *testing.T) {
	cfg := newStepsConfig(200, 32)
	cfg.Pitch.StepsPerDegree = 10
	sc := NewStepsCalculator(cfg)

	if got := sc.PitchStepsFromAngle(4.26); got != 43 {
		t.Errorf("PitchStepsFromAngle(4.26) = %d, want 43", got)
	}
	if got := sc.PitchAngleFromSteps(43); got != 4.3 {
		t.Errorf("PitchAngleFromSteps(43) = %v, want 4.3", got)
	}
	if sc.YawStepsPerDegree() == sc.PitchStepsPerDegree() {
		t.Error("axes should carry independent calibration")
	}
}

func TestStepsCalculator_RoundTripWithinOneStep(t *testing.T) {
	sc := NewStepsCalculator(newStepsConfig(200, 32))
	tolerance := 1 / sc.YawStepsPerDegree()
	for _, angle := range []float64{0.01, 1.3, 45, 89.99, -120.5, 179.9} {
		back := sc.YawAngleFromSteps(sc.YawStepsFromAngle(angle))
		if math.Abs(back-angle) > tolerance {
			t.Errorf("round trip %v -> %v exceeds one step", angle, back)
		}
	}
}
