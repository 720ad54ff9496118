package geometry

import (
	"math"

	"github.com/cjeanneret/turret/internal/config"
)

// StepsCalculator converts angles to motor step counts and back.
type StepsCalculator struct {
	yawStepsPerDegree   float64
	pitchStepsPerDegree float64
}

// NewStepsCalculator creates a step calculator from configuration.
// Each axis uses its explicit steps_per_degree, or
// steps_per_rev * microstepping / 360 when none is set.
func NewStepsCalculator(cfg *config.Config) *StepsCalculator {
	return &StepsCalculator{
		yawStepsPerDegree:   cfg.Yaw.StepsPerDeg(),
		pitchStepsPerDegree: cfg.Pitch.StepsPerDeg(),
	}
}

// YawStepsPerDegree returns the yaw calibration constant.
func (s *StepsCalculator) YawStepsPerDegree() float64 {
	return s.yawStepsPerDegree
}

// PitchStepsPerDegree returns the pitch calibration constant.
func (s *StepsCalculator) PitchStepsPerDegree() float64 {
	return s.pitchStepsPerDegree
}

// YawStepsFromAngle converts a yaw rotation (in degrees) to the nearest step count.
func (s *StepsCalculator) YawStepsFromAngle(angleDegrees float64) int {
	return int(math.Round(angleDegrees * s.yawStepsPerDegree))
}

// PitchStepsFromAngle converts a pitch rotation (in degrees) to the nearest step count.
func (s *StepsCalculator) PitchStepsFromAngle(angleDegrees float64) int {
	return int(math.Round(angleDegrees * s.pitchStepsPerDegree))
}

// YawAngleFromSteps converts emitted yaw steps back to degrees.
func (s *StepsCalculator) YawAngleFromSteps(steps int) float64 {
	return float64(steps) / s.yawStepsPerDegree
}

// PitchAngleFromSteps converts emitted pitch steps back to degrees.
func (s *StepsCalculator) PitchAngleFromSteps(steps int) float64 {
	return float64(steps) / s.pitchStepsPerDegree
}
