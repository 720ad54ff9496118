package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the turret Prometheus metrics. Every method is safe on a
// nil receiver so components can run without metrics wired in.
type Collector struct {
	gatherer prometheus.Gatherer

	Commands      *prometheus.CounterVec
	Steps         *prometheus.CounterVec
	MoveDurations prometheus.Histogram
	Fires         prometheus.Counter
	Trips         prometheus.Counter
	SessionActive prometheus.Gauge
	Sessions      *prometheus.CounterVec
	Position      *prometheus.GaugeVec
}

// NewCollector registers the turret metrics against reg, defaulting to the
// global Prometheus registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	commands, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "turret_commands_total",
		Help: "Commands handled, labeled by action and response status.",
	}, []string{"action", "status"}), "turret_commands_total")
	if err != nil {
		return nil, err
	}
	steps, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "turret_steps_total",
		Help: "Step pulses emitted per axis.",
	}, []string{"axis"}), "turret_steps_total")
	if err != nil {
		return nil, err
	}
	moves, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "turret_move_duration_seconds",
		Help:    "Duration of simultaneous pulse trains.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}), "turret_move_duration_seconds")
	if err != nil {
		return nil, err
	}
	fires, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "turret_fires_total",
		Help: "Actuator pulses delivered.",
	}), "turret_fires_total")
	if err != nil {
		return nil, err
	}
	trips, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "turret_estop_trips_total",
		Help: "Emergency stop trips.",
	}), "turret_estop_trips_total")
	if err != nil {
		return nil, err
	}
	active, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "turret_session_active",
		Help: "1 while a client session is connected.",
	}), "turret_session_active")
	if err != nil {
		return nil, err
	}
	sessions, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "turret_sessions_total",
		Help: "Client connections, labeled by outcome (closed, rejected, tripped).",
	}, []string{"result"}), "turret_sessions_total")
	if err != nil {
		return nil, err
	}
	position, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "turret_position_degrees",
		Help: "Dead-reckoned axis position in degrees.",
	}, []string{"axis"}), "turret_position_degrees")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:      gatherer,
		Commands:      commands,
		Steps:         steps,
		MoveDurations: moves,
		Fires:         fires,
		Trips:         trips,
		SessionActive: active,
		Sessions:      sessions,
		Position:      position,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func (c *Collector) CommandHandled(action, status string) {
	if c == nil || c.Commands == nil {
		return
	}
	c.Commands.WithLabelValues(action, status).Inc()
}

// MoveCompleted records one pulse train: steps per axis are absolute counts.
func (c *Collector) MoveCompleted(yawSteps, pitchSteps int, took time.Duration) {
	if c == nil {
		return
	}
	if c.Steps != nil {
		c.Steps.WithLabelValues("yaw").Add(float64(absInt(yawSteps)))
		c.Steps.WithLabelValues("pitch").Add(float64(absInt(pitchSteps)))
	}
	if c.MoveDurations != nil && (yawSteps != 0 || pitchSteps != 0) {
		c.MoveDurations.Observe(took.Seconds())
	}
}

func (c *Collector) Fired() {
	if c == nil || c.Fires == nil {
		return
	}
	c.Fires.Inc()
}

func (c *Collector) Tripped() {
	if c == nil || c.Trips == nil {
		return
	}
	c.Trips.Inc()
}

// SessionOpened marks a client as connected.
func (c *Collector) SessionOpened() {
	if c == nil || c.SessionActive == nil {
		return
	}
	c.SessionActive.Set(1)
}

// SessionEnded clears the active gauge and counts the outcome.
func (c *Collector) SessionEnded(result string) {
	if c == nil {
		return
	}
	if c.SessionActive != nil {
		c.SessionActive.Set(0)
	}
	c.countSession(result)
}

// SessionRejected counts a connection turned away while another was active.
func (c *Collector) SessionRejected() {
	if c == nil {
		return
	}
	c.countSession("rejected")
}

func (c *Collector) countSession(result string) {
	if c.Sessions == nil {
		return
	}
	c.Sessions.WithLabelValues(result).Inc()
}

func (c *Collector) SetPosition(yaw, pitch float64) {
	if c == nil || c.Position == nil {
		return
	}
	c.Position.WithLabelValues("yaw").Set(yaw)
	c.Position.WithLabelValues("pitch").Set(pitch)
}

func register[T prometheus.Collector](reg prometheus.Registerer, col T, name string) (T, error) {
	if err := reg.Register(col); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		var zero T
		return zero, err
	}
	return col, nil
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
