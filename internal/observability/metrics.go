package observability

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Command results used as the "result" label.
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultError    = "error"
)

// SimCollector bundles Prometheus metrics for the simulation server: command
// traffic, tick latency and aggregate world gauges.
type SimCollector struct {
	gatherer prometheus.Gatherer

	Commands         *prometheus.CounterVec
	CommandDurations *prometheus.HistogramVec
	TickDuration     prometheus.Histogram

	Sessions     prometheus.Gauge
	Entities     *prometheus.GaugeVec
	Revenue      prometheus.Gauge
	Upkeep       prometheus.Gauge
	TicksSkipped prometheus.Counter
}

// NewSimCollector registers simulation metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewSimCollector(reg prometheus.Registerer) (*SimCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	commands, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "metro_commands_total",
		Help: "Total number of game commands, labeled by command and result.",
	}, []string{"command", "result"}), "metro_commands_total")
	if err != nil {
		return nil, err
	}

	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "metro_command_duration_seconds",
		Help:    "Game command latency in seconds.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"command"}), "metro_command_duration_seconds")
	if err != nil {
		return nil, err
	}

	tick, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "metro_tick_duration_seconds",
		Help:    "Duration of one simulation tick across all sessions.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
	}), "metro_tick_duration_seconds")
	if err != nil {
		return nil, err
	}

	sessions, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "metro_sessions",
		Help: "Current number of live game sessions.",
	}), "metro_sessions")
	if err != nil {
		return nil, err
	}

	entities, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "metro_entities",
		Help: "Current number of stations, tunnels and trains across all sessions.",
	}, []string{"kind"}), "metro_entities")
	if err != nil {
		return nil, err
	}

	revenue, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "metro_revenue",
		Help: "Revenue collected by trains across all live sessions.",
	}), "metro_revenue")
	if err != nil {
		return nil, err
	}

	upkeep, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "metro_upkeep",
		Help: "Upkeep charged across all live sessions.",
	}), "metro_upkeep")
	if err != nil {
		return nil, err
	}

	skipped, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "metro_ticks_paused_total",
		Help: "Session ticks skipped because the session clock was paused.",
	}), "metro_ticks_paused_total")
	if err != nil {
		return nil, err
	}

	return &SimCollector{
		gatherer:         gatherer,
		Commands:         commands,
		CommandDurations: durations,
		TickDuration:     tick,
		Sessions:         sessions,
		Entities:         entities,
		Revenue:          revenue,
		Upkeep:           upkeep,
		TicksSkipped:     skipped,
	}, nil
}

// ObserveCommand records one command. rejected marks errors that are a
// refused precondition rather than a failure.
func (c *SimCollector) ObserveCommand(command string, err error, rejected error, elapsed time.Duration) {
	if c == nil {
		return
	}
	result := ResultOK
	switch {
	case err == nil:
	case rejected != nil && errors.Is(err, rejected):
		result = ResultRejected
	default:
		result = ResultError
	}
	c.Commands.WithLabelValues(command, result).Inc()
	c.CommandDurations.WithLabelValues(command).Observe(elapsed.Seconds())
}

// ObserveTick records the duration of one tick pass
func (c *SimCollector) ObserveTick(elapsed time.Duration, paused int) {
	if c == nil {
		return
	}
	c.TickDuration.Observe(elapsed.Seconds())
	if paused > 0 {
		c.TicksSkipped.Add(float64(paused))
	}
}

// WorldTotals is the aggregate across sessions published as gauges.
type WorldTotals struct {
	Sessions int
	Stations int
	Tunnels  int
	Trains   int
	Revenue  float64
	Upkeep   float64
}

// SetWorldTotals publishes aggregate world gauges
func (c *SimCollector) SetWorldTotals(t WorldTotals) {
	if c == nil {
		return
	}
	c.Sessions.Set(float64(t.Sessions))
	c.Entities.WithLabelValues("station").Set(float64(t.Stations))
	c.Entities.WithLabelValues("tunnel").Set(float64(t.Tunnels))
	c.Entities.WithLabelValues("train").Set(float64(t.Trains))
	c.Revenue.Set(t.Revenue)
	c.Upkeep.Set(t.Upkeep)
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SimCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return h, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
