package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

var errRejected = errors.New("rejected")

func TestObserveCommandLabelsResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}

	collector.ObserveCommand("place_station", nil, errRejected, time.Millisecond)
	collector.ObserveCommand("place_station", fmt.Errorf("place station: %w", errRejected), errRejected, time.Millisecond)
	collector.ObserveCommand("place_station", errors.New("boom"), errRejected, time.Millisecond)

	for _, result := range []string{ResultOK, ResultRejected, ResultError} {
		if got := testutil.ToFloat64(collector.Commands.WithLabelValues("place_station", result)); got != 1 {
			t.Fatalf("metro_commands_total{result=%q} = %v, want 1", result, got)
		}
	}
	if count := histogramSampleCount(t, reg, "metro_command_duration_seconds", map[string]string{
		"command": "place_station",
	}); count != 3 {
		t.Fatalf("metro_command_duration_seconds sample_count = %d, want 3", count)
	}
}

func TestObserveTick(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}

	collector.ObserveTick(2*time.Millisecond, 0)
	collector.ObserveTick(time.Millisecond, 2)

	if got := testutil.ToFloat64(collector.TicksSkipped); got != 2 {
		t.Fatalf("metro_ticks_paused_total = %v, want 2", got)
	}
	if count := histogramSampleCount(t, reg, "metro_tick_duration_seconds", nil); count != 2 {
		t.Fatalf("metro_tick_duration_seconds sample_count = %d, want 2", count)
	}
}

func TestRegisterTwiceReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}
	second, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("second NewSimCollector: %v", err)
	}

	first.Sessions.Set(4)
	if got := testutil.ToFloat64(second.Sessions); got != 4 {
		t.Fatalf("expected shared sessions gauge, got %v", got)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var collector *SimCollector
	collector.ObserveCommand("x", nil, nil, time.Second)
	collector.ObserveTick(time.Second, 1)
	collector.SetWorldTotals(WorldTotals{Sessions: 1})
	if collector.Handler() == nil {
		t.Fatal("expected a handler from a nil collector")
	}
}

func TestMetricsHandlerExposesWorldGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}
	collector.SetWorldTotals(WorldTotals{Sessions: 2, Stations: 7, Tunnels: 5, Trains: 3, Revenue: 120, Upkeep: 9.5})
	collector.ObserveCommand("add_train", nil, nil, time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, line := range []string{
		"metro_sessions 2",
		`metro_entities{kind="station"} 7`,
		`metro_entities{kind="tunnel"} 5`,
		`metro_entities{kind="train"} 3`,
		"metro_revenue 120",
		"metro_upkeep 9.5",
		"metro_commands_total",
	} {
		if !strings.Contains(body, line) {
			t.Fatalf("expected %q in /metrics output", line)
		}
	}
}

func TestTracingDisabledIsNoop(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{Enabled: false}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	_, span := StartSpan(context.Background(), "noop")
	EndSpan(span, errors.New("ignored"))
	if span.SpanContext().IsSampled() {
		t.Fatal("expected noop span")
	}
	ShutdownWithTimeout(context.Background(), shutdown, nil)
}

func TestTracingConfigFromEnv(t *testing.T) {
	t.Setenv("METRO_TRACING_ENABLED", "TRUE")
	t.Setenv("METRO_TRACING_EXPORTER", "OTLP")
	t.Setenv("METRO_TRACING_SAMPLE_RATIO", "0.25")
	t.Setenv("METRO_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("METRO_TRACING_SERVICE_NAME", "")

	cfg := TracingConfigFromEnv()
	if !cfg.Enabled || cfg.Exporter != "otlp" || cfg.SampleRatio != 0.25 || cfg.Endpoint != "collector:4317" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.ServiceName != "metro-sim" {
		t.Fatalf("expected default service name, got %q", cfg.ServiceName)
	}

	t.Setenv("METRO_TRACING_SAMPLE_RATIO", "7")
	if got := TracingConfigFromEnv().SampleRatio; got != 1 {
		t.Fatalf("expected out-of-range ratio to fall back to 1, got %v", got)
	}
}

func TestUnsupportedExporter(t *testing.T) {
	_, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin", SampleRatio: 1}, nil)
	if err == nil || !strings.Contains(err.Error(), "unsupported tracing exporter") {
		t.Fatalf("expected unsupported exporter error, got %v", err)
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
