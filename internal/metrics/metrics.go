// Package metrics exposes Prometheus collectors for CTI exchanges, emulator
// traffic and polled channel readings.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/batterylab/ctigo/internal/cti"
)

const namespace = "ctigo"

// Metrics owns a private registry so tests and both binaries can build
// independent instances.
type Metrics struct {
	registry *prometheus.Registry

	exchanges        *prometheus.CounterVec
	exchangeDuration *prometheus.HistogramVec
	frames           *prometheus.CounterVec
	voltage          *prometheus.GaugeVec
	current          *prometheus.GaugeVec
	state            *prometheus.GaugeVec
	lastPoll         *prometheus.GaugeVec
	reconnects       prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exchanges_total",
			Help:      "CTI request/response exchanges by command and outcome.",
		}, []string{"command", "outcome"}),
		exchangeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "exchange_duration_seconds",
			Help:      "Round-trip time of CTI exchanges.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"command"}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "spoofer",
			Name:      "frames_total",
			Help:      "Frames handled by the emulator by command and outcome.",
		}, []string{"command", "outcome"}),
		voltage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "voltage_volts",
			Help:      "Last polled channel voltage.",
		}, []string{"channel"}),
		current: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "current_amperes",
			Help:      "Last polled channel current.",
		}, []string{"channel"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "state",
			Help:      "1 for the channel's current run state, 0 otherwise.",
		}, []string{"channel", "state"}),
		lastPoll: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "last_poll_timestamp_seconds",
			Help:      "Unix time of the last successful poll.",
		}, []string{"channel"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Reconnect attempts after a stale session.",
		}),
	}

	m.registry.MustRegister(
		m.exchanges,
		m.exchangeDuration,
		m.frames,
		m.voltage,
		m.current,
		m.state,
		m.lastPoll,
		m.reconnects,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveExchange implements cycler.Observer.
func (m *Metrics) ObserveExchange(cmd cti.Command, outcome string, elapsed time.Duration) {
	m.exchanges.WithLabelValues(cmd.String(), outcome).Inc()
	m.exchangeDuration.WithLabelValues(cmd.String()).Observe(elapsed.Seconds())
}

// ObserveFrame implements spoofer.FrameObserver.
func (m *Metrics) ObserveFrame(cmd cti.Command, outcome string) {
	m.frames.WithLabelValues(cmd.String(), outcome).Inc()
}

// ObserveReading updates the per-channel gauges.
func (m *Metrics) ObserveReading(st cti.ChannelStatus, at time.Time) {
	ch := strconv.Itoa(st.Channel)
	m.voltage.WithLabelValues(ch).Set(float64(st.Voltage))
	m.current.WithLabelValues(ch).Set(float64(st.Current))
	for _, s := range []cti.RunState{cti.RunStateIdle, cti.RunStateRunning, cti.RunStatePaused, cti.RunStateFault} {
		v := 0.0
		if s == st.State {
			v = 1
		}
		m.state.WithLabelValues(ch, string(s)).Set(v)
	}
	m.lastPoll.WithLabelValues(ch).Set(float64(at.Unix()))
}

func (m *Metrics) IncReconnects() {
	m.reconnects.Inc()
}

// Handler serves /metrics and /health.
func (m *Metrics) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return mux
}

// Serve runs the metrics endpoint on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default().With("component", "metrics")
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics endpoint listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	}
}
