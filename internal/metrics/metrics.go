// internal/metrics/metrics.go
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/tamzrod/qrng-admin/internal/poller"
	"github.com/tamzrod/qrng-admin/pkg/protocol"
	"github.com/tamzrod/qrng-admin/pkg/qrng"
)

const namespace = "qrng"

// Metrics holds every collector of the daemon on a private registry.
// It implements qrng.Observer.
type Metrics struct {
	reg *prometheus.Registry

	requests      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	connected     prometheus.Gauge
	polls         *prometheus.CounterVec
	violations    *prometheus.CounterVec
	calibration   *prometheus.GaugeVec
	temperature   *prometheus.GaugeVec
	capturedWords *prometheus.CounterVec
	sinkBlocks    *prometheus.CounterVec
}

var _ qrng.Observer = (*Metrics)(nil)

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),

		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Round trips to the device server by command and outcome.",
		}, []string{"cmd", "outcome"}),

		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Round trip latency by command.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"cmd"}),

		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_connected",
			Help:      "1 while the session holds a socket.",
		}),

		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Poll cycles by device and result.",
		}, []string{"device_id", "result"}),

		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "threshold_violations_total",
			Help:      "Monitors found out of bounds, by device and alarm.",
		}, []string{"device_id", "alarm"}),

		calibration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calibration_status",
			Help:      "Last polled calibration status code.",
		}, []string{"device_id"}),

		temperature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "temperature_celsius",
			Help:      "Last polled board temperature.",
		}, []string{"device_id"}),

		capturedWords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captured_words_total",
			Help:      "Random words retrieved, by device.",
		}, []string{"device_id"}),

		sinkBlocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entropy_blocks_total",
			Help:      "Entropy blocks handed to the sink, by result.",
		}, []string{"result"}),
	}

	m.reg.MustRegister(
		m.requests,
		m.duration,
		m.connected,
		m.polls,
		m.violations,
		m.calibration,
		m.temperature,
		m.capturedWords,
		m.sinkBlocks,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// ObserveRequest records one session round trip.
func (m *Metrics) ObserveRequest(cmd protocol.Command, elapsed time.Duration, err error) {
	m.requests.WithLabelValues(cmd.String(), outcome(err)).Inc()
	m.duration.WithLabelValues(cmd.String()).Observe(elapsed.Seconds())
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, qrng.ErrTimeout):
		return "timeout"
	case errors.Is(err, qrng.ErrConnectionLost):
		return "connection_lost"
	case errors.Is(err, qrng.ErrMalformedReply):
		return "malformed"
	default:
		return "error"
	}
}

func (m *Metrics) SetConnected(up bool) {
	if up {
		m.connected.Set(1)
		return
	}
	m.connected.Set(0)
}

// ObservePoll records one poll cycle.
func (m *Metrics) ObservePoll(res poller.PollResult) {
	id := strconv.Itoa(int(res.DeviceID))

	if res.Err != nil {
		m.polls.WithLabelValues(id, "error").Inc()
		return
	}
	m.polls.WithLabelValues(id, "ok").Inc()

	for _, v := range res.Violations {
		m.violations.WithLabelValues(id, v.Alarm.String()).Inc()
	}
	m.calibration.WithLabelValues(id).Set(float64(res.Calibration))
	m.temperature.WithLabelValues(id).Set(res.Temperature)
}

func (m *Metrics) AddCapturedWords(deviceID uint16, n int) {
	m.capturedWords.WithLabelValues(strconv.Itoa(int(deviceID))).Add(float64(n))
}

func (m *Metrics) ObserveSink(err error) {
	if err != nil {
		m.sinkBlocks.WithLabelValues("error").Inc()
		return
	}
	m.sinkBlocks.WithLabelValues("ok").Inc()
}

// Handler serves /metrics and /health.
func (m *Metrics) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

// Serve runs the metrics HTTP server until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, listen string, log logrus.FieldLogger) error {
	srv := &http.Server{
		Addr:              listen,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("listen", listen).Info("metrics server started")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
