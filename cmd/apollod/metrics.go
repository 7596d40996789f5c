package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apollo "github.com/bluebillshtml/apollodriversarchlinux"
)

// daemonMetrics holds the Prometheus collectors exported by the daemon.
type daemonMetrics struct {
	Xruns          *prometheus.GaugeVec
	DMARunning     prometheus.Gauge
	SuspendedGauge prometheus.Gauge
	HardwareFaults prometheus.Counter
	Reloads        prometheus.Counter
	SuspendCycles  prometheus.Counter

	suspended atomic.Bool
}

// newMetrics initializes and registers all Prometheus metrics exported by
// the daemon.
func newMetrics() (*daemonMetrics, error) {
	m := &daemonMetrics{
		Xruns: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "apollod_stream_xruns",
			Help: "Cumulative underruns and overruns observed per stream direction.",
		}, []string{"direction"}),
		DMARunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "apollod_dma_running",
			Help: "Whether the shared DMA engine is active.",
		}),
		SuspendedGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "apollod_suspended",
			Help: "Whether the device is held in the suspended state.",
		}),
		HardwareFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "apollod_hardware_faults_total",
			Help: "Asynchronous hardware fault events delivered by the device.",
		}),
		Reloads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "apollod_config_reloads_total",
			Help: "Configuration reloads triggered by SIGHUP.",
		}),
		SuspendCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "apollod_suspend_cycles_total",
			Help: "Suspend transitions triggered by SIGUSR1.",
		}),
	}

	collectors := []prometheus.Collector{
		m.Xruns, m.DMARunning, m.SuspendedGauge,
		m.HardwareFaults, m.Reloads, m.SuspendCycles,
	}
	for _, c := range collectors {
		if err := prometheus.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Sample refreshes the gauges from the device's current state.
func (m *daemonMetrics) Sample(dev *apollo.Device) {
	m.Xruns.WithLabelValues(apollo.STREAM_PLAYBACK.String()).Set(float64(dev.Playback().Xruns()))
	m.Xruns.WithLabelValues(apollo.STREAM_CAPTURE.String()).Set(float64(dev.Capture().Xruns()))

	if dev.Running() {
		m.DMARunning.Set(1)
	} else {
		m.DMARunning.Set(0)
	}
}

// SetSuspended records the power state for both the gauge and the status
// endpoint.
func (m *daemonMetrics) SetSuspended(suspended bool) {
	m.suspended.Store(suspended)
	if suspended {
		m.SuspendedGauge.Set(1)
	} else {
		m.SuspendedGauge.Set(0)
	}
}

type streamStatus struct {
	State string `json:"state"`
	Xruns int    `json:"xruns"`
}

type deviceStatus struct {
	Running   bool         `json:"running"`
	Suspended bool         `json:"suspended"`
	Playback  streamStatus `json:"playback"`
	Capture   streamStatus `json:"capture"`
}

// startEndpoint serves /metrics, /healthz and /status until quit closes.
// The returned channel closes once the server has shut down.
func startEndpoint(addr string, dev *apollo.Device, m *daemonMetrics, logger *slog.Logger, quit <-chan struct{}) <-chan struct{} {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		status := deviceStatus{
			Running:   dev.Running(),
			Suspended: m.suspended.Load(),
			Playback: streamStatus{
				State: dev.Playback().State().String(),
				Xruns: dev.Playback().Xruns(),
			},
			Capture: streamStatus{
				State: dev.Capture().State().String(),
				Xruns: dev.Capture().Xruns(),
			},
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(&status); err != nil {
			logger.Error("status encode failed", "error", err)
		}
	})

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	done := make(chan struct{})

	go func() {
		logger.Info("http endpoint listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http endpoint failed", "addr", addr, "error", err)
		}
	}()

	go func() {
		defer close(done)
		<-quit

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("http endpoint shutdown failed", "error", err)
		}
	}()

	return done
}
