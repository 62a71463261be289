// Package monitoring exposes the Prometheus scrape endpoint and collects
// per-process system gauges. Every service binary runs one Server and one
// SystemMonitor next to its worker loops.
package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

var (
	cpuPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatpulse_system_cpu_percent",
		Help: "Process CPU usage percentage",
	})
	memoryRSS = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatpulse_system_memory_rss_bytes",
		Help: "Process resident set size",
	})
	memoryHeap = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatpulse_system_memory_heap_bytes",
		Help: "Go heap bytes in use",
	})
	goroutinesActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatpulse_system_goroutines",
		Help: "Active goroutines",
	})
)

func init() {
	prometheus.MustRegister(cpuPercent)
	prometheus.MustRegister(memoryRSS)
	prometheus.MustRegister(memoryHeap)
	prometheus.MustRegister(goroutinesActive)
}

// Server serves /metrics and /health for one service process.
type Server struct {
	service string
	started time.Time
	http    *http.Server
	logger  zerolog.Logger
}

func NewServer(addr, service string, logger zerolog.Logger) *Server {
	s := &Server{
		service: service,
		started: time.Now(),
		logger:  logger,
	}

	router := http.NewServeMux()
	router.Handle("/metrics", promhttp.Handler())
	router.HandleFunc("/health", s.handleHealth)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves in the background. A dead listener is logged, not fatal;
// the worker keeps running without a scrape target.
func (s *Server) Start() {
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Str("addr", s.http.Addr).Msg("Metrics server failed")
		}
	}()
	s.logger.Info().Str("addr", s.http.Addr).Msg("Metrics server listening")
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{
		"status":         "healthy",
		"service":        s.service,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	}); err != nil {
		s.logger.Error().Err(err).Msg("Health encode failed")
	}
}

// SystemMonitor refreshes the process gauges on a ticker.
type SystemMonitor struct {
	interval time.Duration
	proc     *process.Process
	logger   zerolog.Logger
	stop     chan struct{}
	done     chan struct{}
}

func NewSystemMonitor(interval time.Duration, logger zerolog.Logger) *SystemMonitor {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.Warn().Err(err).Msg("Process handle unavailable, falling back to system memory")
		proc = nil
	}
	return &SystemMonitor{
		interval: interval,
		proc:     proc,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (m *SystemMonitor) Start() {
	go func() {
		defer close(m.done)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.collect()
		for {
			select {
			case <-ticker.C:
				m.collect()
			case <-m.stop:
				return
			}
		}
	}()
}

func (m *SystemMonitor) Stop() {
	close(m.stop)
	<-m.done
}

func (m *SystemMonitor) collect() {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	memoryHeap.Set(float64(stats.Alloc))
	goroutinesActive.Set(float64(runtime.NumGoroutine()))

	if m.proc != nil {
		if info, err := m.proc.MemoryInfo(); err == nil {
			memoryRSS.Set(float64(info.RSS))
		}
		if pct, err := m.proc.Percent(0); err == nil {
			cpuPercent.Set(pct)
		}
		return
	}
	if vmem, err := mem.VirtualMemory(); err == nil {
		memoryRSS.Set(float64(vmem.Used))
	}
}
