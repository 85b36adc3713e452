package monitor

import (
	"PoseStyler/logger"
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

var (
	Registry = prometheus.NewRegistry()

	memUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "memory_usage_Megabytes",
		Help: "Memory usage in Megabytes",
	})
	cpuUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cpu_usage_percent",
		Help: "CPU usage in percent",
	})

	Transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_transitions_total",
		Help: "Pipeline state transitions by target state",
	}, []string{"state"})

	StageSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_stage_seconds",
		Help:    "Time spent in each pipeline stage",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
	}, []string{"stage"})

	ProviderErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "provider_errors_total",
		Help: "Errors reported by the pose and style providers",
	}, []string{"provider"})

	JobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_jobs_total",
		Help: "Jobs executed by the engine workers",
	}, []string{"worker"})
)

func init() {
	Registry.MustRegister(memUsage, cpuUsage, Transitions, StageSeconds, ProviderErrors, JobsTotal)
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

func checkProcessInfo(p *process.Process) {
	memInfo, err := p.MemoryInfo()
	if err == nil {
		memUsage.Set(float64(memInfo.RSS / 1024 / 1024))
	}
	cpuPercent, err := p.CPUPercent()
	if err == nil {
		cpuUsage.Set(math.Round(cpuPercent*100) / 100)
	}
}

// StartMon 暴露 /metrics 并每 500ms 采样一次进程资源，ctx 结束时关闭服务
func StartMon(ctx context.Context, port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log().Error("prometheus server stopped", zap.Error(err))
		}
	}()

	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.Log().Warn("process metrics disabled", zap.Error(err))
	}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
checkPcs:
	for {
		select {
		case <-ctx.Done():
			break checkPcs
		case <-ticker.C:
			if p != nil {
				checkProcessInfo(p)
			}
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log().Error("prometheus server shutdown", zap.Error(err))
	}
}
