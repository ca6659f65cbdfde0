package metrics

import (
	"context"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

var (
	systemCPUUsage    prometheus.Gauge
	systemMemoryUsage *prometheus.GaugeVec
	goGoroutines      prometheus.Gauge
	goHeapAlloc       prometheus.Gauge
)

func initSystemMetrics() {
	systemCPUUsage = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "system_cpu_usage_percent",
			Help: "Current CPU usage percentage",
		},
	)
	systemMemoryUsage = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "system_memory_usage_bytes",
			Help: "Current memory usage in bytes",
		},
		[]string{"type"}, // "used", "total"
	)
	goGoroutines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "go_app_goroutines",
			Help: "Number of running goroutines",
		},
	)
	goHeapAlloc = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "go_app_heap_alloc_bytes",
			Help: "Bytes of allocated heap objects",
		},
	)

	registry.MustRegister(
		systemCPUUsage,
		systemMemoryUsage,
		goGoroutines,
		goHeapAlloc,
	)
}

// StartSystemCollector samples host and runtime metrics every interval until
// ctx is canceled. It enables collection as a side effect.
func StartSystemCollector(ctx context.Context, interval time.Duration) {
	Enable()
	mu.Lock()
	if systemCPUUsage == nil {
		initSystemMetrics()
	}
	mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sampleSystemMetrics()
			}
		}
	}()
}

func sampleSystemMetrics() {
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		systemCPUUsage.Set(percents[0])
	} else if err != nil {
		log.Debug().Err(err).Msg("Failed to sample CPU usage")
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		systemMemoryUsage.WithLabelValues("used").Set(float64(vm.Used))
		systemMemoryUsage.WithLabelValues("total").Set(float64(vm.Total))
	} else {
		log.Debug().Err(err).Msg("Failed to sample memory usage")
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	goGoroutines.Set(float64(runtime.NumGoroutine()))
	goHeapAlloc.Set(float64(ms.HeapAlloc))
}
