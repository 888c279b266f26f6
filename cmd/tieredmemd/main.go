// tieredmemd demonstrates and exercises the tiered-memory allocator policy
// engine end-to-end: it builds a two-tier DataHotness Memory, runs a
// synthetic sampler standing in for spec §1's externally-assumed
// hardware performance-counter sampler, drives a short workload, and
// shuts down cleanly on SIGINT/SIGTERM.
//
// Phased orchestration (bootstrap → run → drain) is grounded on the
// teacher's main.go; signal handling is grounded on the teacher's
// setupSignalHandling plus control.Group.
package main

import (
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/memkind-go/tiermem/backend"
	"github.com/memkind-go/tiermem/eventqueue"
	"github.com/memkind-go/tiermem/internal/diagnostics"
	"github.com/memkind-go/tiermem/internal/dlog"
	"github.com/memkind-go/tiermem/internal/metrics"
	"github.com/memkind-go/tiermem/memtier"
	"github.com/memkind-go/tiermem/policy"
)

func main() {
	dlog.Message("INIT", "constructing two-tier DataHotness memory")

	fast := backend.NewArena(backend.KindHighBandwidth, 64<<20)
	slow := backend.NewArena(backend.KindDefault, 1<<30)

	builder := memtier.NewBuilder(policy.DataHotness).
		AddTier(0, fast, 0).
		AddTier(1, slow, 0)

	mem, err := builder.Construct()
	if err != nil {
		dlog.Error("CONFIG_ERROR", err)
		os.Exit(1)
	}
	dlog.Message("READY", builder.Describe())

	sink, err := diagnostics.Open("tieredmemd_touches.db")
	if err != nil {
		dlog.Error("DIAGNOSTICS_OPEN", err)
		os.Exit(1)
	}
	defer sink.Close()

	queue, rank := mem.Internals()
	registry := prometheus.NewRegistry()
	registry.MustRegister(metrics.NewCollector(queue, rank))
	go serveMetrics(registry, ":9191")

	stop := make(chan struct{})
	setupSignalHandling(stop)

	go runSampler(mem, sink, stop)

	<-stop
	dlog.Message("SHUTDOWN", "draining in-flight events")
	mem.Close()
	dlog.Message("SHUTDOWN", "complete")
}

// serveMetrics exposes registry on addr's /metrics endpoint until the
// process exits. Errors are logged, not fatal, since metrics exposure is
// observational only.
func serveMetrics(registry *prometheus.Registry, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		dlog.Error("METRICS_SERVER", err)
	}
}

// runSampler stands in for spec §1's "hardware performance-counter
// sampler... assumed to deliver events" by driving a synthetic allocate/
// touch/free workload against mem until stop is closed.
func runSampler(mem *memtier.Memory, sink *diagnostics.Sink, stop <-chan struct{}) {
	live := make([]uintptr, 0, 256)
	queue, _ := mem.Internals()
	start := time.Now()
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			for _, addr := range live {
				mem.Free(addr)
			}
			return
		case <-ticker.C:
			size := uintptr(64 + rand.Intn(4096))
			addr, err := mem.Malloc(size)
			if err != nil {
				dlog.Error("ALLOC_FAILED", err)
				continue
			}
			mem.RegisterTouchCallback(addr, sink.Callback(), nil)
			live = append(live, addr)
			queue.Push(eventqueue.Event{
				Kind:      eventqueue.Touch,
				Addr:      live[rand.Intn(len(live))],
				Timestamp: time.Since(start).Nanoseconds(),
			})
			if len(live) > 200 {
				victim := rand.Intn(len(live))
				mem.Free(live[victim])
				live[victim] = live[len(live)-1]
				live = live[:len(live)-1]
			}
		}
	}
}

// setupSignalHandling closes stop on SIGINT/SIGTERM.
func setupSignalHandling(stop chan struct{}) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		dlog.Message("SIGNAL", "received interrupt, shutting down")
		close(stop)
	}()
}
