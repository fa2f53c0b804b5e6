package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sensorlog/ringdb"
	"sensorlog/sampler"
)

const namespace = "sensorlog"

// StatsProvider is satisfied by ringdb.Engine.
type StatsProvider interface {
	Stats() ringdb.Stats
}

// SamplerStatsProvider is satisfied by sampler.Sampler.
type SamplerStatsProvider interface {
	Stats() sampler.Stats
}

type Collector struct {
	ring    StatsProvider
	sampler SamplerStatsProvider

	records    *prometheus.Desc
	capacity   *prometheus.Desc
	generation *prometheus.Desc
	ready      *prometheus.Desc

	enqueued        *prometheus.Desc
	dequeued        *prometheus.Desc
	evicted         *prometheus.Desc
	erased          *prometheus.Desc
	persistFailures *prometheus.Desc
	corruptReads    *prometheus.Desc

	recoveries   *prometheus.Desc
	fullScans    *prometheus.Desc
	dropped      *prometheus.Desc
	recoverySecs *prometheus.Desc

	samples      *prometheus.Desc
	sensorErrors *prometheus.Desc
	storeErrors  *prometheus.Desc
	clockErrors  *prometheus.Desc
}

// NewCollector exports ring counters and, when s is non-nil, sampler counters.
func NewCollector(ring StatsProvider, s SamplerStatsProvider) *Collector {
	return &Collector{
		ring:    ring,
		sampler: s,

		records:    newDesc("ring", "records", "Live records in the ring"),
		capacity:   newDesc("ring", "capacity", "Record slots in the ring"),
		generation: newDesc("ring", "generation", "Generation of the last persisted metadata"),
		ready:      newDesc("ring", "ready", "1 when the engine accepts operations"),

		enqueued:        newDesc("ring", "enqueued_total", "Records appended"),
		dequeued:        newDesc("ring", "dequeued_total", "Records removed from the head"),
		evicted:         newDesc("ring", "evicted_total", "Oldest records overwritten by appends"),
		erased:          newDesc("ring", "erased_total", "Records removed by erase and clear-range"),
		persistFailures: newDesc("ring", "persist_failures_total", "Metadata persists that failed"),
		corruptReads:    newDesc("ring", "corrupt_reads_total", "Live records that failed validation on read"),

		recoveries:   newDesc("recovery", "runs_total", "Recovery passes"),
		fullScans:    newDesc("recovery", "full_scans_total", "Recovery passes that fell back to a full scan"),
		dropped:      newDesc("recovery", "dropped_records_total", "Slots discarded during recovery"),
		recoverySecs: newDesc("recovery", "last_duration_seconds", "Duration of the last recovery pass"),

		samples:      newDesc("sampler", "samples_total", "Readings stored by the sample loop"),
		sensorErrors: newDesc("sampler", "sensor_errors_total", "Sensor reads that failed"),
		storeErrors:  newDesc("sampler", "store_errors_total", "Readings the ring refused"),
		clockErrors:  newDesc("sampler", "clock_errors_total", "Ticks skipped for an out-of-range clock"),
	}
}

func newDesc(sub, name, help string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(namespace, sub, name), help, nil, nil)
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.records
	ch <- c.capacity
	ch <- c.generation
	ch <- c.ready
	ch <- c.enqueued
	ch <- c.dequeued
	ch <- c.evicted
	ch <- c.erased
	ch <- c.persistFailures
	ch <- c.corruptReads
	ch <- c.recoveries
	ch <- c.fullScans
	ch <- c.dropped
	ch <- c.recoverySecs
	ch <- c.samples
	ch <- c.sensorErrors
	ch <- c.storeErrors
	ch <- c.clockErrors
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.ring != nil {
		st := c.ring.Stats()
		ready := 0.0
		if st.Readiness == ringdb.StateReady {
			ready = 1
		}
		ch <- prometheus.MustNewConstMetric(c.records, prometheus.GaugeValue, float64(st.Count))
		ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(st.Capacity))
		ch <- prometheus.MustNewConstMetric(c.generation, prometheus.GaugeValue, float64(st.Generation))
		ch <- prometheus.MustNewConstMetric(c.ready, prometheus.GaugeValue, ready)

		ch <- prometheus.MustNewConstMetric(c.enqueued, prometheus.CounterValue, float64(st.Enqueued))
		ch <- prometheus.MustNewConstMetric(c.dequeued, prometheus.CounterValue, float64(st.Dequeued))
		ch <- prometheus.MustNewConstMetric(c.evicted, prometheus.CounterValue, float64(st.Evicted))
		ch <- prometheus.MustNewConstMetric(c.erased, prometheus.CounterValue, float64(st.Erased))
		ch <- prometheus.MustNewConstMetric(c.persistFailures, prometheus.CounterValue, float64(st.PersistFailures))
		ch <- prometheus.MustNewConstMetric(c.corruptReads, prometheus.CounterValue, float64(st.CorruptReads))

		ch <- prometheus.MustNewConstMetric(c.recoveries, prometheus.CounterValue, float64(st.Recoveries))
		ch <- prometheus.MustNewConstMetric(c.fullScans, prometheus.CounterValue, float64(st.FullScans))
		ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(st.DroppedRecords))
		ch <- prometheus.MustNewConstMetric(c.recoverySecs, prometheus.GaugeValue, st.LastRecovery.Seconds())
	}

	if c.sampler != nil {
		st := c.sampler.Stats()
		ch <- prometheus.MustNewConstMetric(c.samples, prometheus.CounterValue, float64(st.Samples))
		ch <- prometheus.MustNewConstMetric(c.sensorErrors, prometheus.CounterValue, float64(st.SensorErrors))
		ch <- prometheus.MustNewConstMetric(c.storeErrors, prometheus.CounterValue, float64(st.StoreErrors))
		ch <- prometheus.MustNewConstMetric(c.clockErrors, prometheus.CounterValue, float64(st.ClockErrors))
	}
}

// StartMetricsServer serves /metrics on addr until ctx is done. A bare port
// binds to loopback. An empty addr disables the server.
func StartMetricsServer(ctx context.Context, addr string, ring StatsProvider, s SamplerStatsProvider, logger *slog.Logger) {
	if addr == "" {
		return
	}
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector(ring, s))
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("Metrics server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
}
