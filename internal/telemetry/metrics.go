// Package telemetry exposes the node's Prometheus metrics and a small debug
// HTTP server, grounded on the same registry/collector-list/Start() shape
// used elsewhere in this codebase's ambient stack.
package telemetry

import (
	"fmt"
	"net"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lemonforest/biphase/common/log"
)

var (
	// Registry is the process-wide metrics registry exposed at /metrics.
	Registry = prometheus.NewRegistry()

	// RoleState reports this node's current role: 0=Unassigned, 1=Leader, 2=Follower.
	RoleState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "biphase_role_state",
		Help: "Current role of this node. 0=Unassigned, 1=Leader, 2=Follower",
	})

	// RoleSwaps counts role changes that differed from the prior session's role.
	RoleSwaps = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "biphase_role_swaps_total",
		Help: "Number of times this node's role differed from its prior session on reconnect",
	})

	// HandshakeAttempts counts Sync Engine handshake attempts and their outcome.
	HandshakeAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "biphase_handshake_attempts_total",
		Help: "Number of Phase-1 handshake attempts",
	}, []string{"outcome"})

	// SyncFailures counts beacons dropped for checksum or length failures.
	SyncFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "biphase_sync_failures_total",
		Help: "Number of beacons dropped for checksum or framing failure",
	})

	// OutlierSamples counts raw offset samples rejected by the EMA filter.
	OutlierSamples = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "biphase_outlier_samples_total",
		Help: "Number of raw offset samples rejected as outliers",
	}, []string{"filter_mode"})

	// ClockOffsetMicros is the current filtered clock offset estimate.
	ClockOffsetMicros = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "biphase_clock_offset_us",
		Help: "Current filtered clock offset estimate in microseconds",
	})

	// FilterMode reports the Sync Filter's convergence mode: 0=FastAttack, 1=SteadyState.
	FilterMode = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "biphase_filter_mode",
		Help: "Sync filter convergence mode. 0=FastAttack, 1=SteadyState",
	})

	// BeaconIntervalMs is the Leader's current adaptive beacon-send interval.
	BeaconIntervalMs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "biphase_beacon_interval_ms",
		Help: "Current adaptive beacon-send interval in milliseconds",
	})

	// ActivationCycles counts ACTIVE-transition cycles emitted by the Pattern Scheduler.
	ActivationCycles = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "biphase_activation_cycles_total",
		Help: "Number of ACTIVE transitions emitted by the pattern scheduler",
	})

	// ActivationErrorMs tracks the follower's measured activation timing error.
	ActivationErrorMs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "biphase_activation_error_ms",
		Help: "Most recently reported activation timing error in milliseconds",
	})

	// AntiphaseLocked reports whether the follower has acquired antiphase lock.
	AntiphaseLocked = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "biphase_antiphase_locked",
		Help: "1 if the follower holds antiphase lock, 0 otherwise",
	})

	// ModeChangesArmed counts mode-change proposals armed by the Mode Commit component.
	ModeChangesArmed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "biphase_mode_changes_armed_total",
		Help: "Number of mode-change proposals armed",
	})

	// ModeChangesRejected counts stale or invalid proposals rejected.
	ModeChangesRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "biphase_mode_changes_rejected_total",
		Help: "Number of mode-change proposals rejected",
	}, []string{"reason"})

	// QueueDrops counts bounded-queue overflow drops, by queue name.
	QueueDrops = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "biphase_queue_drops_total",
		Help: "Number of messages dropped due to bounded queue overflow",
	}, []string{"queue"})

	// LockTimeouts counts guarded-accessor lock acquisitions that hit their bounded timeout.
	LockTimeouts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "biphase_lock_timeouts_total",
		Help: "Number of guarded accessor lock acquisitions that timed out",
	}, []string{"field"})

	// ConnectionState reports the current connection state machine value.
	ConnectionState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "biphase_connection_state",
		Help: "Connection state. 0=Disconnected, 1=Connected, 2=Reconnecting",
	})

	// NodeStartTimestamp records process start time in seconds since the epoch.
	NodeStartTimestamp = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "biphase_start_timestamp",
		Help: "Timestamp when this node started up, in seconds since the epoch",
	})

	metricsBound sync.Once
)

func bindMetrics(l log.Logger) {
	if err := Registry.Register(collectors.NewGoCollector()); err != nil {
		l.Errorw("error in bindMetrics", "metrics", "goCollector", "err", err)
		return
	}
	if err := Registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		l.Errorw("error in bindMetrics", "metrics", "processCollector", "err", err)
		return
	}

	collectorsList := []prometheus.Collector{
		RoleState,
		RoleSwaps,
		HandshakeAttempts,
		SyncFailures,
		OutlierSamples,
		ClockOffsetMicros,
		FilterMode,
		BeaconIntervalMs,
		ActivationCycles,
		ActivationErrorMs,
		AntiphaseLocked,
		ModeChangesArmed,
		ModeChangesRejected,
		QueueDrops,
		LockTimeouts,
		ConnectionState,
		NodeStartTimestamp,
	}
	for _, c := range collectorsList {
		if err := Registry.Register(c); err != nil {
			l.Errorw("error in bindMetrics", "metrics", "bindMetrics", "err", err)
			return
		}
	}
}

// Start starts a Prometheus metrics server with debug endpoints. If bind is
// just a port value it is bound on loopback only. status, if non-nil, is
// mounted under /debug/status/ (SPEC_FULL.md §4.7's local control surface);
// pprof, if non-nil, is mounted under /debug/pprof/.
func Start(logger log.Logger, bind string, pprof http.Handler, status http.Handler) net.Listener {
	logger.Infow("metrics starting", "desired_addr", bind)

	metricsBound.Do(func() {
		bindMetrics(logger)
		NodeStartTimestamp.Set(float64(time.Now().Unix()))
	})

	if !strings.Contains(bind, ":") {
		bind = "127.0.0.1:" + bind
	}
	//nolint:noctx
	l, err := net.Listen("tcp", bind)
	if err != nil {
		logger.Warnw("", "metrics", "listen failed", "err", err)
		return nil
	}
	logger.Infow("metric listener started", "addr", l.Addr())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry}))

	if pprof != nil {
		mux.Handle("/debug/pprof/", pprof)
	}

	if status != nil {
		mux.Handle("/debug/status/", http.StripPrefix("/debug/status", status))
	}

	mux.HandleFunc("/debug/gc", func(w http.ResponseWriter, _ *http.Request) {
		runtime.GC()
		fmt.Fprintf(w, "GC run complete")
	})

	s := http.Server{Addr: l.Addr().String(), ReadHeaderTimeout: 3 * time.Second, Handler: mux}
	go func() {
		logger.Warnw("", "metrics", "listen finished", "err", s.Serve(l))
	}()
	return l
}
