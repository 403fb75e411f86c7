package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики IIB. Регистрируются в prometheus.DefaultRegisterer и
// отдаются на /metrics каждого сервиса.
var (
	// RequestsTotal — завершённые запросы по итоговому состоянию.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "iib",
		Name:      "requests_total",
		Help:      "Build requests handled by the orchestrator, by final state.",
	}, []string{"state"})

	// RequestDuration — длительность запроса от захвата до manifest list.
	RequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "iib",
		Name:      "request_duration_seconds",
		Help:      "Time from claiming a request to its final state.",
		Buckets:   prometheus.ExponentialBuckets(30, 2, 10),
	})

	// ArchBuildsTotal — сборки на воркерах по архитектуре и результату.
	ArchBuildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "iib",
		Name:      "arch_builds_total",
		Help:      "Per-arch index image builds, by arch and result.",
	}, []string{"arch", "result"})

	// ArchBuildDuration — длительность сборки одной архитектуры.
	ArchBuildDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "iib",
		Name:      "arch_build_duration_seconds",
		Help:      "Duration of a per-arch build on a worker.",
		Buckets:   prometheus.ExponentialBuckets(10, 2, 10),
	}, []string{"arch"})

	// ReapedRequestsTotal — запросы, переведённые reaper в failed.
	ReapedRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "iib",
		Name:      "reaped_requests_total",
		Help:      "Stale requests failed by the reaper.",
	})
)

// Результаты сборки для ArchBuildsTotal.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultSkipped = "skipped"
)
