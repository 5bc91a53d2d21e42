// Package metrics provides Prometheus metrics for the collector.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "agentwatch"

// Gateway connection metrics
var (
	// ReconnectsTotal counts connection attempts after the first.
	ReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "reconnects_total",
			Help:      "Total gateway reconnection attempts",
		},
	)

	// FramesTotal counts inbound frames by event name.
	FramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "frames_total",
			Help:      "Total inbound event frames routed",
		},
		[]string{"event"},
	)

	// FrameErrors counts frames whose handler failed.
	FrameErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "frame_errors_total",
			Help:      "Total frames dropped due to handler errors",
		},
	)
)

// Tailer metrics
var (
	// ScansTotal counts transcript scan passes.
	ScansTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tailer",
			Name:      "scans_total",
			Help:      "Total transcript scan passes",
		},
	)

	// LinesParsed counts complete transcript lines handed to the parser.
	LinesParsed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tailer",
			Name:      "lines_parsed_total",
			Help:      "Total complete transcript lines parsed",
		},
	)

	// ParseFailures counts transcript lines skipped as malformed.
	ParseFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tailer",
			Name:      "parse_failures_total",
			Help:      "Total malformed transcript lines skipped",
		},
	)

	// DedupDropped counts cost records suppressed by the deduplicator.
	DedupDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tailer",
			Name:      "dedup_dropped_total",
			Help:      "Total cost records dropped as duplicates",
		},
	)

	// CursorResets counts rotation/truncation cursor resets.
	CursorResets = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tailer",
			Name:      "cursor_resets_total",
			Help:      "Total cursor resets after file truncation",
		},
	)
)

// Ingestion metrics
var (
	// CostRecordsIngested counts cost records handed to the sink.
	CostRecordsIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "cost_records_total",
			Help:      "Total cost records ingested",
		},
	)

	// ActivitiesIngested counts activity records handed to the sink.
	ActivitiesIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "activities_total",
			Help:      "Total activity records ingested",
		},
	)
)

// Alerting metrics
var (
	// RulesEvaluated counts rule evaluations across passes.
	RulesEvaluated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerting",
			Name:      "rules_evaluated_total",
			Help:      "Total alert rule evaluations",
		},
	)

	// AlertsFired counts persisted alerts by severity.
	AlertsFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerting",
			Name:      "alerts_fired_total",
			Help:      "Total alerts persisted",
		},
		[]string{"severity"},
	)

	// AlertsSuppressed counts alerts suppressed by cooldown.
	AlertsSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerting",
			Name:      "alerts_suppressed_total",
			Help:      "Total alerts suppressed by cooldown",
		},
	)
)
