package metrics

import (
	"time"

	"github.com/sentilens/sentilens/internal/observability"
)

// Application-level metrics following Prometheus conventions
var (
	// Inference metrics
	InferenceRequestsTotal = "inference_requests_total"
	InferenceRetriesTotal  = "inference_retries_total"
	InferenceDuration      = "inference_duration_ms"

	// Batch metrics
	BatchItemsTotal = "batch_items_total"
	BatchesTotal    = "batches_total"

	// Health check metrics
	HealthCheckTotal    = "app_health_check_total"
	HealthCheckDuration = "app_health_check_duration_ms"

	// Server lifecycle metrics
	ServerStartTime = "app_server_start_time_seconds"
)

// RecordInference records one provider call with its outcome
// (success or an error kind).
func RecordInference(outcome string, duration time.Duration) {
	if observability.TelemetrySystem == nil {
		return
	}

	_ = observability.TelemetrySystem.Counter(
		InferenceRequestsTotal,
		1,
		map[string]string{
			"outcome": outcome,
		},
	)

	_ = observability.TelemetrySystem.Histogram(
		InferenceDuration,
		duration,
		map[string]string{
			"outcome": outcome,
		},
	)
}

// RecordRetry records a retried provider call
func RecordRetry(kind string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			InferenceRetriesTotal,
			1,
			map[string]string{
				"error_kind": kind,
			},
		)
	}
}

// RecordBatchItem records a slot leaving the pending state
func RecordBatchItem(state string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			BatchItemsTotal,
			1,
			map[string]string{
				"state": state,
			},
		)
	}
}

// RecordBatch records a completed batch
func RecordBatch(cancelled bool) {
	status := "completed"
	if cancelled {
		status = "cancelled"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			BatchesTotal,
			1,
			map[string]string{
				"status": status,
			},
		)
	}
}

// RecordHealthCheck records a health check execution
func RecordHealthCheck(checkName string, healthy bool, duration time.Duration) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			HealthCheckTotal,
			1,
			map[string]string{
				"check":  checkName,
				"status": status,
			},
		)

		_ = observability.TelemetrySystem.Histogram(
			HealthCheckDuration,
			duration,
			map[string]string{
				"check": checkName,
			},
		)
	}
}

// SetServerStartTime records the server start time (Unix timestamp)
func SetServerStartTime(timestamp int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			ServerStartTime,
			float64(timestamp),
			nil,
		)
	}
}
