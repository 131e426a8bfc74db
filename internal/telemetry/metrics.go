package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// ConnectionMetricsMeterName is the meter name for push-channel metrics
	ConnectionMetricsMeterName = "github.com/stacklok/toolhive-jobwatch/connection"

	// PollMetricsMeterName is the meter name for job-list polling metrics
	PollMetricsMeterName = "github.com/stacklok/toolhive-jobwatch/poller"

	// NotificationMetricsMeterName is the meter name for transition notification metrics
	NotificationMetricsMeterName = "github.com/stacklok/toolhive-jobwatch/notify"
)

// ConnectionMetrics holds the instruments for the connection registry.
// Channel keys are job IDs and are deliberately not used as attributes.
type ConnectionMetrics struct {
	dials          metric.Int64Counter
	reconnects     metric.Int64Counter
	activeChannels metric.Int64UpDownCounter
}

// NewConnectionMetrics creates connection instruments from provider.
// If provider is nil, it returns nil (no-op metrics).
func NewConnectionMetrics(provider metric.MeterProvider) (*ConnectionMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(ConnectionMetricsMeterName)

	dials, err := meter.Int64Counter(
		"thv_jobwatch_connection_dials_total",
		metric.WithDescription("Number of push-channel connection attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	reconnects, err := meter.Int64Counter(
		"thv_jobwatch_connection_reconnects_total",
		metric.WithDescription("Number of reconnect attempts scheduled after a transport drop"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	activeChannels, err := meter.Int64UpDownCounter(
		"thv_jobwatch_connection_channels",
		metric.WithDescription("Number of channels with at least one subscriber"),
		metric.WithUnit("{channel}"),
	)
	if err != nil {
		return nil, err
	}

	return &ConnectionMetrics{
		dials:          dials,
		reconnects:     reconnects,
		activeChannels: activeChannels,
	}, nil
}

// RecordDial records the outcome of one connection attempt
func (m *ConnectionMetrics) RecordDial(ctx context.Context, success bool) {
	if m == nil || m.dials == nil {
		return
	}
	m.dials.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", success)))
}

// RecordReconnectScheduled records that a reconnect timer was armed
func (m *ConnectionMetrics) RecordReconnectScheduled(ctx context.Context) {
	if m == nil || m.reconnects == nil {
		return
	}
	m.reconnects.Add(ctx, 1)
}

// RecordChannelOpened increments the active channel count
func (m *ConnectionMetrics) RecordChannelOpened(ctx context.Context) {
	if m == nil || m.activeChannels == nil {
		return
	}
	m.activeChannels.Add(ctx, 1)
}

// RecordChannelClosed decrements the active channel count
func (m *ConnectionMetrics) RecordChannelClosed(ctx context.Context) {
	if m == nil || m.activeChannels == nil {
		return
	}
	m.activeChannels.Add(ctx, -1)
}

// PollMetrics holds the instruments for job-list polling
type PollMetrics struct {
	pollDuration metric.Float64Histogram
	jobsTotal    metric.Int64Gauge
}

// NewPollMetrics creates polling instruments from provider.
// If provider is nil, it returns nil (no-op metrics).
func NewPollMetrics(provider metric.MeterProvider) (*PollMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(PollMetricsMeterName)

	pollDuration, err := meter.Float64Histogram(
		"thv_jobwatch_poll_duration_seconds",
		metric.WithDescription("Duration of job list polls in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return nil, err
	}

	jobsTotal, err := meter.Int64Gauge(
		"thv_jobwatch_jobs",
		metric.WithDescription("Number of jobs returned by the last successful poll"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return nil, err
	}

	return &PollMetrics{
		pollDuration: pollDuration,
		jobsTotal:    jobsTotal,
	}, nil
}

// RecordPoll records the duration and outcome of one poll
func (m *PollMetrics) RecordPoll(ctx context.Context, duration time.Duration, success bool) {
	if m == nil || m.pollDuration == nil {
		return
	}
	m.pollDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.Bool("success", success)))
}

// RecordJobs records the size of the last job snapshot
func (m *PollMetrics) RecordJobs(ctx context.Context, count int64) {
	if m == nil || m.jobsTotal == nil {
		return
	}
	m.jobsTotal.Record(ctx, count)
}

// NotificationMetrics holds the instruments for transition notifications
type NotificationMetrics struct {
	notifications metric.Int64Counter
}

// NewNotificationMetrics creates notification instruments from provider.
// If provider is nil, it returns nil (no-op metrics).
func NewNotificationMetrics(provider metric.MeterProvider) (*NotificationMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(NotificationMetricsMeterName)

	notifications, err := meter.Int64Counter(
		"thv_jobwatch_notifications_total",
		metric.WithDescription("Number of job transition notifications emitted"),
		metric.WithUnit("{notification}"),
	)
	if err != nil {
		return nil, err
	}

	return &NotificationMetrics{notifications: notifications}, nil
}

// RecordNotification records one emitted notification for outcome
func (m *NotificationMetrics) RecordNotification(ctx context.Context, outcome string) {
	if m == nil || m.notifications == nil {
		return
	}
	m.notifications.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
