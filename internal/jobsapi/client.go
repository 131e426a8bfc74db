// Package jobsapi is the client for the job backend's REST endpoints:
// the job list and a job's historical logs. Response bodies are normalized
// defensively since the backend has served more than one shape over time.
package jobsapi

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/stacklok/toolhive-jobwatch/internal/httpclient"
	"github.com/stacklok/toolhive-jobwatch/internal/jobs"
	"github.com/stacklok/toolhive-jobwatch/internal/otel"
)

//go:generate mockgen -destination=mocks/mock_client.go -package=mocks -source=client.go Client

// TracerName is the instrumentation name used for REST spans
const TracerName = "github.com/stacklok/toolhive-jobwatch/jobsapi"

// Client reads job state from the backend
type Client interface {
	// ListJobs fetches up to limit jobs
	ListJobs(ctx context.Context, limit int) ([]jobs.Job, error)

	// GetLogs fetches up to limit historical log entries for a job, oldest first
	GetLogs(ctx context.Context, jobID string, limit int) ([]jobs.LogEntry, error)
}

// Option configures the client
type Option func(*client)

// WithTracer sets the tracer used to wrap each request in a span
func WithTracer(tracer trace.Tracer) Option {
	return func(c *client) {
		c.tracer = tracer
	}
}

type client struct {
	baseURL string
	http    httpclient.Client
	tracer  trace.Tracer
}

// NewClient creates a client for the API rooted at baseURL (e.g. "http://host/api")
func NewClient(baseURL string, hc httpclient.Client, opts ...Option) Client {
	c := &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListJobs implements Client
func (c *client) ListJobs(ctx context.Context, limit int) (result []jobs.Job, err error) {
	ctx, span := otel.StartSpan(ctx, c.tracer, "jobsapi.ListJobs",
		trace.WithAttributes(otel.AttrPageSize.Int(limit)))
	defer func() {
		c.logFailure(ctx, span, err)
		span.End()
	}()

	endpoint := c.baseURL + "/jobs"
	if limit > 0 {
		endpoint += "?limit=" + strconv.Itoa(limit)
	}

	data, err := c.http.Get(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	items, shape, err := extractItems(data, "items", "jobs")
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	result = decodeJobs(items)
	span.SetAttributes(otel.AttrResultCount.Int(len(result)), otel.AttrBodyShape.String(shape))
	return result, nil
}

// GetLogs implements Client
func (c *client) GetLogs(ctx context.Context, jobID string, limit int) (result []jobs.LogEntry, err error) {
	ctx, span := otel.StartSpan(ctx, c.tracer, "jobsapi.GetLogs",
		trace.WithAttributes(otel.AttrJobID.String(jobID), otel.AttrPageSize.Int(limit)))
	defer func() {
		c.logFailure(ctx, span, err)
		span.End()
	}()

	if jobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}

	endpoint := fmt.Sprintf("%s/jobs/%s/logs", c.baseURL, url.PathEscape(jobID))
	if limit > 0 {
		endpoint += "?limit=" + strconv.Itoa(limit)
	}

	data, err := c.http.Get(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch logs for job %s: %w", jobID, err)
	}

	items, shape, err := extractItems(data, "items", "logs")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch logs for job %s: %w", jobID, err)
	}

	result = decodeLogEntries(items)
	span.SetAttributes(otel.AttrResultCount.Int(len(result)), otel.AttrBodyShape.String(shape))
	return result, nil
}

// logFailure records err on the span and logs it with the span's trace IDs
func (*client) logFailure(ctx context.Context, span trace.Span, err error) {
	if err == nil {
		return
	}
	otel.RecordError(span, err)
	fields := append(otel.LogFields(ctx), zap.Error(err))
	zap.L().Debug("Jobs API request failed", fields...)
}
