package jobsapi

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/stacklok/toolhive-jobwatch/internal/httpclient"
	httpmocks "github.com/stacklok/toolhive-jobwatch/internal/httpclient/mocks"
	"github.com/stacklok/toolhive-jobwatch/internal/jobs"
)

const testBaseURL = "http://backend.local/api"

func TestClient_ListJobs_Shapes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		body        string
		expectedIDs []string
	}{
		{
			name:        "bare array",
			body:        `[{"id":"a","status":"pending"},{"id":"b","status":"processing"}]`,
			expectedIDs: []string{"a", "b"},
		},
		{
			name:        "paginated wrapper",
			body:        `{"items":[{"id":"a","status":"completed"}],"total":41}`,
			expectedIDs: []string{"a"},
		},
		{
			name:        "wrapper without items",
			body:        `{"total":0}`,
			expectedIDs: []string{},
		},
		{
			name:        "items is null",
			body:        `{"items":null,"total":0}`,
			expectedIDs: []string{},
		},
		{
			name:        "empty body",
			body:        ``,
			expectedIDs: []string{},
		},
		{
			name:        "malformed elements are skipped",
			body:        `[{"id":"a"}, 17, "x", {"status":"failed"}, {"id":"b"}]`,
			expectedIDs: []string{"a", "b"},
		},
		{
			name:        "numeric IDs become strings",
			body:        `[{"id":42,"status":"pending"}]`,
			expectedIDs: []string{"42"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			hc := httpmocks.NewMockClient(ctrl)
			hc.EXPECT().Get(gomock.Any(), testBaseURL+"/jobs?limit=50").Return([]byte(tt.body), nil)

			result, err := NewClient(testBaseURL+"/", hc).ListJobs(context.Background(), 50)
			require.NoError(t, err)

			ids := make([]string, 0, len(result))
			for _, j := range result {
				ids = append(ids, j.ID)
			}
			assert.Equal(t, tt.expectedIDs, ids)
		})
	}
}

func TestClient_ListJobs_DecodesFields(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	hc := httpmocks.NewMockClient(ctrl)
	hc.EXPECT().Get(gomock.Any(), testBaseURL+"/jobs").Return([]byte(`{"items":[{
		"id": "3f2a9c1b-7d4e",
		"job_type": "sentinel_fetch",
		"status": "completed",
		"progress": 140,
		"status_message": "done",
		"created_at": "2024-05-01T10:00:00Z",
		"started_at": "2024-05-01T10:00:05.123456",
		"completed_at": "2024-05-01 10:05:00",
		"error": null
	}]}`), nil)

	result, err := NewClient(testBaseURL, hc).ListJobs(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, result, 1)

	job := result[0]
	assert.Equal(t, "3f2a9c1b-7d4e", job.ID)
	assert.Equal(t, "sentinel_fetch", job.Type)
	assert.Equal(t, jobs.StatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.Equal(t, "done", job.StatusMessage)
	assert.Empty(t, job.Error)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), job.CreatedAt)
	require.NotNil(t, job.StartedAt)
	assert.Equal(t, 123456000, job.StartedAt.Nanosecond())
	require.NotNil(t, job.CompletedAt)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 5, 0, 0, time.UTC), *job.CompletedAt)
	assert.True(t, job.Consistent())
}

func TestClient_ListJobs_Errors(t *testing.T) {
	t.Parallel()

	t.Run("transport error is wrapped", func(t *testing.T) {
		t.Parallel()

		ctrl := gomock.NewController(t)
		hc := httpmocks.NewMockClient(ctrl)
		hc.EXPECT().Get(gomock.Any(), gomock.Any()).
			Return(nil, httpclient.NewHTTPError(502, testBaseURL+"/jobs", "Bad Gateway"))

		_, err := NewClient(testBaseURL, hc).ListJobs(context.Background(), 10)
		require.Error(t, err)
		var httpErr *httpclient.HTTPError
		assert.ErrorAs(t, err, &httpErr)
		assert.Contains(t, err.Error(), "failed to list jobs")
	})

	t.Run("non-JSON body", func(t *testing.T) {
		t.Parallel()

		ctrl := gomock.NewController(t)
		hc := httpmocks.NewMockClient(ctrl)
		hc.EXPECT().Get(gomock.Any(), gomock.Any()).Return([]byte(`<html>gateway</html>`), nil)

		_, err := NewClient(testBaseURL, hc).ListJobs(context.Background(), 10)
		require.Error(t, err)
		assert.ErrorIs(t, err, errMalformedBody)
	})
}

func TestClient_GetLogs(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	hc := httpmocks.NewMockClient(ctrl)
	hc.EXPECT().Get(gomock.Any(), testBaseURL+"/jobs/job%2F1/logs?limit=500").Return([]byte(`[
		{"timestamp":"2024-05-01T10:00:00Z","level":"info","message":"fetching tiles"},
		{"timestamp":"2024-05-01T10:00:00Z","level":"WARNING","message":"cloud cover high"},
		{"timestamp":"2024-05-01T10:00:01Z","level":"trace","message":"odd level"},
		"not an entry"
	]`), nil)

	entries, err := NewClient(testBaseURL, hc).GetLogs(context.Background(), "job/1", 500)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "fetching tiles", entries[0].Message)
	assert.Equal(t, jobs.LevelWarn, entries[1].Level)
	assert.Equal(t, jobs.LevelInfo, entries[2].Level)
	assert.Equal(t, entries[0].Timestamp, entries[1].Timestamp)
}

func TestClient_GetLogs_Wrapped(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	hc := httpmocks.NewMockClient(ctrl)
	hc.EXPECT().Get(gomock.Any(), gomock.Any()).
		Return([]byte(`{"logs":[{"timestamp":1714557600,"level":"error","message":"boom"}]}`), nil)

	entries, err := NewClient(testBaseURL, hc).GetLogs(context.Background(), "j", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, jobs.LevelError, entries[0].Level)
	assert.Equal(t, int64(1714557600), entries[0].Timestamp.Unix())
}

func TestClient_GetLogs_RequiresJobID(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	hc := httpmocks.NewMockClient(ctrl)

	_, err := NewClient(testBaseURL, hc).GetLogs(context.Background(), "", 10)
	require.Error(t, err)
}

func TestClient_RecordsSpans(t *testing.T) {
	t.Parallel()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctrl := gomock.NewController(t)
	hc := httpmocks.NewMockClient(ctrl)
	gomock.InOrder(
		hc.EXPECT().Get(gomock.Any(), gomock.Any()).Return([]byte(`[]`), nil),
		hc.EXPECT().Get(gomock.Any(), gomock.Any()).Return(nil, errors.New("connection refused")),
	)

	c := NewClient(testBaseURL, hc, WithTracer(tp.Tracer(TracerName)))
	_, err := c.ListJobs(context.Background(), 5)
	require.NoError(t, err)
	_, err = c.GetLogs(context.Background(), "abc", 5)
	require.Error(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "jobsapi.ListJobs", spans[0].Name)
	assert.Equal(t, codes.Unset, spans[0].Status.Code)
	assert.Equal(t, "jobsapi.GetLogs", spans[1].Name)
	assert.Equal(t, codes.Error, spans[1].Status.Code)
}

// Not parallel: swaps the global logger.
func TestClient_FailureLogCarriesTraceIDs(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	t.Cleanup(restore)

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctrl := gomock.NewController(t)
	hc := httpmocks.NewMockClient(ctrl)
	hc.EXPECT().Get(gomock.Any(), gomock.Any()).Return(nil, errors.New("connection refused"))

	_, err := NewClient(testBaseURL, hc, WithTracer(tp.Tracer(TracerName))).ListJobs(context.Background(), 5)
	require.Error(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	failures := logs.FilterMessage("Jobs API request failed").All()
	require.Len(t, failures, 1)
	ctxMap := failures[0].ContextMap()
	assert.Equal(t, spans[0].SpanContext.TraceID().String(), ctxMap["trace_id"])
	assert.Equal(t, spans[0].SpanContext.SpanID().String(), ctxMap["span_id"])
	assert.Contains(t, ctxMap["error"], "connection refused")
}
