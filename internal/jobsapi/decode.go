package jobsapi

import (
	"errors"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/stacklok/toolhive-jobwatch/internal/jobs"
)

// Shapes reported on spans for the body that was received
const (
	shapeArray   = "array"
	shapeWrapped = "wrapped"
	shapeEmpty   = "empty"
)

// errMalformedBody is returned when a body is not JSON at all
var errMalformedBody = errors.New("response body is not valid JSON")

// extractItems finds the record array in a response body. A bare array is used
// as is; otherwise the first of wrapperKeys holding an array is used. A body
// with no array anywhere yields no items rather than an error.
func extractItems(data []byte, wrapperKeys ...string) ([]gjson.Result, string, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, shapeEmpty, nil
	}
	if !gjson.ValidBytes(data) {
		return nil, "", errMalformedBody
	}

	root := gjson.ParseBytes(data)
	if root.IsArray() {
		return root.Array(), shapeArray, nil
	}

	if root.IsObject() {
		for _, key := range wrapperKeys {
			if v := root.Get(key); v.IsArray() {
				return v.Array(), shapeWrapped, nil
			}
		}
	}

	zap.L().Debug("Response body holds no record array, treating as empty",
		zap.String("type", root.Type.String()))
	return nil, shapeEmpty, nil
}

func decodeJobs(items []gjson.Result) []jobs.Job {
	result := make([]jobs.Job, 0, len(items))
	for i, item := range items {
		job, ok := decodeJob(item)
		if !ok {
			zap.L().Debug("Skipping malformed job record", zap.Int("index", i))
			continue
		}
		result = append(result, job)
	}
	return result
}

func decodeJob(item gjson.Result) (jobs.Job, bool) {
	if !item.IsObject() {
		return jobs.Job{}, false
	}

	id := item.Get("id").String()
	if id == "" {
		return jobs.Job{}, false
	}

	status, known := jobs.ParseStatus(item.Get("status").String())
	if !known {
		zap.L().Debug("Job has unrecognized status", zap.String("job_id", id), zap.String("status", string(status)))
	}

	jobType := item.Get("job_type").String()
	if jobType == "" {
		jobType = item.Get("type").String()
	}

	job := jobs.Job{
		ID:            id,
		Type:          jobType,
		Status:        status,
		Progress:      jobs.ClampProgress(int(item.Get("progress").Int())),
		StatusMessage: item.Get("status_message").String(),
		Error:         item.Get("error").String(),
		StartedAt:     parseOptionalTime(item.Get("started_at")),
		CompletedAt:   parseOptionalTime(item.Get("completed_at")),
	}
	if created := parseOptionalTime(item.Get("created_at")); created != nil {
		job.CreatedAt = *created
	}

	return job, true
}

func decodeLogEntries(items []gjson.Result) []jobs.LogEntry {
	result := make([]jobs.LogEntry, 0, len(items))
	for i, item := range items {
		if !item.IsObject() {
			zap.L().Debug("Skipping malformed log record", zap.Int("index", i))
			continue
		}
		entry := jobs.LogEntry{
			Level:   jobs.ParseLevel(item.Get("level").String()),
			Message: item.Get("message").String(),
		}
		if ts := parseOptionalTime(item.Get("timestamp")); ts != nil {
			entry.Timestamp = *ts
		}
		result = append(result, entry)
	}
	return result
}

func parseOptionalTime(v gjson.Result) *time.Time {
	switch v.Type {
	case gjson.Number:
		t := jobs.UnixSeconds(v.Float())
		return &t
	case gjson.String:
		if t, ok := jobs.ParseTime(v.Str); ok {
			return &t
		}
	}
	return nil
}
