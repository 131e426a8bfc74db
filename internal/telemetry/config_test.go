package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Defaults(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	assert.Equal(t, DefaultServiceName, cfg.GetServiceName())
	assert.Equal(t, "unknown", cfg.GetServiceVersion())
	assert.Equal(t, DefaultEndpoint, cfg.GetEndpoint())

	cfg = &Config{ServiceName: "custom", ServiceVersion: "1.2.3", Endpoint: "otel:4318"}
	assert.Equal(t, "custom", cfg.GetServiceName())
	assert.Equal(t, "1.2.3", cfg.GetServiceVersion())
	assert.Equal(t, "otel:4318", cfg.GetEndpoint())
}

func TestTracingConfig_GetSampling(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultSampling, (&TracingConfig{}).GetSampling())
	assert.Equal(t, 0.25, (&TracingConfig{Sampling: 0.25}).GetSampling())
}

func TestMetricsConfig_GetExporter(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ExporterOTLP, (&MetricsConfig{}).GetExporter())
	assert.Equal(t, ExporterPrometheus, (&MetricsConfig{Exporter: ExporterPrometheus}).GetExporter())
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		config        *Config
		errorContains []string
	}{
		{
			name:   "nil config is valid",
			config: nil,
		},
		{
			name: "disabled config skips validation",
			config: &Config{
				Enabled: false,
				Tracing: &TracingConfig{Enabled: true, Sampling: 7},
			},
		},
		{
			name: "valid full config",
			config: &Config{
				Enabled: true,
				Tracing: &TracingConfig{Enabled: true, Sampling: 0.5},
				Metrics: &MetricsConfig{Enabled: true, Exporter: ExporterPrometheus},
			},
		},
		{
			name: "sampling out of range",
			config: &Config{
				Enabled: true,
				Tracing: &TracingConfig{Enabled: true, Sampling: 1.5},
			},
			errorContains: []string{"tracing", "sampling must be between 0.0 and 1.0"},
		},
		{
			name: "unknown exporter",
			config: &Config{
				Enabled: true,
				Metrics: &MetricsConfig{Enabled: true, Exporter: "statsd"},
			},
			errorContains: []string{"metrics", "statsd"},
		},
		{
			name: "both errors are joined",
			config: &Config{
				Enabled: true,
				Tracing: &TracingConfig{Enabled: true, Sampling: -1},
				Metrics: &MetricsConfig{Enabled: true, Exporter: "statsd"},
			},
			errorContains: []string{"tracing", "metrics"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.config.Validate()
			if len(tt.errorContains) == 0 {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, s := range tt.errorContains {
				assert.Contains(t, err.Error(), s)
			}
		})
	}
}
