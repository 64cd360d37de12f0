package observability

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pitabwire/entitystore/internal/config"
	"github.com/pitabwire/entitystore/model"
)

func TestNewLogger_levels(t *testing.T) {
	tests := []struct {
		level     string
		enabled   zapcore.Level
		disabled  zapcore.Level
		checkDown bool
	}{
		{level: "debug", enabled: zapcore.DebugLevel},
		{level: "info", enabled: zapcore.InfoLevel, disabled: zapcore.DebugLevel, checkDown: true},
		{level: "warn", enabled: zapcore.WarnLevel, disabled: zapcore.InfoLevel, checkDown: true},
		{level: "error", enabled: zapcore.ErrorLevel, disabled: zapcore.WarnLevel, checkDown: true},
		{level: "verbose", enabled: zapcore.InfoLevel, disabled: zapcore.DebugLevel, checkDown: true},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger, err := NewLogger(config.ObservabilityConfig{LogLevel: tt.level})
			if err != nil {
				t.Fatalf("NewLogger() error = %v", err)
			}
			defer logger.Sync()

			if !logger.Core().Enabled(tt.enabled) {
				t.Errorf("%v should be enabled", tt.enabled)
			}
			if tt.checkDown && logger.Core().Enabled(tt.disabled) {
				t.Errorf("%v should be disabled", tt.disabled)
			}
		})
	}
}

func TestLoggerFrom(t *testing.T) {
	stored, fallback := zap.NewExample(), zap.NewNop()

	if got := LoggerFrom(WithLogger(context.Background(), stored), fallback); got != stored {
		t.Error("stored logger not returned")
	}
	if got := LoggerFrom(context.Background(), fallback); got != fallback {
		t.Error("fallback not returned")
	}
	if got := LoggerFrom(context.Background(), nil); got == nil {
		t.Error("nil fallback should yield a no-op logger")
	}
}

func TestRequestLogger_fields(t *testing.T) {
	tests := []struct {
		name string
		rctx *model.RequestContext
		want map[string]string
		omit []string
	}{
		{
			name: "full context",
			rctx: &model.RequestContext{SubjectID: "user-42", TenantID: "acme", CorrelationID: "corr-1", TraceID: "trace-1"},
			want: map[string]string{"subject_id": "user-42", "tenant_id": "acme", "correlation_id": "corr-1", "trace_id": "trace-1"},
		},
		{
			name: "no tenant or trace",
			rctx: &model.RequestContext{SubjectID: "user-42", CorrelationID: "corr-1"},
			want: map[string]string{"subject_id": "user-42", "correlation_id": "corr-1"},
			omit: []string{"tenant_id", "trace_id"},
		},
		{
			name: "no request context",
			omit: []string{"subject_id", "correlation_id"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.DebugLevel)
			ctx := context.Background()
			if tt.rctx != nil {
				ctx = model.WithRequestContext(ctx, tt.rctx)
			}

			RequestLogger(ctx, zap.New(core)).Info("list fetched")

			entries := logs.All()
			if len(entries) != 1 {
				t.Fatalf("entries = %d, want 1", len(entries))
			}
			fields := entries[0].ContextMap()
			for k, v := range tt.want {
				if fields[k] != v {
					t.Errorf("%s = %v, want %q", k, fields[k], v)
				}
			}
			for _, k := range tt.omit {
				if _, ok := fields[k]; ok {
					t.Errorf("%s should be omitted", k)
				}
			}
		})
	}
}

func TestRedactBody(t *testing.T) {
	body := map[string]any{
		"title":    "Rotate keys",
		"password": "hunter2",
		"owner":    map[string]any{"name": "ops", "api_key": "k-1"},
		"pin":      "1234",
	}

	got := RedactBody(body, []string{"pin"})

	if got["title"] != "Rotate keys" {
		t.Errorf("title = %v", got["title"])
	}
	for _, k := range []string{"password", "pin"} {
		if got[k] != "[REDACTED]" {
			t.Errorf("%s = %v, want redacted", k, got[k])
		}
	}
	if owner := got["owner"].(map[string]any); owner["api_key"] != "[REDACTED]" || owner["name"] != "ops" {
		t.Errorf("nested = %v", owner)
	}
	if body["password"] != "hunter2" {
		t.Error("input was mutated")
	}
	if RedactBody(nil, nil) != nil {
		t.Error("nil body should stay nil")
	}
}
