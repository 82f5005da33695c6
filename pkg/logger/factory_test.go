package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billsync/pkg/logger"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("json by default", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		logger.New(logger.WithOutput(buf)).Info("hello")
		entry := decode(t, buf)
		assert.Equal(t, "INFO", entry["level"])
		assert.Equal(t, "hello", entry["msg"])
	})

	t.Run("text formatter", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		logger.New(logger.WithOutput(buf), logger.WithTextFormatter()).Info("hello")
		assert.Contains(t, buf.String(), "level=INFO")
		assert.Contains(t, buf.String(), "msg=hello")
	})

	t.Run("last formatter wins", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		logger.New(logger.WithOutput(buf), logger.WithTextFormatter(), logger.WithJSONFormatter()).Info("hello")
		assert.Equal(t, "hello", decode(t, buf)["msg"])
	})

	t.Run("level filters", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithOutput(buf), logger.WithLevel(slog.LevelWarn))
		log.Info("dropped")
		assert.Zero(t, buf.Len())
		log.Warn("kept")
		assert.Equal(t, "kept", decode(t, buf)["msg"])
	})

	t.Run("static attributes", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		logger.New(logger.WithOutput(buf), logger.WithAttr(slog.String("version", "1.2.3"))).Info("msg")
		assert.Equal(t, "1.2.3", decode(t, buf)["version"])
	})
}

func TestNew_ContextExtractors(t *testing.T) {
	t.Parallel()

	type key struct{}
	buf := &bytes.Buffer{}
	log := logger.New(
		logger.WithOutput(buf),
		logger.WithContextExtractors(nil, func(ctx context.Context) (slog.Attr, bool) {
			if v, ok := ctx.Value(key{}).(string); ok {
				return slog.String("request_id", v), true
			}
			return slog.Attr{}, false
		}),
	).With(logger.Component("webhooks"))

	log.InfoContext(context.WithValue(context.Background(), key{}, "req-42"), "received")
	entry := decode(t, buf)
	assert.Equal(t, "req-42", entry["request_id"])
	assert.Equal(t, "webhooks", entry["component"])

	buf.Reset()
	log.InfoContext(context.Background(), "no id")
	assert.NotContains(t, decode(t, buf), "request_id")
}

func TestNew_Redaction(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := logger.New(logger.WithOutput(buf), logger.WithRedactedKeys("Customer_Email"))
	log.Warn("webhook signature rejected",
		slog.String("Stripe-Signature", "t=1,v1=deadbeef"),
		slog.String("api_key", "sk_live_123"),
		slog.String("customer_email", "buyer@example.com"),
		logger.Provider("stripe"),
	)

	entry := decode(t, buf)
	assert.Equal(t, logger.Redacted, entry["Stripe-Signature"])
	assert.Equal(t, logger.Redacted, entry["api_key"])
	assert.Equal(t, logger.Redacted, entry["customer_email"])
	assert.Equal(t, "stripe", entry["provider"])
	assert.NotContains(t, buf.String(), "deadbeef")
}

func TestWithEnvironment(t *testing.T) {
	t.Parallel()

	tests := []struct {
		env     string
		wantEnv string
		debugOn bool
		jsonOut bool
	}{
		{env: logger.EnvProduction, wantEnv: "production", jsonOut: true},
		{env: "prod", wantEnv: "production", jsonOut: true},
		{env: logger.EnvStaging, wantEnv: "staging", jsonOut: true},
		{env: logger.EnvDevelopment, wantEnv: "development", debugOn: true},
		{env: "local", wantEnv: "development", debugOn: true},
	}
	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			t.Parallel()
			buf := &bytes.Buffer{}
			log := logger.New(logger.WithOutput(buf), logger.WithEnvironment(tt.env, "billingd"))

			log.Debug("debug")
			assert.Equal(t, tt.debugOn, buf.Len() > 0)

			buf.Reset()
			log.Info("info")
			if tt.jsonOut {
				entry := decode(t, buf)
				assert.Equal(t, "billingd", entry["service"])
				assert.Equal(t, tt.wantEnv, entry["env"])
			} else {
				assert.Contains(t, buf.String(), "service=billingd")
				assert.Contains(t, buf.String(), "env="+tt.wantEnv)
			}
		})
	}
}

func TestWithEnvironment_LevelOverride(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := logger.New(logger.WithOutput(buf), logger.WithEnvironment(logger.EnvDevelopment, "billingd"), logger.WithLevel(slog.LevelInfo))
	log.Debug("dropped")
	assert.Zero(t, buf.Len())
}

func TestSetAsDefault(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	buf := &bytes.Buffer{}
	logger.SetAsDefault(logger.New(logger.WithOutput(buf)))
	slog.Info("default")
	assert.Equal(t, "default", decode(t, buf)["msg"])
}
