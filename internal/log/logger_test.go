package log

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestLoggerTagsComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelDebug, Component: ComponentWorker, Output: &buf})

	logger.InfoContext(context.Background(), "Budget recomputed", FieldBudgetID, "b1")
	assert.Contains(t, buf.String(), "component=worker")
	assert.Contains(t, buf.String(), "budget_id=b1")

	buf.Reset()
	logger.WithComponent(ComponentNotify).Warn("Intent dropped")
	assert.Contains(t, buf.String(), "component=notify")
}

func TestFromContext(t *testing.T) {
	logger := New(DefaultConfig()).WithComponent(ComponentWorker)
	ctx := NewContext(context.Background(), logger)
	assert.Equal(t, ComponentWorker, FromContext(ctx).Component())
	assert.Equal(t, "unknown", FromContext(context.Background()).Component())
}
