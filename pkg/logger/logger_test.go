package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel(" warning "))
	assert.Equal(t, slog.LevelError, ParseLevel("ERROR"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Output: &buf, Level: slog.LevelInfo, Format: FormatJSON})

	l.Debug("hidden")
	l.Info("awarded", UserID("u1"), Points(15), Err(errors.New("x")))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "awarded", rec["msg"])
	assert.Equal(t, "u1", rec["user_id"])
	assert.Equal(t, float64(15), rec["points"])
	assert.Equal(t, "x", rec["error"])
}

func TestContextRoundTrip(t *testing.T) {
	l := Nop()
	ctx := WithContext(context.Background(), l)
	assert.Same(t, l, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}
