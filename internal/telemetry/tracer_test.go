package telemetry

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider_ExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	tp, err := NewProvider("reqguard-test", &buf)
	require.NoError(t, err)

	_, span := tp.Tracer("test").Start(context.Background(), "unit-span")
	span.End()
	require.NoError(t, tp.Shutdown(context.Background()))

	assert.Contains(t, buf.String(), "unit-span")
	assert.Contains(t, buf.String(), "reqguard-test")
}

func TestSetup_Disabled(t *testing.T) {
	shutdown, err := Setup(false, "reqguard", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
