package tracing_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/docschema/docschema/kit/tracing"
	tracetest "github.com/docschema/docschema/kit/tracing/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartSpanFromContext(t *testing.T) {
	tracer, teardown := tracetest.SetupMockTracing()
	defer teardown()

	span, ctx := tracing.StartSpanFromContext(context.Background())
	require.NotNil(t, ctx)
	span.Finish()

	spans := tracer.FinishedSpans()
	require.Len(t, spans, 1)
	assert.True(t, strings.HasSuffix(spans[0].OperationName, "TestStartSpanFromContext"), spans[0].OperationName)

	logs := spans[0].Logs()
	require.Len(t, logs, 1)
	assert.Equal(t, "location", logs[0].Fields[0].Key)
}

func TestLogError(t *testing.T) {
	tracer, teardown := tracetest.SetupMockTracing()
	defer teardown()

	span, _ := tracing.StartSpanFromContext(context.Background())
	assert.NoError(t, tracing.LogError(span, nil))

	boom := errors.New("boom")
	assert.Equal(t, boom, tracing.LogError(span, boom))
	span.Finish()

	spans := tracer.FinishedSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, true, spans[0].Tag("error"))
	assert.Len(t, spans[0].Logs(), 2)
}
