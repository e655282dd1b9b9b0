// Package tracing holds the opentracing helpers used by the stores and the
// migration runners.
package tracing

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/opentracing/opentracing-go/log"
)

// LogError marks span as failed and records err on it. It returns err
// unchanged, so it can wrap a return value:
//
//	return tracing.LogError(span, err)
func LogError(span opentracing.Span, err error) error {
	if err == nil {
		return nil
	}
	ext.Error.Set(span, true)
	span.LogFields(log.Error(err))
	return err
}

// StartSpanFromContext starts a child span named after the calling function
// and records the call site on it.
func StartSpanFromContext(ctx context.Context) (opentracing.Span, context.Context) {
	pc, _, _, ok := runtime.Caller(1)
	if !ok {
		span, ctx := opentracing.StartSpanFromContext(ctx, "unknown")
		span.LogFields(log.Error(errors.New("failed to get calling frame")))
		return span, ctx
	}

	frame, _ := runtime.CallersFrames([]uintptr{pc}).Next()

	span, ctx := opentracing.StartSpanFromContext(ctx, frame.Function)
	span.LogFields(log.String("location", fmt.Sprintf("%s:%d", frame.File, frame.Line)))
	return span, ctx
}
