// Package testing sets up in-memory tracing for tests.
package testing

import (
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/mocktracer"
)

// SetupMockTracing installs a mock tracer as the global tracer. The returned
// function restores the previous tracer and should be deferred by the caller.
func SetupMockTracing() (*mocktracer.MockTracer, func()) {
	old := opentracing.GlobalTracer()
	tracer := mocktracer.New()
	opentracing.SetGlobalTracer(tracer)
	return tracer, func() {
		opentracing.SetGlobalTracer(old)
	}
}
