package http

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/freekieb7/quarry/http"

var (
	tracer = otel.Tracer(instrumentationName)
	meter  = otel.Meter(instrumentationName)

	requestCnt      metric.Int64Counter
	requestDuration metric.Float64Histogram
)

func init() {
	var err error
	requestCnt, err = meter.Int64Counter("quarry.http.requests",
		metric.WithDescription("The number of handled requests by status code"),
		metric.WithUnit("{request}"))
	if err != nil {
		panic(err)
	}

	requestDuration, err = meter.Float64Histogram("quarry.http.request.duration",
		metric.WithDescription("Time spent composing a response"),
		metric.WithUnit("s"))
	if err != nil {
		panic(err)
	}
}

// startRequestSpan opens the span that covers composing one response.
func startRequestSpan(ctx context.Context, name string, req *Request) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method.String()),
			attribute.String("url.path", req.Path),
			attribute.Float64("network.protocol.version", req.Version),
		),
	)
}

// endRequestSpan records the outcome of a request on its span and on the
// request instruments.
func endRequestSpan(ctx context.Context, span trace.Span, code uint16, started time.Time) {
	codeAttr := attribute.Int("http.response.status_code", int(code))
	span.SetAttributes(codeAttr)
	if code >= 500 {
		span.SetStatus(codes.Error, StatusText(code))
	}
	span.End()

	requestCnt.Add(ctx, 1, metric.WithAttributes(codeAttr))
	requestDuration.Record(ctx, time.Since(started).Seconds(), metric.WithAttributes(codeAttr))
}
