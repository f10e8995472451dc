package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"carepipe/internal/config"
	"carepipe/pkg/logging"
)

// DefaultServiceName is reported when neither the binary nor the config names the service.
const DefaultServiceName = "carepipe"

const instrumentationName = "carepipe"

// Span attribute keys shared by stage and route spans.
const (
	AttrStage     = attribute.Key("carepipe.stage")
	AttrMessageID = attribute.Key("messaging.message.id")
	AttrMemberID  = attribute.Key("carepipe.member_id")
	AttrRoute     = attribute.Key("carepipe.route")
	AttrErrorCode = attribute.Key("carepipe.error_code")
)

type TracerProvider struct {
	tp *sdktrace.TracerProvider
}

func (tp *TracerProvider) Tracer(name string) trace.Tracer {
	return tp.tp.Tracer(name)
}

func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.tp != nil {
		return tp.tp.Shutdown(ctx)
	}
	return nil
}

// ServiceName picks the name exported on the resource. The binary's own name wins so services
// sharing one config file still report apart.
func ServiceName(cfg config.TracingConfig, binary string) string {
	switch {
	case binary != "":
		return binary
	case cfg.ServiceName != "":
		return cfg.ServiceName
	default:
		return DefaultServiceName
	}
}

// Init installs the global tracer provider for one pipeline service. With tracing disabled a
// provider without exporter is returned so spans stay cheap and local.
func Init(cfg config.TracingConfig, binary string) (*TracerProvider, error) {
	if !cfg.Enabled {
		return &TracerProvider{tp: sdktrace.NewTracerProvider()}, nil
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(ServiceName(cfg, binary)),
			semconv.ServiceNamespaceKey.String(DefaultServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.OTLP.Endpoint),
	}
	if cfg.OTLP.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFor(cfg.Sampler)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{tp: tp}, nil
}

func samplerFor(cfg config.SamplerConfig) sdktrace.Sampler {
	switch cfg.Type {
	case "always_off":
		return sdktrace.NeverSample()
	case "traceidratio":
		return sdktrace.TraceIDRatioBased(cfg.Param)
	case "parentbased_traceidratio":
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Param))
	case "parentbased_always_on":
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	default:
		return sdktrace.AlwaysSample()
	}
}

func GetTracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// stageAttributes reads the message and member IDs bound to ctx by the logging helpers. Empty
// IDs are left off the span.
func stageAttributes(ctx context.Context, stage string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{AttrStage.String(stage)}
	if id := logging.GetMessageID(ctx); id != "" {
		attrs = append(attrs, AttrMessageID.String(id))
	}
	if id := logging.GetMemberID(ctx); id != "" {
		attrs = append(attrs, AttrMemberID.String(id))
	}
	return attrs
}

// StartStageSpan opens the span a stage service records while processing one message.
func StartStageSpan(ctx context.Context, stage string) (context.Context, trace.Span) {
	return GetTracer(instrumentationName).Start(ctx, "stage."+stage,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(stageAttributes(ctx, stage)...),
	)
}

// StartRouteSpan opens the orchestrator-side span for one stage call, before a transport is chosen.
func StartRouteSpan(ctx context.Context, stage string) (context.Context, trace.Span) {
	return GetTracer(instrumentationName).Start(ctx, "route."+stage,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(stageAttributes(ctx, stage)...),
	)
}

// EndRouteSpan records the transport that served the call and its outcome, then ends span.
func EndRouteSpan(span trace.Span, route, errorCode string, err error) {
	if route != "" {
		span.SetAttributes(AttrRoute.String(route))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errorCode != "" {
			span.SetAttributes(AttrErrorCode.String(errorCode))
		}
	}
	span.End()
}
