// Package otel bridges tool execution signals into OpenTelemetry.
package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/toolgate/tool"
)

// ToolObserver records execution, discovery, and connect signals into
// OpenTelemetry instruments.
type ToolObserver struct {
	tracer trace.Tracer

	executions  metric.Int64Counter
	discoveries metric.Int64Counter
	connects    metric.Int64Counter
	latency     metric.Float64Histogram
}

// NewToolObserver creates an observer bound to the provided meter/tracer.
func NewToolObserver(meter metric.Meter, tracer trace.Tracer) (*ToolObserver, error) {
	executions, err := meter.Int64Counter(
		"toolgate.tool.executions",
		metric.WithDescription("Number of tool executions"),
	)
	if err != nil {
		return nil, err
	}
	discoveries, err := meter.Int64Counter(
		"toolgate.tool.discoveries",
		metric.WithDescription("Number of tool discovery passes"),
	)
	if err != nil {
		return nil, err
	}
	connects, err := meter.Int64Counter(
		"toolgate.server.connects",
		metric.WithDescription("Number of server connect attempts"),
	)
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram(
		"toolgate.tool.latency",
		metric.WithDescription("Tool execution latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &ToolObserver{
		tracer:      tracer,
		executions:  executions,
		discoveries: discoveries,
		connects:    connects,
		latency:     latency,
	}, nil
}

// ObserveExecute records one execution result.
func (o *ToolObserver) ObserveExecute(observation tool.ExecuteObservation) {
	if o == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("tool_name", observation.Tool),
		attribute.String("server", observation.Server),
		attribute.Bool("success", observation.Success),
	}
	if observation.Code != "" {
		attrs = append(attrs, attribute.String("error_code", observation.Code))
	}

	ctx := context.Background()
	options := metric.WithAttributes(attrs...)
	o.executions.Add(ctx, 1, options)
	o.latency.Record(ctx, float64(time.Duration(observation.DurationMS)*time.Millisecond)/float64(time.Second), options)

	if o.tracer == nil {
		return
	}
	_, span := o.tracer.Start(ctx, "tool.execute", trace.WithAttributes(attrs...))
	if !observation.Success {
		span.SetStatus(codes.Error, observation.Code)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// ObserveDiscovery records one discovery pass.
func (o *ToolObserver) ObserveDiscovery(observation tool.DiscoveryObservation) {
	if o == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("server", observation.Server),
		attribute.Bool("cache_hit", observation.CacheHit),
		attribute.Int("tool_count", observation.ToolCount),
	}
	o.discoveries.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

// ObserveConnect records one server connect attempt.
func (o *ToolObserver) ObserveConnect(observation tool.ConnectObservation) {
	if o == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("server", observation.Server),
		attribute.Bool("success", observation.Success),
	}

	ctx := context.Background()
	o.connects.Add(ctx, 1, metric.WithAttributes(attrs...))

	if o.tracer == nil {
		return
	}
	_, span := o.tracer.Start(ctx, "server.connect", trace.WithAttributes(attrs...))
	if !observation.Success {
		span.SetStatus(codes.Error, "connect failed")
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

var _ tool.Observer = (*ToolObserver)(nil)
