// Package telemetry настраивает экспорт трассировки OpenTelemetry.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/iurnickita/ifgmart/internal/telemetry/config"
)

type ShutdownFunc func(ctx context.Context) error

// Setup регистрирует глобальный TracerProvider с экспортом по OTLP/HTTP.
// Без адреса экспорта глобальные провайдеры остаются пустыми
func Setup(ctx context.Context, cfg config.Config, zaplog *zap.Logger) (ShutdownFunc, error) {
	if cfg.OTLPEndpoint == "" {
		zaplog.Debug("trace export disabled")
		return func(context.Context) error { return nil }, nil
	}

	exp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(cfg.OTLPEndpoint))
	if err != nil {
		return nil, err
	}

	rsc := sdkresource.NewWithAttributes("",
		attribute.String("service.name", cfg.ServiceName),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(rsc),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		zaplog.Warn("opentelemetry", zap.Error(err))
	}))

	zaplog.Info("trace export enabled", zap.String("endpoint", cfg.OTLPEndpoint))
	return tp.Shutdown, nil
}
