package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/entitle/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Metrics exposes application-level instruments.
type Metrics struct {
	usageReports    metric.Int64Counter
	deductions      metric.Int64Counter
	cacheHits       metric.Int64Counter
	cacheMisses     metric.Int64Counter
	actionRuns      metric.Int64Counter
	sweepResets     metric.Int64Counter
	migrationMoves  metric.Int64Counter
	reconcileDrifts metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Metrics.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.Metrics.Exporter, cfg.Metrics.Endpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			log.Info("shutting down meter provider")
			return provider.Shutdown(ctx)
		},
	})

	return provider, nil
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "", "grpc":
		return otlpmetricgrpc.New(context.Background(),
			otlpmetricgrpc.WithEndpoint(endpoint),
			otlpmetricgrpc.WithInsecure(),
		)
	case "http":
		return otlpmetrichttp.New(context.Background(),
			otlpmetrichttp.WithEndpoint(endpoint),
			otlpmetrichttp.WithInsecure(),
		)
	default:
		return nil, fmt.Errorf("unsupported metrics exporter %q", protocol)
	}
}

// New configures the domain metrics instruments.
func New(cfg config.Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.AppName)
	if name == "" {
		name = "entitle"
	}
	meter := provider.Meter(name)

	m := &Metrics{}
	var err error

	if m.usageReports, err = meter.Int64Counter("usage_reports_total"); err != nil {
		return nil, err
	}
	if m.deductions, err = meter.Int64Counter("entitlement_deductions_total"); err != nil {
		return nil, err
	}
	if m.cacheHits, err = meter.Int64Counter("balance_cache_hits_total"); err != nil {
		return nil, err
	}
	if m.cacheMisses, err = meter.Int64Counter("balance_cache_misses_total"); err != nil {
		return nil, err
	}
	if m.actionRuns, err = meter.Int64Counter("lifecycle_action_runs_total"); err != nil {
		return nil, err
	}
	if m.sweepResets, err = meter.Int64Counter("entitlement_resets_total"); err != nil {
		return nil, err
	}
	if m.migrationMoves, err = meter.Int64Counter("product_migrations_total"); err != nil {
		return nil, err
	}
	if m.reconcileDrifts, err = meter.Int64Counter("balance_cache_drift_total"); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) RecordUsageReport(ctx context.Context, featureCode string) {
	if m == nil {
		return
	}
	m.usageReports.Add(ctx, 1, metric.WithAttributes(attribute.String("feature", featureCode)))
}

func (m *Metrics) RecordDeduction(ctx context.Context, lines int) {
	if m == nil {
		return
	}
	m.deductions.Add(ctx, int64(lines))
}

func (m *Metrics) RecordCacheHit(ctx context.Context, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.Add(ctx, 1)
		return
	}
	m.cacheMisses.Add(ctx, 1)
}

func (m *Metrics) RecordActionRun(ctx context.Context, action string) {
	if m == nil {
		return
	}
	m.actionRuns.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}

func (m *Metrics) RecordSweepResets(ctx context.Context, count int) {
	if m == nil || count == 0 {
		return
	}
	m.sweepResets.Add(ctx, int64(count))
}

func (m *Metrics) RecordMigrationMoves(ctx context.Context, count int) {
	if m == nil || count == 0 {
		return
	}
	m.migrationMoves.Add(ctx, int64(count))
}

func (m *Metrics) RecordReconcileDrift(ctx context.Context) {
	if m == nil {
		return
	}
	m.reconcileDrifts.Add(ctx, 1)
}
