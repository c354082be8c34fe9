package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"

	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// Observability is the recorder and tracer selected by the observability configuration.
type Observability struct {
	fx.Out

	Recorder metrics.MetricRecorder
	Tracer   metrics.Tracer
}

// NewObservability builds the metric recorder and tracer enabled in cfg.
// Prometheus and OTLP can be enabled together; with neither, no-op implementations are returned.
func NewObservability(lc fx.Lifecycle, cfg *config.Config) (Observability, error) {
	obs := cfg.Chunkflow.Observability
	var recorders CompositeRecorder
	result := Observability{Tracer: metrics.NewNoOpTracer()}

	if obs.Prometheus.Enabled {
		prom := NewPrometheusRecorder(true)
		recorders = append(recorders, prom)
		if obs.Prometheus.ListenAddress != "" {
			servePrometheus(lc, prom, obs.Prometheus.ListenAddress)
		}
		logger.Infof("Metrics: Prometheus recorder enabled.")
	}

	if obs.OTLP.Enabled {
		ctx := context.Background()
		tp, err := NewTracerProvider(ctx, obs)
		if err != nil {
			return Observability{}, err
		}
		mp, err := NewMeterProvider(ctx, obs)
		if err != nil {
			return Observability{}, err
		}
		recorder, err := NewOTelMetricRecorder(mp)
		if err != nil {
			return Observability{}, err
		}
		recorders = append(recorders, recorder)
		result.Tracer = NewOpenTelemetryTracer(tp)

		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				var errs *multierror.Error
				if err := tp.Shutdown(ctx); err != nil {
					errs = multierror.Append(errs, err)
				}
				if err := mp.Shutdown(ctx); err != nil {
					errs = multierror.Append(errs, err)
				}
				return errs.ErrorOrNil()
			},
		})
		logger.Infof("Metrics: OpenTelemetry exporters enabled (protocol: %s).", obs.OTLP.Protocol)
	}

	switch len(recorders) {
	case 0:
		result.Recorder = metrics.NewNoOpMetricRecorder()
	case 1:
		result.Recorder = recorders[0]
	default:
		result.Recorder = recorders
	}
	return result, nil
}

// servePrometheus exposes the recorder's registry on /metrics for the lifetime of the application.
func servePrometheus(lc fx.Lifecycle, prom *PrometheusRecorder, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(prom.GetRegistry(), promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Errorf("Metrics: Prometheus endpoint stopped: %v", err)
				}
			}()
			logger.Infof("Metrics: Serving Prometheus metrics on %s/metrics.", ln.Addr())
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

// Module provides the metric recorder and tracer selected by configuration.
var Module = fx.Options(
	fx.Provide(NewObservability),
)
