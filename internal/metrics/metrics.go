// Package metrics provides Prometheus metrics for spotwatch.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// PriceSamples counts price points retained per sample cycle.
	PriceSamples = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spotwatch",
			Name:      "price_samples_total",
			Help:      "Price points retained after de-duplication",
		},
		[]string{"region"},
	)

	// SpotPrice tracks the latest sampled price per series.
	SpotPrice = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "spotwatch",
			Name:      "spot_price_usd",
			Help:      "Latest sampled spot price in USD per hour",
		},
		[]string{"family", "region", "zone"},
	)

	// Anomalies counts significant price movements.
	Anomalies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spotwatch",
			Name:      "price_anomalies_total",
			Help:      "Significant price anomalies detected",
		},
		[]string{"region"},
	)

	// RegionFailures counts regions that failed during a sample cycle.
	RegionFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spotwatch",
			Name:      "sampler_region_failures_total",
			Help:      "Regions whose sampling failed",
		},
		[]string{"region", "stage"},
	)

	// NotificationDeliveries counts channel delivery outcomes.
	NotificationDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spotwatch",
			Name:      "notification_deliveries_total",
			Help:      "Notification channel deliveries by outcome",
		},
		[]string{"channel", "outcome"},
	)

	// ResourceTransitions counts lifecycle state changes.
	ResourceTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spotwatch",
			Name:      "resource_transitions_total",
			Help:      "Spot resource state transitions",
		},
		[]string{"from", "to"},
	)

	// ProviderLatency tracks cloud provider call duration.
	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "spotwatch",
			Name:      "provider_call_duration_seconds",
			Help:      "Latency of cloud provider calls",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op", "outcome"},
	)
)

// ObserveProvider records the latency of a provider call started at start.
func ObserveProvider(op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	ProviderLatency.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
}

// Serve exposes /metrics on addr until ctx is cancelled. An empty addr disables the endpoint.
func Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
