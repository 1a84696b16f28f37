// Package sampler fetches current spot prices per region, records them, and scores price movements.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"spotwatch/internal/anomaly"
	"spotwatch/internal/catalog"
	"spotwatch/internal/domain"
	"spotwatch/internal/metrics"
	"spotwatch/internal/provider"
	"spotwatch/internal/storage"
)

// Failure stages reported per region.
const (
	StageConnect   = "connect"
	StageFetch     = "fetch"
	StageReference = "reference"
	StagePersist   = "persist"
)

// SystemAlerter receives every anomaly event produced by a sample cycle.
type SystemAlerter interface {
	AlertAnomalies(ctx context.Context, events []domain.AnomalyEvent) error
}

// Options tune sampling.
type Options struct {
	ProductDescription string
	Lookback           time.Duration
	ReferenceWindow    time.Duration
	Workers            int
	RegionTimeout      time.Duration
	SignificantScore   float64
}

// RegionError describes why a region contributed nothing to a cycle.
type RegionError struct {
	Region string
	Stage  string
	Err    error
}

func (e RegionError) Error() string {
	return fmt.Sprintf("region %s (%s): %v", e.Region, e.Stage, e.Err)
}

func (e RegionError) Unwrap() error { return e.Err }

// Result is the outcome of one sample cycle.
type Result struct {
	Regions      []string
	Points       []domain.PricePoint
	Anomalies    []domain.AnomalyEvent
	Events       []domain.AnomalyEvent
	RegionErrors []RegionError
}

// Err summarises failed regions as a partial failure, or nil when every region succeeded.
func (r Result) Err() error {
	if len(r.RegionErrors) == 0 {
		return nil
	}
	pf := &domain.PartialFailure{
		Op:        "sample",
		Succeeded: append([]string(nil), r.Regions...),
		Failed:    make(map[string]error, len(r.RegionErrors)),
	}
	for _, re := range r.RegionErrors {
		pf.Failed[re.Region] = re
	}
	return pf
}

// Sampler runs sample cycles.
type Sampler struct {
	opts    Options
	sources provider.Factory
	store   storage.PriceHistoryStore
	alerter SystemAlerter
	now     func() time.Time
	logger  zerolog.Logger
}

// New constructs a Sampler. alerter may be nil.
func New(opts Options, sources provider.Factory, store storage.PriceHistoryStore, alerter SystemAlerter, logger zerolog.Logger) *Sampler {
	if opts.Lookback <= 0 {
		opts.Lookback = time.Hour
	}
	if opts.ReferenceWindow <= 0 {
		opts.ReferenceWindow = 24 * time.Hour
	}
	if opts.Workers < 1 {
		opts.Workers = 4
	}
	if opts.RegionTimeout <= 0 {
		opts.RegionTimeout = 30 * time.Second
	}
	if opts.SignificantScore <= 0 {
		opts.SignificantScore = anomaly.SignificantScore
	}
	return &Sampler{
		opts:    opts,
		sources: sources,
		store:   store,
		alerter: alerter,
		now:     time.Now,
		logger:  logger.With().Str("component", "sampler").Logger(),
	}
}

type regionResult struct {
	points []domain.PricePoint
	events []domain.AnomalyEvent
	err    *RegionError
}

// Sample fetches, records, and scores current prices for every region and family.
// Empty inputs select every supported value. Unsupported values fail validation before any call is made.
// A failing region is reported in Result.RegionErrors and does not affect the others.
func (s *Sampler) Sample(ctx context.Context, regions, families []string) (Result, error) {
	regions, err := normalise(regions, catalog.Regions(), catalog.ValidateRegions)
	if err != nil {
		return Result{}, err
	}
	families, err = normalise(families, catalog.Families(), catalog.ValidateFamilies)
	if err != nil {
		return Result{}, err
	}

	results := make([]regionResult, len(regions))
	var g errgroup.Group
	g.SetLimit(s.opts.Workers)
	for i, region := range regions {
		i, region := i, region
		g.Go(func() error {
			results[i] = s.sampleRegion(ctx, region, families)
			return nil
		})
	}
	_ = g.Wait()

	var out Result
	for i, rr := range results {
		if rr.err != nil {
			out.RegionErrors = append(out.RegionErrors, *rr.err)
			metrics.RegionFailures.WithLabelValues(rr.err.Region, rr.err.Stage).Inc()
			s.logger.Error().Err(rr.err.Err).
				Str("region", rr.err.Region).
				Str("stage", rr.err.Stage).
				Msg("region sampling failed")
			continue
		}
		out.Regions = append(out.Regions, regions[i])
		out.Points = append(out.Points, rr.points...)
		out.Events = append(out.Events, rr.events...)
	}

	for _, ev := range out.Events {
		if ev.AnomalyScore > s.opts.SignificantScore {
			out.Anomalies = append(out.Anomalies, ev)
			metrics.Anomalies.WithLabelValues(ev.Region).Inc()
		}
	}

	if s.alerter != nil && len(out.Events) > 0 {
		if err := s.alerter.AlertAnomalies(ctx, out.Events); err != nil {
			s.logger.Warn().Err(err).Msg("system alert dispatch failed")
		}
	}

	s.logger.Info().
		Int("regions", len(regions)).
		Int("failed_regions", len(out.RegionErrors)).
		Int("points", len(out.Points)).
		Int("anomalies", len(out.Anomalies)).
		Msg("sample recorded")

	return out, nil
}

func (s *Sampler) sampleRegion(ctx context.Context, region string, families []string) regionResult {
	ctx, cancel := context.WithTimeout(ctx, s.opts.RegionTimeout)
	defer cancel()

	fail := func(stage string, err error) regionResult {
		return regionResult{err: &RegionError{Region: region, Stage: stage, Err: err}}
	}

	src, err := s.sources.PriceSource(ctx, region)
	if err != nil {
		return fail(StageConnect, domain.NewUpstreamError("price source", err))
	}

	since := s.now().UTC().Add(-s.opts.Lookback)
	observations, err := src.DescribePrices(ctx, families, s.opts.ProductDescription, since)
	if err != nil {
		return fail(StageFetch, domain.NewUpstreamError("describe prices", err))
	}

	points := latestPerZone(region, families, observations)

	fresh, err := s.store.AppendPricePoints(ctx, points)
	if err != nil {
		return fail(StagePersist, err)
	}

	// points already stored by an earlier cycle were scored then
	events := make([]domain.AnomalyEvent, 0, len(fresh))
	for _, p := range fresh {
		previous := p.Price
		prior, err := s.store.LatestPricePointBefore(ctx, p.InstanceFamily, p.Region, p.Zone, p.ObservedAt.Add(-s.opts.ReferenceWindow), p.ObservedAt)
		switch {
		case err == nil:
			previous = prior.Price
		case errors.Is(err, storage.ErrNotFound):
		default:
			return fail(StageReference, err)
		}
		events = append(events, anomaly.Event(p, previous))
	}

	for _, p := range points {
		price, _ := p.Price.Float64()
		metrics.SpotPrice.WithLabelValues(p.InstanceFamily, p.Region, p.Zone).Set(price)
	}
	metrics.PriceSamples.WithLabelValues(region).Add(float64(len(points)))

	return regionResult{points: points, events: events}
}

type seriesKey struct {
	family string
	zone   string
}

// latestPerZone keeps the newest observation per (family, zone), ordered by family then zone.
func latestPerZone(region string, families []string, observations []provider.PriceObservation) []domain.PricePoint {
	wanted := make(map[string]struct{}, len(families))
	for _, f := range families {
		wanted[f] = struct{}{}
	}

	latest := make(map[seriesKey]provider.PriceObservation)
	for _, obs := range observations {
		if _, ok := wanted[obs.Family]; !ok || !obs.Price.IsPositive() {
			continue
		}
		key := seriesKey{family: obs.Family, zone: obs.Zone}
		if cur, ok := latest[key]; !ok || obs.ObservedAt.After(cur.ObservedAt) {
			latest[key] = obs
		}
	}

	points := make([]domain.PricePoint, 0, len(latest))
	for key, obs := range latest {
		points = append(points, domain.PricePoint{
			InstanceFamily: key.family,
			Region:         region,
			Zone:           key.zone,
			Price:          obs.Price,
			ObservedAt:     obs.ObservedAt.UTC(),
		})
	}
	sort.Slice(points, func(i, j int) bool {
		if points[i].InstanceFamily != points[j].InstanceFamily {
			return points[i].InstanceFamily < points[j].InstanceFamily
		}
		return points[i].Zone < points[j].Zone
	})
	return points
}

func normalise(values, all []string, validate func([]string) error) ([]string, error) {
	if len(values) == 0 {
		return all, nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	if err := validate(out); err != nil {
		return nil, err
	}
	return out, nil
}
