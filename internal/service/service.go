// Package service wires the periodic watch loop: sampling prices and reconciling open resources.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"spotwatch/internal/config"
	"spotwatch/internal/domain"
	"spotwatch/internal/sampler"
	"spotwatch/internal/scheduler"
	"spotwatch/internal/storage"
)

// PriceSampler runs one sample cycle.
type PriceSampler interface {
	Sample(ctx context.Context, regions, families []string) (sampler.Result, error)
}

// ResourcePoller reconciles one resource on behalf of its owner.
type ResourcePoller interface {
	Poll(ctx context.Context, callerID, id string) (domain.Resource, error)
}

// TickSummary reports what a tick did.
type TickSummary struct {
	Skipped       bool
	Points        int
	Anomalies     int
	FailedRegions int
	Polled        int
	PollFailures  int
}

// Service orchestrates watch ticks.
type Service struct {
	scheduler *scheduler.Scheduler
	sampler   PriceSampler
	poller    ResourcePoller
	resources storage.ResourceStore
	logger    zerolog.Logger

	regions  []string
	families []string
	poll     bool
	locker   storage.AdvisoryLocker
	lockKey  int64
}

// New constructs the watch service. poller and resources may be nil to disable resource polling.
func New(cfg *config.Config, sched *scheduler.Scheduler, priceSampler PriceSampler, poller ResourcePoller, resources storage.ResourceStore, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := resources.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler: sched,
		sampler:   priceSampler,
		poller:    poller,
		resources: resources,
		logger:    logger.With().Str("component", "service").Logger(),
		regions:   cfg.Sampler.Regions,
		families:  cfg.Sampler.Families,
		poll:      cfg.Scheduler.PollResources && poller != nil && resources != nil,
		locker:    locker,
		lockKey:   cfg.Scheduler.AdvisoryLockKey,
	}
}

// Run begins the watch loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, func(ctx context.Context, bucket time.Time) error {
		_, err := s.Tick(ctx, bucket)
		return err
	})
}

// Tick runs one watch cycle unless another process holds the advisory lock.
func (s *Service) Tick(ctx context.Context, bucket time.Time) (TickSummary, error) {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return TickSummary{}, err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Msg("skip bucket because advisory lock held elsewhere")
		return TickSummary{Skipped: true}, nil
	}
	if unlock != nil {
		defer unlock()
	}

	var summary TickSummary
	res, err := s.sampler.Sample(ctx, s.regions, s.families)
	if err != nil {
		return summary, fmt.Errorf("sample prices: %w", err)
	}
	summary.Points = len(res.Points)
	summary.Anomalies = len(res.Anomalies)
	summary.FailedRegions = len(res.RegionErrors)

	if s.poll {
		summary.Polled, summary.PollFailures = s.pollOpenResources(ctx)
	}

	s.logger.Info().Time("bucket", bucket).
		Int("points", summary.Points).
		Int("anomalies", summary.Anomalies).
		Int("failed_regions", summary.FailedRegions).
		Int("polled", summary.Polled).
		Int("poll_failures", summary.PollFailures).
		Msg("watch tick complete")

	return summary, nil
}

func (s *Service) pollOpenResources(ctx context.Context) (polled, failed int) {
	open, err := s.resources.ListOpenResources(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list open resources")
		return 0, 0
	}
	for _, res := range open {
		if ctx.Err() != nil {
			break
		}
		polled++
		if _, err := s.poller.Poll(ctx, res.OwnerID, res.ID); err != nil {
			failed++
			level := zerolog.ErrorLevel
			if errors.Is(err, domain.ErrUpstream) {
				level = zerolog.WarnLevel
			}
			s.logger.WithLevel(level).Err(err).Str("resource_id", res.ID).Msg("failed to poll resource")
		}
	}
	return polled, failed
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
