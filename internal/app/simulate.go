package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"spotwatch/internal/domain"
	"spotwatch/internal/provider"
	"spotwatch/internal/storage"
)

// SimulateOptions describe a synthetic price move.
type SimulateOptions struct {
	Family   string
	Region   string
	Zone     string
	Previous decimal.Decimal
	Current  decimal.Decimal
}

// SimulateAnomaly replays a price move through the sampler and the system alert route.
// The synthetic history never reaches the configured store; notification logs do.
func (a *App) SimulateAnomaly(ctx context.Context, opts SimulateOptions) error {
	if !opts.Previous.IsPositive() || !opts.Current.IsPositive() {
		return domain.NewValidationError("price", opts.Current.String(), "previous and current prices must be positive")
	}
	if opts.Zone == "" {
		opts.Zone = opts.Region + "a"
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	now := time.Now().UTC()
	history := storage.NewMemoryStore()
	seedAt := now.Add(-a.Config.Sampler.ReferenceWindow).Add(time.Hour)
	if _, err := history.AppendPricePoints(ctx, []domain.PricePoint{{
		InstanceFamily: opts.Family,
		Region:         opts.Region,
		Zone:           opts.Zone,
		Price:          opts.Previous,
		ObservedAt:     seedAt,
	}}); err != nil {
		return err
	}

	sources := &staticPriceFactory{observation: provider.PriceObservation{
		Family:     opts.Family,
		Zone:       opts.Zone,
		Price:      opts.Current,
		ObservedAt: now,
	}}

	res, err := a.newSampler(sources, history, a.newDispatcher(store)).Sample(ctx, []string{opts.Region}, []string{opts.Family})
	if err != nil {
		return err
	}
	if err := res.Err(); err != nil {
		return err
	}
	if len(res.Events) == 0 {
		return errors.New("simulation produced no price events")
	}

	ev := res.Events[0]
	fmt.Fprintf(a.Out, "%s %s/%s: %s -> %s (%s%%), score %.1f, significant=%t\n",
		ev.InstanceFamily, ev.Region, ev.Zone,
		formatDecimal(ev.PreviousPrice, 4),
		formatDecimal(ev.CurrentPrice, 4),
		formatDecimal(ev.PercentChange, 2),
		ev.AnomalyScore,
		len(res.Anomalies) > 0,
	)
	if a.Config.Notification.SystemOwner == "" {
		fmt.Fprintln(a.Out, "notification.system_owner not set; event was logged only")
	}
	return nil
}

type staticPriceFactory struct {
	observation provider.PriceObservation
}

func (s *staticPriceFactory) PriceSource(context.Context, string) (provider.PriceSource, error) {
	return s, nil
}

func (s *staticPriceFactory) ResourceProvider(context.Context, string) (provider.ResourceProvider, error) {
	return nil, errors.New("simulation has no resource provider")
}

func (s *staticPriceFactory) DescribePrices(context.Context, []string, string, time.Time) ([]provider.PriceObservation, error) {
	return []provider.PriceObservation{s.observation}, nil
}

var _ provider.Factory = (*staticPriceFactory)(nil)
var _ provider.PriceSource = (*staticPriceFactory)(nil)
