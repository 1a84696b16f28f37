package app

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"spotwatch/internal/config"
	"spotwatch/internal/lifecycle"
	"spotwatch/internal/metrics"
	"spotwatch/internal/notify"
	"spotwatch/internal/provider"
	"spotwatch/internal/provider/ec2spot"
	"spotwatch/internal/sampler"
	"spotwatch/internal/scheduler"
	"spotwatch/internal/service"
	"spotwatch/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer

	providers provider.Factory
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{
		Config: cfg,
		Logger: logger.With().Str("component", "app").Logger(),
		Out:    os.Stdout,
	}
}

func (a *App) providerFactory() provider.Factory {
	if a.providers == nil {
		a.providers = ec2spot.NewFactory(ec2spot.Options{
			Profile: a.Config.AWS.Profile,
			Timeout: a.Config.AWS.RequestTimeout,
		}, a.Logger)
	}
	return a.providers
}

func (a *App) openStore(ctx context.Context) (storage.Backend, func(), error) {
	if a.Config.Database.DSN == "" {
		a.Logger.Warn().Msg("database.dsn not configured; using in-memory store for this process")
		mem := storage.NewMemoryStore()
		return mem, mem.Close, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if a.Config.Database.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
	}
	return store, store.Close, nil
}

func (a *App) newSenders() notify.Senders {
	cfg := a.Config.Notification
	var senders notify.Senders
	if cfg.Email.Enabled {
		senders.Email = notify.NewSMTPEmailSender(cfg.Email.Host, cfg.Email.Port, cfg.Email.Username, cfg.Email.Password, cfg.Email.From, a.Logger)
	}
	if cfg.SMS.Enabled {
		senders.SMS = notify.NewHTTPSMSSender(cfg.SMS.BaseURL, cfg.SMS.Username, cfg.SMS.Password, cfg.ChannelTimeout, a.Logger)
	}
	if cfg.Chat.Enabled {
		senders.Chat = notify.NewWebhookChatSender(cfg.Chat.UserAgent, cfg.ChannelTimeout, a.Logger)
	}
	return senders
}

func (a *App) newDispatcher(store storage.Backend) *notify.Dispatcher {
	return notify.NewDispatcher(notify.Options{
		ChannelTimeout:  a.Config.Notification.ChannelTimeout,
		SystemOwner:     a.Config.Notification.SystemOwner,
		MinAnomalyScore: a.Config.Notification.MinAnomalyScore,
	}, a.newSenders(), store, store, a.Logger)
}

func (a *App) newSampler(sources provider.Factory, store storage.PriceHistoryStore, alerter sampler.SystemAlerter) *sampler.Sampler {
	cfg := a.Config.Sampler
	return sampler.New(sampler.Options{
		ProductDescription: a.Config.AWS.ProductDescription,
		Lookback:           cfg.Lookback,
		ReferenceWindow:    cfg.ReferenceWindow,
		Workers:            cfg.Workers,
		RegionTimeout:      cfg.RegionTimeout,
		SignificantScore:   cfg.SignificantScore,
	}, sources, store, alerter, a.Logger)
}

func (a *App) newManager(store storage.ResourceStore) *lifecycle.Manager {
	aws := a.Config.AWS
	return lifecycle.New(lifecycle.Options{
		Launch: provider.LaunchSpec{
			ImageID:          aws.ImageID,
			KeyName:          aws.KeyName,
			SubnetID:         aws.SubnetID,
			SecurityGroupIDs: aws.SecurityGroupIDs,
		},
	}, a.providerFactory(), store, a.Logger)
}

// Watch runs the long-lived sampling and polling loop.
func (a *App) Watch(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	go func() {
		if err := metrics.Serve(ctx, a.Config.Metrics.ListenAddr, a.Logger); err != nil {
			a.Logger.Error().Err(err).Msg("metrics endpoint stopped")
		}
	}()

	sched := scheduler.New(scheduler.Options{
		Interval:      a.Config.Scheduler.Interval,
		AlignToBucket: a.Config.Scheduler.AlignToBucket,
		StartupDelay:  a.Config.Scheduler.StartupDelay,
		RunOnStart:    a.Config.Scheduler.RunOnStart,
	}, a.Logger)

	dispatcher := a.newDispatcher(store)
	svc := service.New(a.Config, sched, a.newSampler(a.providerFactory(), store, dispatcher), a.newManager(store), store, a.Logger)

	a.Logger.Info().
		Strs("regions", a.Config.Sampler.Regions).
		Strs("families", a.Config.Sampler.Families).
		Dur("interval", a.Config.Scheduler.Interval).
		Msg("starting watch loop")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("watch loop terminated with error")
		return err
	}

	a.Logger.Info().Msg("watch loop stopped")
	return nil
}

// ExportOptions hold parameters for exporting price history.
type ExportOptions struct {
	Family    string
	Region    string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// HistoryOptions configure the history show command.
type HistoryOptions struct {
	Family string
	Region string
	Window time.Duration
	Limit  int
}

// SampleOptions select what a one-off sample covers. Empty slices fall back to config.
type SampleOptions struct {
	Regions  []string
	Families []string
}
