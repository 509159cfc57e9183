package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"harvest/internal/config"
	"harvest/internal/extract"
	"harvest/internal/models"
	"harvest/internal/mq"
	"harvest/internal/retry"
	"harvest/internal/services"
	"harvest/internal/store"
	"harvest/internal/store/primary"
	"harvest/internal/store/sqlite"
	"harvest/internal/worker"

	"github.com/hibiken/asynq"
	log "github.com/sirupsen/logrus"
)

// socialClientMargin is the slack the social HTTP client gets on top of the
// actor run timeout.
const socialClientMargin = 30 * time.Second

type App struct {
	Config *config.Config

	JobStore  store.JobStore
	JobClient store.JobClient
	Providers *extract.Registry
	Delivery  *services.DeliveryService

	JobService *services.JobService

	// Pool is set when dispatch.backend is local.
	Pool *worker.Pool
	// MQ is set when dispatch.backend is amqp.
	MQ *mq.Client
}

// NewApp wires the store, providers, delivery client, job service and the
// dispatch backend. Local workers are not started; see StartLocalWorkers.
func NewApp(cfg *config.Config) (*App, error) {
	ctx := context.Background()
	app := &App{Config: cfg}

	configureLogging(cfg)

	if err := app.initJobStore(ctx); err != nil {
		return nil, err
	}
	app.initProviders()
	app.initDelivery()
	app.initJobService()
	if err := app.initJobClient(); err != nil {
		app.cleanupPartialInit()
		return nil, err
	}

	log.WithFields(log.Fields{
		"driver":  cfg.Database.Driver,
		"backend": cfg.Dispatch.Backend,
		"sources": app.Providers.Kinds(),
	}).Info("application initialization complete")
	return app, nil
}

func configureLogging(cfg *config.Config) {
	if lvl, err := log.ParseLevel(cfg.Log.Level); err == nil {
		log.SetLevel(lvl)
	}
	if cfg.Log.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	log.SetOutput(os.Stderr)
}

func (a *App) initJobStore(ctx context.Context) error {
	db := a.Config.Database
	switch db.Driver {
	case "postgres":
		ps, err := primary.NewPrimaryStore(ctx, db.DSN, primary.PoolOptions{MaxConns: db.MaxConns})
		if err != nil {
			return fmt.Errorf("init postgres job store: %w", err)
		}
		a.JobStore = ps
	case "sqlite":
		ss, err := sqlite.New(ctx, db.DSN)
		if err != nil {
			return fmt.Errorf("init sqlite job store: %w", err)
		}
		a.JobStore = ss
	default:
		return fmt.Errorf("unknown database driver %q", db.Driver)
	}
	return nil
}

// initProviders registers one factory per source kind. Providers are built
// on first use, so a missing pdftotext or Apify token only fails jobs of
// that kind.
func (a *App) initProviders() {
	p := a.Config.Providers
	reg := extract.NewRegistry()

	fetchClient := &http.Client{Timeout: p.Web.Timeout}

	reg.Register(models.SourceWeb, func() (extract.Provider, error) {
		if p.Web.Engine == "browser" {
			return extract.NewBrowserProvider(extract.BrowserConfig{
				Path:     p.Browser.Path,
				Proxy:    p.Browser.Proxy,
				Stealth:  p.Browser.Stealth,
				BlockAds: p.Browser.BlockAds,
			})
		}
		return extract.NewWebProvider(fetchClient, p.Web.UserAgent), nil
	})
	reg.Register(models.SourcePDF, func() (extract.Provider, error) {
		return extract.NewPDFProvider(extract.PDFConfig{
			Pdftotext: p.PDF.Pdftotext,
			Pdfinfo:   p.PDF.Pdfinfo,
			Timeout:   p.PDF.Timeout,
		}, nil, fetchClient)
	})
	reg.Register(models.SourceSpreadsheet, func() (extract.Provider, error) {
		return extract.NewSpreadsheetProvider(fetchClient), nil
	})
	reg.Register(models.SourceSocial, func() (extract.Provider, error) {
		return extract.NewSocialProvider(extract.SocialConfig{
			Token:        p.Social.ApifyToken,
			BaseURL:      p.Social.BaseURL,
			DefaultActor: p.Social.DefaultActor,
			Timeout:      p.Social.Timeout,
		}, &http.Client{Timeout: p.Social.Timeout + socialClientMargin})
	})

	a.Providers = reg
}

func (a *App) initDelivery() {
	cb := a.Config.Callback
	client := services.NewHTTPClient(services.DeliveryConfig{
		Timeout:        cb.Timeout,
		ConnectTimeout: cb.ConnectTimeout,
		ReadTimeout:    cb.ReadTimeout,
		IdleTimeout:    cb.IdleTimeout,
		MaxConnections: cb.MaxConnections,
		MaxIdle:        cb.MaxIdle,
		UserAgent:      cb.UserAgent,
	})
	policy := applyRetry(retry.DeliveryPolicy(services.IsRetryableDelivery), a.Config.Retry.Delivery)
	a.Delivery = services.NewDeliveryService(client, policy, cb.UserAgent)
}

func (a *App) initJobService() {
	r := a.Config.Retry
	a.JobService = services.NewJobService(a.JobStore, a.Providers, a.Delivery,
		services.WithExtractionPolicy(applyRetry(retry.ExtractionPolicy(services.IsRetryableExtraction), r.Extraction)),
		services.WithAttemptTimeout(r.AttemptTimeout),
		services.WithSourceAttemptTimeout(models.SourceSocial, socialAttemptTimeout(a.Config)),
		services.WithDispatchBackend(a.Config.Dispatch.Backend),
	)
}

// socialAttemptTimeout covers one whole actor run plus the margin its HTTP
// client gets, so the run is never cut short by the generic attempt timeout.
func socialAttemptTimeout(cfg *config.Config) time.Duration {
	return max(cfg.Retry.AttemptTimeout, cfg.Providers.Social.Timeout+socialClientMargin)
}

func (a *App) initJobClient() error {
	d := a.Config.Dispatch
	switch d.Backend {
	case "local":
		a.Pool = worker.NewPool(a.JobService,
			worker.WithWorkers(d.Concurrency),
			worker.WithQueueSize(d.QueueSize),
			worker.WithJobTimeout(d.JobTimeout),
		)
		a.JobClient = a.Pool
	case "asynq":
		jc, err := store.NewAsynqJobClient(a.RedisOpt(), d.Queue)
		if err != nil {
			return fmt.Errorf("init job client: %w", err)
		}
		a.JobClient = jc
	case "amqp":
		c, err := mq.New(a.Config.AMQP.URL, a.Config.AMQP.Exchange, a.Config.AMQP.Queue)
		if err != nil {
			return fmt.Errorf("init amqp client: %w", err)
		}
		if err := c.SetupTopology(); err != nil {
			c.Close()
			return fmt.Errorf("declare amqp topology: %w", err)
		}
		a.MQ = c
		a.JobClient = c
	default:
		return fmt.Errorf("unknown dispatch backend %q", d.Backend)
	}
	return nil
}

// RedisOpt is the asynq connection used by both the client and the worker.
func (a *App) RedisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     a.Config.Redis.Address,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
	}
}

// StartLocalWorkers starts the in-process pool. It is a no-op for the
// queue backends, whose jobs run in `harvest worker`.
func (a *App) StartLocalWorkers() {
	if a.Pool == nil {
		return
	}
	a.Pool.Start()
	log.WithField("workers", a.Config.Dispatch.Concurrency).Info("local workers started")
}

// Submit validates, persists and dispatches a job on the configured backend.
func (a *App) Submit(ctx context.Context, req services.CreateJobRequest) (*models.Job, error) {
	return a.JobService.Submit(ctx, req, a.JobClient)
}

func (a *App) cleanupPartialInit() {
	if a.JobStore != nil {
		a.JobStore.Close()
	}
}

// Close drains the local pool and releases every resource in reverse
// dependency order.
func (a *App) Close() error {
	var errs []error
	if a.JobClient != nil {
		// Pool.Close drains queued jobs before returning.
		if err := a.JobClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close job client: %w", err))
		}
	}
	if a.Providers != nil {
		log.WithField("providers", a.Providers.Active()).Debug("closing extraction providers")
		if err := a.Providers.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close providers: %w", err))
		}
	}
	if a.Delivery != nil {
		a.Delivery.Close()
	}
	if a.JobStore != nil {
		if err := a.JobStore.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close job store: %w", err))
		}
	}
	return errors.Join(errs...)
}

func applyRetry(p retry.Policy, s config.RetrySettings) retry.Policy {
	if s.MaxAttempts > 0 {
		p.MaxAttempts = s.MaxAttempts
	}
	if s.MaxElapsed > 0 {
		p.MaxElapsed = s.MaxElapsed
	}
	if s.MinBackoff > 0 {
		p.MinBackoff = s.MinBackoff
	}
	if s.MaxBackoff > 0 {
		p.MaxBackoff = s.MaxBackoff
	}
	return p
}
