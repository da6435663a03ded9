package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"mailping/internal/config"
	"mailping/internal/eventbus"
	"mailping/internal/httpapi"
	"mailping/internal/mailer"
	"mailping/internal/messaging"
	"mailping/internal/notify"
	"mailping/internal/scheduler"
	"mailping/internal/store"
	"mailping/pkg/logx"
)

// App wires config, logging, storage, the scheduler, the notification
// pipeline and the HTTP API together.
type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger
	bus  eventbus.Bus

	store *store.SQLiteStore
	sched *scheduler.Service
	ctrl  *messaging.Service
	http  *httpapi.Server

	cancelBg context.CancelFunc
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(logSvc.Logger().With(logx.String("comp", "config")))

	bus := eventbus.New()

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(store.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, logSvc.Logger().With(logx.String("comp", "store")))
	if err != nil {
		return nil, err
	}

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	sched := scheduler.New(schedCfg, st, logSvc.Logger().With(logx.String("comp", "scheduler")), bus)

	sender, err := buildDispatcher(cfg, logSvc)
	if err != nil {
		return nil, err
	}

	task := notify.NewTask(st, st, sender, logSvc.Logger().With(logx.String("comp", "notify")), bus)
	sched.RegisterTask(task.Execute)

	policy := notify.NewDelayPolicy(st)

	cancelTimeout, err := config.ParseDurationOrDefault("notify.cancel_timeout", cfg.Notify.CancelTimeout, 2*time.Second)
	if err != nil {
		return nil, err
	}
	ctrl := messaging.New(st, st, sched, policy, cancelTimeout,
		logSvc.Logger().With(logx.String("comp", "messaging")), bus)

	httpCfg, err := mapHTTPConfig(cfg)
	if err != nil {
		return nil, err
	}
	api := httpapi.New(httpCfg, ctrl, logSvc.Logger().With(logx.String("comp", "http")))

	return &App{
		cfgm:  cfgm,
		logs:  logSvc,
		log:   log,
		bus:   bus,
		store: st,
		sched: sched,
		ctrl:  ctrl,
		http:  api,
	}, nil
}

// Controller exposes the message lifecycle controller (used by tests and
// alternative frontends).
func (a *App) Controller() *messaging.Service { return a.ctrl }

func (a *App) Start(ctx context.Context) error {
	if err := a.sched.Start(ctx); err != nil {
		return err
	}
	if err := a.http.Start(ctx); err != nil {
		a.sched.Stop(context.Background())
		return err
	}

	bgCtx, cancel := context.WithCancel(ctx)
	a.cancelBg = cancel

	// Hot-reload: logging config applies without a restart.
	ch := a.cfgm.Subscribe(1)
	go func() {
		defer a.cfgm.Unsubscribe(ch)
		for {
			select {
			case <-bgCtx.Done():
				return
			case cfg, ok := <-ch:
				if !ok {
					return
				}
				a.logs.Apply(mapLoggingConfig(cfg))
				a.log.Info("logging config applied")
			}
		}
	}()
	go func() {
		if err := a.cfgm.Watch(bgCtx); err != nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	// systemd integration is a no-op outside systemd units.
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err == nil && ok {
		a.log.Debug("systemd readiness notified")
	}
	if interval, err := daemon.SdWatchdogEnabled(false); err == nil && interval > 0 {
		go a.watchdog(bgCtx, interval/2)
	}

	a.log.Info("mailping started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	if a.cancelBg != nil {
		a.cancelBg()
	}
	a.http.Stop(ctx)
	a.sched.Stop(ctx)
	if err := a.store.Close(); err != nil {
		a.log.Warn("store close failed", logx.Err(err))
	}
	a.log.Info("mailping stopped")
	return a.logs.Close()
}

func (a *App) watchdog(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	taskTimeout, err := config.ParseDurationField("scheduler.task_timeout", cfg.Scheduler.TaskTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	retryBase, err := config.ParseDurationField("scheduler.retry_base", cfg.Scheduler.RetryBase)
	if err != nil {
		return scheduler.Config{}, err
	}
	retryMaxDelay, err := config.ParseDurationField("scheduler.retry_max_delay", cfg.Scheduler.RetryMaxDelay)
	if err != nil {
		return scheduler.Config{}, err
	}
	sweepEvery, err := config.ParseDurationField("scheduler.sweep_every", cfg.Scheduler.SweepEvery)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Workers:       cfg.Scheduler.Workers,
		QueueSize:     cfg.Scheduler.QueueSize,
		TaskTimeout:   taskTimeout,
		RetryMax:      cfg.Scheduler.RetryMax,
		RetryBase:     retryBase,
		RetryMaxDelay: retryMaxDelay,
		SweepEvery:    sweepEvery,
	}, nil
}

func mapHTTPConfig(cfg *config.Config) (httpapi.Config, error) {
	readTimeout, err := config.ParseDurationField("http.read_timeout", cfg.HTTP.ReadTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	writeTimeout, err := config.ParseDurationField("http.write_timeout", cfg.HTTP.WriteTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	return httpapi.Config{
		Addr:         cfg.HTTP.Addr,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}, nil
}

func buildDispatcher(cfg *config.Config, logSvc *logx.Service) (mailer.Sender, error) {
	var email mailer.Sender
	if strings.TrimSpace(cfg.Notify.SMTP.Addr) != "" {
		s, err := mailer.NewSMTPSender(mailer.SMTPConfig{
			Addr:     cfg.Notify.SMTP.Addr,
			From:     cfg.Notify.SMTP.From,
			Username: cfg.Notify.SMTP.Username,
			Password: cfg.Notify.SMTP.Password,
		}, logSvc.Logger().With(logx.String("comp", "smtp")))
		if err != nil {
			return nil, err
		}
		email = s
	}

	var telegram mailer.Sender
	if cfg.Notify.Telegram.Enabled {
		t, err := mailer.NewTelegramSender(mailer.TelegramConfig{
			Token: cfg.Notify.Telegram.Token,
		}, logSvc.Logger().With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, err
		}
		telegram = t
	}

	if email == nil && telegram == nil {
		return nil, fmt.Errorf("notify: no channel configured (set notify.smtp.addr or notify.telegram)")
	}

	return mailer.NewDispatcher(email, telegram, cfg.Notify.RatePerSec,
		logSvc.Logger().With(logx.String("comp", "notifier"))), nil
}
