package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"deskrelay/internal/config"
	"deskrelay/internal/delivery"
	"deskrelay/internal/orchestrator"
	"deskrelay/internal/store"
	"deskrelay/internal/ticket"
	logx "deskrelay/pkg/logx"
)

func main() {
	var (
		cfgPath string
		once    bool
	)
	flag.StringVar(&cfgPath, "config", "", "path to config yaml/json (default $DESKRELAY_CONFIG)")
	flag.BoolVar(&once, "once", false, "run a single trigger invocation and exit (for external schedulers)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfgPath, once); err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string, once bool) error {
	env, err := config.LoadEnv()
	if err != nil {
		return fmt.Errorf("environment: %w", err)
	}
	if cfgPath == "" {
		cfgPath = env.ConfigPath
	}

	mgr := config.NewManager(cfgPath)
	mgr.SetLogger(logx.NewConsole("info"))

	cfg, err := mgr.Load()
	if err != nil {
		return fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	logSvc, log := logx.New(cfg.Logging.Logx())
	defer logSvc.Close()
	mgr.SetLogger(log)

	st, err := store.Open(storeConfig(cfg), log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	if st != nil {
		defer st.Close()
	} else {
		log.Warn("store disabled; dedup markers and run history are off")
	}

	baseURL := cfg.Helpdesk.BaseURL
	if env.HelpdeskBaseURL != "" {
		baseURL = env.HelpdeskBaseURL
	}
	timeout, err := config.ParseDurationField("helpdesk.timeout", cfg.Helpdesk.Timeout)
	if err != nil {
		return err
	}
	fetcher, err := ticket.NewClient(ticket.ClientConfig{
		BaseURL:  baseURL,
		APIKey:   env.HelpdeskAPIKey,
		Timeout:  timeout,
		PageSize: cfg.Helpdesk.PageSize,
	}, log)
	if err != nil {
		return fmt.Errorf("helpdesk client: %w", err)
	}

	chat, err := delivery.NewTelegram(env.TelegramToken)
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	deliverer := delivery.New(cfg.Delivery, chat, log)

	// Every trigger invocation re-reads the config file, so tenant edits
	// take effect on the next firing without coordination.
	orch := orchestrator.New(mgr.Load, fetcher, deliverer, st, log)

	if once {
		return orch.Trigger(ctx)
	}
	return runDaemon(ctx, cfg, mgr, logSvc, orch, log)
}

// runDaemon fires the trigger on the configured cron cadence and keeps
// the logging config hot-reloadable while the process lives.
func runDaemon(ctx context.Context, cfg *config.Config, mgr *config.Manager, logSvc *logx.Service, orch *orchestrator.Service, log logx.Logger) error {
	// React to config file edits: only logging settings apply live here;
	// everything else is picked up by the per-trigger reload.
	go func() {
		_ = mgr.Watch(ctx)
	}()
	sub := mgr.Subscribe(1)
	defer mgr.Unsubscribe(sub)
	go func() {
		for updated := range sub {
			if updated == nil {
				continue
			}
			logSvc.Apply(updated.Logging.Logx())
			log.Info("config reloaded", logx.Int("tenants", len(updated.Tenants)))
		}
	}()

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser))
	spec := cfg.Trigger.CronSpec()
	_, err := c.AddFunc(spec, func() {
		if err := orch.Trigger(ctx); err != nil {
			// Config-store failures and other run-fatal conditions land
			// here; the run log has per-tenant detail for everything else.
			log.Error("trigger run failed", logx.Err(err))
		}
	})
	if err != nil {
		return fmt.Errorf("trigger cron %q: %w", spec, err)
	}

	log.Info("deskrelay started",
		logx.String("trigger", spec),
		logx.String("mode", cfg.Trigger.Mode),
		logx.Int("tenants", len(cfg.Tenants)),
	)
	c.Start()
	<-ctx.Done()

	stopped := c.Stop()
	select {
	case <-stopped.Done():
	case <-time.After(30 * time.Second):
		log.Warn("shutdown timed out waiting for in-flight run")
	}
	log.Info("deskrelay stopped")
	return nil
}

func storeConfig(cfg *config.Config) store.Config {
	sc, err := cfg.Store.Store()
	if err != nil {
		// Finalize() already validated the durations.
		return store.Config{}
	}
	return sc
}
