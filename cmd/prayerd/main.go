package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"prayerd/internal/aladhan"
	"prayerd/internal/config"
	"prayerd/internal/engine"
	"prayerd/internal/hub"
	appLog "prayerd/internal/log"
	"prayerd/internal/store"
	"prayerd/internal/web"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	dataDir    string
	once       bool
}

func main() {
	appLog.Info("prayerd starting", "version", "0.1.0")

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI overrides win over the config file.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.dataDir != "" {
		conf.DataDir = flags.dataDir
	}

	tz := resolveTimezoneOrLocal(conf.Timezone)

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", tz.String(),
		"data_dir", conf.DataDir,
		"refresh", conf.RefreshCron,
		"method", conf.Method,
		"grace_minutes", conf.GraceMinutes,
		"lock_enabled", conf.LockEnabled,
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	st, err := store.Open(conf.DataDir)
	if err != nil {
		appLog.Error("failed to open state store", err, "data_dir", conf.DataDir)
		os.Exit(1)
	}

	source := aladhan.NewClient(conf.APIBaseURL)

	if flags.once {
		if err := runOnce(ctx, conf, source); err != nil {
			appLog.Error("one-shot lookup failed", err)
			os.Exit(1)
		}
		return
	}

	h := hub.New()
	eng := engine.New(engine.Options{
		Store:     st,
		Broadcast: h,
		Source:    source,
		Timezone:  tz,
	})
	h.SetController(eng)

	defaults := store.Settings{
		Location:     conf.Location,
		Method:       conf.Method,
		GraceMinutes: conf.GraceMinutes,
		LockEnabled:  conf.LockEnabled,
	}
	if err := eng.Startup(ctx, defaults); err != nil {
		appLog.Error("engine startup failed", err)
		os.Exit(1)
	}

	// The daily boundary and the periodic re-fetch are cron-driven in
	// the configured timezone.
	sched := cron.New(cron.WithLocation(tz))
	if _, err := sched.AddFunc("0 0 * * *", func() { eng.Reset(ctx) }); err != nil {
		appLog.Error("failed to register midnight reset", err)
		os.Exit(1)
	}
	if _, err := sched.AddFunc(conf.RefreshCron, func() {
		if err := eng.Refresh(ctx); err != nil && !errors.Is(err, engine.ErrNoLocation) {
			appLog.Error("periodic refresh failed", err)
		}
	}); err != nil {
		appLog.Error("failed to register refresh schedule", err, "refresh", conf.RefreshCron)
		os.Exit(1)
	}
	sched.Start()
	defer sched.Stop()

	srv := &http.Server{
		Addr:    conf.Listen,
		Handler: web.NewServer(conf, eng, h).Handler(),
	}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("HTTP server failed", err)
		}
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("HTTP shutdown failed", err)
	}
	appLog.Info("prayerd exiting")
}

// runOnce performs a single timings lookup with the config-file
// settings and prints the result as JSON. Useful for checking a
// location before running the daemon.
func runOnce(ctx context.Context, conf *config.Config, source *aladhan.Client) error {
	if conf.Location == "" {
		return errors.New("location is not set in the config")
	}
	loc, err := aladhan.ParseLocation(conf.Location)
	if err != nil {
		return err
	}
	tz := resolveTimezoneOrLocal(conf.Timezone)
	timings, err := source.TimingsByCity(ctx, loc, conf.Method, time.Now().In(tz))
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(timings)
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/prayerd/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.dataDir, "data-dir", "", "State store directory (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Fetch today's times once, print them, and exit")

	flag.Parse()

	return cfg
}

func resolveTimezoneOrLocal(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", name)
		return time.Local
	}
	return loc
}
