package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"glancecal/internal/agg"
	"glancecal/internal/config"
	"glancecal/internal/refresh"
	"glancecal/internal/source"
	"glancecal/internal/store"
	"glancecal/internal/summary"
	"glancecal/internal/weather"
	"glancecal/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	debug      bool
}

func main() {
	flags := parseFlags()

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if flags.debug {
		log.SetLevel(log.DebugLevel)
	}

	log.WithFields(log.Fields{"version": "0.1.0"}).Info("glancecal starting")

	conf, err := config.Load(flags.configPath)
	if err != nil {
		log.WithFields(log.Fields{"config_path": flags.configPath, "error": err}).Fatal("failed to load config")
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	loc, err := time.LoadLocation(conf.Timezone)
	if err != nil {
		log.WithFields(log.Fields{"timezone": conf.Timezone, "error": err}).Fatal("invalid timezone")
	}

	log.WithFields(log.Fields{
		"listen":       conf.Listen,
		"timezone":     conf.Timezone,
		"refresh":      conf.RefreshCron,
		"horizon_days": conf.HorizonDays,
		"sources":      len(conf.Sources),
		"once":         flags.once,
	}).Info("effective config")

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.WithFields(log.Fields{"signal": sig.String()}).Info("signal received, shutting down")
		cancel()
	}()

	st, err := store.Open(conf.DBPath)
	if err != nil {
		log.WithFields(log.Fields{"db_path": conf.DBPath, "error": err}).Fatal("failed to open slot store")
	}
	defer st.Close()

	runner := buildRunner(ctx, conf, st, loc)

	if flags.once {
		// Single unconditional cycle, then exit.
		if err := runner.RunCycle(ctx); err != nil {
			log.WithFields(log.Fields{"error": err}).Error("refresh cycle failed")
			os.Exit(1)
		}
		return
	}

	// Opportunistic refresh at startup.
	if runner.NeedsRefresh(ctx) {
		if err := runner.RunCycle(ctx); err != nil {
			log.WithFields(log.Fields{"error": err}).Warn("initial refresh failed, display keeps cached artifacts")
		}
	}

	sched := cron.New()
	if _, err := sched.AddFunc(conf.RefreshCron, func() {
		if !runner.NeedsRefresh(ctx) {
			log.Debug("skipping scheduled refresh, last cycle is recent enough")
			return
		}
		if err := runner.RunCycle(ctx); err != nil {
			log.WithFields(log.Fields{"error": err}).Warn("scheduled refresh failed")
		}
	}); err != nil {
		log.WithFields(log.Fields{"refresh": conf.RefreshCron, "error": err}).Fatal("invalid refresh schedule")
	}
	sched.Start()
	defer sched.Stop()

	srv := &http.Server{
		Addr:    conf.Listen,
		Handler: web.NewServer(conf, st, newAggregator(conf, st, loc)).Handler(),
	}
	go func() {
		log.WithFields(log.Fields{"listen": "http://" + conf.Listen}).Info("starting display API")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithFields(log.Fields{"error": err}).Error("display API failed")
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithFields(log.Fields{"error": err}).Warn("display API shutdown failed")
	}
	log.Info("glancecal exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/glancecal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one refresh cycle and exit")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}

// weekStartOf maps the config value onto time.Weekday.
func weekStartOf(conf *config.Config) time.Weekday {
	if conf.WeekStart == "sunday" {
		return time.Sunday
	}
	return time.Monday
}

func newAggregator(conf *config.Config, st *store.Store, loc *time.Location) *agg.Aggregator {
	return agg.New(buildSources(conf, st, loc), st, loc, weekStartOf(conf))
}

// buildSources constructs one adapter per configured source.
func buildSources(conf *config.Config, st *store.Store, loc *time.Location) []source.Source {
	sources := make([]source.Source, 0, len(conf.Sources))
	for _, sc := range conf.Sources {
		switch sc.Type {
		case "ics":
			sources = append(sources, source.NewICS(sc.ID, sc.URL, sc.Owner, conf.CacheDir, loc))
		case "api":
			sources = append(sources, source.NewAPI(sc.ID, sc.URL, sc.Owner, loc, tokenFromStore(st)))
		default:
			log.WithFields(log.Fields{"id": sc.ID, "type": sc.Type}).Warn("unknown source type, skipping")
		}
	}
	return sources
}

// tokenFromStore reads the shared auth-token slot at fetch time so token
// rotation by another process takes effect without a restart.
func tokenFromStore(st *store.Store) source.TokenFunc {
	return func(ctx context.Context) string {
		var token string
		status, err := st.Get(ctx, store.SlotAuthToken, &token)
		if err != nil || status == store.Absent {
			return ""
		}
		return token
	}
}

func buildRunner(ctx context.Context, conf *config.Config, st *store.Store, loc *time.Location) *refresh.Runner {
	// Seed the shared auth-token slot from config so sibling processes
	// use the same credentials.
	for _, sc := range conf.Sources {
		if sc.Type == "api" && sc.Token != "" {
			if err := st.Put(ctx, store.SlotAuthToken, sc.Token); err != nil {
				log.WithFields(log.Fields{"error": err}).Warn("failed to seed auth token slot")
			}
			break
		}
	}

	aggregator := newAggregator(conf, st, loc)

	gen := summary.NewGenerator(
		summary.NewClient(
			conf.Generator.Endpoint,
			conf.Generator.APIKey,
			conf.Generator.Model,
			conf.Generator.Temperature,
			conf.Generator.MaxTokens,
		),
		st,
		conf.PrimaryOwner,
		loc,
		conf.Budgets,
	)

	provider := weather.New(st, weather.StaticLocator{
		Lat: conf.Weather.Latitude,
		Lon: conf.Weather.Longitude,
	})

	return refresh.New(
		aggregator,
		gen,
		provider,
		st,
		conf.HorizonDays,
		time.Duration(conf.RefreshIntervalMinutes)*time.Minute,
	)
}
