package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"

	"github.com/sirupsen/logrus"

	"teeclub-fetcher/config"
	"teeclub-fetcher/pkg/logging"
	"teeclub-fetcher/pkg/telemetry"
	"teeclub-fetcher/providers"
	"teeclub-fetcher/runner"
	"teeclub-fetcher/store"
)

var errNoTeeTimes error = errors.New("no tee times found for any course/date combination")

func main() {
	var serve *bool = flag.Bool("serve", false, "expose the run trigger over HTTP instead of running once")
	flag.Parse()

	var log *logrus.Entry = logging.NewLogger("fetcher")

	var cfg *config.Config
	var err error
	cfg, err = config.Load()
	if err != nil {
		log.WithError(err).Fatal("configuration error")
	}

	err = telemetry.Init(cfg.SentryDSN, cfg.Release)
	if err != nil {
		log.WithError(err).Fatal("telemetry init failed")
	}
	defer telemetry.Flush()

	var st *store.Store
	st, err = store.New(cfg.SupabaseURL, cfg.SupabaseServiceKey, log)
	if err != nil {
		log.WithError(err).Fatal("supabase client init failed")
	}

	var rotator *providers.ProxyRotator
	rotator, err = providers.NewProxyRotator(cfg.ProxyURLs, providers.RequestTimeout)
	if err != nil {
		log.WithError(err).Fatal("proxy pool init failed")
	}

	var tracker telemetry.SentryTracker
	var client *providers.RetryClient = providers.NewRetryClient(rotator, log, tracker)

	var registry *providers.Registry = providers.NewRegistry()
	registry.Register(providers.CPS, providers.NewCPSProvider(client, log, tracker, providers.CPSLogin{
		Username:     cfg.CPSUsername,
		Password:     cfg.CPSPassword,
		ClientID:     cfg.CPSClientID,
		ClientSecret: cfg.CPSClientSecret,
	}))
	registry.Register(providers.ChronoLightspeed, providers.NewChronoProvider(client, log, tracker))

	var run *runner.Runner = runner.New(registry, st, log, cfg.Concurrency, cfg.FlushEvery, cfg.UpsertBatchSize)

	if *serve {
		startServer(cfg, log, st, run)
		return
	}

	os.Exit(runOnce(context.Background(), cfg, log, st, run))
}

// runOnce executes one full batch run. The exit code distinguishes a clean
// run from "completed with errors" so the cron wrapper can tell them apart.
func runOnce(ctx context.Context, cfg *config.Config, log *logrus.Entry, st *store.Store, run *runner.Runner) int {
	var tracker telemetry.SentryTracker

	var courses []providers.Course
	var err error
	courses, err = st.CoursesByRegion(cfg.RegionIDs, []string{providers.CPS, providers.ChronoLightspeed})
	if err != nil {
		log.WithError(err).Error("course load failed")
		tracker.CaptureError(err, nil)
		return 1
	}
	if len(courses) == 0 {
		log.WithField("regions", cfg.RegionIDs).Error("no courses found for regions")
		return 1
	}

	var summary runner.Summary = run.Run(ctx, courses)

	// A run that produced zero tee times across every course and date means
	// something upstream is broken even if no task reported an error.
	if summary.TotalTeeTimes == 0 {
		log.Error("no tee times found for any course/date combination")
		tracker.CaptureError(errNoTeeTimes, nil)
		return 1
	}

	pingCronCheck(ctx, cfg.CronCheckURL, log)

	if summary.HasErrors() {
		log.Warn("run completed with errors")
		return 1
	}
	return 0
}

// pingCronCheck signals the external cron monitor that a run completed.
// Failures here are logged and ignored; the run result stands on its own.
func pingCronCheck(ctx context.Context, url string, log *logrus.Entry) {
	if url == "" {
		return
	}
	var req *http.Request
	var err error
	req, err = http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		log.WithError(err).Warn("cron check ping failed")
		return
	}
	var resp *http.Response
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		log.WithError(err).Warn("cron check ping failed")
		return
	}
	resp.Body.Close()
}
