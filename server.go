package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"teeclub-fetcher/config"
	"teeclub-fetcher/runner"
	"teeclub-fetcher/store"
)

// startServer exposes the batch run over HTTP for deployments that trigger
// runs with an external scheduler instead of cron on the host.
func startServer(cfg *config.Config, log *logrus.Entry, st *store.Store, run *runner.Runner) {
	var running atomic.Bool

	var r *chi.Mux = chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Post("/run", func(w http.ResponseWriter, req *http.Request) {
		// Only one run at a time; overlapping runs would hammer the
		// upstream booking APIs and race on the same tee_times rows.
		if !running.CompareAndSwap(false, true) {
			http.Error(w, "a run is already in progress", http.StatusConflict)
			return
		}

		go func() {
			defer running.Store(false)
			runOnce(context.Background(), cfg, log, st, run)
		}()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"status": "started"})
	})

	log.WithField("addr", cfg.ListenAddr).Info("listening")
	var err error = http.ListenAndServe(cfg.ListenAddr, r)
	if err != nil {
		log.WithError(err).Fatal("server failed")
	}
}
