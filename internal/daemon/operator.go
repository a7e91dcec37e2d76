// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuGH/hm2g/internal/log"
	"github.com/ManuGH/hm2g/internal/middleware"
)

// exportFileName is where a snapshot lands under the data directory.
const exportFileName = "devices.json"

// newOperatorServer builds the operator-facing listener: Prometheus
// metrics, an aggregate health view and a device inventory export. It
// is separate from the RPC listener so the CCU-facing surface stays
// exactly the RPC paths plus its own health check.
func (a *App) newOperatorServer(addr string) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(log.Middleware())

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", a.handleOperatorHealth)
	r.Post("/export", a.handleExport)

	return &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// runOperator serves until ctx is cancelled; shutdown is bounded so a
// slow scrape cannot delay daemon exit.
func (a *App) runOperator(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	a.logger.Info().
		Str(log.FieldEvent, "operator.started").
		Str(log.FieldListenAddr, srv.Addr).
		Msg("operator listener running")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("operator listener: %w", err)
		}
		return nil
	}
}

// operatorHealth is the aggregate view across components; "degraded"
// means at least one breaker is not closed.
type operatorHealth struct {
	Status     string            `json:"status"`
	Breakers   map[string]string `json:"breakers"`
	Interfaces []string          `json:"interfaces"`
	Devices    int               `json:"devices"`
	Paramsets  int               `json:"paramsets"`
	RPCStarted bool              `json:"rpc_started"`
}

func (a *App) handleOperatorHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if !a.breakers.AllClosed() {
		status = "degraded"
	}
	states := make(map[string]string)
	for id, st := range a.breakers.States() {
		states[id] = string(st)
	}

	resp := operatorHealth{
		Status:     status,
		Breakers:   states,
		Interfaces: a.unit.InterfaceIDs(),
		RPCStarted: a.rpc.Started(),
	}
	if counts, err := a.store.Counts(r.Context()); err == nil {
		resp.Devices = counts.Devices
		resp.Paramsets = counts.Paramsets
	}

	w.Header().Set("Content-Type", "application/json")
	if status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// handleExport writes a crash-safe JSON snapshot of the device
// inventory next to the store and reports where it landed.
func (a *App) handleExport(w http.ResponseWriter, r *http.Request) {
	path := filepath.Join(a.holder.Get().DataDir, exportFileName)
	if err := a.store.ExportJSON(r.Context(), path); err != nil {
		a.logger.Error().
			Err(err).
			Str(log.FieldEvent, "operator.export_failed").
			Msg("inventory export failed")
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"path": path})
}
