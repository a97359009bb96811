package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lobbyharvest/internal/harvest"
	"github.com/sells-group/lobbyharvest/internal/report"
	"github.com/sells-group/lobbyharvest/internal/source"
)

var servePort int

// maxRequestBody bounds POST /harvest bodies.
const maxRequestBody = 1 << 20

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve harvest queries over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		h, err := initHarvester(cfg)
		if err != nil {
			return err
		}

		return startServer(ctx, buildMux(h), resolvePort(servePort, cfg.Server.Port))
	},
}

// resolvePort prefers the --port flag over the configured port.
func resolvePort(flagPort, cfgPort int) int {
	if flagPort != 0 {
		return flagPort
	}
	return cfgPort
}

// buildMux routes the HTTP API. Every request shares h, and with it the
// registry's per-source rate limiters and the dispatcher's breakers.
func buildMux(h *harvest.Harvester) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/sources", func(w http.ResponseWriter, r *http.Request) {
		entries := h.Registry().All()
		out := make([]sourceInfo, len(entries))
		for i, e := range entries {
			out[i] = sourceInfo{ID: e.ID(), Policy: newPolicyView(e.Policy)}
		}
		writeJSON(w, http.StatusOK, out)
	})

	r.Post("/harvest", func(w http.ResponseWriter, r *http.Request) {
		format := report.FormatJSON
		if f := r.URL.Query().Get("format"); f != "" {
			var err error
			if format, err = report.ParseFormat(f); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
		}

		var q harvest.Query
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&q); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		rep, err := h.Run(r.Context(), q)
		if err != nil {
			// Run only errors on invalid queries: empty firm or unknown source.
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		w.Header().Set("Content-Type", format.ContentType())
		if format == report.FormatCSV {
			w.Header().Set("Content-Disposition",
				fmt.Sprintf("attachment; filename=%q", report.DefaultFilename(rep.FirmName, format, rep.GeneratedAt)))
		}
		w.WriteHeader(http.StatusOK)
		if err := report.Write(w, rep, format); err != nil {
			zap.L().Error("serve: write report", zap.String("run_id", rep.RunID), zap.Error(err))
		}
	})

	return r
}

type sourceInfo struct {
	ID     string     `json:"id"`
	Policy policyView `json:"policy"`
}

// policyView renders durations the way config.yaml and `sources --yaml`
// spell them ("30s").
type policyView struct {
	Timeout      string  `json:"timeout"`
	MaxRetries   int     `json:"max_retries"`
	RetryBackoff string  `json:"retry_backoff"`
	MaxBackoff   string  `json:"max_backoff"`
	RateLimit    float64 `json:"rate_limit"`
	Burst        int     `json:"burst"`
	Enabled      bool    `json:"enabled"`
}

func newPolicyView(p source.Policy) policyView {
	return policyView{
		Timeout:      p.Timeout.String(),
		MaxRetries:   p.MaxRetries,
		RetryBackoff: p.RetryBackoff.String(),
		MaxBackoff:   p.MaxBackoff.String(),
		RateLimit:    p.RateLimit,
		Burst:        p.Burst,
		Enabled:      p.Enabled,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// startServer serves handler on port until ctx is cancelled, then shuts
// down gracefully.
func startServer(ctx context.Context, handler http.Handler, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zap.L().Info("starting server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server listen")
	}

	return nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
