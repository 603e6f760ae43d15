package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/feedback"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/model"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/monitoring"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/release"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/search"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/semantic"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve status, search, and review endpoints over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("port") {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore()
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		provider := semantic.NewFromConfig(cfg.Embed)
		searcher := search.New(st, provider, cfg.Search)
		applier := feedback.NewApplier(st, provider, cfg.Storage.OutputDir, cfg.Storage.Layout, cfg.Feedback)
		collector := monitoring.NewCollector(st)

		checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitor), cfg.Monitor)
		go checker.Run(ctx)

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
			Handler: newRouter(st, searcher, applier, collector, cfg.Server.AllowedOrigins),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Error("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func newRouter(st store.Store, searcher *search.Searcher, applier *feedback.Applier, collector *monitoring.Collector, origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		snap, err := collector.Collect(req.Context())
		if err != nil {
			zap.L().Error("collect status", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "status collection failed")
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	r.Get("/search", func(w http.ResponseWriter, req *http.Request) {
		q := strings.TrimSpace(req.URL.Query().Get("q"))
		if q == "" {
			writeError(w, http.StatusBadRequest, "q is required")
			return
		}
		results, err := searcher.Search(req.Context(), q)
		if err != nil {
			zap.L().Error("search failed", zap.String("query", q), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "search failed")
			return
		}
		if raw := req.URL.Query().Get("limit"); raw != "" {
			if limit, err := strconv.Atoi(raw); err == nil && limit > 0 && limit < len(results) {
				results = results[:limit]
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"query":   q,
			"count":   len(results),
			"results": results,
		})
	})

	r.Post("/review", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			DocID  int64  `json:"doc_id"`
			SHA256 string `json:"sha256"`
			Status string `json:"status"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		label := model.ReviewStatus(strings.ToLower(body.Status))
		if !model.ValidReviewStatus(label) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown label %q", body.Status))
			return
		}

		var docID int64
		switch {
		case body.DocID != 0:
			doc, err := st.GetDocument(req.Context(), body.DocID)
			if err != nil {
				zap.L().Error("document lookup", zap.Int64("doc_id", body.DocID), zap.Error(err))
				writeError(w, http.StatusInternalServerError, "document lookup failed")
				return
			}
			if doc == nil {
				writeError(w, http.StatusNotFound, "document not found")
				return
			}
			docID = body.DocID
		case body.SHA256 != "":
			if !isSHA256Hex(body.SHA256) {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("%q is not a sha256 hash", body.SHA256))
				return
			}
			id, err := st.DocumentIDBySHA256(req.Context(), body.SHA256)
			if err != nil {
				zap.L().Error("document lookup", zap.String("sha256", body.SHA256), zap.Error(err))
				writeError(w, http.StatusInternalServerError, "document lookup failed")
				return
			}
			if id == 0 {
				writeError(w, http.StatusNotFound, "document not found")
				return
			}
			docID = id
		default:
			writeError(w, http.StatusBadRequest, "doc_id or sha256 is required")
			return
		}

		if err := applier.Apply(req.Context(), docID, label); err != nil {
			zap.L().Error("apply review", zap.Int64("doc_id", docID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "review failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"doc_id": docID, "status": label})
	})

	r.Get("/release-diff", func(w http.ResponseWriter, req *http.Request) {
		diff, err := release.LastDiff(req.Context(), st)
		if err != nil {
			zap.L().Error("load release diff", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "release diff load failed")
			return
		}
		if diff == nil {
			writeError(w, http.StatusNotFound, "no release diff recorded")
			return
		}
		writeJSON(w, http.StatusOK, diff)
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
