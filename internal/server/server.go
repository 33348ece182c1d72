// Package server exposes pipeline runs over HTTP.
package server

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"ferroci/internal/core"
	"ferroci/internal/ctxlog"
	"ferroci/internal/ledger"
)

// MaxPipelineBytes bounds the body of POST /pipelines.
const MaxPipelineBytes = 1 << 20

// Statuses reported besides the terminal core.RunStatus values.
const (
	StatusRunning = "running"
	StatusError   = "error"
)

type Server struct {
	runner   *core.Runner
	ledger   *ledger.Ledger
	signer   ed25519.PublicKey // entries must carry this key to verify
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	newID    func() string

	// runs outlive the request that started them
	runCtx    context.Context
	cancelRun context.CancelFunc
	wg        sync.WaitGroup

	mu    sync.Mutex
	runs  map[string]*runRecord
	order []string
}

// New creates a server that runs submitted pipelines with a copy of runner.
// gatherer may be nil to disable /metrics.
func New(runner *core.Runner, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	var signer ed25519.PublicKey
	if len(runner.SigningKey) == ed25519.PrivateKeySize {
		signer = runner.SigningKey.Public().(ed25519.PublicKey)
	}
	ctx, cancel := context.WithCancel(ctxlog.WithLogger(context.Background(), logger))
	return &Server{
		runner:    runner,
		ledger:    runner.Ledger,
		signer:    signer,
		gatherer:  gatherer,
		logger:    logger,
		newID:     uuid.NewString,
		runCtx:    ctx,
		cancelRun: cancel,
		runs:      make(map[string]*runRecord),
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Post("/pipelines", s.handleSubmitPipeline)
	r.Get("/runs", s.handleListRuns)
	r.Get("/runs/{id}", s.handleGetRun)
	r.Get("/ledger/verify", s.handleVerifyLedger)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// ListenAndServe serves the API on addr until ctx is canceled, then shuts
// down and waits for running pipelines.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Serving API.", "addr", ln.Addr().String())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Shutting down API.")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: shutdown: %w", err)
		}
		return s.Drain(shutdownCtx)
	})
	return g.Wait()
}

// Drain waits for every submitted run to finish. When ctx expires first the
// runs stop dispatching new jobs and Drain still waits for the running ones.
func (s *Server) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.logger.Warn("Shutdown deadline reached, canceling runs.")
		s.cancelRun()
		<-done
		return ctx.Err()
	}
}

// Submit starts an asynchronous run of p and returns its ID.
func (s *Server) Submit(p *core.Pipeline) (string, error) {
	if s.runner.Strict {
		if err := p.Validate(); err != nil {
			return "", err
		}
	}

	id := s.newID()
	rec := newRunRecord(id, p)
	s.mu.Lock()
	s.runs[id] = rec
	s.order = append(s.order, id)
	s.mu.Unlock()

	r := *s.runner
	r.NewRunID = func() string { return id }
	r.Observers = append(append([]core.Observer(nil), s.runner.Observers...), &progress{server: s, rec: rec})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := r.RunPipeline(s.runCtx, p); err != nil {
			s.mu.Lock()
			rec.Status, rec.Error, rec.FinishedAt = StatusError, err.Error(), time.Now()
			s.mu.Unlock()
		}
	}()
	return id, nil
}

func (s *Server) handleSubmitPipeline(w http.ResponseWriter, r *http.Request) {
	format, err := requestFormat(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxPipelineBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("read body: %w", err))
		return
	}
	p, err := core.ParsePipeline(data, format)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	id, err := s.Submit(p)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	ctxlog.FromContext(r.Context()).Info("Pipeline submitted.", "run", id, "jobs", p.Len())
	w.Header().Set("Location", "/runs/"+id)
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": StatusRunning})
}

func (s *Server) handleListRuns(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	out := make([]RunSummary, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.runs[id].summary())
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	rec, ok := s.runs[id]
	var view RunView
	if ok {
		view = rec.view()
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("run %q not found", id))
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleVerifyLedger(w http.ResponseWriter, _ *http.Request) {
	if s.ledger == nil {
		writeError(w, http.StatusNotFound, errors.New("ledger disabled"))
		return
	}
	if s.signer == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("no signing key configured"))
		return
	}
	if err := s.ledger.VerifyChainWith(s.signer); err != nil {
		writeJSON(w, http.StatusConflict, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "entries": s.ledger.Len()})
}

// requestFormat reads the pipeline format from ?format= or the Content-Type.
func requestFormat(r *http.Request) (core.Format, error) {
	if f := r.URL.Query().Get("format"); f != "" {
		return core.ParseFormat(f)
	}
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mt {
	case "application/x-yaml", "application/yaml", "text/yaml":
		return core.FormatYAML, nil
	case "application/hcl", "text/x-hcl":
		return core.FormatHCL, nil
	default:
		return core.FormatTOML, nil
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := s.logger.With("request_id", middleware.GetReqID(r.Context()))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r.WithContext(ctxlog.WithLogger(r.Context(), logger)))
		logger.Debug("Request served.", "method", r.Method, "path", r.URL.Path,
			"status", ww.Status(), "duration", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
