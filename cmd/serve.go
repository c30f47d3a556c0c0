package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
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

	"github.com/harborview/tradescope/internal/analyzer"
	"github.com/harborview/tradescope/internal/assist"
	"github.com/harborview/tradescope/internal/model"
	"github.com/harborview/tradescope/internal/quota"
	"github.com/harborview/tradescope/internal/resilience"
	"github.com/harborview/tradescope/internal/schema"
	"github.com/harborview/tradescope/internal/session"
	"github.com/harborview/tradescope/internal/store"
)

// adminHeader grants quota-gate bypass when it matches the configured
// admin secret. The gate is advisory, so this is a convenience, not a
// security boundary.
const adminHeader = "X-Tradescope-Admin"

var servePort int

// serverDeps carries everything the HTTP handlers need, so tests can build
// a router without the full command environment.
type serverDeps struct {
	Store         store.Store
	Gate          *quota.Gate
	Analyzer      *analyzer.Analyzer
	Assist        *assist.Service
	Session       *session.Controller
	AdminSecret   string
	MaxImageBytes int
}

// sessionRunFunc adapts the analyzer to the session controller: one full
// quota-gated run whose dashboard becomes the session's visible state.
func sessionRunFunc(a *analyzer.Analyzer) session.RunFunc {
	return func(ctx context.Context, req model.AnalysisRequest) (*model.DashboardData, error) {
		run, err := a.Analyze(ctx, req)
		if err != nil {
			return nil, err
		}
		if run.Result == nil || run.Result.Dashboard == nil {
			return nil, eris.New("analysis produced no dashboard")
		}
		return run.Result.Dashboard, nil
	}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the analysis HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initAnalyzer(ctx, true)
		if err != nil {
			return err
		}
		defer env.Close()

		deps := &serverDeps{
			Store:         env.Store,
			Gate:          env.Gate,
			Analyzer:      env.Analyzer,
			Assist:        env.Assist,
			Session:       session.NewController(sessionRunFunc(env.Analyzer)),
			AdminSecret:   cfg.Server.AdminSecret,
			MaxImageBytes: cfg.Pipeline.MaxImageBytes,
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(deps),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			// The signal context is already cancelled; give in-flight
			// requests their own grace period.
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func newRouter(deps *serverDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", adminHeader},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/analyze", deps.handleAnalyze)
		r.Post("/analyze/start", deps.handleAnalyzeStart)
		r.Post("/analyze/cancel", deps.handleAnalyzeCancel)
		r.Get("/analyze/state", deps.handleAnalyzeState)
		r.Post("/identify-image", deps.handleIdentifyImage)
		r.Post("/suggest", deps.handleSuggest)
		r.Get("/runs", deps.handleListRuns)
		r.Get("/runs/{runID}", deps.handleGetRun)
		r.Get("/quota", deps.handleQuota)
	})

	return r
}

func (d *serverDeps) isAdmin(r *http.Request) bool {
	return d.AdminSecret != "" && r.Header.Get(adminHeader) == d.AdminSecret
}

func (d *serverDeps) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req model.AnalysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var run *model.Run
	var err error
	if d.isAdmin(r) {
		run, err = d.Analyzer.AnalyzeUnmetered(r.Context(), req)
	} else {
		run, err = d.Analyzer.Analyze(r.Context(), req)
	}
	if err != nil {
		writeAnalysisError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, run.Result)
}

// sessionState is the wire form of a session snapshot.
type sessionState struct {
	Phase     session.Phase        `json:"phase"`
	Handle    session.Handle       `json:"handle"`
	Dashboard *model.DashboardData `json:"dashboard,omitempty"`
	Error     string               `json:"error,omitempty"`
}

func toSessionState(snap session.Snapshot) sessionState {
	out := sessionState{
		Phase:     snap.Phase,
		Handle:    snap.Handle,
		Dashboard: snap.Data,
	}
	if snap.Err != nil {
		out.Error = snap.Err.Error()
	}
	return out
}

// handleAnalyzeStart begins an asynchronous run and returns its handle.
// Starting supersedes any run already in flight; that run's eventual result
// is dropped. The run outlives this request, so its context is detached
// from the request's cancellation.
func (d *serverDeps) handleAnalyzeStart(w http.ResponseWriter, r *http.Request) {
	var req model.AnalysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h := d.Session.Start(context.WithoutCancel(r.Context()), req)
	writeJSON(w, http.StatusAccepted, sessionState{Phase: session.PhaseRunning, Handle: h})
}

// handleAnalyzeCancel invalidates the current run. Cancellation is
// cooperative: in-flight external calls finish, their result is discarded.
func (d *serverDeps) handleAnalyzeCancel(w http.ResponseWriter, r *http.Request) {
	d.Session.Cancel()
	writeJSON(w, http.StatusOK, toSessionState(d.Session.Snapshot()))
}

func (d *serverDeps) handleAnalyzeState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toSessionState(d.Session.Snapshot()))
}

// writeAnalysisError maps pipeline failures to distinct HTTP responses:
// the local daily quota, upstream rate limiting, contract violations, and
// everything else each get their own message.
func writeAnalysisError(w http.ResponseWriter, err error) {
	switch {
	case eris.Is(err, quota.ErrQuotaExceeded):
		writeError(w, http.StatusTooManyRequests, "daily analysis limit reached; resets at midnight")
	case resilience.IsRateLimited(err):
		writeError(w, http.StatusTooManyRequests, "analysis service is rate limited upstream; try again shortly")
	case schema.IsViolation(err):
		writeError(w, http.StatusBadGateway, "analysis returned malformed data; try again")
	case resilience.IsRemote(err):
		writeError(w, http.StatusBadGateway, "analysis service unavailable")
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func (d *serverDeps) handleIdentifyImage(w http.ResponseWriter, r *http.Request) {
	maxBytes := d.MaxImageBytes
	if maxBytes <= 0 {
		maxBytes = assist.DefaultMaxImageBytes
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, int64(maxBytes)))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "image too large")
		return
	}

	mediaType := r.Header.Get("Content-Type")
	result, err := d.Assist.IdentifyImage(r.Context(), body, mediaType)
	if err != nil {
		if schema.IsViolation(err) {
			writeError(w, http.StatusBadGateway, "identification returned malformed data")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (d *serverDeps) handleSuggest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProductName string `json:"product_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	suggestion, err := d.Assist.Suggest(r.Context(), req.ProductName)
	if err != nil {
		if schema.IsViolation(err) {
			writeError(w, http.StatusBadGateway, "suggestion returned malformed data")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, suggestion)
}

func (d *serverDeps) handleListRuns(w http.ResponseWriter, r *http.Request) {
	filter := store.RunFilter{
		Status:      model.RunStatus(r.URL.Query().Get("status")),
		Destination: r.URL.Query().Get("dest"),
	}
	runs, err := d.Store.ListRuns(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list runs failed")
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (d *serverDeps) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := d.Store.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		if eris.Is(err, store.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "get run failed")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (d *serverDeps) handleQuota(w http.ResponseWriter, r *http.Request) {
	remaining, err := d.Gate.Remaining(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "quota lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"remaining": remaining})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
