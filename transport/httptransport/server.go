package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	syncErrors "github.com/c0deZ3R0/listsync/errors"
	"github.com/c0deZ3R0/listsync/logging"
	"github.com/c0deZ3R0/listsync/model"
	"github.com/c0deZ3R0/listsync/reconcile"
	"github.com/c0deZ3R0/listsync/remote"
	"github.com/c0deZ3R0/listsync/store"
	"github.com/c0deZ3R0/listsync/transport/sse"
)

const serverComponent = "transport/http-server"

type deviceKey struct{}

// Server is a development remote: it keeps the replica in a store.Store and
// one baseline per device. A pushed device snapshot is merged into the
// replica against that device's baseline; conflicting fields go to the
// device.
type Server struct {
	store    store.Store
	planner  *reconcile.Planner
	executor *reconcile.Executor
	options  *ServerOptions
	logger   *slog.Logger
	router   chi.Router

	// mu serializes merges and guards baselines.
	mu        sync.Mutex
	baselines map[string]*model.Snapshot

	status      atomic.Value // remote.AccountStatus
	revision    atomic.Int64
	unsubscribe func()

	limMu    sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewServer creates a Server backed by s.
func NewServer(s store.Store, opts ...ServerOption) *Server {
	srv := &Server{
		store:     s,
		options:   DefaultServerOptions(),
		baselines: make(map[string]*model.Snapshot),
		limiters:  make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(srv)
	}
	srv.logger = logging.OrDefault(srv.logger, serverComponent)
	srv.planner = reconcile.NewPlanner(reconcile.WithPlannerLogger(srv.logger))
	srv.executor = reconcile.NewExecutor(s, reconcile.WithExecutorLogger(srv.logger))
	srv.status.Store(remote.AccountAvailable)
	srv.unsubscribe = s.Subscribe(func(store.ChangeEvent) { srv.revision.Add(1) })
	srv.router = srv.routes()
	return srv
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Use(s.requireDevice)
		r.Use(s.rateLimit)
		r.Get("/events", sse.NewServer(s, s.logger).Handler().ServeHTTP)
		r.Group(func(r chi.Router) {
			if s.options.RequestTimeout > 0 {
				r.Use(middleware.Timeout(s.options.RequestTimeout))
			}
			r.Get("/account", s.handleAccount)
			r.Get("/snapshot", s.handleSnapshot)
			r.Post("/wake", s.handleWake)
		})
	})
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// SetAccountStatus changes what GET /v1/account reports. Any status other
// than available makes snapshot and wake requests fail with 503.
func (s *Server) SetAccountStatus(st remote.AccountStatus) {
	s.status.Store(st)
}

func (s *Server) accountStatus() remote.AccountStatus {
	return s.status.Load().(remote.AccountStatus)
}

// Revision counts replica changes since the server started.
func (s *Server) Revision() int64 {
	return s.revision.Load()
}

// Baseline returns a copy of the baseline recorded for device.
func (s *Server) Baseline(device string) *model.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baselines[device].Clone()
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully within ShutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	hs := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Remote server listening", slog.String("addr", addr))
		errCh <- hs.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.options.ShutdownTimeout)
	defer cancel()
	s.logger.Info("Remote server shutting down")
	return hs.Shutdown(shutdownCtx)
}

// Close stops tracking store changes. The store is owned by the caller.
func (s *Server) Close() error {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	return nil
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, code int, payload interface{}) {
	respondWithJSON(w, r, code, payload, s.options)
}

func (s *Server) respondErr(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	respondWithError(w, r, status, code, message, s.options)
}

func (s *Server) requireDevice(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		device := r.URL.Query().Get("device")
		if device == "" {
			s.respondErr(w, r, http.StatusBadRequest, codeBadRequest, "device query parameter is required")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), deviceKey{}, device)))
	})
}

func deviceFrom(ctx context.Context) string {
	device, _ := ctx.Value(deviceKey{}).(string)
	return device
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.options.RateLimit > 0 && !s.limiter(deviceFrom(r.Context())).Allow() {
			w.Header().Set("Retry-After", "1")
			s.respondErr(w, r, http.StatusTooManyRequests, codeRateLimited, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) limiter(device string) *rate.Limiter {
	s.limMu.Lock()
	defer s.limMu.Unlock()
	l, ok := s.limiters[device]
	if !ok {
		l = rate.NewLimiter(rate.Limit(s.options.RateLimit), max(s.options.RateBurst, 1))
		s.limiters[device] = l
	}
	return l
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, http.StatusOK, accountResponse{Status: s.accountStatus()})
}

func (s *Server) available(w http.ResponseWriter, r *http.Request) bool {
	if st := s.accountStatus(); !st.Available() {
		s.respondErr(w, r, http.StatusServiceUnavailable, codeUnavailable, fmt.Sprintf("account %s", st))
		return false
	}
	return true
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if !s.available(w, r) {
		return
	}
	ctx := r.Context()
	device := deviceFrom(ctx)

	s.mu.Lock()
	snap, err := s.store.Snapshot(ctx)
	baseline := s.baselines[device].Clone()
	s.mu.Unlock()
	if err != nil {
		s.logger.ErrorContext(ctx, "Snapshot failed", slog.Any("error", err))
		s.respondErr(w, r, http.StatusInternalServerError, codeInternal, "failed to read replica")
		return
	}

	s.respond(w, r, http.StatusOK, remote.Replica{
		Snapshot:  snap,
		Baseline:  baseline,
		Revision:  strconv.FormatInt(s.revision.Load(), 10),
		FetchedAt: time.Now().UTC(),
	})
}

func (s *Server) handleWake(w http.ResponseWriter, r *http.Request) {
	if !s.available(w, r) {
		return
	}
	ctx := r.Context()
	device := deviceFrom(ctx)

	reader, cleanup, err := createSafeRequestReader(w, r, s.options)
	if err != nil {
		respondWithMappedError(w, r, err, s.options)
		return
	}
	defer cleanup()

	var pushed model.Snapshot
	if err := json.NewDecoder(reader).Decode(&pushed); err != nil {
		respondWithMappedError(w, r, fmt.Errorf("decode snapshot: %w", err), s.options)
		return
	}

	applied, err := s.merge(ctx, device, &pushed)
	switch {
	case err == nil:
	case syncErrors.IsKind(err, syncErrors.KindValidation):
		s.respondErr(w, r, http.StatusUnprocessableEntity, codeInvalid, err.Error())
		return
	case syncErrors.Is(err, syncErrors.ErrQuotaExceeded):
		s.respondErr(w, r, http.StatusInsufficientStorage, codeQuotaExceeded, err.Error())
		return
	case syncErrors.IsKind(err, syncErrors.KindCancelled):
		s.respondErr(w, r, http.StatusServiceUnavailable, codeUnavailable, "request cancelled")
		return
	default:
		s.logger.ErrorContext(ctx, "Merge failed", slog.String("device", device), slog.Any("error", err))
		s.respondErr(w, r, http.StatusInternalServerError, codeInternal, "merge failed")
		return
	}

	s.respond(w, r, http.StatusOK, wakeResponse{
		Revision: strconv.FormatInt(s.revision.Load(), 10),
		Applied:  applied,
	})
}

// merge folds a device's state into the replica. The device is the
// incoming side, so reconcile.ServerWins hands it every conflict.
func (s *Server) merge(ctx context.Context, device string, pushed *model.Snapshot) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.store.Snapshot(ctx)
	if err != nil {
		return 0, err
	}

	plan, err := s.planner.Plan(ctx, reconcile.Request{
		Mode:     reconcile.ModeSync,
		Local:    current,
		Incoming: pushed,
		Baseline: s.baselines[device],
		Strategy: reconcile.ServerWins{},
	})
	if err != nil {
		return 0, err
	}

	if s.options.QuotaBytes > 0 {
		if used := payloadBytes(plan.Result); used > s.options.QuotaBytes {
			return 0, fmt.Errorf("%w: %d of %d bytes", syncErrors.ErrQuotaExceeded, used, s.options.QuotaBytes)
		}
	}

	res, err := s.executor.Execute(ctx, plan)
	if err != nil {
		return 0, err
	}

	s.baselines[device] = pushed.Clone()
	s.logger.InfoContext(ctx, "Merged device state",
		slog.String("device", device),
		slog.Int("operations", res.Applied),
		slog.Int("conflict_count", res.Conflicts),
	)
	return res.Applied, nil
}

func payloadBytes(s *model.Snapshot) int64 {
	var n int64
	if s == nil {
		return 0
	}
	for _, im := range s.Images {
		n += int64(len(im.Data))
	}
	return n
}
