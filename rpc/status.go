// Package rpc serves the operator-facing HTTP status endpoint of a banknode
// daemon.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bcrnode/banknode"
	"bcrnode/core/types"
	"bcrnode/crypto"
	"bcrnode/observability/logging"
)

const (
	readHeaderTimeout = 5 * time.Second
	stopTimeout       = 30 * time.Second
	maxRequestBytes   = 1 << 16
)

// Controller is the subset of the banknode controller exposed over HTTP.
type Controller interface {
	Snapshot() banknode.Snapshot
	Stop(ctx context.Context) error
	EnableHotCold(ctx context.Context, vin types.OutPoint, service types.Service) error
	RegisterRemote(ctx context.Context, service types.Service, operator crypto.OperatorKey, vin types.OutPoint) error
	RegisterByAddress(ctx context.Context, service types.Service, operator crypto.OperatorKey, collateralAddress crypto.Address) error
	StopRemote(ctx context.Context, vin types.OutPoint, service types.Service, operator crypto.OperatorKey) error
}

var _ Controller = (*banknode.Controller)(nil)

// Lister enumerates known banknodes.
type Lister interface {
	List() []types.BanknodeEntry
}

// StatusResponse is the body returned by GET /status.
type StatusResponse struct {
	Status     string `json:"status"`
	Code       int    `json:"code"`
	ReasonKind string `json:"reasonKind,omitempty"`
	Reason     string `json:"reason,omitempty"`
	OutPoint   string `json:"outpoint,omitempty"`
	Service    string `json:"service,omitempty"`
	Held       bool   `json:"collateralHeld"`
}

// BanknodeView is one element returned by GET /banknodes.
type BanknodeView struct {
	OutPoint        string `json:"outpoint"`
	Service         string `json:"service"`
	SigTime         int64  `json:"sigTime"`
	LastSeen        int64  `json:"lastSeen"`
	ProtocolVersion uint32 `json:"protocolVersion"`
}

// RemoteRequest is the body of the remote banknode endpoints. OperatorKey
// overrides the node's configured operator key when set.
type RemoteRequest struct {
	OutPoint          string `json:"outpoint,omitempty"`
	Service           string `json:"service"`
	CollateralAddress string `json:"collateralAddress,omitempty"`
	OperatorKey       string `json:"operatorKey,omitempty"`
}

// RemoteResponse acknowledges a remote register or stop.
type RemoteResponse struct {
	Action   string `json:"action"`
	OutPoint string `json:"outpoint,omitempty"`
	Service  string `json:"service"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// Server exposes status, directory listing, stop, remote banknode and
// metrics endpoints.
type Server struct {
	controller Controller
	lister     Lister
	keys       banknode.OperatorKeySource
	logger     *slog.Logger
	router     http.Handler
}

// ServerOption customises a Server.
type ServerOption func(*Server)

// WithOperatorKeys sets the key used by remote requests that carry no
// operator key of their own.
func WithOperatorKeys(keys banknode.OperatorKeySource) ServerOption {
	return func(s *Server) {
		s.keys = keys
	}
}

// NewServer builds the router. controller may be nil when the node does not
// run a banknode; the controller endpoints then answer 404.
func NewServer(controller Controller, lister Lister, logger *slog.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{controller: controller, lister: lister, logger: logger.With(slog.String("component", "status_rpc"))}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/status", s.handleStatus)
	r.Post("/stop", s.handleStop)
	r.Post("/enable-remote", s.handleEnableRemote)
	r.Post("/register-remote", s.handleRegisterRemote)
	r.Post("/stop-remote", s.handleStopRemote)
	r.Get("/banknodes", s.handleList)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("Status request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("code", ww.Status()),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("request_id", chimw.GetReqID(r.Context())))
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.controller == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "banknode not enabled"})
		return
	}
	snap := s.controller.Snapshot()
	resp := StatusResponse{
		Status:   snap.Status.String(),
		Code:     int(snap.Status),
		OutPoint: snap.OutPoint,
		Service:  snap.Service,
		Held:     snap.Held,
		Reason:   snap.Reason,
	}
	if snap.ReasonKind != banknode.KindNone {
		resp.ReasonKind = snap.ReasonKind.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if s.controller == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "banknode not enabled"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), stopTimeout)
	defer cancel()
	if err := s.controller.Stop(ctx); err != nil {
		writeControllerError(w, err)
		return
	}
	s.handleStatus(w, r)
}

func (s *Server) handleEnableRemote(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRemote(w, r)
	if !ok {
		return
	}
	vin, service, ok := parseTarget(w, req)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), stopTimeout)
	defer cancel()
	if err := s.controller.EnableHotCold(ctx, vin, service); err != nil {
		writeControllerError(w, err)
		return
	}
	s.handleStatus(w, r)
}

func (s *Server) handleRegisterRemote(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRemote(w, r)
	if !ok {
		return
	}
	service, err := types.ParseService(req.Service)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	operator, ok := s.operatorKey(w, req)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), stopTimeout)
	defer cancel()

	resp := RemoteResponse{Action: "register", Service: service.String()}
	switch {
	case req.OutPoint != "" && req.CollateralAddress != "":
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "outpoint and collateralAddress are exclusive"})
		return
	case req.OutPoint != "":
		vin, err := types.ParseOutPoint(req.OutPoint)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		if err := s.controller.RegisterRemote(ctx, service, operator, vin); err != nil {
			writeControllerError(w, err)
			return
		}
		resp.OutPoint = vin.String()
	case req.CollateralAddress != "":
		addr, err := crypto.DecodeAddress(req.CollateralAddress)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		s.logger.Info("Registering remote banknode by collateral address",
			slog.String("service", service.String()),
			logging.MaskField("collateral_address", addr.String()))
		if err := s.controller.RegisterByAddress(ctx, service, operator, addr); err != nil {
			writeControllerError(w, err)
			return
		}
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "outpoint or collateralAddress required"})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStopRemote(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRemote(w, r)
	if !ok {
		return
	}
	vin, service, ok := parseTarget(w, req)
	if !ok {
		return
	}
	operator, ok := s.operatorKey(w, req)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), stopTimeout)
	defer cancel()
	if err := s.controller.StopRemote(ctx, vin, service, operator); err != nil {
		writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RemoteResponse{Action: "stop", OutPoint: vin.String(), Service: service.String()})
}

func (s *Server) decodeRemote(w http.ResponseWriter, r *http.Request) (RemoteRequest, bool) {
	if s.controller == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "banknode not enabled"})
		return RemoteRequest{}, false
	}
	var req RemoteRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return RemoteRequest{}, false
	}
	return req, true
}

func parseTarget(w http.ResponseWriter, req RemoteRequest) (types.OutPoint, types.Service, bool) {
	vin, err := types.ParseOutPoint(req.OutPoint)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return types.OutPoint{}, types.Service{}, false
	}
	service, err := types.ParseService(req.Service)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return types.OutPoint{}, types.Service{}, false
	}
	return vin, service, true
}

func (s *Server) operatorKey(w http.ResponseWriter, req RemoteRequest) (crypto.OperatorKey, bool) {
	if req.OperatorKey != "" {
		key, err := crypto.ParseOperatorKey(req.OperatorKey)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "operator key: " + err.Error()})
			return crypto.OperatorKey{}, false
		}
		return key, true
	}
	if s.keys == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "operatorKey required"})
		return crypto.OperatorKey{}, false
	}
	key, err := s.keys()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error(), Kind: banknode.KindOperatorKey.String()})
		return crypto.OperatorKey{}, false
	}
	return key, true
}

func writeControllerError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrInvalidService):
		status = http.StatusBadRequest
	case errors.Is(err, banknode.ErrNotRunning):
		status = http.StatusConflict
	case errors.Is(err, banknode.ErrNotInDirectory):
		status = http.StatusNotFound
	case errors.Is(err, banknode.ErrNoCollateral), errors.Is(err, banknode.ErrCollateralKey):
		status = http.StatusUnprocessableEntity
	}
	resp := errorResponse{Error: err.Error()}
	if kind := banknode.KindOf(err); kind != banknode.KindNone {
		resp.Kind = kind.String()
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	var entries []types.BanknodeEntry
	if s.lister != nil {
		entries = s.lister.List()
	}
	views := make([]BanknodeView, 0, len(entries))
	for _, e := range entries {
		views = append(views, BanknodeView{
			OutPoint:        e.OutPoint.String(),
			Service:         e.Service.String(),
			SigTime:         e.SigTime,
			LastSeen:        e.LastSeen,
			ProtocolVersion: e.ProtocolVersion,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

// Serve runs the status server on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Status server listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), readHeaderTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
