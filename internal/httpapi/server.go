// Package httpapi exposes the asset registry over a small JSON HTTP API.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/rental"
	"github.com/xraph/rental/asset"
	"github.com/xraph/rental/id"
	"github.com/xraph/rental/settlement"
	"github.com/xraph/rental/token"
)

// handleRetention is how long resolved settlements stay queryable.
const handleRetention = time.Hour

// Server routes HTTP requests to a rental.Registry.
type Server struct {
	reg     *rental.Registry
	tokens  token.Service
	logger  *slog.Logger
	metrics http.Handler
	secret  []byte

	mu      sync.Mutex
	handles map[string]*settlement.Handle

	router chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithJWTSecret makes the server authenticate callers with HS256 bearer
// tokens signed by secret. The token subject is the caller account.
func WithJWTSecret(secret []byte) Option {
	return func(s *Server) { s.secret = secret }
}

// WithMetricsHandler mounts h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// New builds the router for reg. tokens answers balance queries.
func New(reg *rental.Registry, tokens token.Service, opts ...Option) *Server {
	s := &Server{
		reg:     reg,
		tokens:  tokens,
		logger:  slog.Default(),
		handles: make(map[string]*settlement.Handle),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Get("/healthz", s.health)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Group(func(api chi.Router) {
		api.Use(s.authenticate)

		api.Get("/assets", s.listAssets)
		api.Get("/assets/{index}", s.getAsset)
		api.Post("/assets/{index}/use", s.beginUse)
		api.Post("/assets/{index}/inspect", s.beginInspection)
		api.Post("/assets/{index}/return", s.endUseOrInspection)
		api.Get("/settlements/{id}", s.getSettlement)
		api.Get("/balances/{account}", s.getBalance)
	})

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type assetView struct {
	Index     int        `json:"index"`
	Kind      asset.Kind `json:"kind"`
	Holder    string     `json:"holder,omitempty"`
	Version   int64      `json:"version"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func toAssetView(a *asset.Asset) assetView {
	return assetView{
		Index:     a.Index,
		Kind:      a.State.Kind,
		Holder:    string(a.State.Holder),
		Version:   a.Version,
		UpdatedAt: a.UpdatedAt,
	}
}

type settlementView struct {
	ID           string             `json:"id"`
	AssetIndex   int                `json:"asset_index"`
	Receiver     string             `json:"receiver"`
	Amount       string             `json:"amount"`
	Outcome      settlement.Outcome `json:"outcome"`
	Error        string             `json:"error,omitempty"`
	DispatchedAt time.Time          `json:"dispatched_at"`
}

func toSettlementView(h *settlement.Handle) settlementView {
	v := settlementView{
		ID:           h.ID.String(),
		AssetIndex:   h.AssetIndex,
		Receiver:     string(h.Request.Receiver),
		Amount:       h.Request.Amount,
		Outcome:      h.Outcome(),
		DispatchedAt: h.DispatchedAt,
	}
	if err := h.Err(); err != nil {
		v.Error = err.Error()
	}
	return v
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	size, err := s.reg.Size(r.Context())
	if err != nil && !errors.Is(err, rental.ErrNotInitialized) {
		s.writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"initialized": err == nil,
		"size":        size,
		"outstanding": len(s.reg.Outstanding()),
	})
}

func (s *Server) listAssets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := asset.ListOpts{
		Kind:   asset.Kind(q.Get("kind")),
		Holder: asset.AccountID(q.Get("holder")),
	}
	if opts.Kind != "" && !opts.Kind.Valid() {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "unknown kind "+strconv.Quote(string(opts.Kind)))
		return
	}
	var err error
	if opts.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "limit: "+err.Error())
		return
	}
	if opts.Offset, err = intParam(q.Get("offset")); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "offset: "+err.Error())
		return
	}

	assets, err := s.reg.Assets(r.Context(), opts)
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}
	views := make([]assetView, len(assets))
	for i, a := range assets {
		views[i] = toAssetView(a)
	}
	writeJSON(w, http.StatusOK, map[string]any{"assets": views})
}

func (s *Server) getAsset(w http.ResponseWriter, r *http.Request) {
	index, ok := indexParam(w, r)
	if !ok {
		return
	}
	a, err := s.reg.Asset(r.Context(), index)
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAssetView(a))
}

func (s *Server) beginUse(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.reg.BeginUse)
}

func (s *Server) beginInspection(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.reg.BeginInspection)
}

func (s *Server) transition(w http.ResponseWriter, r *http.Request, op func(context.Context, int) error) {
	index, ok := indexParam(w, r)
	if !ok {
		return
	}
	if err := op(r.Context(), index); err != nil {
		s.writeRegistryError(w, err)
		return
	}
	s.writeAsset(w, r, http.StatusOK, index)
}

func (s *Server) endUseOrInspection(w http.ResponseWriter, r *http.Request) {
	index, ok := indexParam(w, r)
	if !ok {
		return
	}
	h, err := s.reg.EndUseOrInspection(r.Context(), index)
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}
	if h == nil {
		s.writeAsset(w, r, http.StatusOK, index)
		return
	}

	s.track(h)
	w.Header().Set("Location", "/settlements/"+h.ID.String())
	writeJSON(w, http.StatusAccepted, map[string]any{"settlement": toSettlementView(h)})
}

func (s *Server) getSettlement(w http.ResponseWriter, r *http.Request) {
	sid, err := id.ParseSettlementID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	s.mu.Lock()
	h, ok := s.handles[sid.String()]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "settlement "+sid.String()+" not found")
		return
	}
	writeJSON(w, http.StatusOK, toSettlementView(h))
}

func (s *Server) getBalance(w http.ResponseWriter, r *http.Request) {
	account := asset.AccountID(chi.URLParam(r, "account"))
	bal, err := s.tokens.BalanceOf(r.Context(), account)
	if err != nil {
		s.logger.Warn("balance query failed", "account", account, "error", err)
		writeError(w, http.StatusBadGateway, "TOKEN_SERVICE", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account": account,
		"token":   s.reg.TokenAccount(),
		"balance": bal.String(),
	})
}

// writeAsset answers a successful transition with the asset's new state.
func (s *Server) writeAsset(w http.ResponseWriter, r *http.Request, status, index int) {
	a, err := s.reg.Asset(r.Context(), index)
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}
	writeJSON(w, status, toAssetView(a))
}

// track keeps h queryable by ID and forgets settlements resolved more than
// handleRetention ago.
func (s *Server) track(h *settlement.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-handleRetention)
	for k, old := range s.handles {
		if old.Resolved() && old.DispatchedAt.Before(cutoff) {
			delete(s.handles, k)
		}
	}
	s.handles[h.ID.String()] = h
}

func indexParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "index must be an integer")
		return 0, false
	}
	return index, true
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // client went away
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}
