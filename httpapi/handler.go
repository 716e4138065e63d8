// Package httpapi exposes the billing engine over HTTP.
//
// Routes, relative to the configured base path:
//
//	GET  /healthz
//	GET  /services
//	POST /accounts
//	GET  /accounts/{account}
//	GET  /accounts/{account}/history
//	POST /accounts/{account}/requests/{service}
//	GET  /accounts/{account}/secure-config
//	PUT  /accounts/{account}/secure-config
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/xraph/billing"
	"github.com/xraph/billing/types"
)

// DefaultMaxBodyBytes caps request bodies when no limit is configured.
const DefaultMaxBodyBytes int64 = 1 << 20

// Handler serves the billing routes for one engine.
type Handler struct {
	engine   *billing.Engine
	logger   *slog.Logger
	basePath string
	maxBody  int64
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

// WithBasePath mounts every route under prefix, e.g. "/v1".
func WithBasePath(prefix string) Option {
	return func(h *Handler) { h.basePath = prefix }
}

// WithMaxBodyBytes limits the size of request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBody = n
		}
	}
}

// New builds a Handler for engine.
func New(engine *billing.Engine, opts ...Option) *Handler {
	h := &Handler{
		engine:  engine,
		logger:  slog.Default(),
		maxBody: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router returns a router with the billing routes and middleware attached.
// Extra routes, such as a metrics endpoint, can be added by the caller.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(requestIDMiddleware, recoverMiddleware(h.logger), loggingMiddleware(h.logger))
	h.Mount(r)
	return r
}

// Mount registers the billing routes on r.
func (h *Handler) Mount(r *mux.Router) {
	api := r
	if h.basePath != "" && h.basePath != "/" {
		api = r.PathPrefix(h.basePath).Subrouter()
	}

	api.HandleFunc("/healthz", h.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/services", h.handleServices).Methods(http.MethodGet)

	accounts := api.PathPrefix("/accounts").Subrouter()
	accounts.HandleFunc("", h.handleOpenAccount).Methods(http.MethodPost)
	accounts.HandleFunc("/{account}", h.handleGetAccount).Methods(http.MethodGet)
	accounts.HandleFunc("/{account}/history", h.handleHistory).Methods(http.MethodGet)
	accounts.HandleFunc("/{account}/requests/{service}", h.handleProcess).Methods(http.MethodPost)
	accounts.HandleFunc("/{account}/secure-config", h.handleGetSecureConfig).Methods(http.MethodGet)
	accounts.HandleFunc("/{account}/secure-config", h.handleSetSecureConfig).Methods(http.MethodPut)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type serviceView struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	UnitPrice types.Money `json:"unit_price"`
}

func (h *Handler) handleServices(w http.ResponseWriter, _ *http.Request) {
	adapters := h.engine.Adapters()
	out := make([]serviceView, 0, len(adapters))
	for _, a := range adapters {
		out = append(out, serviceView{ID: a.ID(), Name: a.Name(), UnitPrice: a.UnitPrice()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"services": out})
}

// openAccountRequest carries the opening balance in major units ("25.00").
type openAccountRequest struct {
	ID       string `json:"id"`
	Balance  string `json:"balance"`
	Currency string `json:"currency"`
}

func (h *Handler) handleOpenAccount(w http.ResponseWriter, r *http.Request) {
	var req openAccountRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	opening := types.Money{Currency: types.NormalizeCurrency(req.Currency)}
	if req.Balance != "" {
		m, err := types.ParseMajor(req.Balance, req.Currency)
		if err != nil {
			h.fail(w, r, billing.ValidationError{Field: "balance", Message: err.Error()})
			return
		}
		opening = m
	}

	acct, err := h.engine.OpenAccount(r.Context(), req.ID, opening)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

func (h *Handler) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := h.engine.Account(r.Context(), mux.Vars(r)["account"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["account"]
	if _, err := h.engine.Account(r.Context(), accountID); err != nil {
		h.fail(w, r, err)
		return
	}
	entries, err := h.engine.History(r.Context(), accountID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) handleProcess(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var payload any
	if r.ContentLength != 0 {
		if err := h.decodePayload(w, r, &payload); err != nil {
			writeError(w, r, http.StatusBadRequest, err)
			return
		}
	}

	res, err := h.engine.ProcessRequest(r.Context(), vars["account"], vars["service"], payload)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleGetSecureConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.engine.GetSecureConfig(r.Context(), mux.Vars(r)["account"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *Handler) handleSetSecureConfig(w http.ResponseWriter, r *http.Request) {
	var cfg map[string]any
	if err := h.decodePayload(w, r, &cfg); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if cfg == nil {
		h.fail(w, r, billing.ValidationError{Field: "body", Message: "must be a JSON object"})
		return
	}
	if err := h.engine.SetSecureConfig(r.Context(), mux.Vars(r)["account"], cfg); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// fail maps an engine error onto a status code and logs server-side
// failures.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "billing request failed",
			"path", r.URL.Path,
			"status", status,
			"request_id", RequestID(r.Context()),
			"error", err,
		)
	}
	writeError(w, r, status, err)
}

// decodeJSON decodes a typed request body, rejecting unknown fields.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, h.maxBody)
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// decodePayload decodes a free-form body. Adapters receive it as plain
// JSON values.
func (h *Handler) decodePayload(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, h.maxBody)
	defer body.Close()
	err := json.NewDecoder(body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	writeJSON(w, status, errorBody{
		Error:     err.Error(),
		Code:      codeFor(err, status),
		RequestID: RequestID(r.Context()),
	})
}
