package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"craftmart/auth"
	"craftmart/catalog"
	"craftmart/dispute"
	"craftmart/order"
)

const (
	maxBodyBytes     = 1 << 20
	defaultListLimit = 20
	maxListLimit     = 100
)

type ctxKey string

const (
	ctxKeyUserID ctxKey = "userID"
	ctxKeyRole   ctxKey = "role"
)

var (
	errMalformedBody   = errors.New("api: malformed request body")
	errUnauthenticated = errors.New("api: authentication required")
	errBadSignature    = errors.New("api: invalid webhook signature")
)

type authService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (auth.Identity, error)
}

type vendorService interface {
	GetByID(ctx context.Context, id string) (catalog.Vendor, error)
	List(ctx context.Context, limit int) ([]catalog.Vendor, error)
}

type orderService interface {
	Create(ctx context.Context, id auth.Identity, req order.CreateRequest) (order.Order, error)
	Get(ctx context.Context, id auth.Identity, orderID string) (order.Order, error)
	Fulfill(ctx context.Context, id auth.Identity, orderID string) (order.Order, error)
	Cancel(ctx context.Context, id auth.Identity, orderID string) (order.Order, error)
	RecordPayment(ctx context.Context, ev order.PaymentEvent) (order.PaymentResult, error)
}

type disputeService interface {
	Create(ctx context.Context, id auth.Identity, req dispute.CreateRequest) (dispute.Dispute, error)
	Get(ctx context.Context, id auth.Identity, disputeID string) (dispute.View, error)
	ListForOrder(ctx context.Context, id auth.Identity, orderID string) ([]dispute.Dispute, error)
	Respond(ctx context.Context, id auth.Identity, disputeID, message, idempotencyKey string) (dispute.Response, error)
	StartReview(ctx context.Context, id auth.Identity, disputeID string) (dispute.Dispute, error)
	Resolve(ctx context.Context, id auth.Identity, disputeID string, req dispute.ResolveRequest) (dispute.Resolution, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Server exposes the engine over HTTP.
type Server struct {
	authService    authService
	vendorService  vendorService
	orderService   orderService
	disputeService disputeService
	database       pinger
	webhookSecret  []byte
	logger         *slog.Logger
}

func (s *Server) log() *slog.Logger {
	if s.logger == nil {
		return slog.Default()
	}
	return s.logger
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)
		r.Get("/vendors", s.handleVendors)
		r.Get("/vendors/{id}", s.handleVendor)
		r.Post("/payments/webhook", s.handlePaymentWebhook)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Post("/orders", s.handleCreateOrder)
			r.Get("/orders/{id}", s.handleOrder)
			r.Post("/orders/{id}/fulfill", s.handleFulfillOrder)
			r.Post("/orders/{id}/cancel", s.handleCancelOrder)
			r.Get("/orders/{id}/disputes", s.handleOrderDisputes)

			r.Post("/disputes", s.handleCreateDispute)
			r.Get("/disputes/{id}", s.handleDispute)
			r.Post("/disputes/{id}/responses", s.handleRespond)
			r.Post("/disputes/{id}/review", s.handleStartReview)
			r.Post("/disputes/{id}/resolve", s.handleResolve)
		})
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		level := slog.LevelInfo
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}
		s.log().Log(r.Context(), level, "http request",
			"module", "http",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"request_id", middleware.GetReqID(r.Context()),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			s.writeError(w, r, errUnauthenticated)
			return
		}
		id, err := s.authService.VerifyToken(strings.TrimSpace(token))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyUserID, id.UserID)
		ctx = context.WithValue(ctx, ctxKeyRole, id.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func identityFrom(r *http.Request) (auth.Identity, bool) {
	userID, _ := r.Context().Value(ctxKeyUserID).(string)
	role, _ := r.Context().Value(ctxKeyRole).(auth.Role)
	if userID == "" || role == "" {
		return auth.Identity{}, false
	}
	return auth.Identity{UserID: userID, Role: role}, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.database != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.database.Ping(ctx); err != nil {
			s.log().ErrorContext(r.Context(), "health check failed", "module", "http", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	user, err := s.authService.Register(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newUserResponse(*user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.authService.Login(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: res.Token, User: newUserResponse(res.User)})
}

func (s *Server) handleVendors(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, r, errMalformedBody)
			return
		}
		limit = min(n, maxListLimit)
	}
	vendors, err := s.vendorService.List(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items := make([]vendorResponse, 0, len(vendors))
	for _, v := range vendors {
		items = append(items, newVendorResponse(v))
	}
	writeJSON(w, http.StatusOK, listResponse[vendorResponse]{Items: items, Total: len(items)})
}

func (s *Server) handleVendor(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathUUID(w, r, catalog.ErrNotFound)
	if !ok {
		return
	}
	v, err := s.vendorService.GetByID(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newVendorResponse(v))
}

// handlePaymentWebhook accepts gateway deliveries. Signatures are verified
// over the raw body before it is decoded.
func (s *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, r, errMalformedBody)
		return
	}
	if !s.validSignature(body, r.Header.Get("X-Signature")) {
		s.writeError(w, r, errBadSignature)
		return
	}

	var ev order.PaymentEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		s.writeError(w, r, errMalformedBody)
		return
	}
	if ev.OrderID != "" {
		if _, err := uuid.Parse(ev.OrderID); err != nil {
			s.writeError(w, r, order.ErrNotFound)
			return
		}
	}

	res, err := s.orderService.RecordPayment(r.Context(), ev)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPaymentResponse(res))
}

func (s *Server) validSignature(body []byte, header string) bool {
	if len(s.webhookSecret) == 0 {
		return true
	}
	got, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(header), "sha256="))
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, s.webhookSecret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	var req order.CreateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	o, err := s.orderService.Create(r.Context(), id, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newOrderResponse(o))
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	s.withOrder(w, r, http.StatusOK, s.orderService.Get)
}

func (s *Server) handleFulfillOrder(w http.ResponseWriter, r *http.Request) {
	s.withOrder(w, r, http.StatusOK, s.orderService.Fulfill)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	s.withOrder(w, r, http.StatusOK, s.orderService.Cancel)
}

func (s *Server) withOrder(w http.ResponseWriter, r *http.Request, status int, op func(context.Context, auth.Identity, string) (order.Order, error)) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	orderID, ok := s.pathUUID(w, r, order.ErrNotFound)
	if !ok {
		return
	}
	o, err := op(r.Context(), id, orderID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, status, newOrderResponse(o))
}

func (s *Server) handleOrderDisputes(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	orderID, ok := s.pathUUID(w, r, order.ErrNotFound)
	if !ok {
		return
	}
	disputes, err := s.disputeService.ListForOrder(r.Context(), id, orderID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items := make([]disputeResponse, 0, len(disputes))
	for _, d := range disputes {
		items = append(items, newDisputeResponse(d))
	}
	writeJSON(w, http.StatusOK, listResponse[disputeResponse]{Items: items, Total: len(items)})
}

func (s *Server) handleCreateDispute(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	var req dispute.CreateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := uuid.Parse(req.OrderID); err != nil {
		s.writeError(w, r, dispute.ErrNotFound)
		return
	}
	d, err := s.disputeService.Create(r.Context(), id, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newDisputeResponse(d))
}

func (s *Server) handleDispute(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	disputeID, ok := s.pathUUID(w, r, dispute.ErrNotFound)
	if !ok {
		return
	}
	view, err := s.disputeService.Get(r.Context(), id, disputeID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newDisputeViewResponse(view))
}

type respondRequest struct {
	Message string `json:"message"`
}

// handleRespond appends to the thread. Clients retrying after a timeout send
// the same Idempotency-Key and get the original response back.
func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	disputeID, ok := s.pathUUID(w, r, dispute.ErrNotFound)
	if !ok {
		return
	}
	var req respondRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	resp, err := s.disputeService.Respond(r.Context(), id, disputeID, req.Message, key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if key != "" {
		w.Header().Set("Idempotency-Key", key)
	}
	writeJSON(w, http.StatusCreated, newThreadEntryResponse(resp))
}

func (s *Server) handleStartReview(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	disputeID, ok := s.pathUUID(w, r, dispute.ErrNotFound)
	if !ok {
		return
	}
	d, err := s.disputeService.StartReview(r.Context(), id, disputeID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newDisputeResponse(d))
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	disputeID, ok := s.pathUUID(w, r, dispute.ErrNotFound)
	if !ok {
		return
	}
	var req dispute.ResolveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.disputeService.Resolve(r.Context(), id, disputeID, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newResolutionResponse(res))
}

func (s *Server) identity(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	id, ok := identityFrom(r)
	if !ok {
		s.writeError(w, r, errUnauthenticated)
	}
	return id, ok
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		s.writeError(w, r, errMalformedBody)
		return "", false
	}
	return id, true
}

// pathUUID rejects ids that cannot exist before they reach the database.
func (s *Server) pathUUID(w http.ResponseWriter, r *http.Request, notFound error) (string, bool) {
	id, ok := s.pathID(w, r)
	if !ok {
		return "", false
	}
	if _, err := uuid.Parse(id); err != nil {
		s.writeError(w, r, notFound)
		return "", false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return errMalformedBody
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
