// Package dispute runs the customer dispute workflow: opening a claim, the
// threaded conversation between the parties, and the one-shot admin
// resolution that hands off to settlement.
package dispute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"craftmart/auth"
	"craftmart/authz"
	"craftmart/db"
	"craftmart/lock"
	"craftmart/order"
	"craftmart/outbox"
	"craftmart/settlement"
)

var (
	ErrForbidden               = errors.New("dispute: forbidden")
	ErrInvalidInput            = errors.New("dispute: invalid input")
	ErrInvalidReason           = errors.New("dispute: invalid reason")
	ErrInvalidAction           = errors.New("dispute: invalid action")
	ErrDisputeClosed           = errors.New("dispute: dispute is closed")
	ErrOrderNotDisputable      = errors.New("dispute: order cannot be disputed")
	ErrRefundExceedsOrderTotal = errors.New("dispute: refund exceeds order total")
	ErrIdempotencyConflict     = errors.New("dispute: idempotency key reused with a different message")
)

const (
	maxTextLength = 2000
	maxEvidence   = 10
)

// OrderReader serves non-locking order reads for views.
type OrderReader interface {
	Get(ctx context.Context, id string) (order.Order, error)
	SettledPayment(ctx context.Context, orderID string) (order.Payment, error)
}

// OrderLedger is the subset of order.Ledger the workflow mutates through.
type OrderLedger interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, orderID string) (order.Order, error)
	MarkDisputed(ctx context.Context, tx pgx.Tx, orderID string) (order.Order, error)
}

// Settler finalizes a decision inside the resolve transaction.
type Settler interface {
	Finalize(ctx context.Context, tx pgx.Tx, cs settlement.Case, d settlement.Decision) (settlement.RefundInstruction, error)
}

type Authorizer interface {
	Require(id auth.Identity, obj authz.Object, act authz.Action) error
}

type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

type Service struct {
	pool    db.TxBeginner
	repo    Repository
	orders  OrderReader
	ledger  OrderLedger
	settler Settler
	policy  Authorizer
	outbox  OutboxWriter
	locker  lock.Locker
	now     func() time.Time
	logger  *slog.Logger
}

type Option func(*Service)

// WithLocker serialises resolvers of one dispute across processes.
func WithLocker(l lock.Locker) Option {
	return func(s *Service) { s.locker = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewService(pool db.TxBeginner, repo Repository, orders OrderReader, ledger OrderLedger, settler Settler, policy Authorizer, ob OutboxWriter, opts ...Option) *Service {
	s := &Service{
		pool:    pool,
		repo:    repo,
		orders:  orders,
		ledger:  ledger,
		settler: settler,
		policy:  policy,
		outbox:  ob,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("module", "dispute")
	return s
}

// Create opens a dispute on a paid or fulfilled order owned by the caller
// and freezes the order as disputed.
func (s *Service) Create(ctx context.Context, id auth.Identity, req CreateRequest) (Dispute, error) {
	if err := s.policy.Require(id, authz.ObjectDispute, authz.ActionCreate); err != nil {
		return Dispute{}, ErrForbidden
	}
	if err := validateCreate(req); err != nil {
		return Dispute{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: create: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	o, err := s.ledger.GetForUpdate(ctx, tx, req.OrderID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			return Dispute{}, ErrNotFound
		}
		return Dispute{}, fmt.Errorf("dispute: create: %w", err)
	}
	if o.CustomerID != id.UserID {
		return Dispute{}, ErrForbidden
	}
	active, err := s.repo.HasActive(ctx, tx, o.ID)
	if err != nil {
		return Dispute{}, err
	}
	if active {
		return Dispute{}, ErrActiveDisputeExists
	}
	if o.Status != order.StatusPaid && o.Status != order.StatusFulfilled {
		return Dispute{}, fmt.Errorf("%w: order is %s", ErrOrderNotDisputable, o.Status)
	}

	d, err := s.repo.Insert(ctx, tx, Dispute{
		OrderID:           o.ID,
		CustomerID:        o.CustomerID,
		VendorID:          o.VendorID,
		Reason:            req.Reason,
		Description:       strings.TrimSpace(req.Description),
		Evidence:          req.Evidence,
		Status:            StatusOpen,
		OrderStatusBefore: o.Status,
	})
	if err != nil {
		return Dispute{}, err
	}
	if _, err := s.ledger.MarkDisputed(ctx, tx, o.ID); err != nil {
		return Dispute{}, fmt.Errorf("dispute: create: %w", err)
	}
	if _, err := s.repo.AppendEvent(ctx, tx, Event{
		DisputeID: d.ID,
		Type:      EventOpened,
		AuthorID:  id.UserID,
		Role:      id.Role,
		Message:   d.Description,
	}); err != nil {
		return Dispute{}, err
	}
	if err := s.outbox.Enqueue(ctx, tx, outbox.TopicDisputeOpened, map[string]any{
		"disputeId":  d.ID,
		"orderId":    d.OrderID,
		"customerId": d.CustomerID,
		"vendorId":   d.VendorID,
		"reason":     string(d.Reason),
	}); err != nil {
		return Dispute{}, fmt.Errorf("dispute: create: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Dispute{}, fmt.Errorf("dispute: create: commit: %w", err)
	}

	s.logger.Info("dispute opened", "operation", "create", "outcome", "success", "dispute_id", d.ID, "order_id", d.OrderID)
	return d, nil
}

// Respond appends a message to the dispute thread. seq and createdAt are
// assigned under the dispute row lock, so thread order is the order the
// server accepted the messages. A retry by the same author carrying the same
// idempotency key returns the original response; reusing the key for a
// different message is ErrIdempotencyConflict.
func (s *Service) Respond(ctx context.Context, id auth.Identity, disputeID, message, idempotencyKey string) (Response, error) {
	if err := s.policy.Require(id, authz.ObjectDispute, authz.ActionRespond); err != nil {
		return Response{}, ErrForbidden
	}
	message = strings.TrimSpace(message)
	if err := validateText("message", message, true); err != nil {
		return Response{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Response{}, fmt.Errorf("dispute: respond: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := s.repo.GetForUpdate(ctx, tx, disputeID)
	if err != nil {
		return Response{}, err
	}
	if !isParty(id, d) {
		return Response{}, ErrForbidden
	}
	if idempotencyKey != "" {
		prior, err := s.repo.EventByClientKey(ctx, tx, d.ID, id.UserID, idempotencyKey)
		if err == nil {
			if prior.Message != message {
				return Response{}, ErrIdempotencyConflict
			}
			return responseFrom(prior), nil
		}
		if !errors.Is(err, ErrEventNotFound) {
			return Response{}, err
		}
	}
	if !d.Status.Active() {
		return Response{}, ErrDisputeClosed
	}

	if id.IsAdmin() && d.Status == StatusOpen {
		if err := s.startReview(ctx, tx, id, d); err != nil {
			return Response{}, err
		}
	}

	ev, err := s.repo.AppendEvent(ctx, tx, Event{
		DisputeID: d.ID,
		Type:      EventResponse,
		AuthorID:  id.UserID,
		Role:      id.Role,
		Message:   message,
		ClientKey: idempotencyKey,
	})
	if err != nil {
		return Response{}, err
	}
	if err := s.outbox.Enqueue(ctx, tx, outbox.TopicDisputeResponded, map[string]any{
		"disputeId": d.ID,
		"seq":       ev.Seq,
		"authorId":  ev.AuthorID,
		"role":      string(ev.Role),
	}); err != nil {
		return Response{}, fmt.Errorf("dispute: respond: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Response{}, fmt.Errorf("dispute: respond: commit: %w", err)
	}
	return responseFrom(ev), nil
}

// StartReview moves an open dispute under admin review. It is a no-op when
// the dispute is already under review.
func (s *Service) StartReview(ctx context.Context, id auth.Identity, disputeID string) (Dispute, error) {
	if err := s.policy.Require(id, authz.ObjectDispute, authz.ActionReview); err != nil {
		return Dispute{}, ErrForbidden
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: review: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := s.repo.GetForUpdate(ctx, tx, disputeID)
	if err != nil {
		return Dispute{}, err
	}
	switch d.Status {
	case StatusResolved:
		return Dispute{}, ErrDisputeClosed
	case StatusUnderReview:
		return d, nil
	}
	if err := s.startReview(ctx, tx, id, d); err != nil {
		return Dispute{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Dispute{}, fmt.Errorf("dispute: review: commit: %w", err)
	}
	d.Status = StatusUnderReview
	return d, nil
}

func (s *Service) startReview(ctx context.Context, tx pgx.Tx, id auth.Identity, d Dispute) error {
	if _, err := s.repo.SetStatus(ctx, tx, d.ID, []Status{StatusOpen}, StatusUnderReview); err != nil {
		return err
	}
	_, err := s.repo.AppendEvent(ctx, tx, Event{
		DisputeID: d.ID,
		Type:      EventReviewStarted,
		AuthorID:  id.UserID,
		Role:      id.Role,
	})
	return err
}

// Resolve records the admin decision exactly once and settles the order in
// the same transaction. The decision is validated against the order total
// before anything is written.
func (s *Service) Resolve(ctx context.Context, id auth.Identity, disputeID string, req ResolveRequest) (Resolution, error) {
	if err := s.policy.Require(id, authz.ObjectDispute, authz.ActionResolve); err != nil {
		return Resolution{}, ErrForbidden
	}
	if !req.Action.Valid() {
		return Resolution{}, fmt.Errorf("%w: %q", ErrInvalidAction, req.Action)
	}
	note := strings.TrimSpace(req.Note)
	if err := validateText("note", note, false); err != nil {
		return Resolution{}, err
	}

	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, "dispute:"+disputeID)
		if err != nil {
			return Resolution{}, err
		}
		defer release()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Resolution{}, fmt.Errorf("dispute: resolve: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := s.repo.GetForUpdate(ctx, tx, disputeID)
	if err != nil {
		return Resolution{}, err
	}
	if d.Status == StatusResolved {
		return Resolution{}, ErrAlreadyResolved
	}
	o, err := s.ledger.GetForUpdate(ctx, tx, d.OrderID)
	if err != nil {
		return Resolution{}, fmt.Errorf("dispute: resolve: %w", err)
	}
	amount, err := decisionAmount(req, o.Total)
	if err != nil {
		return Resolution{}, err
	}

	decision := Decision{
		Action:       req.Action,
		Note:         note,
		RefundAmount: amount,
		DecidedBy:    id.UserID,
		DecidedAt:    s.now(),
	}

	resolved, err := s.repo.SetStatus(ctx, tx, d.ID, []Status{StatusOpen, StatusUnderReview}, StatusResolved)
	if err != nil {
		return Resolution{}, err
	}
	if _, err := s.repo.AppendEvent(ctx, tx, Event{
		DisputeID: d.ID,
		Type:      EventResolved,
		AuthorID:  id.UserID,
		Role:      id.Role,
		Message:   note,
		Decision:  &decision,
	}); err != nil {
		return Resolution{}, err
	}
	refund, err := s.settler.Finalize(ctx, tx, settlement.Case{
		DisputeID:         d.ID,
		OrderID:           d.OrderID,
		OrderStatusBefore: d.OrderStatusBefore,
	}, decision)
	if err != nil {
		s.logger.Error("settlement failed", "operation", "resolve", "outcome", "rolled_back", "dispute_id", d.ID, "error", err)
		return Resolution{}, fmt.Errorf("dispute: resolve: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Resolution{}, fmt.Errorf("dispute: resolve: commit: %w", err)
	}

	s.logger.Info("dispute resolved", "operation", "resolve", "outcome", "success",
		"dispute_id", d.ID, "action", string(decision.Action), "amount", refund.Amount.StringFixed(2))
	return Resolution{Dispute: resolved, Decision: decision, Refund: refund}, nil
}

// decisionAmount validates the requested refund against the order total.
// Over-refunds are rejected, never clamped.
func decisionAmount(req ResolveRequest, total decimal.Decimal) (*decimal.Decimal, error) {
	switch req.Action {
	case ActionFullRefund:
		if req.RefundAmount != nil && !req.RefundAmount.Equal(total) {
			return nil, fmt.Errorf("%w: full refund must equal order total %s", ErrInvalidInput, total.StringFixed(2))
		}
		amount := total
		return &amount, nil
	case ActionPartialRefund:
		if req.RefundAmount == nil || !req.RefundAmount.IsPositive() {
			return nil, fmt.Errorf("%w: partial refund requires a positive amount", ErrInvalidInput)
		}
		if !req.RefundAmount.Equal(req.RefundAmount.Round(2)) {
			return nil, fmt.Errorf("%w: refund amount has more than two decimals", ErrInvalidInput)
		}
		if req.RefundAmount.GreaterThan(total) {
			return nil, fmt.Errorf("%w: %s > %s", ErrRefundExceedsOrderTotal, req.RefundAmount.StringFixed(2), total.StringFixed(2))
		}
		amount := *req.RefundAmount
		return &amount, nil
	case ActionDenyClaim:
		if req.RefundAmount != nil {
			return nil, fmt.Errorf("%w: deny_claim takes no refund amount", ErrInvalidInput)
		}
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidAction, req.Action)
}

// Get returns the dispute thread. Admins additionally receive the review
// panel with the settlement context.
func (s *Service) Get(ctx context.Context, id auth.Identity, disputeID string) (View, error) {
	if err := s.policy.Require(id, authz.ObjectDispute, authz.ActionRead); err != nil {
		return View{}, ErrForbidden
	}
	d, err := s.repo.Get(ctx, disputeID)
	if err != nil {
		return View{}, err
	}
	if !isParty(id, d) {
		return View{}, ErrForbidden
	}
	events, err := s.repo.Events(ctx, d.ID)
	if err != nil {
		return View{}, err
	}

	view := View{Dispute: d, Responses: make([]Response, 0, len(events))}
	for _, ev := range events {
		switch ev.Type {
		case EventResponse:
			view.Responses = append(view.Responses, responseFrom(ev))
		case EventResolved:
			view.Decision = ev.Decision
		}
	}

	if id.IsAdmin() {
		panel, err := s.reviewPanel(ctx, d)
		if err != nil {
			return View{}, err
		}
		view.ReviewPanel = &panel
	}
	return view, nil
}

func (s *Service) reviewPanel(ctx context.Context, d Dispute) (ReviewPanel, error) {
	o, err := s.orders.Get(ctx, d.OrderID)
	if err != nil {
		return ReviewPanel{}, fmt.Errorf("dispute: review panel: %w", err)
	}
	panel := ReviewPanel{
		OrderTotal:       o.Total,
		OrderStatus:      o.Status,
		RefundableAmount: decimal.Zero,
		AllowedActions:   []Action{},
	}
	p, err := s.orders.SettledPayment(ctx, d.OrderID)
	switch {
	case err == nil:
		panel.PaymentReference = p.Reference
	case errors.Is(err, order.ErrPaymentNotFound):
	default:
		return ReviewPanel{}, fmt.Errorf("dispute: review panel: %w", err)
	}
	if d.Status.Active() {
		panel.AllowedActions = []Action{ActionDenyClaim}
		if p.Status == order.PaymentSuccessful {
			panel.RefundableAmount = o.Total
			panel.AllowedActions = []Action{ActionFullRefund, ActionPartialRefund, ActionDenyClaim}
		}
	}
	return panel, nil
}

// ListForOrder returns the dispute history of an order to its parties.
func (s *Service) ListForOrder(ctx context.Context, id auth.Identity, orderID string) ([]Dispute, error) {
	if err := s.policy.Require(id, authz.ObjectDispute, authz.ActionRead); err != nil {
		return nil, ErrForbidden
	}
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("dispute: list: %w", err)
	}
	if !id.IsAdmin() && o.CustomerID != id.UserID && o.VendorID != id.UserID {
		return nil, ErrForbidden
	}
	return s.repo.ListForOrder(ctx, orderID)
}

func isParty(id auth.Identity, d Dispute) bool {
	return id.IsAdmin() || d.CustomerID == id.UserID || d.VendorID == id.UserID
}

func validateCreate(req CreateRequest) error {
	if req.OrderID == "" {
		return fmt.Errorf("%w: orderId is required", ErrInvalidInput)
	}
	if !req.Reason.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidReason, req.Reason)
	}
	if err := validateText("description", strings.TrimSpace(req.Description), true); err != nil {
		return err
	}
	if len(req.Evidence) > maxEvidence {
		return fmt.Errorf("%w: at most %d evidence files", ErrInvalidInput, maxEvidence)
	}
	for _, e := range req.Evidence {
		if strings.TrimSpace(e.Filename) == "" || strings.TrimSpace(e.URL) == "" {
			return fmt.Errorf("%w: evidence needs filename and url", ErrInvalidInput)
		}
	}
	return nil
}

func validateText(field, value string, required bool) error {
	n := utf8.RuneCountInString(value)
	if required && n == 0 {
		return fmt.Errorf("%w: %s is required", ErrInvalidInput, field)
	}
	if n > maxTextLength {
		return fmt.Errorf("%w: %s exceeds %d characters", ErrInvalidInput, field, maxTextLength)
	}
	return nil
}
