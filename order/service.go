package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"craftmart/auth"
	"craftmart/authz"
	"craftmart/catalog"
	"craftmart/db"
	"craftmart/outbox"
	"craftmart/pricing"
)

var (
	ErrForbidden           = errors.New("order: forbidden")
	ErrInvalidInput        = errors.New("order: invalid input")
	ErrAmountMismatch      = errors.New("order: payment amount does not match order total")
	ErrIdempotencyConflict = errors.New("order: payment reference reused with different payload")
	ErrOrderNotPayable     = errors.New("order: order is not awaiting payment")
	ErrRefundExceedsTotal  = errors.New("order: refund exceeds order total")
)

// PriceLister resolves the vendor's current listings.
type PriceLister interface {
	PriceList(ctx context.Context, vendorID string, productIDs []string) (map[string]catalog.Product, error)
}

// Authorizer checks role permissions.
type Authorizer interface {
	Require(id auth.Identity, obj authz.Object, act authz.Action) error
}

// OutboxWriter enqueues integration events in the caller's transaction.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Service coordinates checkout, payments and order state transitions.
type Service struct {
	pool        db.TxBeginner
	repo        Repository
	prices      PriceLister
	policy      Authorizer
	outbox      OutboxWriter
	shippingFee decimal.Decimal
	logger      *slog.Logger
}

type Option func(*Service)

// WithShippingFee sets the flat shipping fee added to every order.
func WithShippingFee(fee decimal.Decimal) Option {
	return func(s *Service) { s.shippingFee = fee }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewService(pool db.TxBeginner, repo Repository, prices PriceLister, policy Authorizer, ob OutboxWriter, opts ...Option) *Service {
	s := &Service{
		pool:        pool,
		repo:        repo,
		prices:      prices,
		policy:      policy,
		outbox:      ob,
		shippingFee: decimal.Zero,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("module", "order")
	return s
}

// Create prices the requested lines from the vendor catalog and stores a
// pending order.
func (s *Service) Create(ctx context.Context, id auth.Identity, req CreateRequest) (Order, error) {
	if err := s.policy.Require(id, authz.ObjectOrder, authz.ActionCreate); err != nil {
		return Order{}, ErrForbidden
	}
	if req.VendorID == "" {
		return Order{}, fmt.Errorf("%w: vendorId is required", ErrInvalidInput)
	}
	if _, err := uuid.Parse(req.VendorID); err != nil {
		return Order{}, fmt.Errorf("%w: vendorId %q is not a valid id", ErrInvalidInput, req.VendorID)
	}
	if len(req.Items) == 0 {
		return Order{}, fmt.Errorf("%w: at least one item is required", ErrInvalidInput)
	}

	ids := make([]string, 0, len(req.Items))
	for _, item := range req.Items {
		if item.ProductID == "" {
			return Order{}, fmt.Errorf("%w: productId is required", ErrInvalidInput)
		}
		if item.Quantity < 1 {
			return Order{}, fmt.Errorf("%w: quantity for %s must be at least 1", ErrInvalidInput, item.ProductID)
		}
		ids = append(ids, item.ProductID)
	}

	listings, err := s.prices.PriceList(ctx, req.VendorID, ids)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) || errors.Is(err, catalog.ErrUnknownProduct) || errors.Is(err, catalog.ErrProductUnavailable) {
			return Order{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return Order{}, fmt.Errorf("order: create: price list: %w", err)
	}

	lines := make([]pricing.Line, 0, len(req.Items))
	for _, item := range req.Items {
		lines = append(lines, pricing.Line{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: listings[item.ProductID].UnitPrice,
		})
	}
	quote, err := pricing.PriceOrder(lines, s.shippingFee)
	if err != nil {
		if errors.Is(err, pricing.ErrInvalidInput) {
			return Order{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return Order{}, fmt.Errorf("order: create: price: %w", err)
	}

	o := Order{
		CustomerID:  id.UserID,
		VendorID:    req.VendorID,
		Items:       make([]LineItem, 0, len(quote.Lines)),
		ItemCount:   quote.ItemCount,
		Subtotal:    quote.Subtotal,
		Discount:    discountFrom(quote.Discount),
		ShippingFee: quote.ShippingFee,
		Total:       quote.Total,
		Status:      StatusPending,
	}
	for _, l := range quote.Lines {
		o.Items = append(o.Items, LineItem{
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
			LineTotal: l.LineTotal,
		})
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("order: create: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	created, err := s.repo.Insert(ctx, tx, o)
	if err != nil {
		return Order{}, err
	}
	if err := s.outbox.Enqueue(ctx, tx, outbox.TopicOrderCreated, map[string]any{
		"orderId":    created.ID,
		"customerId": created.CustomerID,
		"vendorId":   created.VendorID,
		"total":      created.Total.StringFixed(2),
	}); err != nil {
		return Order{}, fmt.Errorf("order: create: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Order{}, fmt.Errorf("order: create: commit: %w", err)
	}
	return created, nil
}

// Get returns an order to its customer, its vendor or an admin.
func (s *Service) Get(ctx context.Context, id auth.Identity, orderID string) (Order, error) {
	if err := s.policy.Require(id, authz.ObjectOrder, authz.ActionRead); err != nil {
		return Order{}, ErrForbidden
	}
	o, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if !canView(id, o) {
		return Order{}, ErrForbidden
	}
	return o, nil
}

// Fulfill marks a paid order as shipped by its vendor.
func (s *Service) Fulfill(ctx context.Context, id auth.Identity, orderID string) (Order, error) {
	if err := s.policy.Require(id, authz.ObjectOrder, authz.ActionFulfill); err != nil {
		return Order{}, ErrForbidden
	}
	return s.transition(ctx, orderID, func(o Order) bool {
		return id.IsAdmin() || o.VendorID == id.UserID
	}, []Status{StatusPaid}, StatusFulfilled)
}

// Cancel withdraws an unpaid order on behalf of its customer.
func (s *Service) Cancel(ctx context.Context, id auth.Identity, orderID string) (Order, error) {
	if err := s.policy.Require(id, authz.ObjectOrder, authz.ActionCancel); err != nil {
		return Order{}, ErrForbidden
	}
	return s.transition(ctx, orderID, func(o Order) bool {
		return o.CustomerID == id.UserID
	}, []Status{StatusPending}, StatusCancelled)
}

func (s *Service) transition(ctx context.Context, orderID string, allowed func(Order) bool, from []Status, to Status) (Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("order: %s: begin tx: %w", to, err)
	}
	defer tx.Rollback(ctx)

	o, err := s.repo.GetForUpdate(ctx, tx, orderID)
	if err != nil {
		return Order{}, err
	}
	if !allowed(o) {
		return Order{}, ErrForbidden
	}
	updated, err := s.repo.TransitionStatus(ctx, tx, orderID, from, to)
	if err != nil {
		return Order{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Order{}, fmt.Errorf("order: %s: commit: %w", to, err)
	}
	return updated, nil
}

// RecordPayment applies one gateway delivery. Deliveries are idempotent per
// reference: an identical redelivery returns the stored payment untouched,
// a pending payment may progress once to a terminal status, and any other
// divergence is rejected.
func (s *Service) RecordPayment(ctx context.Context, ev PaymentEvent) (PaymentResult, error) {
	if err := validatePaymentEvent(ev); err != nil {
		return PaymentResult{}, err
	}

	res, err := s.recordPayment(ctx, ev)
	if errors.Is(err, ErrDuplicateReference) {
		// A concurrent first delivery won the unique index; replay against it.
		res, err = s.recordPayment(ctx, ev)
	}
	if err != nil {
		s.logger.Warn("payment rejected", "operation", "record_payment", "outcome", "rejected",
			"reference", ev.Reference, "order_id", ev.OrderID, "error", err)
		return PaymentResult{}, err
	}
	outcome := "applied"
	if res.Replayed {
		outcome = "replayed"
	}
	s.logger.Info("payment recorded", "operation", "record_payment", "outcome", outcome,
		"reference", ev.Reference, "order_id", ev.OrderID, "status", res.Payment.Status)
	return res, nil
}

func (s *Service) recordPayment(ctx context.Context, ev PaymentEvent) (PaymentResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return PaymentResult{}, fmt.Errorf("order: record payment: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// The order row lock serializes deliveries for one order, so a losing
	// concurrent delivery reads the winner's payment below.
	o, err := s.repo.GetForUpdate(ctx, tx, ev.OrderID)
	if err != nil {
		return PaymentResult{}, err
	}

	var payment Payment
	existing, err := s.repo.PaymentByReference(ctx, tx, ev.Reference)
	switch {
	case err == nil:
		if isReplay(existing, ev) {
			return PaymentResult{Payment: existing, Replayed: true}, nil
		}
		if !isProgression(existing, ev) {
			return PaymentResult{}, ErrIdempotencyConflict
		}
		if ev.Status == PaymentSuccessful {
			if err := s.markPaid(ctx, tx, o, ev); err != nil {
				return PaymentResult{}, err
			}
		}
		payment, err = s.repo.UpdatePaymentStatus(ctx, tx, existing.ID, ev.Status, ev.GatewayResponse)
		if err != nil {
			return PaymentResult{}, err
		}
	case errors.Is(err, ErrPaymentNotFound):
		if ev.Status == PaymentSuccessful {
			if err := s.markPaid(ctx, tx, o, ev); err != nil {
				return PaymentResult{}, err
			}
		}
		payment, err = s.repo.InsertPayment(ctx, tx, Payment{
			OrderID:         ev.OrderID,
			Reference:       ev.Reference,
			Amount:          ev.Amount,
			Status:          ev.Status,
			GatewayResponse: ev.GatewayResponse,
		})
		if err != nil {
			return PaymentResult{}, err
		}
	default:
		return PaymentResult{}, err
	}

	if err := s.outbox.Enqueue(ctx, tx, outbox.TopicPaymentRecorded, map[string]any{
		"paymentId": payment.ID,
		"orderId":   payment.OrderID,
		"reference": payment.Reference,
		"amount":    payment.Amount.StringFixed(2),
		"status":    string(payment.Status),
	}); err != nil {
		return PaymentResult{}, fmt.Errorf("order: record payment: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return PaymentResult{}, fmt.Errorf("order: record payment: commit: %w", err)
	}
	return PaymentResult{Payment: payment}, nil
}

// markPaid checks the locked order can take a successful payment of
// ev.Amount and moves it to paid.
func (s *Service) markPaid(ctx context.Context, tx pgx.Tx, o Order, ev PaymentEvent) error {
	if o.Status != StatusPending {
		return fmt.Errorf("%w: order is %s", ErrOrderNotPayable, o.Status)
	}
	if !ev.Amount.Equal(o.Total) {
		return fmt.Errorf("%w: got %s, total %s", ErrAmountMismatch, ev.Amount.StringFixed(2), o.Total.StringFixed(2))
	}
	_, err := s.repo.TransitionStatus(ctx, tx, o.ID, []Status{StatusPending}, StatusPaid)
	return err
}

func isReplay(stored Payment, ev PaymentEvent) bool {
	if stored.OrderID != ev.OrderID || !stored.Amount.Equal(ev.Amount) {
		return false
	}
	if stored.Status == ev.Status {
		return true
	}
	// Settlement moves successful payments to refunded; the gateway may still
	// redeliver the original success.
	return stored.Status == PaymentRefunded && ev.Status == PaymentSuccessful
}

func isProgression(stored Payment, ev PaymentEvent) bool {
	return stored.Status == PaymentPending &&
		ev.Status.Terminal() &&
		stored.OrderID == ev.OrderID &&
		stored.Amount.Equal(ev.Amount)
}

func validatePaymentEvent(ev PaymentEvent) error {
	if ev.Reference == "" {
		return fmt.Errorf("%w: reference is required", ErrInvalidInput)
	}
	if ev.OrderID == "" {
		return fmt.Errorf("%w: orderId is required", ErrInvalidInput)
	}
	if ev.Amount.IsNegative() {
		return fmt.Errorf("%w: amount must not be negative", ErrInvalidInput)
	}
	if !ev.Amount.Equal(pricing.RoundCents(ev.Amount)) {
		return fmt.Errorf("%w: amount has more than two decimals", ErrInvalidInput)
	}
	switch ev.Status {
	case PaymentPending, PaymentSuccessful, PaymentFailed:
	default:
		return fmt.Errorf("%w: unsupported payment status %q", ErrInvalidInput, ev.Status)
	}
	return nil
}

func canView(id auth.Identity, o Order) bool {
	return id.IsAdmin() || o.CustomerID == id.UserID || o.VendorID == id.UserID
}
