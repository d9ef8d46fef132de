package dispute

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"craftmart/auth"
	"craftmart/authz"
	"craftmart/lock"
	"craftmart/order"
	"craftmart/order/ordertest"
	"craftmart/outbox"
	"craftmart/settlement"
	"craftmart/test/fakes"
)

var (
	customer = auth.Identity{UserID: "cust-1", Role: auth.RoleCustomer}
	stranger = auth.Identity{UserID: "cust-2", Role: auth.RoleCustomer}
	vendor   = auth.Identity{UserID: "vendor-1", Role: auth.RoleVendor}
	admin    = auth.Identity{UserID: "admin-1", Role: auth.RoleAdmin}
)

type harness struct {
	svc       *Service
	repo      *memRepo
	orders    *ordertest.MemRepository
	decisions *memDecisions
	pool      *fakes.Pool
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		repo:      newMemRepo(),
		orders:    ordertest.NewMemRepository(),
		decisions: newMemDecisions(),
		pool:      &fakes.Pool{},
	}
	ledger := order.NewLedger(h.orders)
	writer := outbox.NewWriter()
	coordinator := settlement.NewCoordinator(ledger, h.decisions, writer)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	opts = append([]Option{WithClock(func() time.Time { return fixed })}, opts...)
	h.svc = NewService(h.pool, h.repo, h.orders, ledger, coordinator, authz.MustNew(), writer, opts...)
	return h
}

func (h *harness) paidOrder(total string, status order.Status) order.Order {
	o, _ := h.orders.PaidOrder(customer.UserID, vendor.UserID, decimal.RequireFromString(total), status)
	return o
}

func (h *harness) open(t *testing.T, o order.Order) Dispute {
	t.Helper()
	d, err := h.svc.Create(context.Background(), customer, CreateRequest{
		OrderID:     o.ID,
		Reason:      ReasonDamaged,
		Description: "arrived cracked",
		Evidence:    []Evidence{{Filename: "photo.jpg", URL: "https://files.example/photo.jpg"}},
	})
	if err != nil {
		t.Fatalf("create dispute: %v", err)
	}
	return d
}

func amount(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestCreate_FreezesOrder(t *testing.T) {
	h := newHarness(t)
	o := h.paidOrder("40.00", order.StatusFulfilled)

	d := h.open(t, o)
	if d.Status != StatusOpen || d.OrderStatusBefore != order.StatusFulfilled {
		t.Fatalf("unexpected dispute: %+v", d)
	}
	stored, _ := h.orders.Order(o.ID)
	if stored.Status != order.StatusDisputed {
		t.Fatalf("expected disputed order, got %s", stored.Status)
	}
	events, _ := h.repo.Events(context.Background(), d.ID)
	if len(events) != 1 || events[0].Type != EventOpened || events[0].Seq != 1 {
		t.Fatalf("expected opened event at seq 1, got %+v", events)
	}
	if topics := h.pool.CommittedTopics(); len(topics) != 1 || topics[0] != outbox.TopicDisputeOpened {
		t.Fatalf("expected dispute.opened, got %v", topics)
	}
}

func TestCreate_SecondDisputeRejected(t *testing.T) {
	h := newHarness(t)
	o := h.paidOrder("40.00", order.StatusPaid)
	h.open(t, o)

	_, err := h.svc.Create(context.Background(), customer, CreateRequest{OrderID: o.ID, Reason: ReasonOther, Description: "again"})
	if !errors.Is(err, ErrActiveDisputeExists) {
		t.Fatalf("expected ErrActiveDisputeExists, got %v", err)
	}
}

func TestCreate_Rejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	paid := h.paidOrder("40.00", order.StatusPaid)
	pending := h.orders.Seed(order.Order{CustomerID: customer.UserID, VendorID: vendor.UserID, Total: decimal.NewFromInt(5), Status: order.StatusPending})

	tooMany := make([]Evidence, 11)
	for i := range tooMany {
		tooMany[i] = Evidence{Filename: fmt.Sprintf("f%d.jpg", i), URL: "https://x"}
	}

	cases := []struct {
		name string
		id   auth.Identity
		req  CreateRequest
		want error
	}{
		{"pending order", customer, CreateRequest{OrderID: pending.ID, Reason: ReasonDamaged, Description: "x"}, ErrOrderNotDisputable},
		{"not owner", stranger, CreateRequest{OrderID: paid.ID, Reason: ReasonDamaged, Description: "x"}, ErrForbidden},
		{"vendor", vendor, CreateRequest{OrderID: paid.ID, Reason: ReasonDamaged, Description: "x"}, ErrForbidden},
		{"unknown order", customer, CreateRequest{OrderID: "missing", Reason: ReasonDamaged, Description: "x"}, ErrNotFound},
		{"bad reason", customer, CreateRequest{OrderID: paid.ID, Reason: "meh", Description: "x"}, ErrInvalidReason},
		{"empty description", customer, CreateRequest{OrderID: paid.ID, Reason: ReasonDamaged, Description: "   "}, ErrInvalidInput},
		{"long description", customer, CreateRequest{OrderID: paid.ID, Reason: ReasonDamaged, Description: strings.Repeat("a", 2001)}, ErrInvalidInput},
		{"too much evidence", customer, CreateRequest{OrderID: paid.ID, Reason: ReasonDamaged, Description: "x", Evidence: tooMany}, ErrInvalidInput},
	}
	for _, tc := range cases {
		if _, err := h.svc.Create(ctx, tc.id, tc.req); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
	stored, _ := h.orders.Order(paid.ID)
	if stored.Status != order.StatusPaid {
		t.Fatalf("rejected creates must not touch the order, got %s", stored.Status)
	}
}

func TestRespond_ThreadOrderAndAccess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.open(t, h.paidOrder("40.00", order.StatusPaid))

	r1, err := h.svc.Respond(ctx, vendor, d.ID, "sorry, sending a replacement", "")
	if err != nil {
		t.Fatalf("vendor respond: %v", err)
	}
	r2, err := h.svc.Respond(ctx, customer, d.ID, "thanks", "")
	if err != nil {
		t.Fatalf("customer respond: %v", err)
	}
	if r1.Seq != 2 || r2.Seq != 3 {
		t.Fatalf("expected seq 2 and 3, got %d and %d", r1.Seq, r2.Seq)
	}
	if _, err := h.svc.Respond(ctx, stranger, d.ID, "hi", ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for stranger, got %v", err)
	}
	if _, err := h.svc.Respond(ctx, customer, d.ID, "", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty message, got %v", err)
	}

	if _, err := h.svc.Respond(ctx, admin, d.ID, "looking into it", ""); err != nil {
		t.Fatalf("admin respond: %v", err)
	}
	current, _ := h.repo.Get(ctx, d.ID)
	if current.Status != StatusUnderReview {
		t.Fatalf("expected admin response to start review, got %s", current.Status)
	}
	events, _ := h.repo.Events(ctx, d.ID)
	for i, ev := range events {
		if ev.Seq != i+1 {
			t.Fatalf("expected contiguous seq, got %d at %d", ev.Seq, i)
		}
	}
	if events[3].Type != EventReviewStarted || events[4].Type != EventResponse {
		t.Fatalf("expected review_started before admin response, got %s %s", events[3].Type, events[4].Type)
	}
}

func TestRespond_IdempotentRetry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.open(t, h.paidOrder("40.00", order.StatusPaid))

	first, err := h.svc.Respond(ctx, customer, d.ID, "where is it?", "retry-key")
	if err != nil {
		t.Fatalf("first respond: %v", err)
	}
	second, err := h.svc.Respond(ctx, customer, d.ID, "where is it?", "retry-key")
	if err != nil {
		t.Fatalf("retry respond: %v", err)
	}
	if first.Seq != second.Seq || !first.CreatedAt.Equal(second.CreatedAt) {
		t.Fatalf("expected the original response, got %+v vs %+v", first, second)
	}
	events, _ := h.repo.Events(ctx, d.ID)
	if len(events) != 2 {
		t.Fatalf("expected one response event, got %d events", len(events))
	}
}

func TestRespond_KeyScopedToAuthor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.open(t, h.paidOrder("40.00", order.StatusPaid))

	mine, err := h.svc.Respond(ctx, customer, d.ID, "customer says hi", "1")
	if err != nil {
		t.Fatalf("customer respond: %v", err)
	}
	theirs, err := h.svc.Respond(ctx, vendor, d.ID, "vendor reply", "1")
	if err != nil {
		t.Fatalf("vendor respond: %v", err)
	}
	if theirs.AuthorID != vendor.UserID || theirs.Message != "vendor reply" {
		t.Fatalf("expected the vendor's own response, got %+v", theirs)
	}
	if theirs.Seq != mine.Seq+1 {
		t.Fatalf("expected seq %d, got %d", mine.Seq+1, theirs.Seq)
	}
	events, _ := h.repo.Events(ctx, d.ID)
	if len(events) != 3 {
		t.Fatalf("expected both responses recorded, got %d events", len(events))
	}
}

func TestRespond_KeyReusedWithDifferentMessage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.open(t, h.paidOrder("40.00", order.StatusPaid))

	if _, err := h.svc.Respond(ctx, customer, d.ID, "where is it?", "retry-key"); err != nil {
		t.Fatalf("first respond: %v", err)
	}
	if _, err := h.svc.Respond(ctx, customer, d.ID, "never mind", "retry-key"); !errors.Is(err, ErrIdempotencyConflict) {
		t.Fatalf("expected ErrIdempotencyConflict, got %v", err)
	}
	events, _ := h.repo.Events(ctx, d.ID)
	if len(events) != 2 {
		t.Fatalf("expected the conflicting retry to append nothing, got %d events", len(events))
	}
}

func TestRespond_AfterResolveClosed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.open(t, h.paidOrder("40.00", order.StatusPaid))

	if _, err := h.svc.Resolve(ctx, admin, d.ID, ResolveRequest{Action: ActionDenyClaim, Note: "no evidence"}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := h.svc.Respond(ctx, customer, d.ID, "but wait", ""); !errors.Is(err, ErrDisputeClosed) {
		t.Fatalf("expected ErrDisputeClosed, got %v", err)
	}
}

func TestStartReview(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.open(t, h.paidOrder("40.00", order.StatusPaid))

	if _, err := h.svc.StartReview(ctx, vendor, d.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for vendor, got %v", err)
	}
	got, err := h.svc.StartReview(ctx, admin, d.ID)
	if err != nil || got.Status != StatusUnderReview {
		t.Fatalf("expected under_review, got %v %v", got.Status, err)
	}
	if _, err := h.svc.StartReview(ctx, admin, d.ID); err != nil {
		t.Fatalf("expected no-op on second review, got %v", err)
	}
	events, _ := h.repo.Events(ctx, d.ID)
	if len(events) != 2 {
		t.Fatalf("expected a single review_started event, got %d events", len(events))
	}
}

func TestResolve_FullRefund(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o := h.paidOrder("5000.00", order.StatusPaid)
	d := h.open(t, o)

	res, err := h.svc.Resolve(ctx, admin, d.ID, ResolveRequest{Action: ActionFullRefund, Note: "damaged in transit"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Dispute.Status != StatusResolved {
		t.Fatalf("expected resolved, got %s", res.Dispute.Status)
	}
	if res.Refund.Amount.StringFixed(2) != "5000.00" || res.Refund.PaymentReference == "" {
		t.Fatalf("unexpected instruction: %+v", res.Refund)
	}
	if res.Decision.RefundAmount == nil || !res.Decision.RefundAmount.Equal(o.Total) {
		t.Fatalf("expected decision amount to equal total")
	}
	stored, _ := h.orders.Order(o.ID)
	if stored.Status != order.StatusRefunded {
		t.Fatalf("expected refunded order, got %s", stored.Status)
	}
}

func TestResolve_DenyRestoresFulfilled(t *testing.T) {
	h := newHarness(t)
	o := h.paidOrder("30.00", order.StatusFulfilled)
	d := h.open(t, o)

	res, err := h.svc.Resolve(context.Background(), admin, d.ID, ResolveRequest{Action: ActionDenyClaim, Note: "delivered per tracking"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !res.Refund.Amount.IsZero() || res.Decision.RefundAmount != nil {
		t.Fatalf("expected no refund, got %+v", res)
	}
	stored, _ := h.orders.Order(o.ID)
	if stored.Status != order.StatusFulfilled {
		t.Fatalf("expected fulfilled, got %s", stored.Status)
	}
}

func TestResolve_PartialExceedingTotalLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o := h.paidOrder("5000.00", order.StatusPaid)
	d := h.open(t, o)

	_, err := h.svc.Resolve(ctx, admin, d.ID, ResolveRequest{Action: ActionPartialRefund, RefundAmount: amount("6000.00")})
	if !errors.Is(err, ErrRefundExceedsOrderTotal) {
		t.Fatalf("expected ErrRefundExceedsOrderTotal, got %v", err)
	}
	current, _ := h.repo.Get(ctx, d.ID)
	if current.Status != StatusOpen {
		t.Fatalf("expected dispute to stay open, got %s", current.Status)
	}
	stored, _ := h.orders.Order(o.ID)
	if stored.Status != order.StatusDisputed {
		t.Fatalf("expected order to stay disputed, got %s", stored.Status)
	}
	if h.decisions.count() != 0 {
		t.Fatalf("expected no settlement record")
	}

	res, err := h.svc.Resolve(ctx, admin, d.ID, ResolveRequest{Action: ActionPartialRefund, RefundAmount: amount("2500.00")})
	if err != nil {
		t.Fatalf("valid partial refund: %v", err)
	}
	if res.Refund.Amount.StringFixed(2) != "2500.00" {
		t.Fatalf("expected 2500.00, got %s", res.Refund.Amount)
	}
}

func TestResolve_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.open(t, h.paidOrder("50.00", order.StatusPaid))

	cases := []struct {
		name string
		id   auth.Identity
		req  ResolveRequest
		want error
	}{
		{"vendor", vendor, ResolveRequest{Action: ActionDenyClaim}, ErrForbidden},
		{"customer", customer, ResolveRequest{Action: ActionFullRefund}, ErrForbidden},
		{"unknown action", admin, ResolveRequest{Action: "split"}, ErrInvalidAction},
		{"partial without amount", admin, ResolveRequest{Action: ActionPartialRefund}, ErrInvalidInput},
		{"partial zero", admin, ResolveRequest{Action: ActionPartialRefund, RefundAmount: amount("0")}, ErrInvalidInput},
		{"partial negative", admin, ResolveRequest{Action: ActionPartialRefund, RefundAmount: amount("-1")}, ErrInvalidInput},
		{"full with other amount", admin, ResolveRequest{Action: ActionFullRefund, RefundAmount: amount("10.00")}, ErrInvalidInput},
		{"deny with amount", admin, ResolveRequest{Action: ActionDenyClaim, RefundAmount: amount("1.00")}, ErrInvalidInput},
		{"long note", admin, ResolveRequest{Action: ActionDenyClaim, Note: strings.Repeat("n", 2001)}, ErrInvalidInput},
	}
	for _, tc := range cases {
		if _, err := h.svc.Resolve(ctx, tc.id, d.ID, tc.req); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
	current, _ := h.repo.Get(ctx, d.ID)
	if current.Status != StatusOpen {
		t.Fatalf("rejected decisions must not resolve, got %s", current.Status)
	}
	if _, err := h.svc.Resolve(ctx, admin, "missing", ResolveRequest{Action: ActionDenyClaim}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResolve_SecondAttemptFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.open(t, h.paidOrder("50.00", order.StatusPaid))

	first, err := h.svc.Resolve(ctx, admin, d.ID, ResolveRequest{Action: ActionPartialRefund, RefundAmount: amount("10.00"), Note: "partial"})
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if _, err := h.svc.Resolve(ctx, admin, d.ID, ResolveRequest{Action: ActionFullRefund}); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got %v", err)
	}

	view, err := h.svc.Get(ctx, admin, d.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if view.Decision == nil || view.Decision.Action != first.Decision.Action || !view.Decision.RefundAmount.Equal(*first.Decision.RefundAmount) {
		t.Fatalf("decision changed: %+v", view.Decision)
	}
	if h.decisions.count() != 1 {
		t.Fatalf("expected one settlement record, got %d", h.decisions.count())
	}
}

func TestResolve_ConcurrentResolversExactlyOneWins(t *testing.T) {
	for i := 0; i < 20; i++ {
		h := newHarness(t)
		ctx := context.Background()
		o := h.paidOrder("80.00", order.StatusPaid)
		d := h.open(t, o)

		reqs := []ResolveRequest{{Action: ActionFullRefund}, {Action: ActionDenyClaim}}
		errs := make([]error, len(reqs))
		var g errgroup.Group
		for j, req := range reqs {
			g.Go(func() error {
				_, errs[j] = h.svc.Resolve(ctx, admin, d.ID, req)
				return nil
			})
		}
		_ = g.Wait()

		wins, losses := 0, 0
		for _, err := range errs {
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrAlreadyResolved):
				losses++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if wins != 1 || losses != 1 {
			t.Fatalf("expected one winner and one ErrAlreadyResolved, got %d/%d", wins, losses)
		}
		if h.decisions.count() != 1 {
			t.Fatalf("expected one settlement record, got %d", h.decisions.count())
		}
		rec, _ := h.decisions.Get(ctx, d.ID)
		stored, _ := h.orders.Order(o.ID)
		switch rec.Action {
		case ActionFullRefund:
			if stored.Status != order.StatusRefunded {
				t.Fatalf("full refund won but order is %s", stored.Status)
			}
		case ActionDenyClaim:
			if stored.Status != order.StatusPaid {
				t.Fatalf("denial won but order is %s", stored.Status)
			}
		}
	}
}

func TestResolve_LedgerFailureRollsBackResolution(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o := h.paidOrder("50.00", order.StatusPaid)
	d := h.open(t, o)
	h.orders.RefundErr = errors.New("ledger write failed")

	if _, err := h.svc.Resolve(ctx, admin, d.ID, ResolveRequest{Action: ActionFullRefund}); err == nil {
		t.Fatalf("expected resolve to fail")
	}
	current, _ := h.repo.Get(ctx, d.ID)
	if current.Status != StatusOpen {
		t.Fatalf("expected dispute to stay open, got %s", current.Status)
	}
	events, _ := h.repo.Events(ctx, d.ID)
	for _, ev := range events {
		if ev.Type == EventResolved {
			t.Fatalf("resolved event must be rolled back")
		}
	}
	stored, _ := h.orders.Order(o.ID)
	if stored.Status != order.StatusDisputed {
		t.Fatalf("expected order to stay disputed, got %s", stored.Status)
	}

	h.orders.RefundErr = nil
	if _, err := h.svc.Resolve(ctx, admin, d.ID, ResolveRequest{Action: ActionFullRefund}); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
}

func TestResolve_WithLocker(t *testing.T) {
	locker := lock.NewLocalLocker()
	h := newHarness(t, WithLocker(locker))
	d := h.open(t, h.paidOrder("50.00", order.StatusPaid))

	release, err := locker.Acquire(context.Background(), "dispute:"+d.ID)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	_, err = h.svc.Resolve(ctx, admin, d.ID, ResolveRequest{Action: ActionDenyClaim})
	cancel()
	if !errors.Is(err, lock.ErrLockBusy) {
		t.Fatalf("expected ErrLockBusy while held, got %v", err)
	}
	release()

	if _, err := h.svc.Resolve(context.Background(), admin, d.ID, ResolveRequest{Action: ActionDenyClaim}); err != nil {
		t.Fatalf("resolve after release: %v", err)
	}
}

func TestGet_RoleFilteredView(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o := h.paidOrder("75.00", order.StatusPaid)
	d := h.open(t, o)
	if _, err := h.svc.Respond(ctx, vendor, d.ID, "we will replace it", ""); err != nil {
		t.Fatalf("respond: %v", err)
	}

	for _, id := range []auth.Identity{customer, vendor} {
		view, err := h.svc.Get(ctx, id, d.ID)
		if err != nil {
			t.Fatalf("%s: get: %v", id.Role, err)
		}
		if view.ReviewPanel != nil {
			t.Fatalf("%s must not see the review panel", id.Role)
		}
		if len(view.Responses) != 1 || view.Responses[0].Role != auth.RoleVendor {
			t.Fatalf("%s: unexpected responses %+v", id.Role, view.Responses)
		}
	}

	view, err := h.svc.Get(ctx, admin, d.ID)
	if err != nil {
		t.Fatalf("admin get: %v", err)
	}
	panel := view.ReviewPanel
	if panel == nil {
		t.Fatalf("admin must see the review panel")
	}
	if !panel.OrderTotal.Equal(o.Total) || !panel.RefundableAmount.Equal(o.Total) || panel.PaymentReference == "" {
		t.Fatalf("unexpected panel: %+v", panel)
	}
	if len(panel.AllowedActions) != 3 {
		t.Fatalf("expected three allowed actions, got %v", panel.AllowedActions)
	}

	if _, err := h.svc.Get(ctx, stranger, d.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for stranger, got %v", err)
	}
}

func TestListForOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o := h.paidOrder("20.00", order.StatusPaid)
	d := h.open(t, o)
	if _, err := h.svc.Resolve(ctx, admin, d.ID, ResolveRequest{Action: ActionDenyClaim}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	h.open(t, o)

	list, err := h.svc.ListForOrder(ctx, vendor, o.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected dispute history of two, got %d", len(list))
	}
	if _, err := h.svc.ListForOrder(ctx, stranger, o.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}
