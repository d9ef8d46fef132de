package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"craftmart/auth"
	"craftmart/dispute"
	"craftmart/lock"
	"craftmart/order"
	"craftmart/outbox"
)

// Target is a paid order the actors fight over.
type Target struct {
	Order    order.Order
	Customer auth.Identity
	Vendor   auth.Identity
	Payment  order.PaymentEvent
}

// Stats counts outcomes across actors. Transient errors are expected while
// chaos terminates backends; invariant breaks are left to the oracles.
type Stats struct {
	Applied   atomic.Int64
	Rejected  atomic.Int64
	Transient atomic.Int64
}

func (s *Stats) record(err error, expected ...error) {
	if err == nil {
		s.Applied.Add(1)
		return
	}
	for _, e := range expected {
		if errors.Is(err, e) {
			s.Rejected.Add(1)
			return
		}
	}
	s.Transient.Add(1)
}

func (s *Stats) String() string {
	return fmt.Sprintf("applied=%d rejected=%d transient=%d", s.Applied.Load(), s.Rejected.Load(), s.Transient.Load())
}

func stopped(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stop:
		return true
	default:
		return false
	}
}

func jitter(base, spread int) {
	time.Sleep(time.Duration(base+rand.Intn(spread)) * time.Millisecond)
}

// PlaceAndPay checks out items for customer and delivers a successful
// payment for the exact total.
func PlaceAndPay(ctx context.Context, eng *Engine, customer, vendor auth.Identity, items []order.ItemRequest) (Target, error) {
	o, err := eng.Orders.Create(ctx, customer, order.CreateRequest{VendorID: vendor.UserID, Items: items})
	if err != nil {
		return Target{}, fmt.Errorf("actors: create order: %w", err)
	}
	ev := order.PaymentEvent{
		OrderID:   o.ID,
		Reference: "gw-" + uuid.NewString(),
		Amount:    o.Total,
		Status:    order.PaymentSuccessful,
	}
	if _, err := eng.Orders.RecordPayment(ctx, ev); err != nil {
		return Target{}, fmt.Errorf("actors: pay order: %w", err)
	}
	return Target{Order: o, Customer: customer, Vendor: vendor, Payment: ev}, nil
}

// PaymentRedeliverer replays already applied gateway events, the way a
// gateway retries on timeouts. Every replay must resolve to the payment the
// first delivery created.
func PaymentRedeliverer(ctx context.Context, eng *Engine, targets []Target, stats *Stats, stop <-chan struct{}) error {
	var seen sync.Map
	for !stopped(ctx, stop) {
		t := targets[rand.Intn(len(targets))]
		res, err := eng.Orders.RecordPayment(ctx, t.Payment)
		stats.record(err, order.ErrOrderNotPayable)
		if err == nil {
			if !res.Replayed {
				return fmt.Errorf("actors: redelivery of %s was applied again", t.Payment.Reference)
			}
			if prev, loaded := seen.LoadOrStore(t.Payment.Reference, res.Payment.ID); loaded && prev != res.Payment.ID {
				return fmt.Errorf("actors: reference %s resolved to %v and %s", t.Payment.Reference, prev, res.Payment.ID)
			}
		}
		jitter(10, 30)
	}
	return nil
}

// Disputer opens disputes against random targets. Most attempts collide with
// an already active dispute or a refunded order.
func Disputer(ctx context.Context, eng *Engine, targets []Target, stats *Stats, stop <-chan struct{}) error {
	reasons := []dispute.Reason{dispute.ReasonDamaged, dispute.ReasonNotAsDescribed, dispute.ReasonItemNotReceived}
	for !stopped(ctx, stop) {
		t := targets[rand.Intn(len(targets))]
		_, err := eng.Disputes.Create(ctx, t.Customer, dispute.CreateRequest{
			OrderID:     t.Order.ID,
			Reason:      reasons[rand.Intn(len(reasons))],
			Description: "arrived in pieces",
		})
		stats.record(err, dispute.ErrActiveDisputeExists, dispute.ErrOrderNotDisputable)
		jitter(20, 40)
	}
	return nil
}

// Responder posts to active threads as a random party. A fraction of posts
// reuse their idempotency key to mimic client retries.
func Responder(ctx context.Context, eng *Engine, targets []Target, admin auth.Identity, stats *Stats, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		t := targets[rand.Intn(len(targets))]
		d, ok := activeDispute(ctx, eng, t)
		if !ok {
			jitter(10, 20)
			continue
		}
		authors := []auth.Identity{t.Customer, t.Vendor, admin}
		author := authors[rand.Intn(len(authors))]
		key := uuid.NewString()

		first, err := eng.Disputes.Respond(ctx, author, d.ID, "any update?", key)
		stats.record(err, dispute.ErrDisputeClosed)
		if err == nil && rand.Intn(4) == 0 {
			again, err := eng.Disputes.Respond(ctx, author, d.ID, "any update?", key)
			if err == nil && again.Seq != first.Seq {
				return fmt.Errorf("actors: retry of key %s appended seq %d after %d", key, again.Seq, first.Seq)
			}
			stats.record(err, dispute.ErrDisputeClosed)
		}
		jitter(15, 30)
	}
	return nil
}

// Resolver races admin decisions on active disputes. Refund amounts are
// drawn around the order total so some must be rejected.
func Resolver(ctx context.Context, eng *Engine, targets []Target, admin auth.Identity, stats *Stats, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		t := targets[rand.Intn(len(targets))]
		d, ok := activeDispute(ctx, eng, t)
		if !ok {
			jitter(20, 40)
			continue
		}

		req := dispute.ResolveRequest{Note: "stress"}
		switch rand.Intn(3) {
		case 0:
			req.Action = dispute.ActionFullRefund
		case 1:
			req.Action = dispute.ActionPartialRefund
			// Between 10% and 130% of the total.
			pct := decimal.NewFromInt(int64(10 + rand.Intn(121)))
			amount := t.Order.Total.Mul(pct).Div(decimal.NewFromInt(100)).Round(2)
			if !amount.IsPositive() {
				amount = decimal.New(1, -2)
			}
			req.RefundAmount = &amount
		default:
			req.Action = dispute.ActionDenyClaim
		}

		_, err := eng.Disputes.Resolve(ctx, admin, d.ID, req)
		stats.record(err,
			dispute.ErrAlreadyResolved,
			dispute.ErrRefundExceedsOrderTotal,
			dispute.ErrInvalidInput,
			lock.ErrLockBusy,
		)
		jitter(30, 60)
	}
	return nil
}

func activeDispute(ctx context.Context, eng *Engine, t Target) (dispute.Dispute, bool) {
	list, err := eng.Disputes.ListForOrder(ctx, t.Customer, t.Order.ID)
	if err != nil {
		return dispute.Dispute{}, false
	}
	for _, d := range list {
		if d.Status.Active() {
			return d, true
		}
	}
	return dispute.Dispute{}, false
}

// FlakyPublisher fails roughly one publish in every FailOneIn.
type FlakyPublisher struct {
	FailOneIn int
	Published atomic.Int64
}

func (p *FlakyPublisher) Publish(_ context.Context, _ outbox.Message) error {
	if p.FailOneIn > 0 && rand.Intn(p.FailOneIn) == 0 {
		return errors.New("downstream unavailable")
	}
	p.Published.Add(1)
	return nil
}

// OutboxWorker drains the outbox through relay until stopped.
func OutboxWorker(ctx context.Context, relay *outbox.Relay, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		_, _ = relay.ProcessOnce(ctx)
		jitter(50, 50)
	}
	return nil
}
