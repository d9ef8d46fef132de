package actors

import (
	"io"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"craftmart/authz"
	"craftmart/catalog"
	"craftmart/dispute"
	"craftmart/lock"
	"craftmart/order"
	"craftmart/outbox"
	"craftmart/settlement"
)

// Engine is the production service graph over a test database.
type Engine struct {
	Orders   *order.Service
	Disputes *dispute.Service
	Outbox   *outbox.PGStore
}

// NewEngine wires the services the way cmd/api does, with an in-process
// locker and a silent logger.
func NewEngine(pool *pgxpool.Pool, shippingFee decimal.Decimal) *Engine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	policy := authz.MustNew()
	writer := outbox.NewWriter()

	orderRepo := order.NewRepository(pool)
	ledger := order.NewLedger(orderRepo)
	coordinator := settlement.NewCoordinator(ledger, settlement.NewStore(pool), writer)

	return &Engine{
		Orders: order.NewService(pool, orderRepo, catalog.NewService(catalog.NewRepository(pool)), policy, writer,
			order.WithShippingFee(shippingFee),
			order.WithLogger(logger),
		),
		Disputes: dispute.NewService(pool, dispute.NewRepository(pool), orderRepo, ledger, coordinator, policy, writer,
			dispute.WithLocker(lock.NewLocalLocker()),
			dispute.WithLogger(logger),
		),
		Outbox: outbox.NewStore(pool),
	}
}
