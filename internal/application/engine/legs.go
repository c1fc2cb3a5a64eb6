package engine

// legs.go — ejecución de un leg individual contra el CLOB.
//
// Un leg es una orden FOK con su ciclo completo: persistir, firmar y enviar,
// sondear hasta estado terminal y cancelar si el venue no responde a tiempo.
// Una orden ya enviada nunca se abandona: hasta en shutdown se cancela y
// liquida antes de devolver el control.

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/polytrader/internal/domain"
	"github.com/alejandrodnm/polytrader/internal/ports"
)

const (
	legPollInterval = 500 * time.Millisecond
	// legSettleGrace acota la liquidación de una orden en vuelo cuando el
	// contexto del ciclo ya murió.
	legSettleGrace = 5 * time.Second
)

// LegRunner ejecuta legs individuales con timeout y persistencia write-through.
type LegRunner struct {
	executor ports.OrderExecutor
	store    ports.Store
	timeout  time.Duration
}

// NewLegRunner crea el runner con el timeout por leg de config.
func NewLegRunner(executor ports.OrderExecutor, store ports.Store, timeout time.Duration) *LegRunner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &LegRunner{executor: executor, store: store, timeout: timeout}
}

// Run ejecuta la orden como FOK y la lleva hasta un estado terminal, mutando
// order in place. Error solo ante fallo de infraestructura; el resultado del
// venue se lee en order.Status.
func (lr *LegRunner) Run(ctx context.Context, order *domain.Order, negRisk bool) error {
	if err := lr.store.SaveOrder(ctx, *order); err != nil {
		return fmt.Errorf("legs: persist order: %w", err)
	}

	placed, err := lr.executor.PlaceOrder(ctx, domain.PlaceOrderRequest{
		ClientID:    order.ClientID,
		TokenID:     order.TokenID,
		ConditionID: order.ConditionID,
		Price:       order.Price,
		Shares:      order.Shares,
		Side:        order.Side,
		OrderType:   "FOK",
		NegRisk:     negRisk,
	})
	if err != nil {
		order.Status = domain.OrderRejected
		_ = lr.store.UpdateOrder(ctx, *order)
		return fmt.Errorf("legs: place order: %w", err)
	}

	now := time.Now()
	order.CLOBOrderID = placed.CLOBOrderID
	order.Status = domain.OrderSubmitted
	order.SubmittedAt = &now
	if err := lr.store.UpdateOrder(ctx, *order); err != nil {
		slog.Error("persist submitted order", "client_id", order.ClientID, "err", err)
	}

	return lr.awaitTerminal(ctx, order)
}

// awaitTerminal sondea el estado de la orden hasta que sea terminal o venza el
// timeout del leg. Al vencer, cancela y re-consulta una vez: el fill pudo
// cruzarse con la cancelación.
func (lr *LegRunner) awaitTerminal(ctx context.Context, order *domain.Order) error {
	deadline := time.NewTimer(lr.timeout)
	defer deadline.Stop()
	tick := time.NewTicker(legPollInterval)
	defer tick.Stop()

	for {
		state, err := lr.executor.GetOrderState(ctx, order.CLOBOrderID)
		if err != nil {
			slog.Warn("poll order state", "order", order.CLOBOrderID, "err", err)
		} else if state.Status.Terminal() {
			lr.finish(ctx, order, state)
			return nil
		}

		select {
		case <-ctx.Done():
			// El shutdown no aborta una orden en vuelo: se cancela y liquida
			// con un contexto de gracia desacoplado del ciclo.
			grace, cancel := context.WithTimeout(context.WithoutCancel(ctx), legSettleGrace)
			defer cancel()
			return lr.cancelAndSettle(grace, order)
		case <-deadline.C:
			return lr.cancelAndSettle(ctx, order)
		case <-tick.C:
		}
	}
}

// cancelAndSettle cancela la orden vencida y decide su estado final.
func (lr *LegRunner) cancelAndSettle(ctx context.Context, order *domain.Order) error {
	slog.Warn("leg timed out, cancelling", "order", order.CLOBOrderID, "token", order.TokenID)

	if err := lr.executor.CancelOrder(ctx, order.CLOBOrderID); err != nil {
		slog.Warn("cancel timed-out leg", "order", order.CLOBOrderID, "err", err)
	}

	// La cancelación y un fill tardío compiten: la última palabra la tiene el venue.
	state, err := lr.executor.GetOrderState(ctx, order.CLOBOrderID)
	if err == nil && state.Status.Terminal() {
		lr.finish(ctx, order, state)
		return nil
	}

	order.Status = domain.OrderCancelled
	if err := lr.store.UpdateOrder(ctx, *order); err != nil {
		slog.Error("persist cancelled order", "client_id", order.ClientID, "err", err)
	}
	return nil
}

// finish registra el estado terminal reportado por el venue.
func (lr *LegRunner) finish(ctx context.Context, order *domain.Order, state ports.OrderState) {
	order.Status = state.Status
	if state.Status == domain.OrderFilled {
		now := time.Now()
		order.FilledAt = &now
		order.FilledSize = state.FilledSize
		order.FilledPrice = state.FilledPrice
		if order.FilledPrice <= 0 {
			order.FilledPrice = order.Price
		}
		if order.FilledSize <= 0 {
			order.FilledSize = order.Shares
		}
	}
	if err := lr.store.UpdateOrder(ctx, *order); err != nil {
		slog.Error("persist terminal order", "client_id", order.ClientID, "err", err)
	}
}
