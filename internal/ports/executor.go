package ports

import (
	"context"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

// OrderState es el estado de una orden consultado en el CLOB.
type OrderState struct {
	Status      domain.OrderStatus
	FilledSize  float64 // shares llenadas hasta ahora
	FilledPrice float64 // precio medio de fill
}

// OrderExecutor coloca, cancela y consulta órdenes reales en el CLOB.
type OrderExecutor interface {
	// PlaceOrder firma y envía una orden al CLOB. La respuesta del venue se
	// valida contra su flag de éxito: un submit no exitoso devuelve error y
	// nunca crea estado local.
	PlaceOrder(ctx context.Context, req domain.PlaceOrderRequest) (domain.PlacedOrder, error)

	// GetOrderState consulta el estado actual de una orden por su CLOB ID.
	GetOrderState(ctx context.Context, clobOrderID string) (OrderState, error)

	// CancelOrder cancela una orden concreta por su CLOB ID.
	CancelOrder(ctx context.Context, clobOrderID string) error

	// CancelAll cancela todas las órdenes abiertas de esta wallet.
	CancelAll(ctx context.Context) error

	// GetBalance devuelve el balance USDC.e disponible en el CLOB.
	GetBalance(ctx context.Context) (float64, error)

	// TokenBalance devuelve el balance ERC-1155 on-chain (en shares) de un
	// token. Es la verdad absoluta: si > 0, hubo fill aunque la DB diga otra cosa.
	TokenBalance(ctx context.Context, tokenID string) (float64, error)
}

// Redeemer ejecuta el merge on-chain de pares YES+NO a colateral.
type Redeemer interface {
	// RedeemPair mezcla amount pares YES+NO del mercado dado en USDC.e.
	RedeemPair(ctx context.Context, conditionID, pairID string, amount float64, negRisk bool) (domain.RedeemResult, error)

	// EstimateGasCostUSD devuelve el coste de gas estimado en USD de un merge.
	EstimateGasCostUSD(ctx context.Context) (float64, error)

	// EnsureApprovals verifica y setea los approvals ERC-1155 necesarios.
	// Llamar en el arranque.
	EnsureApprovals(ctx context.Context) error

	// GasHalted devuelve true si el precio de gas supera el máximo aceptable;
	// el trading on-chain se pausa hasta que baje.
	GasHalted(ctx context.Context) (bool, error)
}
