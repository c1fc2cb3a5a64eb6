package domain

import "time"

// RedeemResult es el resultado de un merge on-chain de pares YES+NO a USDC.e.
type RedeemResult struct {
	ConditionID  string
	PairID       string
	TxHash       string
	Seq          uint64 // nonce usado en la transacción
	GasUsedPOL   float64
	GasCostUSD   float64
	USDCReceived Micros
	Profit       Micros // USDCReceived - coste desplegado
	Success      bool
	Error        string
	ExecutedAt   time.Time
}
