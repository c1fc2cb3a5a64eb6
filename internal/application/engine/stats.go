package engine

// stats.go — contabilidad de descartes del pipeline de entradas.

import "log/slog"

type skipReason string

const (
	skipExpired   skipReason = "opportunity_expired"
	skipAlreadyIn skipReason = "already_in_market"
	skipGasHalted skipReason = "gas_halted"
	skipRisk      skipReason = "risk_gate"
	skipExecution skipReason = "execution_error"
	skipNoFill    skipReason = "no_fill"
	skipUnwound   skipReason = "unwound"
)

// pipelineStats acumula por qué se descartó cada oportunidad del ciclo.
// Un ciclo sin entradas con 12 "risk_gate" y un ciclo sin oportunidades son
// situaciones muy distintas; el tally las separa de un vistazo.
type pipelineStats struct {
	skips map[skipReason]int
}

func newPipelineStats() *pipelineStats {
	return &pipelineStats{skips: make(map[skipReason]int)}
}

func (ps *pipelineStats) record(reason skipReason) {
	ps.skips[reason]++
}

func (ps *pipelineStats) log() {
	if len(ps.skips) == 0 {
		return
	}
	args := make([]any, 0, len(ps.skips)*2)
	for reason, count := range ps.skips {
		args = append(args, string(reason), count)
	}
	slog.Debug("entry pipeline skips", args...)
}
