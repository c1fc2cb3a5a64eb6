package onchain

// sequencer.go — sequencer de transacciones del settlement layer.
//
// Polygon exige nonces estrictamente crecientes por cuenta. Este componente es
// el ÚNICO que asigna nonces: dos legs preparándose en paralelo jamás reciben
// el mismo. Además trackea las transacciones pendientes, re-envía con más gas
// las que se atascan y re-sincroniza el nonce contra la chain cuando diverge.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	// ErrTooManyPending indica que se alcanzó el cap de transacciones en vuelo.
	ErrTooManyPending = errors.New("sequencer: pending transaction cap reached")
	// ErrSeqConflict indica que la chain rechazó el nonce; hay que Resync antes
	// de volver a enviar.
	ErrSeqConflict = errors.New("sequencer: nonce conflict")
	// ErrGasHalted indica que el gas supera el máximo aceptable configurado.
	ErrGasHalted = errors.New("sequencer: gas price above configured maximum")
	// ErrUnknownSeq indica una operación sobre un nonce que no está trackeado.
	ErrUnknownSeq = errors.New("sequencer: unknown sequence number")
)

// ChainBackend es el subset de ethclient que el sequencer necesita.
type ChainBackend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// CheckpointStore persiste el último nonce asignado para sobrevivir reinicios.
// ports.Store lo satisface.
type CheckpointStore interface {
	SaveSequencerCheckpoint(ctx context.Context, nonce uint64) error
	LoadSequencerCheckpoint(ctx context.Context) (uint64, bool, error)
}

// SignFn firma una transacción para un (nonce, gasPrice) concretos. El
// sequencer la invoca en el submit inicial y en cada escalación.
type SignFn func(nonce uint64, gasPrice *big.Int) (*types.Transaction, error)

// TxRecord es el estado de una transacción trackeada.
type TxRecord struct {
	Seq         uint64
	Hash        common.Hash
	SubmittedAt time.Time
	GasPrice    *big.Int
	Retries     int
	sign        SignFn
}

// SequencerConfig parametriza el comportamiento del sequencer.
type SequencerConfig struct {
	MaxPending      int
	StuckTimeout    time.Duration
	GasBumpPercent  int64
	MaxGasPriceGwei float64
	GasPriceTTL     time.Duration
}

// Sequencer asigna nonces monótonos y trackea las transacciones en vuelo.
type Sequencer struct {
	backend    ChainBackend
	address    common.Address
	checkpoint CheckpointStore
	cfg        SequencerConfig

	mu      sync.Mutex
	next    uint64
	synced  bool
	pending map[uint64]*TxRecord

	gasMu        sync.RWMutex
	cachedGasWei *big.Int
	gasUpdatedAt time.Time
}

// NewSequencer crea un sequencer. checkpoint puede ser nil (sin persistencia;
// el Resync inicial contra la chain sigue siendo obligatorio).
func NewSequencer(backend ChainBackend, address common.Address, checkpoint CheckpointStore, cfg SequencerConfig) *Sequencer {
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = 5
	}
	if cfg.StuckTimeout <= 0 {
		cfg.StuckTimeout = 60 * time.Second
	}
	if cfg.GasBumpPercent <= 0 {
		cfg.GasBumpPercent = 10
	}
	if cfg.GasPriceTTL <= 0 {
		cfg.GasPriceTTL = 5 * time.Minute
	}
	return &Sequencer{
		backend:    backend,
		address:    address,
		checkpoint: checkpoint,
		cfg:        cfg,
		pending:    make(map[uint64]*TxRecord),
	}
}

// Resync re-deriva el siguiente nonce desde la cuenta autoritativa de la
// chain, reconciliando con el checkpoint persistido. Obligatorio al arrancar
// y tras cualquier ErrSeqConflict.
func (s *Sequencer) Resync(ctx context.Context) error {
	chainNext, err := s.backend.PendingNonceAt(ctx, s.address)
	if err != nil {
		return fmt.Errorf("sequencer.Resync: pending nonce: %w", err)
	}

	next := chainNext
	if s.checkpoint != nil {
		if last, ok, err := s.checkpoint.LoadSequencerCheckpoint(ctx); err == nil && ok && last+1 > next {
			// El checkpoint va por delante de la chain: hay txs nuestras aún
			// no visibles. Nunca reutilizar un nonce ya asignado.
			next = last + 1
		}
	}

	s.mu.Lock()
	s.next = next
	s.synced = true
	s.mu.Unlock()

	slog.Info("sequencer: resynced", "next_seq", next, "chain_next", chainNext)
	return nil
}

// Allocate asigna el siguiente nonce. Atómico: seguro para legs preparándose
// en paralelo. Respeta el cap de pendientes.
func (s *Sequencer) Allocate(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.synced {
		return 0, fmt.Errorf("sequencer.Allocate: not synced, call Resync first")
	}
	if len(s.pending) >= s.cfg.MaxPending {
		return 0, ErrTooManyPending
	}

	seq := s.next
	s.next++

	if s.checkpoint != nil {
		if err := s.checkpoint.SaveSequencerCheckpoint(ctx, seq); err != nil {
			// El nonce ya está comprometido en memoria; solo avisar.
			slog.Warn("sequencer: checkpoint save failed", "seq", seq, "err", err)
		}
	}
	return seq, nil
}

// Submit firma y envía la transacción para un nonce asignado y la trackea.
// Un rechazo por nonce devuelve ErrSeqConflict y des-sincroniza el sequencer:
// nada más sale hasta el siguiente Resync.
func (s *Sequencer) Submit(ctx context.Context, seq uint64, sign SignFn) (common.Hash, error) {
	gasPrice, err := s.GasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sequencer.Submit: gas price: %w", err)
	}
	if s.aboveMaxGas(gasPrice) {
		return common.Hash{}, ErrGasHalted
	}

	tx, err := sign(seq, gasPrice)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sequencer.Submit: sign seq %d: %w", seq, err)
	}

	if err := s.backend.SendTransaction(ctx, tx); err != nil {
		switch {
		case isAlreadyKnown(err):
			// La tx ya está en el mempool: un broadcast duplicado es un submit
			// exitoso, no un conflicto de nonce.
			slog.Debug("sequencer: tx already in mempool", "seq", seq, "tx", tx.Hash().Hex())
		case isNonceError(err):
			s.mu.Lock()
			s.synced = false
			s.mu.Unlock()
			return common.Hash{}, fmt.Errorf("%w: seq %d: %v", ErrSeqConflict, seq, err)
		default:
			return common.Hash{}, fmt.Errorf("sequencer.Submit: send seq %d: %w", seq, err)
		}
	}

	s.mu.Lock()
	s.pending[seq] = &TxRecord{
		Seq:         seq,
		Hash:        tx.Hash(),
		SubmittedAt: time.Now(),
		GasPrice:    gasPrice,
		sign:        sign,
	}
	s.mu.Unlock()

	slog.Debug("sequencer: tx submitted", "seq", seq, "tx", tx.Hash().Hex(), "gas_wei", gasPrice)
	return tx.Hash(), nil
}

// Confirm marca un nonce como terminado y lo saca del set de pendientes.
func (s *Sequencer) Confirm(seq uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[seq]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownSeq, seq)
	}
	delete(s.pending, seq)
	return nil
}

// Pending devuelve una copia de los records pendientes.
func (s *Sequencer) Pending() []TxRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TxRecord, 0, len(s.pending))
	for _, r := range s.pending {
		out = append(out, *r)
	}
	return out
}

// EscalateStuck re-envía con más gas toda transacción pendiente que lleve
// más de StuckTimeout sin confirmar. Mismo nonce, gas +GasBumpPercent%.
// Devuelve cuántas se escalaron.
func (s *Sequencer) EscalateStuck(ctx context.Context) int {
	s.mu.Lock()
	var stuck []*TxRecord
	now := time.Now()
	for _, r := range s.pending {
		if now.Sub(r.SubmittedAt) > s.cfg.StuckTimeout {
			stuck = append(stuck, r)
		}
	}
	s.mu.Unlock()

	escalated := 0
	for _, r := range stuck {
		bumped := new(big.Int).Mul(r.GasPrice, big.NewInt(100+s.cfg.GasBumpPercent))
		bumped.Div(bumped, big.NewInt(100))

		if s.aboveMaxGas(bumped) {
			slog.Warn("sequencer: escalation would exceed max gas, leaving tx as-is",
				"seq", r.Seq, "bumped_wei", bumped)
			continue
		}

		tx, err := r.sign(r.Seq, bumped)
		if err != nil {
			slog.Error("sequencer: escalate sign failed", "seq", r.Seq, "err", err)
			continue
		}
		if err := s.backend.SendTransaction(ctx, tx); err != nil {
			if isAlreadyKnown(err) {
				slog.Debug("sequencer: escalated tx already in mempool", "seq", r.Seq)
				continue
			}
			// "nonce too low" aquí significa que la original ya minó.
			if isNonceError(err) {
				slog.Debug("sequencer: original tx mined during escalation", "seq", r.Seq)
				continue
			}
			slog.Error("sequencer: escalate send failed", "seq", r.Seq, "err", err)
			continue
		}

		s.mu.Lock()
		if cur, ok := s.pending[r.Seq]; ok {
			cur.Hash = tx.Hash()
			cur.SubmittedAt = now
			cur.GasPrice = bumped
			cur.Retries++
		}
		s.mu.Unlock()

		escalated++
		slog.Info("sequencer: tx escalated", "seq", r.Seq, "retries", r.Retries+1,
			"tx", tx.Hash().Hex(), "gas_wei", bumped)
	}
	return escalated
}

// WaitForReceipt hace polling del receipt de un nonce pendiente hasta que
// confirme o el contexto caduque. Al confirmar saca el nonce de pendientes.
func (s *Sequencer) WaitForReceipt(ctx context.Context, seq uint64) (*types.Receipt, error) {
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			s.mu.Lock()
			rec, ok := s.pending[seq]
			var hash common.Hash
			if ok {
				hash = rec.Hash
			}
			s.mu.Unlock()
			if !ok {
				return nil, fmt.Errorf("%w: %d", ErrUnknownSeq, seq)
			}

			receipt, err := s.backend.TransactionReceipt(ctx, hash)
			if err != nil {
				continue // aún no minada
			}
			_ = s.Confirm(seq)
			return receipt, nil
		}
	}
}

// GasPrice devuelve el gas price sugerido con un buffer del 10%, cacheado.
func (s *Sequencer) GasPrice(ctx context.Context) (*big.Int, error) {
	s.gasMu.RLock()
	cached := s.cachedGasWei
	updatedAt := s.gasUpdatedAt
	s.gasMu.RUnlock()

	if cached != nil && time.Since(updatedAt) < s.cfg.GasPriceTTL {
		return cached, nil
	}

	price, err := s.backend.SuggestGasPrice(ctx)
	if err != nil {
		if cached != nil {
			slog.Warn("sequencer: gas price refresh failed, using cached", "err", err)
			return cached, nil
		}
		// Sin cache no hay precio que inventar: un RPC caído no decide gas.
		return nil, fmt.Errorf("sequencer.GasPrice: %w", err)
	}

	buffered := new(big.Int).Mul(price, big.NewInt(11))
	buffered.Div(buffered, big.NewInt(10))

	s.gasMu.Lock()
	s.cachedGasWei = buffered
	s.gasUpdatedAt = time.Now()
	s.gasMu.Unlock()

	return buffered, nil
}

// GasHalted devuelve true si el gas actual supera el máximo configurado. El
// trading on-chain se pausa mientras dure y se reanuda solo cuando baje.
func (s *Sequencer) GasHalted(ctx context.Context) (bool, error) {
	price, err := s.GasPrice(ctx)
	if err != nil {
		return false, err
	}
	return s.aboveMaxGas(price), nil
}

func (s *Sequencer) aboveMaxGas(price *big.Int) bool {
	if s.cfg.MaxGasPriceGwei <= 0 {
		return false
	}
	maxWei := new(big.Int).SetInt64(int64(s.cfg.MaxGasPriceGwei * 1e9))
	return price.Cmp(maxWei) > 0
}

// isNonceError reconoce los mensajes de rechazo por nonce de los clientes RPC.
func isNonceError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "nonce too low") ||
		strings.Contains(msg, "nonce too high") ||
		strings.Contains(msg, "invalid nonce") ||
		strings.Contains(msg, "replacement transaction underpriced")
}

// isAlreadyKnown reconoce el reply benigno de un broadcast duplicado: la tx
// ya está en el mempool del nodo.
func isAlreadyKnown(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already known") ||
		strings.Contains(msg, "alreadyknown") ||
		strings.Contains(msg, "known transaction")
}
