package storage

// sqlite.go — persistencia del estado del trader.
//
// Todo el estado que debe sobrevivir un reinicio vive aquí: posiciones,
// órdenes, outcomes realizados, el estado de riesgo, las redemptions on-chain
// y el checkpoint del sequencer. SQLite pure Go (sin CGo), single-writer.
//
// El arranque hace reconciliación fuera de este paquete: las posiciones OPEN
// que devuelve GetOpenPositions se verifican contra los balances on-chain
// antes de que el engine las adopte.

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alejandrodnm/polytrader/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS positions (
    id           TEXT PRIMARY KEY,
    pair_id      TEXT NOT NULL DEFAULT '',
    condition_id TEXT NOT NULL,
    token_id     TEXT NOT NULL,
    asset        TEXT NOT NULL,
    outcome      TEXT NOT NULL,
    shares       REAL NOT NULL,
    entry_price  REAL NOT NULL,
    entry_cost   INTEGER NOT NULL,
    entry_time   DATETIME NOT NULL,
    peak_price   REAL NOT NULL DEFAULT 0,
    status       TEXT NOT NULL,
    close_reason TEXT NOT NULL DEFAULT '',
    closed_at    DATETIME,
    exit_price   REAL NOT NULL DEFAULT 0,
    realized_pnl INTEGER NOT NULL DEFAULT 0,
    market_end   DATETIME
);

CREATE TABLE IF NOT EXISTS orders (
    client_id      TEXT PRIMARY KEY,
    clob_order_id  TEXT NOT NULL DEFAULT '',
    condition_id   TEXT NOT NULL,
    token_id       TEXT NOT NULL,
    side           TEXT NOT NULL,
    price          REAL NOT NULL,
    shares         REAL NOT NULL,
    cost           INTEGER NOT NULL,
    status         TEXT NOT NULL,
    created_at     DATETIME NOT NULL,
    submitted_at   DATETIME,
    filled_at      DATETIME,
    filled_price   REAL NOT NULL DEFAULT 0,
    filled_size    REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS outcomes (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    position_id TEXT NOT NULL,
    asset       TEXT NOT NULL,
    pnl         INTEGER NOT NULL,
    reason      TEXT NOT NULL,
    is_unwind   INTEGER NOT NULL DEFAULT 0,
    closed_at   DATETIME NOT NULL,
    gas_cost    INTEGER NOT NULL DEFAULT 0
);

-- Una sola fila (id=1), se sobreescribe entera.
CREATE TABLE IF NOT EXISTS risk_state (
    id               INTEGER PRIMARY KEY CHECK (id = 1),
    day              TEXT NOT NULL,
    daily_realized   INTEGER NOT NULL DEFAULT 0,
    consecutive_loss INTEGER NOT NULL DEFAULT 0,
    consecutive_win  INTEGER NOT NULL DEFAULT 0,
    breaker_active   INTEGER NOT NULL DEFAULT 0,
    breaker_since    DATETIME,
    open_notional    INTEGER NOT NULL DEFAULT 0,
    open_by_asset    TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS redemptions (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    condition_id  TEXT NOT NULL,
    pair_id       TEXT NOT NULL DEFAULT '',
    tx_hash       TEXT NOT NULL DEFAULT '',
    seq           INTEGER NOT NULL DEFAULT 0,
    gas_used_pol  REAL NOT NULL DEFAULT 0,
    gas_cost_usd  REAL NOT NULL DEFAULT 0,
    usdc_received INTEGER NOT NULL DEFAULT 0,
    profit        INTEGER NOT NULL DEFAULT 0,
    success       INTEGER NOT NULL DEFAULT 0,
    error         TEXT NOT NULL DEFAULT '',
    executed_at   DATETIME NOT NULL
);

-- Una sola fila (id=1): último nonce asignado por el sequencer.
CREATE TABLE IF NOT EXISTS sequencer_checkpoint (
    id    INTEGER PRIMARY KEY CHECK (id = 1),
    nonce INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS daily_summaries (
    date         TEXT PRIMARY KEY,
    entries      INTEGER NOT NULL DEFAULT 0,
    exits        INTEGER NOT NULL DEFAULT 0,
    unwinds      INTEGER NOT NULL DEFAULT 0,
    redemptions  INTEGER NOT NULL DEFAULT 0,
    wins         INTEGER NOT NULL DEFAULT 0,
    losses       INTEGER NOT NULL DEFAULT 0,
    realized_pnl INTEGER NOT NULL DEFAULT 0,
    gas_cost_usd REAL NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status);
CREATE INDEX IF NOT EXISTS idx_positions_pair   ON positions(pair_id);
CREATE INDEX IF NOT EXISTS idx_orders_condition ON orders(condition_id);
CREATE INDEX IF NOT EXISTS idx_outcomes_closed  ON outcomes(closed_at DESC);
`

// SQLiteStore implementa ports.Store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore abre (o crea) la base de datos en el DSN dado.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStore: open %q: %w", dsn, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.ApplySchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// ApplySchema crea las tablas si no existen.
func (s *SQLiteStore) ApplySchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("storage.ApplySchema: %w", err)
	}
	return nil
}

// SavePosition inserta una posición nueva.
func (s *SQLiteStore) SavePosition(ctx context.Context, p domain.Position) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions
			(id, pair_id, condition_id, token_id, asset, outcome, shares,
			 entry_price, entry_cost, entry_time, peak_price, status,
			 close_reason, closed_at, exit_price, realized_pnl, market_end)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.ID, p.PairID, p.ConditionID, p.TokenID, p.Asset, p.Outcome, p.Shares,
		p.EntryPrice, int64(p.EntryCost), p.EntryTime.UTC(), p.PeakPrice, string(p.Status),
		string(p.CloseReason), nullTime(p.ClosedAt), p.ExitPrice, int64(p.RealizedPnL),
		p.MarketEnd.UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage.SavePosition %s: %w", p.ID, err)
	}
	return nil
}

// UpdatePosition sobreescribe el estado mutable de una posición.
func (s *SQLiteStore) UpdatePosition(ctx context.Context, p domain.Position) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE positions SET
			peak_price = ?, status = ?, close_reason = ?, closed_at = ?,
			exit_price = ?, realized_pnl = ?
		WHERE id = ?
	`,
		p.PeakPrice, string(p.Status), string(p.CloseReason), nullTime(p.ClosedAt),
		p.ExitPrice, int64(p.RealizedPnL), p.ID,
	)
	if err != nil {
		return fmt.Errorf("storage.UpdatePosition %s: %w", p.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("storage.UpdatePosition %s: position not found", p.ID)
	}
	return nil
}

// GetOpenPositions devuelve las posiciones OPEN y CLOSING, las que el engine
// debe adoptar tras un reinicio.
func (s *SQLiteStore) GetOpenPositions(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pair_id, condition_id, token_id, asset, outcome, shares,
		       entry_price, entry_cost, entry_time, peak_price, status,
		       close_reason, closed_at, exit_price, realized_pnl, market_end
		FROM positions
		WHERE status IN ('OPEN', 'CLOSING')
		ORDER BY entry_time ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("storage.GetOpenPositions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		var p domain.Position
		var entryCost, realized int64
		var status, reason string
		var closedAt sql.NullTime
		if err := rows.Scan(
			&p.ID, &p.PairID, &p.ConditionID, &p.TokenID, &p.Asset, &p.Outcome,
			&p.Shares, &p.EntryPrice, &entryCost, &p.EntryTime, &p.PeakPrice,
			&status, &reason, &closedAt, &p.ExitPrice, &realized, &p.MarketEnd,
		); err != nil {
			return nil, fmt.Errorf("storage.GetOpenPositions: scan: %w", err)
		}
		p.EntryCost = domain.Micros(entryCost)
		p.RealizedPnL = domain.Micros(realized)
		p.Status = domain.PositionStatus(status)
		p.CloseReason = domain.CloseReason(reason)
		if closedAt.Valid {
			t := closedAt.Time
			p.ClosedAt = &t
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SaveOrder inserta una orden nueva.
func (s *SQLiteStore) SaveOrder(ctx context.Context, o domain.Order) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders
			(client_id, clob_order_id, condition_id, token_id, side, price,
			 shares, cost, status, created_at, submitted_at, filled_at,
			 filled_price, filled_size)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		o.ClientID, o.CLOBOrderID, o.ConditionID, o.TokenID, string(o.Side),
		o.Price, o.Shares, int64(o.Cost), string(o.Status), o.CreatedAt.UTC(),
		nullTime(o.SubmittedAt), nullTime(o.FilledAt), o.FilledPrice, o.FilledSize,
	)
	if err != nil {
		return fmt.Errorf("storage.SaveOrder %s: %w", o.ClientID, err)
	}
	return nil
}

// UpdateOrder sobreescribe el estado mutable de una orden.
func (s *SQLiteStore) UpdateOrder(ctx context.Context, o domain.Order) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE orders SET
			clob_order_id = ?, status = ?, submitted_at = ?, filled_at = ?,
			filled_price = ?, filled_size = ?
		WHERE client_id = ?
	`,
		o.CLOBOrderID, string(o.Status), nullTime(o.SubmittedAt),
		nullTime(o.FilledAt), o.FilledPrice, o.FilledSize, o.ClientID,
	)
	if err != nil {
		return fmt.Errorf("storage.UpdateOrder %s: %w", o.ClientID, err)
	}
	return nil
}

// SaveOutcome inserta un resultado realizado.
func (s *SQLiteStore) SaveOutcome(ctx context.Context, out domain.TradeOutcome) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outcomes
			(position_id, asset, pnl, reason, is_unwind, closed_at, gas_cost)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		out.PositionID, out.Asset, int64(out.PnL), string(out.Reason),
		boolInt(out.IsUnwind), out.ClosedAt.UTC(), int64(out.GasCostUSDC),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveOutcome %s: %w", out.PositionID, err)
	}
	return nil
}

// SaveRiskState sobreescribe el estado de riesgo (fila única).
func (s *SQLiteStore) SaveRiskState(ctx context.Context, rs domain.RiskState) error {
	byAsset, err := json.Marshal(rs.OpenByAsset)
	if err != nil {
		return fmt.Errorf("storage.SaveRiskState: marshal open_by_asset: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO risk_state
			(id, day, daily_realized, consecutive_loss, consecutive_win,
			 breaker_active, breaker_since, open_notional, open_by_asset)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			day              = excluded.day,
			daily_realized   = excluded.daily_realized,
			consecutive_loss = excluded.consecutive_loss,
			consecutive_win  = excluded.consecutive_win,
			breaker_active   = excluded.breaker_active,
			breaker_since    = excluded.breaker_since,
			open_notional    = excluded.open_notional,
			open_by_asset    = excluded.open_by_asset
	`,
		rs.Day, int64(rs.DailyRealized), rs.ConsecutiveLoss, rs.ConsecutiveWin,
		boolInt(rs.BreakerActive), nullTime(rs.BreakerSince),
		int64(rs.OpenNotional), string(byAsset),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveRiskState: %w", err)
	}
	return nil
}

// LoadRiskState carga el estado de riesgo. found=false si nunca se guardó.
func (s *SQLiteStore) LoadRiskState(ctx context.Context) (domain.RiskState, bool, error) {
	var rs domain.RiskState
	var daily, notional int64
	var breaker int
	var since sql.NullTime
	var byAsset string

	err := s.db.QueryRowContext(ctx, `
		SELECT day, daily_realized, consecutive_loss, consecutive_win,
		       breaker_active, breaker_since, open_notional, open_by_asset
		FROM risk_state WHERE id = 1
	`).Scan(&rs.Day, &daily, &rs.ConsecutiveLoss, &rs.ConsecutiveWin,
		&breaker, &since, &notional, &byAsset)
	if err == sql.ErrNoRows {
		return domain.RiskState{}, false, nil
	}
	if err != nil {
		return domain.RiskState{}, false, fmt.Errorf("storage.LoadRiskState: %w", err)
	}

	rs.DailyRealized = domain.Micros(daily)
	rs.OpenNotional = domain.Micros(notional)
	rs.BreakerActive = breaker == 1
	if since.Valid {
		t := since.Time
		rs.BreakerSince = &t
	}
	rs.OpenByAsset = make(map[string]int)
	if err := json.Unmarshal([]byte(byAsset), &rs.OpenByAsset); err != nil {
		return domain.RiskState{}, false, fmt.Errorf("storage.LoadRiskState: open_by_asset: %w", err)
	}
	return rs, true, nil
}

// SaveRedemption inserta el resultado de un merge on-chain.
func (s *SQLiteStore) SaveRedemption(ctx context.Context, r domain.RedeemResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO redemptions
			(condition_id, pair_id, tx_hash, seq, gas_used_pol, gas_cost_usd,
			 usdc_received, profit, success, error, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ConditionID, r.PairID, r.TxHash, int64(r.Seq), r.GasUsedPOL,
		r.GasCostUSD, int64(r.USDCReceived), int64(r.Profit),
		boolInt(r.Success), r.Error, r.ExecutedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveRedemption %s: %w", r.ConditionID, err)
	}
	return nil
}

// SaveSequencerCheckpoint persiste el último nonce asignado (fila única).
func (s *SQLiteStore) SaveSequencerCheckpoint(ctx context.Context, nonce uint64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sequencer_checkpoint (id, nonce) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET nonce = MAX(nonce, excluded.nonce)
	`, int64(nonce))
	if err != nil {
		return fmt.Errorf("storage.SaveSequencerCheckpoint: %w", err)
	}
	return nil
}

// LoadSequencerCheckpoint devuelve el último nonce persistido.
func (s *SQLiteStore) LoadSequencerCheckpoint(ctx context.Context) (uint64, bool, error) {
	var nonce int64
	err := s.db.QueryRowContext(ctx,
		`SELECT nonce FROM sequencer_checkpoint WHERE id = 1`,
	).Scan(&nonce)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("storage.LoadSequencerCheckpoint: %w", err)
	}
	return uint64(nonce), true, nil
}

// UpsertDailySummary acumula los contadores del día (suma, no sobreescribe).
func (s *SQLiteStore) UpsertDailySummary(ctx context.Context, d domain.DailySummary) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_summaries
			(date, entries, exits, unwinds, redemptions, wins, losses,
			 realized_pnl, gas_cost_usd)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			entries      = entries + excluded.entries,
			exits        = exits + excluded.exits,
			unwinds      = unwinds + excluded.unwinds,
			redemptions  = redemptions + excluded.redemptions,
			wins         = wins + excluded.wins,
			losses       = losses + excluded.losses,
			realized_pnl = realized_pnl + excluded.realized_pnl,
			gas_cost_usd = gas_cost_usd + excluded.gas_cost_usd
	`,
		d.Date.UTC().Format("2006-01-02"), d.Entries, d.Exits, d.Unwinds,
		d.Redemptions, d.Wins, d.Losses, int64(d.RealizedPnL), d.GasCostUSD,
	)
	if err != nil {
		return fmt.Errorf("storage.UpsertDailySummary: %w", err)
	}
	return nil
}

// GetDailySummaries devuelve las filas diarias en el rango dado, más reciente
// primero.
func (s *SQLiteStore) GetDailySummaries(ctx context.Context, from, to time.Time) ([]domain.DailySummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, entries, exits, unwinds, redemptions, wins, losses,
		       realized_pnl, gas_cost_usd
		FROM daily_summaries
		WHERE date BETWEEN ? AND ?
		ORDER BY date DESC
	`, from.UTC().Format("2006-01-02"), to.UTC().Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("storage.GetDailySummaries: %w", err)
	}
	defer rows.Close()

	var out []domain.DailySummary
	for rows.Next() {
		var d domain.DailySummary
		var date string
		var pnl int64
		if err := rows.Scan(&date, &d.Entries, &d.Exits, &d.Unwinds,
			&d.Redemptions, &d.Wins, &d.Losses, &pnl, &d.GasCostUSD); err != nil {
			return nil, fmt.Errorf("storage.GetDailySummaries: scan: %w", err)
		}
		d.Date, _ = time.Parse("2006-01-02", date)
		d.RealizedPnL = domain.Micros(pnl)
		out = append(out, d)
	}
	return out, rows.Err()
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
