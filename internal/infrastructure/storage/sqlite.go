package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vitos/spot_support_bot/internal/domain"
)

// SQLiteStore backs every repository interface with a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS trading_configs (
			account_id TEXT PRIMARY KEY,
			symbols TEXT NOT NULL,
			entry_offset_pct REAL NOT NULL,
			take_profit_pct REAL NOT NULL,
			max_order_amount_usd REAL NOT NULL,
			max_positions_per_pair INTEGER NOT NULL,
			max_active_pairs INTEGER NOT NULL,
			support_candle_count INTEGER NOT NULL,
			support_lower_bound_pct REAL NOT NULL,
			support_upper_bound_pct REAL NOT NULL,
			eod_close_premium_pct REAL NOT NULL,
			eod_close_hour_utc INTEGER NOT NULL,
			auto_close_at_eod BOOLEAN NOT NULL DEFAULT 1,
			eod_close_include_losses BOOLEAN NOT NULL DEFAULT 0,
			take_profit_mode TEXT NOT NULL DEFAULT 'resting',
			main_loop_interval_seconds INTEGER NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS market_samples (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			price REAL NOT NULL,
			volume REAL NOT NULL DEFAULT 0,
			ts DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_samples_symbol_ts ON market_samples(symbol, ts);`,
		`CREATE TABLE IF NOT EXISTS signals (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			action TEXT NOT NULL,
			target_price REAL NOT NULL,
			confidence REAL NOT NULL,
			reasoning TEXT,
			processed BOOLEAN NOT NULL DEFAULT 0,
			reject_reason TEXT,
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_signals_account ON signals(account_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS positions (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			order_type TEXT NOT NULL,
			price REAL NOT NULL,
			quantity REAL NOT NULL,
			status TEXT NOT NULL,
			exchange_order_id TEXT,
			take_profit_order_id TEXT,
			take_profit_price REAL NOT NULL DEFAULT 0,
			profit_loss REAL NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_positions_account_status ON positions(account_id, status);`,
		`CREATE TABLE IF NOT EXISTS activity_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			account_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			symbol TEXT,
			message TEXT NOT NULL,
			details TEXT,
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_activity_account ON activity_log(account_id, created_at);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}

	return nil
}

// ConfigProvider implementation

func (s *SQLiteStore) LoadConfig(ctx context.Context, accountID string) (*domain.TradingConfiguration, error) {
	query := `SELECT account_id, symbols, entry_offset_pct, take_profit_pct, max_order_amount_usd,
			max_positions_per_pair, max_active_pairs, support_candle_count,
			support_lower_bound_pct, support_upper_bound_pct, eod_close_premium_pct,
			eod_close_hour_utc, auto_close_at_eod, eod_close_include_losses,
			take_profit_mode, main_loop_interval_seconds, is_active, updated_at
		FROM trading_configs WHERE account_id = ?`
	row := s.db.QueryRowContext(ctx, query, accountID)

	var cfg domain.TradingConfiguration
	var symbols string
	err := row.Scan(&cfg.AccountID, &symbols, &cfg.EntryOffsetPercent, &cfg.TakeProfitPercent,
		&cfg.MaxOrderAmountUSD, &cfg.MaxPositionsPerPair, &cfg.MaxActivePairs,
		&cfg.SupportCandleCount, &cfg.SupportLowerBoundPercent, &cfg.SupportUpperBoundPercent,
		&cfg.EODClosePremiumPercent, &cfg.EODCloseHourUTC, &cfg.AutoCloseAtEndOfDay,
		&cfg.EODCloseIncludeLosses, &cfg.TakeProfitMode, &cfg.MainLoopIntervalSeconds,
		&cfg.IsActive, &cfg.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if symbols != "" {
		cfg.Symbols = strings.Split(symbols, ",")
	}
	return &cfg, nil
}

func (s *SQLiteStore) SaveConfig(ctx context.Context, cfg *domain.TradingConfiguration) error {
	query := `INSERT INTO trading_configs (account_id, symbols, entry_offset_pct, take_profit_pct,
			max_order_amount_usd, max_positions_per_pair, max_active_pairs, support_candle_count,
			support_lower_bound_pct, support_upper_bound_pct, eod_close_premium_pct,
			eod_close_hour_utc, auto_close_at_eod, eod_close_include_losses,
			take_profit_mode, main_loop_interval_seconds, is_active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			symbols=excluded.symbols,
			entry_offset_pct=excluded.entry_offset_pct,
			take_profit_pct=excluded.take_profit_pct,
			max_order_amount_usd=excluded.max_order_amount_usd,
			max_positions_per_pair=excluded.max_positions_per_pair,
			max_active_pairs=excluded.max_active_pairs,
			support_candle_count=excluded.support_candle_count,
			support_lower_bound_pct=excluded.support_lower_bound_pct,
			support_upper_bound_pct=excluded.support_upper_bound_pct,
			eod_close_premium_pct=excluded.eod_close_premium_pct,
			eod_close_hour_utc=excluded.eod_close_hour_utc,
			auto_close_at_eod=excluded.auto_close_at_eod,
			eod_close_include_losses=excluded.eod_close_include_losses,
			take_profit_mode=excluded.take_profit_mode,
			main_loop_interval_seconds=excluded.main_loop_interval_seconds,
			is_active=excluded.is_active,
			updated_at=excluded.updated_at`
	_, err := s.db.ExecContext(ctx, query,
		cfg.AccountID, strings.Join(cfg.Symbols, ","), cfg.EntryOffsetPercent, cfg.TakeProfitPercent,
		cfg.MaxOrderAmountUSD, cfg.MaxPositionsPerPair, cfg.MaxActivePairs, cfg.SupportCandleCount,
		cfg.SupportLowerBoundPercent, cfg.SupportUpperBoundPercent, cfg.EODClosePremiumPercent,
		cfg.EODCloseHourUTC, cfg.AutoCloseAtEndOfDay, cfg.EODCloseIncludeLosses,
		cfg.TakeProfitMode, cfg.MainLoopIntervalSeconds, cfg.IsActive, cfg.UpdatedAt)
	return err
}

// SampleRepository implementation

func (s *SQLiteStore) SaveSample(ctx context.Context, sample *domain.MarketSample) error {
	query := `INSERT INTO market_samples (symbol, price, volume, ts) VALUES (?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, sample.Symbol, sample.Price, sample.Volume, sample.Timestamp)
	return err
}

func (s *SQLiteStore) RecentSamples(ctx context.Context, symbol string, limit int) ([]*domain.MarketSample, error) {
	// Newest rows selected first, then reversed so callers see the series
	// oldest first.
	query := `SELECT symbol, price, volume, ts FROM market_samples
		WHERE symbol = ? ORDER BY ts DESC, id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []*domain.MarketSample
	for rows.Next() {
		var m domain.MarketSample
		if err := rows.Scan(&m.Symbol, &m.Price, &m.Volume, &m.Timestamp); err != nil {
			return nil, err
		}
		samples = append(samples, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(samples)-1; i < j; i, j = i+1, j-1 {
		samples[i], samples[j] = samples[j], samples[i]
	}
	return samples, nil
}

func (s *SQLiteStore) PruneSamples(ctx context.Context, symbol string, keep int) error {
	query := `DELETE FROM market_samples WHERE symbol = ? AND id NOT IN (
		SELECT id FROM market_samples WHERE symbol = ? ORDER BY ts DESC, id DESC LIMIT ?)`
	_, err := s.db.ExecContext(ctx, query, symbol, symbol, keep)
	return err
}

// SignalRepository implementation

func (s *SQLiteStore) SaveSignal(ctx context.Context, sig *domain.Signal) error {
	query := `INSERT INTO signals (id, account_id, symbol, action, target_price, confidence,
			reasoning, processed, reject_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		sig.ID, sig.AccountID, sig.Symbol, sig.Action, sig.TargetPrice, sig.Confidence,
		sig.Reasoning, sig.Processed, sig.RejectReason, sig.CreatedAt)
	return err
}

func (s *SQLiteStore) UpdateSignal(ctx context.Context, sig *domain.Signal) error {
	query := `UPDATE signals SET processed = ?, reject_reason = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, query, sig.Processed, sig.RejectReason, sig.ID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *SQLiteStore) GetSignal(ctx context.Context, id string) (*domain.Signal, error) {
	query := `SELECT id, account_id, symbol, action, target_price, confidence, reasoning,
			processed, reject_reason, created_at
		FROM signals WHERE id = ?`
	row := s.db.QueryRowContext(ctx, query, id)

	var sig domain.Signal
	err := row.Scan(&sig.ID, &sig.AccountID, &sig.Symbol, &sig.Action, &sig.TargetPrice,
		&sig.Confidence, &sig.Reasoning, &sig.Processed, &sig.RejectReason, &sig.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sig, nil
}

func (s *SQLiteStore) ListSignals(ctx context.Context, accountID string, limit int) ([]*domain.Signal, error) {
	query := `SELECT id, account_id, symbol, action, target_price, confidence, reasoning,
			processed, reject_reason, created_at
		FROM signals WHERE account_id = ? ORDER BY created_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var signals []*domain.Signal
	for rows.Next() {
		var sig domain.Signal
		if err := rows.Scan(&sig.ID, &sig.AccountID, &sig.Symbol, &sig.Action, &sig.TargetPrice,
			&sig.Confidence, &sig.Reasoning, &sig.Processed, &sig.RejectReason, &sig.CreatedAt); err != nil {
			return nil, err
		}
		signals = append(signals, &sig)
	}
	return signals, rows.Err()
}

// PositionRepository implementation

const positionColumns = `id, account_id, symbol, side, order_type, price, quantity, status,
	exchange_order_id, take_profit_order_id, take_profit_price, profit_loss, created_at, updated_at`

func (s *SQLiteStore) SavePosition(ctx context.Context, pos *domain.Position) error {
	query := `INSERT INTO positions (` + positionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		pos.ID, pos.AccountID, pos.Symbol, pos.Side, pos.OrderType, pos.Price, pos.Quantity,
		pos.Status, pos.ExchangeOrderID, pos.TakeProfitOrderID, pos.TakeProfitPrice,
		pos.ProfitLoss, pos.CreatedAt, pos.UpdatedAt)
	return err
}

func (s *SQLiteStore) UpdatePosition(ctx context.Context, pos *domain.Position) error {
	query := `UPDATE positions SET price = ?, quantity = ?, status = ?, exchange_order_id = ?,
			take_profit_order_id = ?, take_profit_price = ?, profit_loss = ?, updated_at = ?
		WHERE id = ?`
	res, err := s.db.ExecContext(ctx, query,
		pos.Price, pos.Quantity, pos.Status, pos.ExchangeOrderID,
		pos.TakeProfitOrderID, pos.TakeProfitPrice, pos.ProfitLoss, pos.UpdatedAt, pos.ID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *SQLiteStore) GetPosition(ctx context.Context, id string) (*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE id = ?`
	row := s.db.QueryRowContext(ctx, query, id)

	pos, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return pos, err
}

func (s *SQLiteStore) ListPositionsByStatus(ctx context.Context, accountID string, status domain.PositionStatus) ([]*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions
		WHERE account_id = ? AND status = ? ORDER BY created_at`
	return s.queryPositions(ctx, query, accountID, status)
}

func (s *SQLiteStore) ListOpenPositions(ctx context.Context, accountID string) ([]*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions
		WHERE account_id = ? AND status IN ('pending', 'filled') ORDER BY created_at`
	return s.queryPositions(ctx, query, accountID)
}

func (s *SQLiteStore) CountOpenPositions(ctx context.Context, accountID, symbol string) (int, error) {
	query := `SELECT COUNT(*) FROM positions
		WHERE account_id = ? AND symbol = ? AND status IN ('pending', 'filled')`
	var count int
	err := s.db.QueryRowContext(ctx, query, accountID, symbol).Scan(&count)
	return count, err
}

func (s *SQLiteStore) queryPositions(ctx context.Context, query string, args ...interface{}) ([]*domain.Position, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []*domain.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(row rowScanner) (*domain.Position, error) {
	var pos domain.Position
	err := row.Scan(&pos.ID, &pos.AccountID, &pos.Symbol, &pos.Side, &pos.OrderType,
		&pos.Price, &pos.Quantity, &pos.Status, &pos.ExchangeOrderID, &pos.TakeProfitOrderID,
		&pos.TakeProfitPrice, &pos.ProfitLoss, &pos.CreatedAt, &pos.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &pos, nil
}

// ActivityRepository implementation

func (s *SQLiteStore) SaveEvent(ctx context.Context, ev *domain.ActivityEvent) error {
	var details []byte
	if len(ev.Details) > 0 {
		var err error
		details, err = json.Marshal(ev.Details)
		if err != nil {
			return fmt.Errorf("marshal event details: %w", err)
		}
	}
	query := `INSERT INTO activity_log (account_id, event_type, symbol, message, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		ev.AccountID, ev.Type, ev.Symbol, ev.Message, string(details), ev.CreatedAt)
	return err
}

func (s *SQLiteStore) ListEvents(ctx context.Context, accountID string, limit int) ([]*domain.ActivityEvent, error) {
	query := `SELECT id, account_id, event_type, symbol, message, details, created_at
		FROM activity_log WHERE account_id = ? ORDER BY id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.ActivityEvent
	for rows.Next() {
		var ev domain.ActivityEvent
		var details string
		if err := rows.Scan(&ev.ID, &ev.AccountID, &ev.Type, &ev.Symbol, &ev.Message, &details, &ev.CreatedAt); err != nil {
			return nil, err
		}
		if details != "" {
			if err := json.Unmarshal([]byte(details), &ev.Details); err != nil {
				return nil, fmt.Errorf("unmarshal event details: %w", err)
			}
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
