package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"trading-engine/internal/logging"
)

// DB wraps the PostgreSQL connection pool.
type DB struct {
	Pool *pgxpool.Pool
}

// DBConfig holds database connection settings.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewDB creates a connection pool and verifies connectivity.
func NewDB(cfg DBConfig) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	logging.Info("connected to PostgreSQL database", "database", cfg.Database)
	return &DB{Pool: pool}, nil
}

// Close closes the connection pool.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// RunMigrations creates the trade and settings tables.
func (db *DB) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id UUID PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			side VARCHAR(5) NOT NULL,
			size_usd DECIMAL(20, 8) NOT NULL,
			entry_price DECIMAL(20, 8) NOT NULL,
			exit_price DECIMAL(20, 8),
			profit DECIMAL(20, 8),
			stop_loss DECIMAL(20, 8),
			take_profit DECIMAL(20, 8),
			signal_reason TEXT,
			exit_reason TEXT,
			status VARCHAR(10) NOT NULL,
			opened_at TIMESTAMPTZ NOT NULL,
			closed_at TIMESTAMPTZ
		)`,
		`ALTER TABLE trades ADD COLUMN IF NOT EXISTS exit_reason TEXT`,
		`CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_opened_at ON trades(opened_at DESC)`,
		`CREATE TABLE IF NOT EXISTS engine_settings (
			symbol VARCHAR(20) PRIMARY KEY,
			current_position_size DECIMAL(20, 8) NOT NULL,
			max_position_size DECIMAL(20, 8) NOT NULL,
			take_profit_percent DOUBLE PRECISION NOT NULL,
			stop_loss_percent DOUBLE PRECISION NOT NULL,
			consecutive_wins INT NOT NULL DEFAULT 0,
			consecutive_losses INT NOT NULL DEFAULT 0,
			total_trades INT NOT NULL DEFAULT 0,
			winning_trades INT NOT NULL DEFAULT 0,
			portfolio_value DECIMAL(20, 8) NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	for _, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Repository is the PostgreSQL-backed ledger.
type Repository struct {
	db     *DB
	symbol string
}

// NewRepository creates a ledger over the given pool for one symbol.
func NewRepository(db *DB, symbol string) *Repository {
	return &Repository{db: db, symbol: symbol}
}

// HealthCheck pings the database.
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// CreateTrade inserts a new trade record.
func (r *Repository) CreateTrade(ctx context.Context, record *TradeRecord) error {
	query := `
		INSERT INTO trades (id, symbol, side, size_usd, entry_price, stop_loss, take_profit, signal_reason, status, opened_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.Pool.Exec(
		ctx, query,
		record.ID, record.Symbol, record.Side, record.SizeUSD, record.EntryPrice,
		record.StopLoss, record.TakeProfit, record.SignalReason, record.Status, record.OpenedAt,
	)
	return err
}

// UpdateTrade closes an open trade record.
func (r *Repository) UpdateTrade(ctx context.Context, id string, patch TradeUpdate) error {
	query := `
		UPDATE trades
		SET exit_price = $2, profit = $3, exit_reason = $4, status = $5, closed_at = $6
		WHERE id = $1
	`
	tag, err := r.db.Pool.Exec(
		ctx, query,
		id, patch.ExitPrice, patch.Profit, patch.Reason, StatusClosed, patch.ClosedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTradeNotFound
	}
	return nil
}

// GetTradeHistory returns closed trades, most recent first.
func (r *Repository) GetTradeHistory(ctx context.Context, limit int) ([]*TradeRecord, error) {
	query := `
		SELECT id, symbol, side, size_usd, entry_price, exit_price, profit,
		       stop_loss, take_profit, signal_reason, COALESCE(exit_reason, ''), status, opened_at, closed_at
		FROM trades
		WHERE symbol = $1 AND status = 'CLOSED'
		ORDER BY closed_at DESC
		LIMIT $2
	`
	rows, err := r.db.Pool.Query(ctx, query, r.symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*TradeRecord
	for rows.Next() {
		record := &TradeRecord{}
		err := rows.Scan(
			&record.ID, &record.Symbol, &record.Side, &record.SizeUSD,
			&record.EntryPrice, &record.ExitPrice, &record.Profit,
			&record.StopLoss, &record.TakeProfit, &record.SignalReason,
			&record.ExitReason, &record.Status, &record.OpenedAt, &record.ClosedAt,
		)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// GetSettings loads the per-symbol settings row.
func (r *Repository) GetSettings(ctx context.Context) (Settings, error) {
	query := `
		SELECT current_position_size, max_position_size, take_profit_percent, stop_loss_percent,
		       consecutive_wins, consecutive_losses, total_trades, winning_trades, portfolio_value
		FROM engine_settings
		WHERE symbol = $1
	`
	var s Settings
	err := r.db.Pool.QueryRow(ctx, query, r.symbol).Scan(
		&s.CurrentPositionSize, &s.MaxPositionSize, &s.TakeProfitPercent, &s.StopLossPercent,
		&s.ConsecutiveWins, &s.ConsecutiveLosses, &s.TotalTrades, &s.WinningTrades, &s.PortfolioValue,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Settings{}, nil
	}
	return s, err
}

// UpdateSettings upserts the per-symbol settings row.
func (r *Repository) UpdateSettings(ctx context.Context, s Settings) error {
	query := `
		INSERT INTO engine_settings (symbol, current_position_size, max_position_size, take_profit_percent,
		                             stop_loss_percent, consecutive_wins, consecutive_losses, total_trades,
		                             winning_trades, portfolio_value, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (symbol) DO UPDATE SET
			current_position_size = EXCLUDED.current_position_size,
			max_position_size = EXCLUDED.max_position_size,
			take_profit_percent = EXCLUDED.take_profit_percent,
			stop_loss_percent = EXCLUDED.stop_loss_percent,
			consecutive_wins = EXCLUDED.consecutive_wins,
			consecutive_losses = EXCLUDED.consecutive_losses,
			total_trades = EXCLUDED.total_trades,
			winning_trades = EXCLUDED.winning_trades,
			portfolio_value = EXCLUDED.portfolio_value,
			updated_at = NOW()
	`
	_, err := r.db.Pool.Exec(
		ctx, query,
		r.symbol, s.CurrentPositionSize, s.MaxPositionSize, s.TakeProfitPercent,
		s.StopLossPercent, s.ConsecutiveWins, s.ConsecutiveLosses, s.TotalTrades,
		s.WinningTrades, s.PortfolioValue,
	)
	return err
}
