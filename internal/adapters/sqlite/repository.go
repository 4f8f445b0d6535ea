package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"optionsSentry/internal/domain"
	"optionsSentry/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements ports.PositionRepository using SQLite. Positions
// are append-and-update history; nothing is ever deleted.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/positions.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
	}

	// WAL mode for better concurrency between the monitor loop and
	// dispatch workers.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping database at '%s': %v", ports.ErrDBConnection, dbPath, err)
	}

	db.SetMaxOpenConns(1) // The Go sqlite driver benefits from a single connection
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}
	cfg.Logger.Info(context.Background(), "SQLite position repository ready", map[string]interface{}{"path": dbPath})

	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS positions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		class TEXT NOT NULL,
		lot_size INTEGER NOT NULL,
		entry_price REAL NOT NULL,
		quantity INTEGER NOT NULL,
		entry_cost REAL NOT NULL,
		entry_time TIMESTAMP NOT NULL,
		trade_class TEXT NOT NULL,
		stop_price REAL NOT NULL DEFAULT 0,
		target_price REAL NOT NULL DEFAULT 0,
		high_water_mark_pct REAL NOT NULL DEFAULT 0,
		breakeven_locked INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		exit_price REAL NOT NULL DEFAULT 0,
		exit_time TIMESTAMP DEFAULT NULL,
		exit_reason TEXT NOT NULL DEFAULT '',
		realized_pnl REAL NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_positions_status ON positions (status);
	CREATE INDEX IF NOT EXISTS idx_positions_exit_time ON positions (exit_time);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

const positionColumns = `id, symbol, class, lot_size, entry_price, quantity, entry_cost, entry_time,
	trade_class, stop_price, target_price, high_water_mark_pct, breakeven_locked,
	status, exit_price, exit_time, exit_reason, realized_pnl`

// Create saves a new position and returns its assigned ID.
func (r *Repository) Create(ctx context.Context, pos *domain.Position) (int64, error) {
	const query = `
	INSERT INTO positions (symbol, class, lot_size, entry_price, quantity, entry_cost, entry_time,
		trade_class, stop_price, target_price, high_water_mark_pct, breakeven_locked,
		status, exit_price, exit_time, exit_reason, realized_pnl)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	rec := pos.Record()
	res, err := r.db.ExecContext(ctx, query,
		rec.Symbol, string(rec.Class), rec.LotSize, rec.EntryPrice, rec.Quantity, rec.EntryCost,
		rec.EntryTime.UTC(), string(rec.TradeClass), rec.StopPrice, rec.TargetPrice,
		rec.HighWaterMarkPct, boolToInt(rec.BreakevenLocked), string(rec.Status),
		rec.ExitPrice, nullableTime(rec.ExitTime), string(rec.ExitReason), rec.RealizedPnL)
	if err != nil {
		return 0, fmt.Errorf("%w: insert position: %v", ports.ErrQueryFailed, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: last insert id: %v", ports.ErrQueryFailed, err)
	}
	pos.ID = id
	return id, nil
}

// Update modifies an existing position.
func (r *Repository) Update(ctx context.Context, pos *domain.Position) error {
	const query = `
	UPDATE positions SET
		stop_price = ?, target_price = ?, high_water_mark_pct = ?, breakeven_locked = ?,
		status = ?, exit_price = ?, exit_time = ?, exit_reason = ?, realized_pnl = ?
	WHERE id = ?`

	rec := pos.Record()
	res, err := r.db.ExecContext(ctx, query,
		rec.StopPrice, rec.TargetPrice, rec.HighWaterMarkPct, boolToInt(rec.BreakevenLocked),
		string(rec.Status), rec.ExitPrice, nullableTime(rec.ExitTime), string(rec.ExitReason),
		rec.RealizedPnL, rec.ID)
	if err != nil {
		return fmt.Errorf("%w: update position %d: %v", ports.ErrUpdateFailed, pos.ID, err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("%w: position %d", ports.ErrNotFound, pos.ID)
	}
	return nil
}

// FindByID retrieves a position by its unique ID. Returns nil, nil if not
// found.
func (r *Repository) FindByID(ctx context.Context, id int64) (*domain.Position, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+positionColumns+` FROM positions WHERE id = ?`, id)
	pos, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return pos, err
}

// FindActive retrieves positions with status active or exiting, ordered by
// entry time.
func (r *Repository) FindActive(ctx context.Context) ([]*domain.Position, error) {
	const query = `SELECT ` + positionColumns + ` FROM positions
		WHERE status IN (?, ?) ORDER BY entry_time ASC`
	rows, err := r.db.QueryContext(ctx, query, string(domain.StatusActive), string(domain.StatusExiting))
	if err != nil {
		return nil, fmt.Errorf("%w: query active positions: %v", ports.ErrQueryFailed, err)
	}
	defer rows.Close()
	return scanPositions(rows)
}

// FindClosedSince retrieves positions exited at or after t, most recent
// first.
func (r *Repository) FindClosedSince(ctx context.Context, t time.Time) ([]*domain.Position, error) {
	const query = `SELECT ` + positionColumns + ` FROM positions
		WHERE status = ? AND exit_time >= ? ORDER BY exit_time DESC`
	rows, err := r.db.QueryContext(ctx, query, string(domain.StatusExited), t.UTC())
	if err != nil {
		return nil, fmt.Errorf("%w: query closed positions: %v", ports.ErrQueryFailed, err)
	}
	defer rows.Close()
	return scanPositions(rows)
}

// FindAll retrieves the most recent positions up to limit.
func (r *Repository) FindAll(ctx context.Context, limit int) ([]*domain.Position, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `SELECT ` + positionColumns + ` FROM positions ORDER BY entry_time DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: query positions: %v", ports.ErrQueryFailed, err)
	}
	defer rows.Close()
	return scanPositions(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(row rowScanner) (*domain.Position, error) {
	var pos domain.Position
	var class, tradeClass, status, exitReason string
	var breakevenLocked int
	var exitTime sql.NullTime

	err := row.Scan(&pos.ID, &pos.Symbol, &class, &pos.LotSize, &pos.EntryPrice, &pos.Quantity,
		&pos.EntryCost, &pos.EntryTime, &tradeClass, &pos.StopPrice, &pos.TargetPrice,
		&pos.HighWaterMarkPct, &breakevenLocked, &status, &pos.ExitPrice, &exitTime,
		&exitReason, &pos.RealizedPnL)
	if err != nil {
		return nil, err
	}

	pos.Class = domain.InstrumentClass(class)
	pos.TradeClass = domain.TradeClass(tradeClass)
	pos.Status = domain.PositionStatus(status)
	pos.ExitReason = domain.ExitReason(exitReason)
	pos.BreakevenLocked = breakevenLocked != 0
	if exitTime.Valid {
		pos.ExitTime = exitTime.Time
	}
	return &pos, nil
}

func scanPositions(rows *sql.Rows) ([]*domain.Position, error) {
	var out []*domain.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan position: %v", ports.ErrQueryFailed, err)
		}
		out = append(out, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate positions: %v", ports.ErrQueryFailed, err)
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

// Compile-time interface check.
var _ ports.PositionRepository = (*Repository)(nil)
