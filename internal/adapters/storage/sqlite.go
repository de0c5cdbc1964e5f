package storage

// sqlite.go — snapshot del ledger en SQLite.
//
// Estrategia:
//   - `ledger_state`: siempre 1 fila (id=1) con el saldo.
//   - `wagers`: una fila por apuesta; `position` conserva el orden del ledger
//     (más recientes primero).
//   - SaveSnapshot reemplaza ambas tablas dentro de una transacción: o se
//     guarda el snapshot entero o nada.
//   - Importes y precios van como TEXT (decimal exacto); tiempos como
//     milisegundos unix.

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/alejandrodnm/candlerush/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS ledger_state (
    id         INTEGER PRIMARY KEY CHECK (id = 1),
    balance    TEXT    NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS wagers (
    id                TEXT    PRIMARY KEY,
    position          INTEGER NOT NULL,
    symbol            TEXT    NOT NULL,
    direction         TEXT    NOT NULL,
    amount            TEXT    NOT NULL,
    leverage          INTEGER NOT NULL,
    placed_at         INTEGER NOT NULL,
    interval_key      INTEGER NOT NULL,
    initial_price     TEXT    NOT NULL,
    initial_source    TEXT    NOT NULL DEFAULT '',
    final_price       TEXT    NOT NULL DEFAULT '0',
    final_source      TEXT    NOT NULL DEFAULT '',
    status            TEXT    NOT NULL,
    potential_profit  TEXT    NOT NULL,
    current_pnl       TEXT    NOT NULL DEFAULT '0',
    current_pnl_pct   TEXT    NOT NULL DEFAULT '0',
    last_price        TEXT    NOT NULL DEFAULT '0',
    last_updated_at   INTEGER,
    settled_at        INTEGER,
    authoritative     INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_wagers_position ON wagers(position);
CREATE INDEX IF NOT EXISTS idx_wagers_status   ON wagers(status);
`

// SQLiteStorage implementa ports.SnapshotStore usando SQLite (pure Go, sin CGo).
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada y aplica el schema.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

// SaveSnapshot reemplaza el saldo y todas las apuestas guardadas.
func (s *SQLiteStorage) SaveSnapshot(ctx context.Context, snap domain.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.SaveSnapshot: begin tx: %w", err)
	}
	defer tx.Rollback()

	updatedAt := snap.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_state (id, balance, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET balance = excluded.balance, updated_at = excluded.updated_at
	`, snap.Balance.String(), updatedAt.UnixMilli()); err != nil {
		return fmt.Errorf("storage.SaveSnapshot: upsert balance: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM wagers`); err != nil {
		return fmt.Errorf("storage.SaveSnapshot: clear wagers: %w", err)
	}

	if len(snap.Wagers) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO wagers
				(id, position, symbol, direction, amount, leverage, placed_at, interval_key,
				 initial_price, initial_source, final_price, final_source, status,
				 potential_profit, current_pnl, current_pnl_pct, last_price,
				 last_updated_at, settled_at, authoritative)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("storage.SaveSnapshot: prepare: %w", err)
		}
		defer stmt.Close()

		for i, w := range snap.Wagers {
			auth := 0
			if w.Authoritative {
				auth = 1
			}
			if _, err := stmt.ExecContext(ctx,
				w.ID,
				i,
				w.Symbol,
				string(w.Direction),
				w.Stake.String(),
				w.Leverage,
				w.PlacedAt.UnixMilli(),
				w.IntervalKey.UnixMilli(),
				w.InitialPrice.String(),
				string(w.InitialPriceSource),
				w.FinalPrice.String(),
				string(w.FinalPriceSource),
				string(w.Status),
				w.PotentialProfit.String(),
				w.CurrentPnL.String(),
				w.CurrentPnLPercent.String(),
				w.LastUpdatedPrice.String(),
				millisOrNull(w.LastUpdatedAt),
				millisOrNull(w.SettledAt),
				auth,
			); err != nil {
				return fmt.Errorf("storage.SaveSnapshot: insert %s: %w", w.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.SaveSnapshot: commit: %w", err)
	}
	return nil
}

// LoadSnapshot devuelve el último snapshot. found=false si la base está vacía.
func (s *SQLiteStorage) LoadSnapshot(ctx context.Context) (domain.Snapshot, bool, error) {
	var snap domain.Snapshot
	var balance string
	var updatedAt int64

	err := s.db.QueryRowContext(ctx,
		`SELECT balance, updated_at FROM ledger_state WHERE id = 1`,
	).Scan(&balance, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return snap, false, nil
	}
	if err != nil {
		return snap, false, fmt.Errorf("storage.LoadSnapshot: read balance: %w", err)
	}

	snap.Balance, err = decimal.NewFromString(balance)
	if err != nil {
		return snap, false, fmt.Errorf("storage.LoadSnapshot: parse balance %q: %w", balance, err)
	}
	snap.UpdatedAt = time.UnixMilli(updatedAt).UTC()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, direction, amount, leverage, placed_at, interval_key,
		       initial_price, initial_source, final_price, final_source, status,
		       potential_profit, current_pnl, current_pnl_pct, last_price,
		       last_updated_at, settled_at, authoritative
		FROM wagers
		ORDER BY position ASC
	`)
	if err != nil {
		return snap, false, fmt.Errorf("storage.LoadSnapshot: query wagers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		w, err := scanWager(rows)
		if err != nil {
			return snap, false, fmt.Errorf("storage.LoadSnapshot: %w", err)
		}
		snap.Wagers = append(snap.Wagers, w)
	}
	if err := rows.Err(); err != nil {
		return snap, false, fmt.Errorf("storage.LoadSnapshot: rows: %w", err)
	}
	return snap, true, nil
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- helpers internos ---

func scanWager(rows *sql.Rows) (domain.Wager, error) {
	var w domain.Wager
	var direction, initialSource, finalSource, status string
	var placedAt, intervalKey int64
	var lastUpdatedAt, settledAt sql.NullInt64
	var auth int

	if err := rows.Scan(
		&w.ID,
		&w.Symbol,
		&direction,
		&w.Stake,
		&w.Leverage,
		&placedAt,
		&intervalKey,
		&w.InitialPrice,
		&initialSource,
		&w.FinalPrice,
		&finalSource,
		&status,
		&w.PotentialProfit,
		&w.CurrentPnL,
		&w.CurrentPnLPercent,
		&w.LastUpdatedPrice,
		&lastUpdatedAt,
		&settledAt,
		&auth,
	); err != nil {
		return w, fmt.Errorf("scan wager: %w", err)
	}

	w.Direction = domain.Direction(direction)
	w.InitialPriceSource = domain.PriceSource(initialSource)
	w.FinalPriceSource = domain.PriceSource(finalSource)
	w.Status = domain.WagerStatus(status)
	w.PlacedAt = time.UnixMilli(placedAt).UTC()
	w.IntervalKey = time.UnixMilli(intervalKey).UTC()
	w.LastUpdatedAt = timeOrNil(lastUpdatedAt)
	w.SettledAt = timeOrNil(settledAt)
	w.Authoritative = auth == 1
	return w, nil
}

func millisOrNull(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func timeOrNil(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}
