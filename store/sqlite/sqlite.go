/*
Package sqlite provides a SQLite-backed commission.TxStore.

PURPOSE:
  Persists profiles, plots, payments, commission records, wallet
  transactions and wallets. The same SQL runs on PostgreSQL with minor
  dialect changes.

KEY TABLES:
  profiles:     associates and their upline pointers (soft delete)
  plots:        sale units, status and commission status
  payments:     append-only payment history
  commissions:  one row per (plot, receiver, level), UNIQUE enforced
  transactions: wallet ledger entries, deleted and re-inserted only by
                recalculation
  wallets:      balances with an optimistic version column

MONEY + TIME:
  Decimals are stored as TEXT (decimal.Decimal implements Scanner/Valuer).
  Timestamps are fixed-width UTC strings so ORDER BY created_at is
  chronological.

CONCURRENCY:
  The pool is limited to one connection, so a transaction holds the
  database until it commits. Wallet updates also check the version column
  and return commission.ErrConcurrentModification on a lost race, which is
  what a multi-connection deployment relies on.

USAGE:
  store, err := sqlite.New("./data/commission.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - commission/store.go: interface definitions
  - commission/store/memory.go: in-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/estatecrm/commission-engine/commission"
)

// timeLayout is RFC3339 with a fixed nanosecond width.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// Store implements commission.TxStore using SQLite.
type Store struct {
	rows
	db *sql.DB
}

var _ commission.TxStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{rows: rows{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS profiles (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		sponsor_id TEXT NOT NULL DEFAULT '',
		upline_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		deleted_at TEXT
	);

	CREATE TABLE IF NOT EXISTS plots (
		id TEXT PRIMARY KEY,
		project_name TEXT NOT NULL DEFAULT '',
		plot_number TEXT NOT NULL DEFAULT '',
		area TEXT NOT NULL DEFAULT '0',
		total_price TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL,
		paid_percentage TEXT NOT NULL DEFAULT '0',
		broker_id TEXT NOT NULL DEFAULT '',
		commission_status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_plots_status
		ON plots(status, commission_status);

	-- Payments (append-only)
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		plot_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		paid_at TEXT NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_plot ON payments(plot_id);

	-- CRITICAL: one commission per (plot, receiver, level)
	CREATE TABLE IF NOT EXISTS commissions (
		id TEXT PRIMARY KEY,
		plot_id TEXT NOT NULL,
		seller_id TEXT NOT NULL,
		seller_name TEXT NOT NULL DEFAULT '',
		receiver_id TEXT NOT NULL,
		receiver_name TEXT NOT NULL DEFAULT '',
		level INTEGER NOT NULL,
		percentage TEXT NOT NULL,
		sale_amount TEXT NOT NULL,
		amount TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (plot_id, receiver_id, level)
	);

	CREATE INDEX IF NOT EXISTS idx_commissions_receiver ON commissions(receiver_id);

	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		category TEXT NOT NULL,
		amount TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		plot_id TEXT NOT NULL DEFAULT '',
		level INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_plot ON transactions(plot_id);
	CREATE INDEX IF NOT EXISTS idx_transactions_owner_date
		ON transactions(owner_id, created_at);

	CREATE TABLE IF NOT EXISTS wallets (
		owner_id TEXT PRIMARY KEY,
		direct_sale_balance TEXT NOT NULL DEFAULT '0',
		downline_sale_balance TEXT NOT NULL DEFAULT '0',
		total_balance TEXT NOT NULL DEFAULT '0',
		version INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (commission.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store commission.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(rows{q: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	tables := []string{"transactions", "commissions", "wallets", "payments", "plots", "profiles"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// ROWS - Store methods over a *sql.DB or *sql.Tx
// =============================================================================

type rows struct {
	q querier
}

// PROFILES

func (r rows) SaveProfile(ctx context.Context, p commission.Profile) error {
	query := `
		INSERT INTO profiles (id, name, sponsor_id, upline_id, created_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			sponsor_id = excluded.sponsor_id,
			upline_id = excluded.upline_id,
			deleted_at = excluded.deleted_at
	`
	created := p.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := r.q.ExecContext(ctx, query,
		p.ID, p.Name, p.SponsorID, p.UplineID, formatTime(created), nullTime(p.DeletedAt))
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

const profileColumns = "id, name, sponsor_id, upline_id, created_at, deleted_at"

func (r rows) GetProfile(ctx context.Context, id commission.ProfileID) (*commission.Profile, error) {
	row := r.q.QueryRowContext(ctx, "SELECT "+profileColumns+" FROM profiles WHERE id = ?", id)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("profile %s: %w", id, commission.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r rows) ListProfiles(ctx context.Context) ([]commission.Profile, error) {
	res, err := r.q.QueryContext(ctx, "SELECT "+profileColumns+" FROM profiles ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	defer res.Close()

	var out []commission.Profile
	for res.Next() {
		p, err := scanProfile(res)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, res.Err()
}

func scanProfile(s scanner) (commission.Profile, error) {
	var (
		p         commission.Profile
		createdAt string
		deletedAt sql.NullString
	)
	if err := s.Scan(&p.ID, &p.Name, &p.SponsorID, &p.UplineID, &createdAt, &deletedAt); err != nil {
		return p, err
	}
	p.CreatedAt = parseTime(createdAt)
	if deletedAt.Valid && deletedAt.String != "" {
		t := parseTime(deletedAt.String)
		p.DeletedAt = &t
	}
	return p, nil
}

// PLOTS

func (r rows) SavePlot(ctx context.Context, p commission.Plot) error {
	query := `
		INSERT INTO plots (id, project_name, plot_number, area, total_price, status,
		                   paid_percentage, broker_id, commission_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			project_name = excluded.project_name,
			plot_number = excluded.plot_number,
			area = excluded.area,
			total_price = excluded.total_price,
			status = excluded.status,
			paid_percentage = excluded.paid_percentage,
			broker_id = excluded.broker_id,
			commission_status = excluded.commission_status,
			updated_at = excluded.updated_at
	`
	now := time.Now()
	created, updated := p.CreatedAt, p.UpdatedAt
	if created.IsZero() {
		created = now
	}
	if updated.IsZero() {
		updated = now
	}
	_, err := r.q.ExecContext(ctx, query,
		p.ID, p.ProjectName, p.PlotNumber, p.Area.String(), p.TotalPrice.String(), p.Status,
		p.PaidPercentage.String(), p.BrokerID, p.CommissionStatus, formatTime(created), formatTime(updated))
	if err != nil {
		return fmt.Errorf("failed to save plot: %w", err)
	}
	return nil
}

const plotColumns = `id, project_name, plot_number, area, total_price, status,
	paid_percentage, broker_id, commission_status, created_at, updated_at`

func (r rows) GetPlot(ctx context.Context, id commission.PlotID) (*commission.Plot, error) {
	row := r.q.QueryRowContext(ctx, "SELECT "+plotColumns+" FROM plots WHERE id = ?", id)
	p, err := scanPlot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("plot %s: %w", id, commission.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r rows) ListPlots(ctx context.Context, f commission.PlotFilter) ([]commission.Plot, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != nil {
		where = append(where, "status = ?")
		args = append(args, *f.Status)
	}
	if f.CommissionStatus != nil {
		where = append(where, "commission_status = ?")
		args = append(args, *f.CommissionStatus)
	}
	if f.BrokerID != nil {
		where = append(where, "broker_id = ?")
		args = append(args, *f.BrokerID)
	}
	query := "SELECT " + plotColumns + " FROM plots"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"

	res, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query plots: %w", err)
	}
	defer res.Close()

	var out []commission.Plot
	for res.Next() {
		p, err := scanPlot(res)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, res.Err()
}

func scanPlot(s scanner) (commission.Plot, error) {
	var (
		p                    commission.Plot
		createdAt, updatedAt string
	)
	err := s.Scan(&p.ID, &p.ProjectName, &p.PlotNumber, &p.Area, &p.TotalPrice, &p.Status,
		&p.PaidPercentage, &p.BrokerID, &p.CommissionStatus, &createdAt, &updatedAt)
	if err != nil {
		return p, err
	}
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return p, nil
}

// PAYMENTS

func (r rows) AppendPayment(ctx context.Context, p commission.Payment) error {
	var exists int
	err := r.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM plots WHERE id = ?", p.PlotID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check plot: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("plot %s: %w", p.PlotID, commission.ErrNotFound)
	}

	_, err = r.q.ExecContext(ctx, `
		INSERT INTO payments (id, plot_id, amount, paid_at, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.PlotID, p.Amount.String(), formatTime(p.PaidAt), p.Note, formatTime(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to append payment: %w", err)
	}
	return nil
}

func (r rows) ListPayments(ctx context.Context, plotID commission.PlotID) ([]commission.Payment, error) {
	res, err := r.q.QueryContext(ctx, `
		SELECT id, plot_id, amount, paid_at, note, created_at
		FROM payments WHERE plot_id = ?
		ORDER BY paid_at ASC, created_at ASC`, plotID)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer res.Close()

	var out []commission.Payment
	for res.Next() {
		var (
			p                 commission.Payment
			paidAt, createdAt string
		)
		if err := res.Scan(&p.ID, &p.PlotID, &p.Amount, &paidAt, &p.Note, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		p.PaidAt = parseTime(paidAt)
		p.CreatedAt = parseTime(createdAt)
		out = append(out, p)
	}
	return out, res.Err()
}

// COMMISSIONS

const commissionColumns = `id, plot_id, seller_id, seller_name, receiver_id, receiver_name,
	level, percentage, sale_amount, amount, created_at, updated_at`

func (r rows) ListCommissions(ctx context.Context, f commission.CommissionFilter) ([]commission.CommissionRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.PlotID != nil {
		where = append(where, "plot_id = ?")
		args = append(args, *f.PlotID)
	}
	if f.ReceiverID != nil {
		where = append(where, "receiver_id = ?")
		args = append(args, *f.ReceiverID)
	}
	query := "SELECT " + commissionColumns + " FROM commissions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY plot_id, level, created_at, id"

	res, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query commissions: %w", err)
	}
	defer res.Close()

	var out []commission.CommissionRecord
	for res.Next() {
		var (
			c                    commission.CommissionRecord
			createdAt, updatedAt string
		)
		err := res.Scan(&c.ID, &c.PlotID, &c.SellerID, &c.SellerName, &c.ReceiverID, &c.ReceiverName,
			&c.Level, &c.Percentage, &c.SaleAmount, &c.Amount, &createdAt, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan commission: %w", err)
		}
		c.CreatedAt = parseTime(createdAt)
		c.UpdatedAt = parseTime(updatedAt)
		out = append(out, c)
	}
	return out, res.Err()
}

func (r rows) InsertCommission(ctx context.Context, c commission.CommissionRecord) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO commissions (`+commissionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.PlotID, c.SellerID, c.SellerName, c.ReceiverID, c.ReceiverName,
		c.Level, c.Percentage.String(), c.SaleAmount.String(), c.Amount.String(),
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("commission for plot %s receiver %s level %d already exists: %w",
				c.PlotID, c.ReceiverID, c.Level, err)
		}
		return fmt.Errorf("failed to insert commission: %w", err)
	}
	return nil
}

// UpdateCommission rewrites everything except id, plot and created_at.
func (r rows) UpdateCommission(ctx context.Context, c commission.CommissionRecord) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE commissions SET
			seller_id = ?, seller_name = ?, receiver_id = ?, receiver_name = ?, level = ?,
			percentage = ?, sale_amount = ?, amount = ?, updated_at = ?
		WHERE id = ?`,
		c.SellerID, c.SellerName, c.ReceiverID, c.ReceiverName, c.Level,
		c.Percentage.String(), c.SaleAmount.String(), c.Amount.String(), formatTime(c.UpdatedAt), c.ID)
	if err != nil {
		return fmt.Errorf("failed to update commission: %w", err)
	}
	return requireAffected(res, "commission", string(c.ID))
}

func (r rows) DeleteCommission(ctx context.Context, id commission.CommissionID) error {
	res, err := r.q.ExecContext(ctx, "DELETE FROM commissions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete commission: %w", err)
	}
	return requireAffected(res, "commission", string(id))
}

// TRANSACTIONS

func (r rows) ListTransactions(ctx context.Context, f commission.TransactionFilter) ([]commission.Transaction, error) {
	var (
		where []string
		args  []any
	)
	if f.PlotID != nil {
		where = append(where, "plot_id = ?")
		args = append(args, *f.PlotID)
	}
	if f.OwnerID != nil {
		where = append(where, "owner_id = ?")
		args = append(args, *f.OwnerID)
	}
	query := `SELECT id, owner_id, tx_type, category, amount, description, plot_id, level, created_at
		FROM transactions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, rowid ASC"

	res, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer res.Close()

	var out []commission.Transaction
	for res.Next() {
		var (
			t         commission.Transaction
			createdAt string
		)
		err := res.Scan(&t.ID, &t.OwnerID, &t.Type, &t.Category, &t.Amount, &t.Description,
			&t.PlotID, &t.Level, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		t.CreatedAt = parseTime(createdAt)
		out = append(out, t)
	}
	return out, res.Err()
}

func (r rows) InsertTransaction(ctx context.Context, t commission.Transaction) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO transactions (id, owner_id, tx_type, category, amount, description, plot_id, level, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.OwnerID, t.Type, t.Category, t.Amount.String(), t.Description, t.PlotID, t.Level,
		formatTime(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func (r rows) DeleteTransactionsForPlot(ctx context.Context, plotID commission.PlotID) (int, error) {
	res, err := r.q.ExecContext(ctx, "DELETE FROM transactions WHERE plot_id = ?", plotID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete transactions: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// WALLETS

func (r rows) GetWallet(ctx context.Context, owner commission.ProfileID) (*commission.Wallet, error) {
	w, err := r.getWallet(ctx, owner)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("wallet %s: %w", owner, commission.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r rows) getWallet(ctx context.Context, owner commission.ProfileID) (commission.Wallet, error) {
	var (
		w         commission.Wallet
		updatedAt string
	)
	err := r.q.QueryRowContext(ctx, `
		SELECT owner_id, direct_sale_balance, downline_sale_balance, total_balance, version, updated_at
		FROM wallets WHERE owner_id = ?`, owner,
	).Scan(&w.OwnerID, &w.DirectSaleBalance, &w.DownlineSaleBalance, &w.TotalBalance, &w.Version, &updatedAt)
	if err != nil {
		return w, err
	}
	w.UpdatedAt = parseTime(updatedAt)
	return w, nil
}

// AdjustWallet creates the wallet on first use, then applies delta with an
// optimistic version check.
func (r rows) AdjustWallet(ctx context.Context, owner commission.ProfileID, c commission.WalletCategory, delta decimal.Decimal) (commission.WalletAdjustment, error) {
	now := formatTime(time.Now())
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO wallets (owner_id, updated_at) VALUES (?, ?)
		ON CONFLICT(owner_id) DO NOTHING`, owner, now)
	if err != nil {
		return commission.WalletAdjustment{}, fmt.Errorf("failed to create wallet: %w", err)
	}

	w, err := r.getWallet(ctx, owner)
	if err != nil {
		return commission.WalletAdjustment{}, fmt.Errorf("failed to read wallet: %w", err)
	}
	next, clamped := w.Adjusted(c, delta)
	next.UpdatedAt = parseTime(now)

	res, err := r.q.ExecContext(ctx, `
		UPDATE wallets SET
			direct_sale_balance = ?, downline_sale_balance = ?, total_balance = ?,
			version = ?, updated_at = ?
		WHERE owner_id = ? AND version = ?`,
		next.DirectSaleBalance.String(), next.DownlineSaleBalance.String(), next.TotalBalance.String(),
		next.Version, now, owner, w.Version)
	if err != nil {
		return commission.WalletAdjustment{}, fmt.Errorf("failed to update wallet: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return commission.WalletAdjustment{}, commission.ErrConcurrentModification
	}
	return commission.WalletAdjustment{Previous: w, Wallet: next, Clamped: clamped}, nil
}

// Helper functions

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t.UTC()
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func requireAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, commission.ErrNotFound)
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
