package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"envelopes/internal/core"

	_ "modernc.org/sqlite"
)

// SQLiteRepository is the durable Store. Every Update runs inside a
// BEGIN IMMEDIATE transaction, so the availability check and the write it
// guards are serialized against other writers. Views run in a deferred
// transaction on a separate query-only pool, so each sees one snapshot
// without taking the write lock.
type SQLiteRepository struct {
	db     *sql.DB
	readDB *sql.DB
}

var _ Store = (*SQLiteRepository)(nil)

// NewSQLiteRepository opens (creating if needed) the database at dbPath and
// applies migrations.
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	readDB, err := sql.Open("sqlite", readDSN(dbPath))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open sqlite read pool: %w", err)
	}

	if err := readDB.Ping(); err != nil {
		readDB.Close()
		db.Close()
		return nil, fmt.Errorf("ping read pool: %w", err)
	}

	return &SQLiteRepository{db: db, readDB: readDB}, nil
}

// dsn enables foreign keys (for cascades), a busy timeout, WAL, and makes
// every BeginTx issue BEGIN IMMEDIATE.
func dsn(dbPath string) string {
	return "file:" + dbPath +
		"?_pragma=foreign_keys(1)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_txlock=immediate"
}

// readDSN opens connections that refuse writes and begin deferred
// transactions.
func readDSN(dbPath string) string {
	return "file:" + dbPath +
		"?_pragma=foreign_keys(1)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=query_only(1)"
}

func (r *SQLiteRepository) Close() error {
	var errs []error
	if r.readDB != nil {
		errs = append(errs, r.readDB.Close())
	}
	if r.db != nil {
		errs = append(errs, r.db.Close())
	}
	return errors.Join(errs...)
}

// Ping checks the database connection.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) Update(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("begin transaction: %w", err))
	}

	if err := fn(&queries{db: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.WarnContext(ctx, "Rollback failed", "error", rbErr)
		}
		return classify(err)
	}

	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

func (r *SQLiteRepository) View(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := r.readDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin read transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.WarnContext(ctx, "Rollback failed", "error", rbErr)
		}
	}()
	return fn(&queries{db: tx})
}

// classify turns SQLite lock contention into ErrConflict so callers retry.
func classify(err error) error {
	if err == nil || errors.Is(err, ErrConflict) {
		return err
	}
	msg := err.Error()
	if strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked") {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	db dbtx
}

type scanner interface {
	Scan(dest ...any) error
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

const envelopeColumns = `id, name, budget, spent, created_at, version`

func scanEnvelope(row scanner) (core.Envelope, error) {
	var (
		e       core.Envelope
		created int64
	)
	if err := row.Scan(&e.ID, &e.Name, &e.Budget, &e.Spent, &created, &e.Version); err != nil {
		return core.Envelope{}, err
	}
	e.CreatedAt = fromMillis(created)
	return e, nil
}

func (q *queries) GetEnvelope(ctx context.Context, id int64) (core.Envelope, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+envelopeColumns+` FROM envelopes WHERE id = ?`, id)
	e, err := scanEnvelope(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Envelope{}, core.NotFound("envelope", id)
	}
	if err != nil {
		return core.Envelope{}, fmt.Errorf("get envelope %d: %w", id, err)
	}
	return e, nil
}

func (q *queries) ListEnvelopes(ctx context.Context) ([]core.Envelope, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+envelopeColumns+` FROM envelopes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list envelopes: %w", err)
	}
	defer rows.Close()

	var out []core.Envelope
	for rows.Next() {
		e, err := scanEnvelope(rows)
		if err != nil {
			return nil, fmt.Errorf("scan envelope: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LockEnvelopes relies on the IMMEDIATE transaction holding the write lock;
// rows are still read in ascending id order so the acquisition order is the
// same one a row-locking database would need.
func (q *queries) LockEnvelopes(ctx context.Context, ids ...int64) (map[int64]core.Envelope, error) {
	out := make(map[int64]core.Envelope, len(ids))
	for _, id := range LockOrder(ids...) {
		e, err := q.GetEnvelope(ctx, id)
		if errors.Is(err, core.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[id] = e
	}
	return out, nil
}

func (q *queries) InsertEnvelope(ctx context.Context, e core.Envelope) (core.Envelope, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO envelopes (name, budget, spent, created_at, version) VALUES (?, ?, ?, ?, 1)`,
		e.Name, e.Budget, e.Spent, toMillis(e.CreatedAt))
	if err != nil {
		return core.Envelope{}, fmt.Errorf("insert envelope: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Envelope{}, fmt.Errorf("envelope id: %w", err)
	}
	e.ID = id
	e.Version = 1
	e.CreatedAt = fromMillis(toMillis(e.CreatedAt))
	return e, nil
}

func (q *queries) UpdateEnvelope(ctx context.Context, e core.Envelope) (core.Envelope, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE envelopes SET name = ?, budget = ?, spent = ?, version = version + 1
		 WHERE id = ? AND version = ?`,
		e.Name, e.Budget, e.Spent, e.ID, e.Version)
	if err != nil {
		return core.Envelope{}, fmt.Errorf("update envelope %d: %w", e.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return core.Envelope{}, fmt.Errorf("update envelope %d: %w", e.ID, err)
	}
	if n == 0 {
		if _, err := q.GetEnvelope(ctx, e.ID); err != nil {
			return core.Envelope{}, err
		}
		return core.Envelope{}, fmt.Errorf("update envelope %d at version %d: %w", e.ID, e.Version, ErrConflict)
	}
	e.Version++
	return e, nil
}

func (q *queries) DeleteEnvelope(ctx context.Context, id int64) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM envelopes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete envelope %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete envelope %d: %w", id, err)
	}
	if n == 0 {
		return core.NotFound("envelope", id)
	}
	return nil
}

const transferSelect = `
	SELECT tr.id, tr.amount, tr.date, tr.from_id, tr.to_id,
	       COALESCE(f.name, tr.from_name), COALESCE(t.name, tr.to_name)
	FROM transfers tr
	LEFT JOIN envelopes f ON f.id = tr.from_id
	LEFT JOIN envelopes t ON t.id = tr.to_id`

func scanTransfer(row scanner) (core.Transfer, error) {
	var (
		t    core.Transfer
		date int64
	)
	if err := row.Scan(&t.ID, &t.Amount, &date, &t.FromID, &t.ToID, &t.FromName, &t.ToName); err != nil {
		return core.Transfer{}, err
	}
	t.Date = fromMillis(date)
	return t, nil
}

func (q *queries) InsertTransfer(ctx context.Context, t core.Transfer) (core.Transfer, error) {
	if t.Date.IsZero() {
		t.Date = time.Now().UTC()
	}
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO transfers (amount, date, from_id, to_id, from_name, to_name) VALUES (?, ?, ?, ?, ?, ?)`,
		t.Amount, toMillis(t.Date), t.FromID, t.ToID, t.FromName, t.ToName)
	if err != nil {
		return core.Transfer{}, fmt.Errorf("insert transfer: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Transfer{}, fmt.Errorf("transfer id: %w", err)
	}
	t.ID = id
	t.Date = fromMillis(toMillis(t.Date))
	return t, nil
}

func (q *queries) GetTransfer(ctx context.Context, id int64) (core.Transfer, error) {
	t, err := scanTransfer(q.db.QueryRowContext(ctx, transferSelect+` WHERE tr.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transfer{}, core.NotFound("transfer", id)
	}
	if err != nil {
		return core.Transfer{}, fmt.Errorf("get transfer %d: %w", id, err)
	}
	return t, nil
}

func (q *queries) ListTransfers(ctx context.Context) ([]core.Transfer, error) {
	rows, err := q.db.QueryContext(ctx, transferSelect+` ORDER BY tr.id`)
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	defer rows.Close()

	var out []core.Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (q *queries) DeleteTransfer(ctx context.Context, id int64) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM transfers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete transfer %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete transfer %d: %w", id, err)
	}
	if n == 0 {
		return core.NotFound("transfer", id)
	}
	return nil
}

const transactionSelect = `
	SELECT tx.id, tx.name, tx.amount, tx.date, tx.envelope_id, COALESCE(e.name, tx.envelope_name)
	FROM transactions tx
	LEFT JOIN envelopes e ON e.id = tx.envelope_id`

func scanTransaction(row scanner) (core.Transaction, error) {
	var (
		t    core.Transaction
		date int64
	)
	if err := row.Scan(&t.ID, &t.Name, &t.Amount, &date, &t.EnvelopeID, &t.EnvelopeName); err != nil {
		return core.Transaction{}, err
	}
	t.Date = fromMillis(date)
	return t, nil
}

func (q *queries) InsertTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	if t.Date.IsZero() {
		t.Date = time.Now().UTC()
	}
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO transactions (name, amount, date, envelope_id, envelope_name) VALUES (?, ?, ?, ?, ?)`,
		t.Name, t.Amount, toMillis(t.Date), t.EnvelopeID, t.EnvelopeName)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Transaction{}, fmt.Errorf("transaction id: %w", err)
	}
	t.ID = id
	t.Date = fromMillis(toMillis(t.Date))
	return t, nil
}

func (q *queries) GetTransaction(ctx context.Context, id int64) (core.Transaction, error) {
	t, err := scanTransaction(q.db.QueryRowContext(ctx, transactionSelect+` WHERE tx.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, core.NotFound("transaction", id)
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction %d: %w", id, err)
	}
	return t, nil
}

func (q *queries) ListTransactions(ctx context.Context, envelopeID int64) ([]core.Transaction, error) {
	rows, err := q.db.QueryContext(ctx, transactionSelect+` WHERE tx.envelope_id = ? ORDER BY tx.id`, envelopeID)
	if err != nil {
		return nil, fmt.Errorf("list transactions for envelope %d: %w", envelopeID, err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (q *queries) UpdateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	if t.Date.IsZero() {
		t.Date = time.Now().UTC()
	}
	res, err := q.db.ExecContext(ctx,
		`UPDATE transactions SET name = ?, amount = ?, date = ?, envelope_id = ?, envelope_name = ? WHERE id = ?`,
		t.Name, t.Amount, toMillis(t.Date), t.EnvelopeID, t.EnvelopeName, t.ID)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction %d: %w", t.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction %d: %w", t.ID, err)
	}
	if n == 0 {
		return core.Transaction{}, core.NotFound("transaction", t.ID)
	}
	t.Date = fromMillis(toMillis(t.Date))
	return t, nil
}

func (q *queries) DeleteTransaction(ctx context.Context, id int64) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete transaction %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete transaction %d: %w", id, err)
	}
	if n == 0 {
		return core.NotFound("transaction", id)
	}
	return nil
}

func (q *queries) DeleteTransactionsByEnvelope(ctx context.Context, envelopeID int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM transactions WHERE envelope_id = ?`, envelopeID)
	if err != nil {
		return 0, fmt.Errorf("delete transactions for envelope %d: %w", envelopeID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete transactions for envelope %d: %w", envelopeID, err)
	}
	return n, nil
}
