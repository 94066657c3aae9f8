// Package sqlite is the durable storage.Store backed by modernc.org/sqlite.
//
// Amounts are stored as decimal TEXT and timestamps as fixed-width UTC TEXT so
// that lexical order matches chronological order.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"dompet/internal/core"
	"dompet/internal/storage"

	_ "modernc.org/sqlite"
)

const (
	tsLayout   = "2006-01-02T15:04:05.000000000Z07:00"
	dateLayout = "2006-01-02"
)

type Store struct {
	reader
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// reader serves storage.Reader from the database or from one transaction.
type reader struct {
	q queryer
}

var _ storage.Reader = reader{}

// dsn enables foreign keys, waits on a locked database instead of failing
// immediately, and takes the write lock when a read-write transaction begins.
// Read-only transactions begin deferred.
func dsn(path string) string {
	return "file:" + path +
		"?_pragma=foreign_keys(1)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_txlock=immediate"
}

// Open creates the database file if needed, migrates it and returns a store.
func Open(ctx context.Context, dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	version, err := RunMigrations(dbPath)
	if err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	slog.InfoContext(ctx, "SQLite store ready", "path", dbPath, "schema_version", version)
	return &Store{reader: reader{q: db}, db: db}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// where accumulates AND-ed conditions.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, args ...any) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, args...)
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

const methodCols = `id, user_id, name, balance, base_balance, created_at`

func scanMethod(row scanner) (core.PaymentMethod, error) {
	var (
		m                 core.PaymentMethod
		user              string
		balance, base, ts string
	)
	if err := row.Scan(&m.ID, &user, &m.Name, &balance, &base, &ts); err != nil {
		return m, err
	}
	m.UserID = core.UserID(user)
	var err error
	if m.Balance, err = decimal.NewFromString(balance); err != nil {
		return m, fmt.Errorf("parse balance of %s: %w", m.ID, err)
	}
	if m.BaseBalance, err = decimal.NewFromString(base); err != nil {
		return m, fmt.Errorf("parse base balance of %s: %w", m.ID, err)
	}
	m.CreatedAt, err = parseTime(ts)
	return m, err
}

func (r reader) GetPaymentMethod(ctx context.Context, user core.UserID, id string) (core.PaymentMethod, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+methodCols+` FROM payment_methods WHERE id = ? AND user_id = ?`, id, string(user))
	m, err := scanMethod(row)
	if err == sql.ErrNoRows {
		return m, core.NotFound("payment method", id)
	}
	if err != nil {
		return m, core.Storage("get payment method", err)
	}
	return m, nil
}

func (r reader) ListPaymentMethods(ctx context.Context, user core.UserID) ([]core.PaymentMethod, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+methodCols+` FROM payment_methods WHERE user_id = ? ORDER BY name_key, id`, string(user))
	if err != nil {
		return nil, core.Storage("list payment methods", err)
	}
	defer rows.Close()

	out := []core.PaymentMethod{}
	for rows.Next() {
		m, err := scanMethod(rows)
		if err != nil {
			return nil, core.Storage("scan payment method", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, core.Storage("list payment methods", err)
	}
	return out, nil
}

const categoryCols = `id, user_id, kind, name, created_at`

func scanCategory(row scanner) (core.Category, error) {
	var (
		c        core.Category
		user, ts string
	)
	if err := row.Scan(&c.ID, &user, &c.Kind, &c.Name, &ts); err != nil {
		return c, err
	}
	c.UserID = core.UserID(user)
	var err error
	c.CreatedAt, err = parseTime(ts)
	return c, err
}

func (r reader) GetCategory(ctx context.Context, user core.UserID, id string) (core.Category, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+categoryCols+` FROM categories WHERE id = ? AND user_id = ?`, id, string(user))
	c, err := scanCategory(row)
	if err == sql.ErrNoRows {
		return c, core.NotFound("category", id)
	}
	if err != nil {
		return c, core.Storage("get category", err)
	}
	return c, nil
}

func (r reader) ListCategories(ctx context.Context, user core.UserID, f storage.CategoryFilter) ([]core.Category, error) {
	w := &where{}
	w.add("user_id = ?", string(user))
	if f.Kind != "" {
		w.add("kind = ?", string(f.Kind))
	}
	rows, err := r.q.QueryContext(ctx, `SELECT `+categoryCols+` FROM categories`+w.String()+` ORDER BY lower(name), id`, w.args...)
	if err != nil {
		return nil, core.Storage("list categories", err)
	}
	defer rows.Close()

	out := []core.Category{}
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, core.Storage("scan category", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, core.Storage("list categories", err)
	}
	return out, nil
}

const subcategoryCols = `id, user_id, kind, category_id, name, created_at`

func scanSubcategory(row scanner) (core.Subcategory, error) {
	var (
		sc       core.Subcategory
		user, ts string
	)
	if err := row.Scan(&sc.ID, &user, &sc.Kind, &sc.CategoryID, &sc.Name, &ts); err != nil {
		return sc, err
	}
	sc.UserID = core.UserID(user)
	var err error
	sc.CreatedAt, err = parseTime(ts)
	return sc, err
}

func (r reader) GetSubcategory(ctx context.Context, user core.UserID, id string) (core.Subcategory, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+subcategoryCols+` FROM subcategories WHERE id = ? AND user_id = ?`, id, string(user))
	sc, err := scanSubcategory(row)
	if err == sql.ErrNoRows {
		return sc, core.NotFound("subcategory", id)
	}
	if err != nil {
		return sc, core.Storage("get subcategory", err)
	}
	return sc, nil
}

func (r reader) ListSubcategories(ctx context.Context, user core.UserID, f storage.SubcategoryFilter) ([]core.Subcategory, error) {
	w := &where{}
	w.add("user_id = ?", string(user))
	if f.Kind != "" {
		w.add("kind = ?", string(f.Kind))
	}
	if f.CategoryID != "" {
		w.add("category_id = ?", f.CategoryID)
	}
	rows, err := r.q.QueryContext(ctx, `SELECT `+subcategoryCols+` FROM subcategories`+w.String()+` ORDER BY lower(name), id`, w.args...)
	if err != nil {
		return nil, core.Storage("list subcategories", err)
	}
	defer rows.Close()

	out := []core.Subcategory{}
	for rows.Next() {
		sc, err := scanSubcategory(rows)
		if err != nil {
			return nil, core.Storage("scan subcategory", err)
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, core.Storage("list subcategories", err)
	}
	return out, nil
}

func (r reader) ListBudgets(ctx context.Context, user core.UserID, f storage.BudgetFilter) ([]core.Budget, error) {
	w := &where{}
	w.add("user_id = ?", string(user))
	if f.Year != 0 {
		w.add("year = ? AND month = ?", f.Year, f.Month)
	}
	if f.SubcategoryID != "" {
		w.add("subcategory_id = ?", f.SubcategoryID)
	}
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, user_id, year, month, subcategory_id, amount FROM budgets`+w.String()+
			` ORDER BY year, month, subcategory_id`, w.args...)
	if err != nil {
		return nil, core.Storage("list budgets", err)
	}
	defer rows.Close()

	out := []core.Budget{}
	for rows.Next() {
		var (
			b            core.Budget
			user, amount string
		)
		if err := rows.Scan(&b.ID, &user, &b.Year, &b.Month, &b.SubcategoryID, &amount); err != nil {
			return nil, core.Storage("scan budget", err)
		}
		b.UserID = core.UserID(user)
		if b.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, core.Storage("parse budget amount", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, core.Storage("list budgets", err)
	}
	return out, nil
}

const transactionCols = `id, user_id, type, date, category_id, subcategory_id, payment_method_id, amount, description, created_at, updated_at`

func scanTransaction(row scanner) (core.Transaction, error) {
	var (
		tx                               core.Transaction
		user, date, amount, created, upd string
	)
	if err := row.Scan(&tx.ID, &user, &tx.Type, &date, &tx.CategoryID, &tx.SubcategoryID,
		&tx.PaymentMethodID, &amount, &tx.Description, &created, &upd); err != nil {
		return tx, err
	}
	tx.UserID = core.UserID(user)
	var err error
	if tx.Date, err = core.ParseDate(date); err != nil {
		return tx, err
	}
	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return tx, err
	}
	if tx.CreatedAt, err = parseTime(created); err != nil {
		return tx, err
	}
	tx.UpdatedAt, err = parseTime(upd)
	return tx, err
}

func (r reader) GetTransaction(ctx context.Context, user core.UserID, id string) (core.Transaction, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+transactionCols+` FROM transactions WHERE id = ? AND user_id = ?`, id, string(user))
	tx, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return tx, core.NotFound("transaction", id)
	}
	if err != nil {
		return tx, core.Storage("get transaction", err)
	}
	return tx, nil
}

func (r reader) ListTransactions(ctx context.Context, user core.UserID, f storage.TransactionFilter) ([]core.Transaction, error) {
	w := &where{}
	w.add("user_id = ?", string(user))
	if f.Type != "" {
		w.add("type = ?", string(f.Type))
	}
	if !f.From.IsZero() {
		w.add("date >= ?", f.From.String())
	}
	if !f.To.IsZero() {
		w.add("date < ?", f.To.String())
	}
	if f.PaymentMethodID != "" {
		w.add("payment_method_id = ?", f.PaymentMethodID)
	}
	if f.CategoryID != "" {
		w.add("category_id = ?", f.CategoryID)
	}
	if f.SubcategoryID != "" {
		w.add("subcategory_id = ?", f.SubcategoryID)
	}
	rows, err := r.q.QueryContext(ctx, `SELECT `+transactionCols+` FROM transactions`+w.String()+` ORDER BY date, created_at, id`, w.args...)
	if err != nil {
		return nil, core.Storage("list transactions", err)
	}
	defer rows.Close()

	out := []core.Transaction{}
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, core.Storage("scan transaction", err)
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, core.Storage("list transactions", err)
	}
	return out, nil
}

const transferCols = `id, user_id, date, from_payment_method_id, to_payment_method_id, amount, description, created_at, updated_at`

func scanTransfer(row scanner) (core.Transfer, error) {
	var (
		tr                               core.Transfer
		user, date, amount, created, upd string
	)
	if err := row.Scan(&tr.ID, &user, &date, &tr.FromPaymentMethodID, &tr.ToPaymentMethodID,
		&amount, &tr.Description, &created, &upd); err != nil {
		return tr, err
	}
	tr.UserID = core.UserID(user)
	var err error
	if tr.Date, err = core.ParseDate(date); err != nil {
		return tr, err
	}
	if tr.Amount, err = decimal.NewFromString(amount); err != nil {
		return tr, err
	}
	if tr.CreatedAt, err = parseTime(created); err != nil {
		return tr, err
	}
	tr.UpdatedAt, err = parseTime(upd)
	return tr, err
}

func (r reader) GetTransfer(ctx context.Context, user core.UserID, id string) (core.Transfer, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+transferCols+` FROM transfers WHERE id = ? AND user_id = ?`, id, string(user))
	tr, err := scanTransfer(row)
	if err == sql.ErrNoRows {
		return tr, core.NotFound("transfer", id)
	}
	if err != nil {
		return tr, core.Storage("get transfer", err)
	}
	return tr, nil
}

func (r reader) ListTransfers(ctx context.Context, user core.UserID, f storage.TransferFilter) ([]core.Transfer, error) {
	w := &where{}
	w.add("user_id = ?", string(user))
	if !f.From.IsZero() {
		w.add("date >= ?", f.From.String())
	}
	if !f.To.IsZero() {
		w.add("date < ?", f.To.String())
	}
	if f.PaymentMethodID != "" {
		w.add("(from_payment_method_id = ? OR to_payment_method_id = ?)", f.PaymentMethodID, f.PaymentMethodID)
	}
	rows, err := r.q.QueryContext(ctx, `SELECT `+transferCols+` FROM transfers`+w.String()+` ORDER BY date, created_at, id`, w.args...)
	if err != nil {
		return nil, core.Storage("list transfers", err)
	}
	defer rows.Close()

	out := []core.Transfer{}
	for rows.Next() {
		tr, err := scanTransfer(rows)
		if err != nil {
			return nil, core.Storage("scan transfer", err)
		}
		out = append(out, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, core.Storage("list transfers", err)
	}
	return out, nil
}

func (r reader) ListUsers(ctx context.Context) ([]core.UserID, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT DISTINCT user_id FROM payment_methods ORDER BY user_id`)
	if err != nil {
		return nil, core.Storage("list users", err)
	}
	defer rows.Close()

	var out []core.UserID
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, core.Storage("scan user", err)
		}
		out = append(out, core.UserID(u))
	}
	if err := rows.Err(); err != nil {
		return nil, core.Storage("list users", err)
	}
	return out, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}
