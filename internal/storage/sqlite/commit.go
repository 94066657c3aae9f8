package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"dompet/internal/core"
	"dompet/internal/storage"
)

// Commit applies b in one IMMEDIATE transaction.
func (s *Store) Commit(ctx context.Context, b *storage.Batch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Storage("begin batch", err)
	}
	defer tx.Rollback()

	if err := applyBatch(ctx, tx, b); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return core.Storage("commit batch", err)
	}
	return nil
}

// View runs fn inside a read-only transaction. Under WAL the transaction
// reads from the snapshot taken at its first statement.
func (s *Store) View(ctx context.Context, fn func(r storage.Reader) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return core.Storage("begin view", err)
	}
	defer tx.Rollback()

	if err := fn(reader{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return core.Storage("end view", err)
	}
	return nil
}

// Update runs fn and applies its batch in one IMMEDIATE transaction. The
// database write lock is held from the first read, so writers in other
// processes wait on busy_timeout until the batch is committed.
func (s *Store) Update(ctx context.Context, fn func(r storage.Reader) (*storage.Batch, error)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Storage("begin update", err)
	}
	defer tx.Rollback()

	b, err := fn(reader{q: tx})
	if err != nil {
		return err
	}
	if b == nil || b.Empty() {
		return nil
	}
	if err := applyBatch(ctx, tx, b); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return core.Storage("commit update", err)
	}
	return nil
}

func applyBatch(ctx context.Context, tx *sql.Tx, b *storage.Batch) error {
	user := string(b.User)

	for _, m := range b.PaymentMethods {
		if err := checkOwner(ctx, tx, "payment_methods", "payment method", m.ID, user); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO payment_methods (id, user_id, name, name_key, balance, base_balance, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				name = excluded.name,
				name_key = excluded.name_key,
				balance = excluded.balance,
				base_balance = excluded.base_balance`,
			m.ID, user, m.Name, strings.ToLower(m.Name), m.Balance.String(), m.BaseBalance.String(), formatTime(m.CreatedAt))
		if err != nil {
			return mapErr("save payment method", err, false)
		}
	}

	for _, c := range b.Categories {
		if err := checkOwner(ctx, tx, "categories", "category", c.ID, user); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO categories (id, user_id, kind, name, created_at) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET kind = excluded.kind, name = excluded.name`,
			c.ID, user, string(c.Kind), c.Name, formatTime(c.CreatedAt))
		if err != nil {
			return mapErr("save category", err, false)
		}
	}

	for _, sc := range b.Subcategories {
		if err := checkOwner(ctx, tx, "subcategories", "subcategory", sc.ID, user); err != nil {
			return err
		}
		if err := checkRef(ctx, tx, "categories", "category_id", sc.CategoryID, user); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO subcategories (id, user_id, kind, category_id, name, created_at) VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET kind = excluded.kind, category_id = excluded.category_id, name = excluded.name`,
			sc.ID, user, string(sc.Kind), sc.CategoryID, sc.Name, formatTime(sc.CreatedAt))
		if err != nil {
			return mapErr("save subcategory", err, false)
		}
	}

	for _, bud := range b.Budgets {
		if err := checkRef(ctx, tx, "subcategories", "subcategory_id", bud.SubcategoryID, user); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE budgets SET amount = ?
			WHERE user_id = ? AND year = ? AND month = ? AND subcategory_id = ?`,
			bud.Amount.String(), user, bud.Year, bud.Month, bud.SubcategoryID)
		if err != nil {
			return mapErr("save budget", err, false)
		}
		if n, err := res.RowsAffected(); err != nil {
			return core.Storage("save budget", err)
		} else if n > 0 {
			continue
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO budgets (id, user_id, year, month, subcategory_id, amount) VALUES (?, ?, ?, ?, ?, ?)`,
			bud.ID, user, bud.Year, bud.Month, bud.SubcategoryID, bud.Amount.String())
		if err != nil {
			return mapErr("save budget", err, false)
		}
	}

	for _, t := range b.Transactions {
		if err := checkOwner(ctx, tx, "transactions", "transaction", t.ID, user); err != nil {
			return err
		}
		refs := []struct{ table, field, id string }{
			{"payment_methods", "payment_method_id", t.PaymentMethodID},
			{"categories", "category_id", t.CategoryID},
			{"subcategories", "subcategory_id", t.SubcategoryID},
		}
		for _, r := range refs {
			if err := checkRef(ctx, tx, r.table, r.field, r.id, user); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO transactions (id, user_id, type, date, category_id, subcategory_id, payment_method_id,
				amount, description, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				type = excluded.type,
				date = excluded.date,
				category_id = excluded.category_id,
				subcategory_id = excluded.subcategory_id,
				payment_method_id = excluded.payment_method_id,
				amount = excluded.amount,
				description = excluded.description,
				updated_at = excluded.updated_at`,
			t.ID, user, string(t.Type), t.Date.Format(dateLayout), t.CategoryID, t.SubcategoryID, t.PaymentMethodID,
			t.Amount.String(), t.Description, formatTime(t.CreatedAt), formatTime(t.UpdatedAt))
		if err != nil {
			return mapErr("save transaction", err, false)
		}
	}

	for _, t := range b.Transfers {
		if err := checkOwner(ctx, tx, "transfers", "transfer", t.ID, user); err != nil {
			return err
		}
		if err := checkRef(ctx, tx, "payment_methods", "from_payment_method_id", t.FromPaymentMethodID, user); err != nil {
			return err
		}
		if err := checkRef(ctx, tx, "payment_methods", "to_payment_method_id", t.ToPaymentMethodID, user); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO transfers (id, user_id, date, from_payment_method_id, to_payment_method_id,
				amount, description, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				date = excluded.date,
				from_payment_method_id = excluded.from_payment_method_id,
				to_payment_method_id = excluded.to_payment_method_id,
				amount = excluded.amount,
				description = excluded.description,
				updated_at = excluded.updated_at`,
			t.ID, user, t.Date.Format(dateLayout), t.FromPaymentMethodID, t.ToPaymentMethodID,
			t.Amount.String(), t.Description, formatTime(t.CreatedAt), formatTime(t.UpdatedAt))
		if err != nil {
			return mapErr("save transfer", err, false)
		}
	}

	for _, d := range b.Deltas {
		if err := applyDelta(ctx, tx, user, d); err != nil {
			return err
		}
	}

	deletes := []struct {
		table, entity string
		ids           []string
	}{
		{"transactions", "transaction", b.DeleteTransactions},
		{"transfers", "transfer", b.DeleteTransfers},
		{"budgets", "budget", b.DeleteBudgets},
		{"subcategories", "subcategory", b.DeleteSubcategories},
		{"categories", "category", b.DeleteCategories},
		{"payment_methods", "payment method", b.DeletePaymentMethods},
	}
	for _, del := range deletes {
		for _, id := range del.ids {
			res, err := tx.ExecContext(ctx, `DELETE FROM `+del.table+` WHERE id = ? AND user_id = ?`, id, user)
			if err != nil {
				return mapErr("delete "+del.entity, err, true)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return core.Storage("delete "+del.entity, err)
			}
			if n == 0 {
				return core.NotFound(del.entity, id)
			}
		}
	}

	return nil
}

func applyDelta(ctx context.Context, tx *sql.Tx, user string, d core.Delta) error {
	var raw string
	err := tx.QueryRowContext(ctx, `SELECT balance FROM payment_methods WHERE id = ? AND user_id = ?`,
		d.PaymentMethodID, user).Scan(&raw)
	if err == sql.ErrNoRows {
		return core.NotFound("payment method", d.PaymentMethodID)
	}
	if err != nil {
		return core.Storage("read balance", err)
	}
	balance, err := decimal.NewFromString(raw)
	if err != nil {
		return core.Storage("parse balance", err)
	}
	next := balance.Add(d.Amount)
	if _, err := tx.ExecContext(ctx, `UPDATE payment_methods SET balance = ? WHERE id = ?`,
		next.String(), d.PaymentMethodID); err != nil {
		return core.Storage("write balance", err)
	}
	return nil
}

// checkOwner fails when id exists but belongs to another user.
func checkOwner(ctx context.Context, tx *sql.Tx, table, entity, id, user string) error {
	var owner string
	err := tx.QueryRowContext(ctx, `SELECT user_id FROM `+table+` WHERE id = ?`, id).Scan(&owner)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return core.Storage("check "+entity+" owner", err)
	}
	if owner != user {
		return core.NotFound(entity, id)
	}
	return nil
}

// checkRef fails with a validation error unless id exists and belongs to user.
func checkRef(ctx context.Context, tx *sql.Tx, table, field, id, user string) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM `+table+` WHERE id = ? AND user_id = ?`, id, user).Scan(&one)
	if err == sql.ErrNoRows {
		return core.Invalid(field, core.ErrInvalidReference)
	}
	if err != nil {
		return core.Storage("check "+field, err)
	}
	return nil
}

func mapErr(op string, err error, deleting bool) error {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		msg := se.Error()
		switch {
		case code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || strings.Contains(msg, "UNIQUE constraint"):
			return core.Invalid("name", core.ErrDuplicateName)
		case code == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY || strings.Contains(msg, "FOREIGN KEY constraint"):
			if deleting {
				return core.Referential("%s: still referenced", op)
			}
			return core.Invalid("", core.ErrInvalidReference)
		}
	}
	return core.Storage(op, fmt.Errorf("sqlite: %w", err))
}
