package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS payments (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id            INTEGER NOT NULL,
	username           TEXT,
	payment_id         TEXT UNIQUE,
	provider_charge_id TEXT,
	status             TEXT,
	confirmation_url   TEXT,
	amount             TEXT,
	currency           TEXT,
	file_id            TEXT,
	created_at         DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at         DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_payments_user_id ON payments(user_id);
CREATE INDEX IF NOT EXISTS idx_payments_provider_charge_id ON payments(provider_charge_id);
CREATE TABLE IF NOT EXISTS payment_logs (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	payment_id TEXT NOT NULL,
	log_type   TEXT NOT NULL,
	payload    TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_payment_logs_payment_id ON payment_logs(payment_id);
`

// SQLiteRepository keeps the ledger in a single local database file.
type SQLiteRepository struct{ db *sql.DB }

func NewSQLiteRepository(db *sql.DB) *SQLiteRepository { return &SQLiteRepository{db: db} }

func (r *SQLiteRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("migrate payments: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Create(ctx context.Context, p *Record) (*Record, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO payments (user_id, username, payment_id, provider_charge_id, status,
		                      confirmation_url, amount, currency)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, p.UserID, p.Username, nullable(p.PaymentID), p.ProviderChargeID, p.Status,
		p.ConfirmationURL, p.Amount, p.Currency)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("create payment: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM payments WHERE id = ?
	`, id)
	return oneSQL(row, "reload payment")
}

func (r *SQLiteRepository) SetStatus(ctx context.Context, paymentID, status string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE payments SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE payment_id = ?
	`, status, paymentID)
	if err != nil {
		return fmt.Errorf("set payment status: %w", err)
	}
	return affected(res)
}

func (r *SQLiteRepository) SetFileID(ctx context.Context, paymentID, fileID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE payments SET file_id = ?, updated_at = CURRENT_TIMESTAMP WHERE payment_id = ?
	`, fileID, paymentID)
	if err != nil {
		return fmt.Errorf("set payment file_id: %w", err)
	}
	return affected(res)
}

func (r *SQLiteRepository) GetByPaymentID(ctx context.Context, paymentID string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM payments WHERE payment_id = ? LIMIT 1
	`, paymentID)
	return oneSQL(row, "get payment")
}

func (r *SQLiteRepository) GetByProviderChargeID(ctx context.Context, ref string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM payments WHERE provider_charge_id = ? ORDER BY id DESC LIMIT 1
	`, ref)
	return oneSQL(row, "get payment by provider_charge_id")
}

func (r *SQLiteRepository) ListSuccessful(ctx context.Context, userID int64) ([]*Record, error) {
	return r.list(ctx, `
		SELECT `+recordColumns+`
		FROM payments
		WHERE user_id = ? AND status = ?
		ORDER BY id DESC
	`, userID, StatusSucceeded)
}

func (r *SQLiteRepository) ListUndelivered(ctx context.Context, userID int64) ([]*Record, error) {
	return r.list(ctx, `
		SELECT `+recordColumns+`
		FROM payments
		WHERE user_id = ? AND status = ? AND file_id IS NULL
		ORDER BY id DESC
	`, userID, StatusSucceeded)
}

func (r *SQLiteRepository) ListOpen(ctx context.Context, userID int64) ([]*Record, error) {
	return r.list(ctx, `
		SELECT `+recordColumns+`
		FROM payments
		WHERE user_id = ? AND status IN (?, ?)
		ORDER BY id DESC
	`, userID, StatusPending, StatusWaitingForCapture)
}

func (r *SQLiteRepository) InsertPaymentLog(ctx context.Context, paymentID, logType string, payload any) error {
	var text *string
	if jb := logPayload(payload); jb != nil {
		v := string(jb)
		text = &v
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO payment_logs (payment_id, log_type, payload)
		VALUES (?, ?, ?)
	`, paymentID, logType, text)
	if err != nil {
		return fmt.Errorf("insert payment_log: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) list(ctx context.Context, query string, args ...any) ([]*Record, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		p, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

func oneSQL(row *sql.Row, op string) (*Record, error) {
	p, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

func affected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
