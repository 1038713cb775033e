package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/EgorRU/vyatsu-data-analysis-bot/internal/db"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS payments (
	id                 BIGSERIAL PRIMARY KEY,
	user_id            BIGINT NOT NULL,
	username           TEXT,
	payment_id         TEXT UNIQUE,
	provider_charge_id TEXT,
	status             TEXT,
	confirmation_url   TEXT,
	amount             TEXT,
	currency           TEXT,
	file_id            TEXT,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_payments_user_id ON payments(user_id);
CREATE INDEX IF NOT EXISTS idx_payments_provider_charge_id ON payments(provider_charge_id);
CREATE TABLE IF NOT EXISTS payment_logs (
	id         BIGSERIAL PRIMARY KEY,
	payment_id TEXT NOT NULL,
	log_type   TEXT NOT NULL,
	payload    JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_payment_logs_payment_id ON payment_logs(payment_id);
`

const uniqueViolation = "23505"

type PostgresRepository struct{ q db.Querier }

func NewPostgresRepository(q db.Querier) *PostgresRepository { return &PostgresRepository{q: q} }

func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.q.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate payments: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Create(ctx context.Context, p *Record) (*Record, error) {
	if err := r.q.QueryRow(ctx, `
		INSERT INTO payments (user_id, username, payment_id, provider_charge_id, status,
		                      confirmation_url, amount, currency)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`, p.UserID, p.Username, nullable(p.PaymentID), p.ProviderChargeID, p.Status,
		p.ConfirmationURL, p.Amount, p.Currency).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("create payment: %w", err)
	}
	return p, nil
}

func (r *PostgresRepository) SetStatus(ctx context.Context, paymentID, status string) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE payments SET status=$2, updated_at=now() WHERE payment_id=$1
	`, paymentID, status)
	if err != nil {
		return fmt.Errorf("set payment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) SetFileID(ctx context.Context, paymentID, fileID string) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE payments SET file_id=$2, updated_at=now() WHERE payment_id=$1
	`, paymentID, fileID)
	if err != nil {
		return fmt.Errorf("set payment file_id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) GetByPaymentID(ctx context.Context, paymentID string) (*Record, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM payments WHERE payment_id=$1 LIMIT 1
	`, paymentID)
	return onePG(row, "get payment")
}

func (r *PostgresRepository) GetByProviderChargeID(ctx context.Context, ref string) (*Record, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM payments WHERE provider_charge_id=$1 ORDER BY id DESC LIMIT 1
	`, ref)
	return onePG(row, "get payment by provider_charge_id")
}

func (r *PostgresRepository) ListSuccessful(ctx context.Context, userID int64) ([]*Record, error) {
	return r.list(ctx, `
		SELECT `+recordColumns+`
		FROM payments
		WHERE user_id=$1 AND status=$2
		ORDER BY id DESC
	`, userID, StatusSucceeded)
}

func (r *PostgresRepository) ListUndelivered(ctx context.Context, userID int64) ([]*Record, error) {
	return r.list(ctx, `
		SELECT `+recordColumns+`
		FROM payments
		WHERE user_id=$1 AND status=$2 AND file_id IS NULL
		ORDER BY id DESC
	`, userID, StatusSucceeded)
}

func (r *PostgresRepository) ListOpen(ctx context.Context, userID int64) ([]*Record, error) {
	return r.list(ctx, `
		SELECT `+recordColumns+`
		FROM payments
		WHERE user_id=$1 AND status IN ($2, $3)
		ORDER BY id DESC
	`, userID, StatusPending, StatusWaitingForCapture)
}

func (r *PostgresRepository) InsertPaymentLog(ctx context.Context, paymentID, logType string, payload any) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO payment_logs (payment_id, log_type, payload)
		VALUES ($1, $2, $3)
	`, paymentID, logType, logPayload(payload))
	if err != nil {
		return fmt.Errorf("insert payment_log: %w", err)
	}
	return nil
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*Record, error) {
	rows, err := r.q.Query(ctx, query, args...)
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

func onePG(row pgx.Row, op string) (*Record, error) {
	p, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}
