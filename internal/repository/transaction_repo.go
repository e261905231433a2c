package repository

import (
	"context"

	"github.com/Viniciuscarvalho/FitToday-cms-sub000/internal/models"
)

type CreateTransactionInput struct {
	SubscriptionID          int64
	TrainerID               int64
	StudentID               int64
	ProgramID               int64
	Type                    string
	GrossAmount             int64
	PlatformFee             int64
	NetAmount               int64
	Currency                string
	Status                  string
	ExternalPaymentIntentID *string
	ExternalInvoiceID       *string
}

type TransactionRepository struct {
	db DBTX
}

func NewTransactionRepository(db DBTX) *TransactionRepository {
	return &TransactionRepository{db: db}
}

const transactionColumns = `id, subscription_id, trainer_id, student_id, program_id, type,
		gross_amount, platform_fee, net_amount, currency, status,
		external_payment_intent_id, external_invoice_id, created_at`

func (r *TransactionRepository) Create(ctx context.Context, input CreateTransactionInput) (*models.Transaction, error) {
	query := `
		INSERT INTO transactions (subscription_id, trainer_id, student_id, program_id, type,
			gross_amount, platform_fee, net_amount, currency, status,
			external_payment_intent_id, external_invoice_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING ` + transactionColumns

	return r.scanOne(r.db.QueryRow(
		ctx,
		query,
		input.SubscriptionID,
		input.TrainerID,
		input.StudentID,
		input.ProgramID,
		input.Type,
		input.GrossAmount,
		input.PlatformFee,
		input.NetAmount,
		input.Currency,
		input.Status,
		input.ExternalPaymentIntentID,
		input.ExternalInvoiceID,
	))
}

// GetPurchaseByPaymentIntentID finds the original purchase row a refund refers to.
func (r *TransactionRepository) GetPurchaseByPaymentIntentID(ctx context.Context, paymentIntentID string) (*models.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE external_payment_intent_id = $1 AND type IN ('purchase', 'renewal')
		ORDER BY id
		LIMIT 1
	`
	return r.scanOne(r.db.QueryRow(ctx, query, paymentIntentID))
}

// SumRefundedByPaymentIntentID returns the gross amount already refunded
// against a payment intent, as a positive number.
func (r *TransactionRepository) SumRefundedByPaymentIntentID(ctx context.Context, paymentIntentID string) (int64, error) {
	query := `
		SELECT COALESCE(-SUM(gross_amount), 0)
		FROM transactions
		WHERE external_payment_intent_id = $1 AND type = 'refund'
	`
	var refunded int64
	if err := r.db.QueryRow(ctx, query, paymentIntentID).Scan(&refunded); err != nil {
		return 0, err
	}
	return refunded, nil
}

func (r *TransactionRepository) ExistsByInvoiceID(ctx context.Context, invoiceID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM transactions WHERE external_invoice_id = $1
		)
	`
	var exists bool
	if err := r.db.QueryRow(ctx, query, invoiceID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *TransactionRepository) ListByTrainerID(ctx context.Context, trainerID int64, limit, offset int) ([]models.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE trainer_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, trainerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := make([]models.Transaction, 0)
	for rows.Next() {
		var txn models.Transaction
		if err := rows.Scan(
			&txn.ID,
			&txn.SubscriptionID,
			&txn.TrainerID,
			&txn.StudentID,
			&txn.ProgramID,
			&txn.Type,
			&txn.GrossAmount,
			&txn.PlatformFee,
			&txn.NetAmount,
			&txn.Currency,
			&txn.Status,
			&txn.ExternalPaymentIntentID,
			&txn.ExternalInvoiceID,
			&txn.CreatedAt,
		); err != nil {
			return nil, err
		}
		transactions = append(transactions, txn)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return transactions, nil
}

// SumNetByTrainerID is the reconciliation query: it must always match the
// trainer's total_earnings counter.
func (r *TransactionRepository) SumNetByTrainerID(ctx context.Context, trainerID int64) (int64, error) {
	query := `
		SELECT COALESCE(SUM(net_amount), 0)
		FROM transactions
		WHERE trainer_id = $1
	`
	var sum int64
	if err := r.db.QueryRow(ctx, query, trainerID).Scan(&sum); err != nil {
		return 0, err
	}
	return sum, nil
}

func (r *TransactionRepository) scanOne(row interface{ Scan(dest ...any) error }) (*models.Transaction, error) {
	var txn models.Transaction
	err := row.Scan(
		&txn.ID,
		&txn.SubscriptionID,
		&txn.TrainerID,
		&txn.StudentID,
		&txn.ProgramID,
		&txn.Type,
		&txn.GrossAmount,
		&txn.PlatformFee,
		&txn.NetAmount,
		&txn.Currency,
		&txn.Status,
		&txn.ExternalPaymentIntentID,
		&txn.ExternalInvoiceID,
		&txn.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &txn, nil
}
