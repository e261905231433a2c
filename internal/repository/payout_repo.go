package repository

import (
	"context"
	"errors"

	"github.com/Viniciuscarvalho/FitToday-cms-sub000/internal/models"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDuplicatePayout marks a transfer id already recorded; the delivery is a
// retry and must not move funds again.
var ErrDuplicatePayout = errors.New("payout already recorded")

type PayoutRepository struct {
	db DBTX
}

func NewPayoutRepository(db DBTX) *PayoutRepository {
	return &PayoutRepository{db: db}
}

func (r *PayoutRepository) Create(ctx context.Context, trainerID int64, externalTransferID string, amount int64, currency string) (*models.Payout, error) {
	query := `
		INSERT INTO payouts (trainer_id, external_transfer_id, amount, currency)
		VALUES ($1, $2, $3, $4)
		RETURNING id, trainer_id, external_transfer_id, amount, currency, created_at
	`

	var payout models.Payout
	err := r.db.QueryRow(ctx, query, trainerID, externalTransferID, amount, currency).Scan(
		&payout.ID,
		&payout.TrainerID,
		&payout.ExternalTransferID,
		&payout.Amount,
		&payout.Currency,
		&payout.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicatePayout
		}
		return nil, err
	}
	return &payout, nil
}
