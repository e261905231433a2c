package repository

import (
	"context"
	"time"

	"github.com/Viniciuscarvalho/FitToday-cms-sub000/internal/models"
)

type CreateSubscriptionInput struct {
	StudentID              int64
	TrainerID              int64
	ProgramID              int64
	CheckoutSessionID      string
	ExternalSubscriptionID *string
	Status                 string
	BillingType            string
	Price                  int64
	PlatformFee            int64
	TrainerEarnings        int64
	Currency               string
	StartDate              time.Time
	CurrentPeriodEnd       *time.Time
}

type SubscriptionRepository struct {
	db DBTX
}

func NewSubscriptionRepository(db DBTX) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

const subscriptionColumns = `id, student_id, trainer_id, program_id, checkout_session_id,
		external_subscription_id, status, billing_type, price, platform_fee,
		trainer_earnings, currency, start_date, current_period_end, created_at, updated_at`

func (r *SubscriptionRepository) Create(ctx context.Context, input CreateSubscriptionInput) (*models.Subscription, error) {
	query := `
		INSERT INTO subscriptions (student_id, trainer_id, program_id, checkout_session_id,
			external_subscription_id, status, billing_type, price, platform_fee,
			trainer_earnings, currency, start_date, current_period_end)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING ` + subscriptionColumns

	return r.scanOne(r.db.QueryRow(
		ctx,
		query,
		input.StudentID,
		input.TrainerID,
		input.ProgramID,
		input.CheckoutSessionID,
		input.ExternalSubscriptionID,
		input.Status,
		input.BillingType,
		input.Price,
		input.PlatformFee,
		input.TrainerEarnings,
		input.Currency,
		input.StartDate,
		input.CurrentPeriodEnd,
	))
}

func (r *SubscriptionRepository) GetByCheckoutSessionID(ctx context.Context, sessionID string) (*models.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE checkout_session_id = $1
	`
	return r.scanOne(r.db.QueryRow(ctx, query, sessionID))
}

func (r *SubscriptionRepository) GetByExternalSubscriptionID(ctx context.Context, externalID string) (*models.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE external_subscription_id = $1
	`
	return r.scanOne(r.db.QueryRow(ctx, query, externalID))
}

// UpdateStatus moves a subscription to the given status unless it already sits
// in a terminal state. Returns the number of rows changed so callers can tell
// a no-op from a hit.
func (r *SubscriptionRepository) UpdateStatus(ctx context.Context, externalID string, status string) (int64, error) {
	query := `
		UPDATE subscriptions
		SET status = $2, updated_at = now()
		WHERE external_subscription_id = $1
		  AND status NOT IN ('canceled', 'expired')
	`
	tag, err := r.db.Exec(ctx, query, externalID, status)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *SubscriptionRepository) UpdatePeriodEnd(ctx context.Context, externalID string, periodEnd time.Time) (int64, error) {
	query := `
		UPDATE subscriptions
		SET current_period_end = $2, updated_at = now()
		WHERE external_subscription_id = $1
	`
	tag, err := r.db.Exec(ctx, query, externalID, periodEnd)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ExistsByStudentAndTrainer reports whether the student ever bought anything
// from the trainer, regardless of subscription status.
func (r *SubscriptionRepository) ExistsByStudentAndTrainer(ctx context.Context, studentID, trainerID int64) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM subscriptions
			WHERE student_id = $1 AND trainer_id = $2
		)
	`
	var exists bool
	if err := r.db.QueryRow(ctx, query, studentID, trainerID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *SubscriptionRepository) scanOne(row interface{ Scan(dest ...any) error }) (*models.Subscription, error) {
	var sub models.Subscription
	err := row.Scan(
		&sub.ID,
		&sub.StudentID,
		&sub.TrainerID,
		&sub.ProgramID,
		&sub.CheckoutSessionID,
		&sub.ExternalSubscriptionID,
		&sub.Status,
		&sub.BillingType,
		&sub.Price,
		&sub.PlatformFee,
		&sub.TrainerEarnings,
		&sub.Currency,
		&sub.StartDate,
		&sub.CurrentPeriodEnd,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}
