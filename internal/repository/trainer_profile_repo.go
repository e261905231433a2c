package repository

import (
	"context"
	"errors"

	"github.com/Viniciuscarvalho/FitToday-cms-sub000/internal/models"
	"github.com/jackc/pgx/v5"
)

// ErrProfileNotFound is returned when an increment targets a trainer profile
// row that does not exist.
var ErrProfileNotFound = errors.New("trainer profile not found")

type TrainerProfileRepository struct {
	db DBTX
}

func NewTrainerProfileRepository(db DBTX) *TrainerProfileRepository {
	return &TrainerProfileRepository{db: db}
}

func (r *TrainerProfileRepository) CreateEmpty(ctx context.Context, userID int64) error {
	query := `INSERT INTO trainer_profiles (user_id) VALUES ($1)`
	_, err := r.db.Exec(ctx, query, userID)
	return err
}

func (r *TrainerProfileRepository) GetByUserID(ctx context.Context, userID int64) (*models.TrainerProfile, error) {
	query := `
		SELECT id, user_id, stripe_account_id, payouts_enabled, charges_enabled,
			   total_earnings, pending_balance, available_balance, total_students,
			   average_rating, total_reviews, created_at, updated_at
		FROM trainer_profiles
		WHERE user_id = $1
	`
	var profile models.TrainerProfile
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&profile.ID,
		&profile.UserID,
		&profile.StripeAccountID,
		&profile.PayoutsEnabled,
		&profile.ChargesEnabled,
		&profile.TotalEarnings,
		&profile.PendingBalance,
		&profile.AvailableBalance,
		&profile.TotalStudents,
		&profile.AverageRating,
		&profile.TotalReviews,
		&profile.CreatedAt,
		&profile.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// LockByUserID takes the trainer's profile row lock for the rest of the
// transaction. Writers that recompute derived counters for a trainer must
// acquire it first so they serialize per trainer.
func (r *TrainerProfileRepository) LockByUserID(ctx context.Context, userID int64) error {
	query := `
		SELECT id
		FROM trainer_profiles
		WHERE user_id = $1
		FOR UPDATE
	`
	var id int64
	if err := r.db.QueryRow(ctx, query, userID).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrProfileNotFound
		}
		return err
	}
	return nil
}

// AddEarnings credits a sale: total_earnings and pending_balance grow by the
// trainer's net share. Server-side increment, never read-modify-write.
func (r *TrainerProfileRepository) AddEarnings(ctx context.Context, trainerID int64, amount int64) error {
	query := `
		UPDATE trainer_profiles
		SET total_earnings = total_earnings + $2,
			pending_balance = pending_balance + $2,
			updated_at = now()
		WHERE user_id = $1
	`
	tag, err := r.db.Exec(ctx, query, trainerID, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProfileNotFound
	}
	return nil
}

// ApplyRefund debits the trainer's net share of a refund.
func (r *TrainerProfileRepository) ApplyRefund(ctx context.Context, trainerID int64, amount int64) error {
	query := `
		UPDATE trainer_profiles
		SET total_earnings = total_earnings - $2,
			pending_balance = pending_balance - $2,
			updated_at = now()
		WHERE user_id = $1
	`
	tag, err := r.db.Exec(ctx, query, trainerID, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProfileNotFound
	}
	return nil
}

// MovePendingToAvailable shifts funds when a payout transfer is created.
func (r *TrainerProfileRepository) MovePendingToAvailable(ctx context.Context, trainerID int64, amount int64) error {
	query := `
		UPDATE trainer_profiles
		SET pending_balance = pending_balance - $2,
			available_balance = available_balance + $2,
			updated_at = now()
		WHERE user_id = $1
	`
	tag, err := r.db.Exec(ctx, query, trainerID, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProfileNotFound
	}
	return nil
}

func (r *TrainerProfileRepository) IncrementStudents(ctx context.Context, trainerID int64) error {
	query := `
		UPDATE trainer_profiles
		SET total_students = total_students + 1,
			updated_at = now()
		WHERE user_id = $1
	`
	tag, err := r.db.Exec(ctx, query, trainerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProfileNotFound
	}
	return nil
}

func (r *TrainerProfileRepository) UpdateReviewAggregate(ctx context.Context, trainerID int64, averageRating float64, totalReviews int) error {
	query := `
		UPDATE trainer_profiles
		SET average_rating = $2,
			total_reviews = $3,
			updated_at = now()
		WHERE user_id = $1
	`
	tag, err := r.db.Exec(ctx, query, trainerID, averageRating, totalReviews)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProfileNotFound
	}
	return nil
}

func (r *TrainerProfileRepository) UpdateAccountFlags(ctx context.Context, accountID string, payoutsEnabled, chargesEnabled bool) (int64, error) {
	query := `
		UPDATE trainer_profiles
		SET payouts_enabled = $2,
			charges_enabled = $3,
			updated_at = now()
		WHERE stripe_account_id = $1
	`
	tag, err := r.db.Exec(ctx, query, accountID, payoutsEnabled, chargesEnabled)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
