package repository

import (
	"context"

	"github.com/Viniciuscarvalho/FitToday-cms-sub000/internal/models"
)

type ReviewRepository struct {
	db DBTX
}

func NewReviewRepository(db DBTX) *ReviewRepository {
	return &ReviewRepository{db: db}
}

// GetByTrainerAndStudentForUpdate locks the student's review row (when it
// exists) so concurrent resubmissions serialize inside the transaction.
func (r *ReviewRepository) GetByTrainerAndStudentForUpdate(ctx context.Context, trainerID, studentID int64) (*models.Review, error) {
	query := `
		SELECT id, trainer_id, student_id, rating, comment, created_at, updated_at
		FROM reviews
		WHERE trainer_id = $1 AND student_id = $2
		FOR UPDATE
	`
	return r.scanOne(r.db.QueryRow(ctx, query, trainerID, studentID))
}

func (r *ReviewRepository) Create(ctx context.Context, trainerID, studentID int64, rating int, comment *string) (*models.Review, error) {
	query := `
		INSERT INTO reviews (trainer_id, student_id, rating, comment)
		VALUES ($1, $2, $3, $4)
		RETURNING id, trainer_id, student_id, rating, comment, created_at, updated_at
	`
	return r.scanOne(r.db.QueryRow(ctx, query, trainerID, studentID, rating, comment))
}

func (r *ReviewRepository) Update(ctx context.Context, reviewID int64, rating int, comment *string) (*models.Review, error) {
	query := `
		UPDATE reviews
		SET rating = $2, comment = $3, updated_at = now()
		WHERE id = $1
		RETURNING id, trainer_id, student_id, rating, comment, created_at, updated_at
	`
	return r.scanOne(r.db.QueryRow(ctx, query, reviewID, rating, comment))
}

// AggregateForTrainer recomputes the rating aggregate from every review of
// the trainer. Callers run it in the same transaction as the write so the
// aggregate never reflects a partial set of rows.
func (r *ReviewRepository) AggregateForTrainer(ctx context.Context, trainerID int64) (float64, int, error) {
	query := `
		SELECT COALESCE(ROUND(AVG(rating)::numeric, 1), 0), COUNT(*)
		FROM reviews
		WHERE trainer_id = $1
	`
	var average float64
	var total int
	if err := r.db.QueryRow(ctx, query, trainerID).Scan(&average, &total); err != nil {
		return 0, 0, err
	}
	return average, total, nil
}

func (r *ReviewRepository) ListByTrainerID(ctx context.Context, trainerID int64, limit, offset int) ([]models.Review, error) {
	query := `
		SELECT id, trainer_id, student_id, rating, comment, created_at, updated_at
		FROM reviews
		WHERE trainer_id = $1
		ORDER BY updated_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, trainerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reviews := make([]models.Review, 0)
	for rows.Next() {
		var review models.Review
		if err := rows.Scan(
			&review.ID,
			&review.TrainerID,
			&review.StudentID,
			&review.Rating,
			&review.Comment,
			&review.CreatedAt,
			&review.UpdatedAt,
		); err != nil {
			return nil, err
		}
		reviews = append(reviews, review)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return reviews, nil
}

func (r *ReviewRepository) CountByTrainerID(ctx context.Context, trainerID int64) (int, error) {
	query := `SELECT COUNT(*) FROM reviews WHERE trainer_id = $1`
	var total int
	if err := r.db.QueryRow(ctx, query, trainerID).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func (r *ReviewRepository) scanOne(row interface{ Scan(dest ...any) error }) (*models.Review, error) {
	var review models.Review
	err := row.Scan(
		&review.ID,
		&review.TrainerID,
		&review.StudentID,
		&review.Rating,
		&review.Comment,
		&review.CreatedAt,
		&review.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &review, nil
}
