package services

import (
	"context"
	"errors"
	"strings"

	"github.com/Viniciuscarvalho/FitToday-cms-sub000/internal/metrics"
	"github.com/Viniciuscarvalho/FitToday-cms-sub000/internal/models"
	"github.com/Viniciuscarvalho/FitToday-cms-sub000/internal/repository"
	"github.com/jackc/pgx/v5"
)

const maxReviewCommentLength = 500

var (
	ErrInvalidRating   = errors.New("rating must be between 1 and 5")
	ErrCommentTooLong  = errors.New("comment too long")
	ErrTrainerNotFound = errors.New("trainer not found")
	ErrSelfReview      = errors.New("trainers cannot review themselves")
	ErrNotEnrolled     = errors.New("student has no relationship with trainer")
)

type reviewUserReader interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
}

type enrollmentChecker interface {
	ExistsByStudentAndTrainer(ctx context.Context, studentID, trainerID int64) (bool, error)
}

// ReviewService upserts reviews and keeps the trainer's rating aggregate in
// step. One review per (trainer, student) pair: resubmitting updates in
// place. The upsert and the aggregate recompute share one transaction, so
// concurrent submissions against the same trainer serialize and the stored
// average never reflects a partial write.
type ReviewService struct {
	db               DB
	userRepo         reviewUserReader
	subscriptionRepo enrollmentChecker
}

func NewReviewService(db DB, userRepo reviewUserReader, subscriptionRepo enrollmentChecker) *ReviewService {
	return &ReviewService{
		db:               db,
		userRepo:         userRepo,
		subscriptionRepo: subscriptionRepo,
	}
}

type SubmitReviewInput struct {
	Rating  int
	Comment *string
}

type SubmitReviewResult struct {
	Review  *models.Review
	Created bool
}

func (s *ReviewService) SubmitReview(ctx context.Context, studentID, trainerID int64, input SubmitReviewInput) (*SubmitReviewResult, error) {
	if input.Rating < 1 || input.Rating > 5 {
		return nil, ErrInvalidRating
	}
	comment := input.Comment
	if comment != nil {
		trimmed := strings.TrimSpace(*comment)
		if len(trimmed) > maxReviewCommentLength {
			return nil, ErrCommentTooLong
		}
		if trimmed == "" {
			comment = nil
		} else {
			comment = &trimmed
		}
	}
	if studentID == trainerID {
		return nil, ErrSelfReview
	}

	trainer, err := s.userRepo.GetByID(ctx, trainerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTrainerNotFound
		}
		return nil, err
	}
	if trainer.Role != models.RoleTrainer {
		return nil, ErrTrainerNotFound
	}

	enrolled, err := s.subscriptionRepo.ExistsByStudentAndTrainer(ctx, studentID, trainerID)
	if err != nil {
		return nil, err
	}
	if !enrolled {
		return nil, ErrNotEnrolled
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txReviewRepo := repository.NewReviewRepository(tx)
	txProfileRepo := repository.NewTrainerProfileRepository(tx)

	// Two first-time reviews by different students share no review row, so the
	// per-pair lock below cannot serialize them. The profile row lock does:
	// without it, both would recompute the aggregate from a snapshot missing
	// the other's insert and the later commit would store a stale average.
	if err := txProfileRepo.LockByUserID(ctx, trainerID); err != nil {
		if errors.Is(err, repository.ErrProfileNotFound) {
			return nil, ErrTrainerNotFound
		}
		return nil, err
	}

	var review *models.Review
	created := false
	existing, err := txReviewRepo.GetByTrainerAndStudentForUpdate(ctx, trainerID, studentID)
	switch {
	case err == nil:
		review, err = txReviewRepo.Update(ctx, existing.ID, input.Rating, comment)
		if err != nil {
			return nil, err
		}
	case errors.Is(err, pgx.ErrNoRows):
		review, err = txReviewRepo.Create(ctx, trainerID, studentID, input.Rating, comment)
		if err != nil {
			return nil, err
		}
		created = true
	default:
		return nil, err
	}

	// Full recompute inside the same transaction. Linear in the trainer's
	// review count per write.
	average, total, err := txReviewRepo.AggregateForTrainer(ctx, trainerID)
	if err != nil {
		return nil, err
	}
	if err := txProfileRepo.UpdateReviewAggregate(ctx, trainerID, average, total); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	metrics.IncReviewSubmitted(created)
	return &SubmitReviewResult{Review: review, Created: created}, nil
}

type ReviewListing struct {
	Reviews       []models.Review `json:"reviews"`
	Total         int             `json:"total"`
	AverageRating float64         `json:"average_rating"`
}

func (s *ReviewService) ListReviews(ctx context.Context, trainerID int64, limit, offset int) (*ReviewListing, error) {
	trainer, err := s.userRepo.GetByID(ctx, trainerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTrainerNotFound
		}
		return nil, err
	}
	if trainer.Role != models.RoleTrainer {
		return nil, ErrTrainerNotFound
	}

	reviewRepo := repository.NewReviewRepository(s.db)
	reviews, err := reviewRepo.ListByTrainerID(ctx, trainerID, limit, offset)
	if err != nil {
		return nil, err
	}
	total, err := reviewRepo.CountByTrainerID(ctx, trainerID)
	if err != nil {
		return nil, err
	}
	average, _, err := reviewRepo.AggregateForTrainer(ctx, trainerID)
	if err != nil {
		return nil, err
	}

	return &ReviewListing{
		Reviews:       reviews,
		Total:         total,
		AverageRating: average,
	}, nil
}
