package handlers

import (
	"context"
	"math"
	"strconv"

	"github.com/Viniciuscarvalho/FitToday-cms-sub000/internal/models"
	"github.com/Viniciuscarvalho/FitToday-cms-sub000/internal/services"
	"github.com/gofiber/fiber/v2"
)

type reviewApplicationService interface {
	SubmitReview(ctx context.Context, studentID, trainerID int64, input services.SubmitReviewInput) (*services.SubmitReviewResult, error)
	ListReviews(ctx context.Context, trainerID int64, limit, offset int) (*services.ReviewListing, error)
}

type ReviewHandler struct {
	service reviewApplicationService
}

func NewReviewHandler(service *services.ReviewService) *ReviewHandler {
	return &ReviewHandler{service: service}
}

type submitReviewRequest struct {
	// Rating is declared as float so "4.5" reaches our own integer check and
	// comes back as INVALID_RATING rather than a generic body-parse error.
	Rating  *float64 `json:"rating"`
	Comment *string  `json:"comment"`
}

func (h *ReviewHandler) SubmitReview(c *fiber.Ctx) error {
	role, ok := c.Locals("role").(string)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token", "code": "UNAUTHORIZED"})
	}
	if role != models.RoleStudent {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Only students can review trainers", "code": "FORBIDDEN"})
	}

	studentID, err := actorUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token", "code": "UNAUTHORIZED"})
	}

	trainerID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || trainerID <= 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Trainer not found", "code": "TRAINER_NOT_FOUND"})
	}

	var req submitReviewRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body", "code": "INVALID_RATING"})
	}
	if req.Rating == nil || *req.Rating != math.Trunc(*req.Rating) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "rating must be an integer between 1 and 5", "code": "INVALID_RATING"})
	}

	result, err := h.service.SubmitReview(c.Context(), studentID, trainerID, services.SubmitReviewInput{
		Rating:  int(*req.Rating),
		Comment: req.Comment,
	})
	if err != nil {
		return mapReviewError(c, err)
	}

	status := fiber.StatusOK
	if result.Created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(fiber.Map{
		"id":         result.Review.ID,
		"created_at": result.Review.CreatedAt,
	})
}

func (h *ReviewHandler) ListReviews(c *fiber.Ctx) error {
	trainerID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || trainerID <= 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Trainer not found", "code": "TRAINER_NOT_FOUND"})
	}

	limit, offset, err := parseLimitOffset(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	listing, err := h.service.ListReviews(c.Context(), trainerID, limit, offset)
	if err != nil {
		return mapReviewError(c, err)
	}

	return c.JSON(listing)
}

func mapReviewError(c *fiber.Ctx, err error) error {
	switch {
	case err == services.ErrInvalidRating:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error(), "code": "INVALID_RATING"})
	case err == services.ErrCommentTooLong:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error(), "code": "COMMENT_TOO_LONG"})
	case err == services.ErrTrainerNotFound:
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error(), "code": "TRAINER_NOT_FOUND"})
	case err == services.ErrSelfReview:
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": err.Error(), "code": "FORBIDDEN"})
	case err == services.ErrNotEnrolled:
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": err.Error(), "code": "NOT_ENROLLED"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process review"})
	}
}
