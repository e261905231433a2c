package handlers

import (
	"context"
	"errors"

	"github.com/Viniciuscarvalho/FitToday-cms-sub000/internal/models"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
)

type trainerProfileReader interface {
	GetByUserID(ctx context.Context, userID int64) (*models.TrainerProfile, error)
}

type transactionLedger interface {
	ListByTrainerID(ctx context.Context, trainerID int64, limit, offset int) ([]models.Transaction, error)
	SumNetByTrainerID(ctx context.Context, trainerID int64) (int64, error)
}

// FinanceHandler exposes the trainer's denormalized balance counters and
// ledger history. Read-only: every mutation comes through the webhook path.
type FinanceHandler struct {
	profileRepo     trainerProfileReader
	transactionRepo transactionLedger
}

func NewFinanceHandler(profileRepo trainerProfileReader, transactionRepo transactionLedger) *FinanceHandler {
	return &FinanceHandler{
		profileRepo:     profileRepo,
		transactionRepo: transactionRepo,
	}
}

func (h *FinanceHandler) GetBalance(c *fiber.Ctx) error {
	role, ok := c.Locals("role").(string)
	if !ok || role != models.RoleTrainer {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	trainerID, err := actorUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	profile, err := h.profileRepo.GetByUserID(c.Context(), trainerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Trainer profile not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load balance"})
	}

	// total_earnings is a denormalized counter; the ledger sum rides along so
	// drift between the two is visible without a separate query.
	ledgerNet, err := h.transactionRepo.SumNetByTrainerID(c.Context(), trainerID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load balance"})
	}

	return c.JSON(fiber.Map{
		"total_earnings":    profile.TotalEarnings,
		"pending_balance":   profile.PendingBalance,
		"available_balance": profile.AvailableBalance,
		"total_students":    profile.TotalStudents,
		"payouts_enabled":   profile.PayoutsEnabled,
		"ledger_net_total":  ledgerNet,
	})
}

func (h *FinanceHandler) ListTransactions(c *fiber.Ctx) error {
	role, ok := c.Locals("role").(string)
	if !ok || role != models.RoleTrainer {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	trainerID, err := actorUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	limit, offset, err := parseLimitOffset(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	transactions, err := h.transactionRepo.ListByTrainerID(c.Context(), trainerID, limit, offset)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load transactions"})
	}

	return c.JSON(fiber.Map{"transactions": transactions})
}
