package handlers

import (
	"context"

	"github.com/Viniciuscarvalho/FitToday-cms-sub000/internal/models"
	"github.com/gofiber/fiber/v2"
)

type programReader interface {
	ListAccessibleByStudentID(ctx context.Context, studentID int64) ([]models.Program, error)
}

type ProgramHandler struct {
	programRepo programReader
}

func NewProgramHandler(programRepo programReader) *ProgramHandler {
	return &ProgramHandler{programRepo: programRepo}
}

// ListMyPrograms returns the programs the student currently holds an access
// grant for (granted on purchase, revoked on cancellation).
func (h *ProgramHandler) ListMyPrograms(c *fiber.Ctx) error {
	role, ok := c.Locals("role").(string)
	if !ok || role != models.RoleStudent {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	studentID, err := actorUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	programs, err := h.programRepo.ListAccessibleByStudentID(c.Context(), studentID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load programs"})
	}

	return c.JSON(fiber.Map{"programs": programs})
}
