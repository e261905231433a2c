package repository

import (
	"context"

	"github.com/Viniciuscarvalho/FitToday-cms-sub000/internal/models"
)

type ProgramRepository struct {
	db DBTX
}

func NewProgramRepository(db DBTX) *ProgramRepository {
	return &ProgramRepository{db: db}
}

func (r *ProgramRepository) GetByID(ctx context.Context, programID int64) (*models.Program, error) {
	query := `
		SELECT id, trainer_id, title, description, price, currency, created_at, updated_at
		FROM programs
		WHERE id = $1
	`
	var program models.Program
	err := r.db.QueryRow(ctx, query, programID).Scan(
		&program.ID,
		&program.TrainerID,
		&program.Title,
		&program.Description,
		&program.Price,
		&program.Currency,
		&program.CreatedAt,
		&program.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &program, nil
}

func (r *ProgramRepository) ListByTrainerID(ctx context.Context, trainerID int64) ([]models.Program, error) {
	query := `
		SELECT id, trainer_id, title, description, price, currency, created_at, updated_at
		FROM programs
		WHERE trainer_id = $1
		ORDER BY created_at DESC, id DESC
	`
	return r.list(ctx, query, trainerID)
}

// ListAccessibleByStudentID returns the programs a student holds an access
// grant for.
func (r *ProgramRepository) ListAccessibleByStudentID(ctx context.Context, studentID int64) ([]models.Program, error) {
	query := `
		SELECT p.id, p.trainer_id, p.title, p.description, p.price, p.currency, p.created_at, p.updated_at
		FROM programs p
		JOIN program_access a ON a.program_id = p.id
		WHERE a.student_id = $1
		ORDER BY a.granted_at DESC, p.id DESC
	`
	return r.list(ctx, query, studentID)
}

func (r *ProgramRepository) list(ctx context.Context, query string, actorID int64) ([]models.Program, error) {
	rows, err := r.db.Query(ctx, query, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	programs := make([]models.Program, 0)
	for rows.Next() {
		var program models.Program
		if err := rows.Scan(
			&program.ID,
			&program.TrainerID,
			&program.Title,
			&program.Description,
			&program.Price,
			&program.Currency,
			&program.CreatedAt,
			&program.UpdatedAt,
		); err != nil {
			return nil, err
		}
		programs = append(programs, program)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return programs, nil
}
