package repository

import "context"

type ProgramAccessRepository struct {
	db DBTX
}

func NewProgramAccessRepository(db DBTX) *ProgramAccessRepository {
	return &ProgramAccessRepository{db: db}
}

// Grant is idempotent: replaying the granting event leaves the original row
// untouched.
func (r *ProgramAccessRepository) Grant(ctx context.Context, studentID, programID, subscriptionID int64) error {
	query := `
		INSERT INTO program_access (student_id, program_id, subscription_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (student_id, program_id) DO NOTHING
	`
	_, err := r.db.Exec(ctx, query, studentID, programID, subscriptionID)
	return err
}

func (r *ProgramAccessRepository) Revoke(ctx context.Context, studentID, programID int64) error {
	query := `
		DELETE FROM program_access
		WHERE student_id = $1 AND program_id = $2
	`
	_, err := r.db.Exec(ctx, query, studentID, programID)
	return err
}
