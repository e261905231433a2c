package models

import "time"

// Review is unique per (trainer, student) pair; resubmission updates the
// existing row in place.
type Review struct {
	ID        int64     `json:"id"`
	TrainerID int64     `json:"trainer_id"`
	StudentID int64     `json:"student_id"`
	Rating    int       `json:"rating"`
	Comment   *string   `json:"comment"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
