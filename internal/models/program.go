package models

import "time"

type Program struct {
	ID          int64     `json:"id"`
	TrainerID   int64     `json:"trainer_id"`
	Title       string    `json:"title"`
	Description *string   `json:"description"`
	Price       int64     `json:"price"`
	Currency    string    `json:"currency"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ProgramAccess records that a student can open a program and which
// subscription granted it. Revoked on cancellation.
type ProgramAccess struct {
	StudentID      int64     `json:"student_id"`
	ProgramID      int64     `json:"program_id"`
	SubscriptionID int64     `json:"subscription_id"`
	GrantedAt      time.Time `json:"granted_at"`
}
