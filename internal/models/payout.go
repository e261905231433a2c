package models

import "time"

// Payout mirrors a processor transfer to a trainer's connected account. The
// external transfer id is unique so a redelivered transfer.created event
// cannot move the same funds twice.
type Payout struct {
	ID                 int64     `json:"id"`
	TrainerID          int64     `json:"trainer_id"`
	ExternalTransferID string    `json:"external_transfer_id"`
	Amount             int64     `json:"amount"`
	Currency           string    `json:"currency"`
	CreatedAt          time.Time `json:"created_at"`
}
