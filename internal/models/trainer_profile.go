package models

import "time"

// TrainerProfile carries the denormalized counters for a trainer. The money
// counters are mutated only through atomic increments so concurrent webhook
// deliveries never race a read-modify-write cycle.
type TrainerProfile struct {
	ID               int64     `json:"id"`
	UserID           int64     `json:"user_id"`
	StripeAccountID  *string   `json:"stripe_account_id,omitempty"`
	PayoutsEnabled   bool      `json:"payouts_enabled"`
	ChargesEnabled   bool      `json:"charges_enabled"`
	TotalEarnings    int64     `json:"total_earnings"`
	PendingBalance   int64     `json:"pending_balance"`
	AvailableBalance int64     `json:"available_balance"`
	TotalStudents    int       `json:"total_students"`
	AverageRating    float64   `json:"average_rating"`
	TotalReviews     int       `json:"total_reviews"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
