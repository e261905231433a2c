package models

import "time"

const (
	SubscriptionActive   = "active"
	SubscriptionPastDue  = "past_due"
	SubscriptionCanceled = "canceled"
	SubscriptionExpired  = "expired"
)

const (
	BillingOneTime = "one_time"
	BillingMonthly = "monthly"
	BillingYearly  = "yearly"
)

// Subscription binds a student to a trainer's program. The payment processor
// is the source of truth for its lifecycle; rows here are a projection and
// status only moves on processor events.
type Subscription struct {
	ID                     int64      `json:"id"`
	StudentID              int64      `json:"student_id"`
	TrainerID              int64      `json:"trainer_id"`
	ProgramID              int64      `json:"program_id"`
	CheckoutSessionID      string     `json:"checkout_session_id"`
	ExternalSubscriptionID *string    `json:"external_subscription_id,omitempty"`
	Status                 string     `json:"status"`
	BillingType            string     `json:"billing_type"`
	Price                  int64      `json:"price"`
	PlatformFee            int64      `json:"platform_fee"`
	TrainerEarnings        int64      `json:"trainer_earnings"`
	Currency               string     `json:"currency"`
	StartDate              time.Time  `json:"start_date"`
	CurrentPeriodEnd       *time.Time `json:"current_period_end,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// Terminal reports whether the subscription can never leave its status again.
func (s *Subscription) Terminal() bool {
	return s.Status == SubscriptionCanceled || s.Status == SubscriptionExpired
}
