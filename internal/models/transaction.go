package models

import "time"

const (
	TransactionPurchase = "purchase"
	TransactionRenewal  = "renewal"
	TransactionRefund   = "refund"
)

// Transaction is an immutable ledger entry. Amounts are integer minor units;
// refund rows carry negative amounts. For every trainer the sum of net_amount
// over all entries must equal the trainer's total_earnings counter.
type Transaction struct {
	ID                      int64     `json:"id"`
	SubscriptionID          int64     `json:"subscription_id"`
	TrainerID               int64     `json:"trainer_id"`
	StudentID               int64     `json:"student_id"`
	ProgramID               int64     `json:"program_id"`
	Type                    string    `json:"type"`
	GrossAmount             int64     `json:"gross_amount"`
	PlatformFee             int64     `json:"platform_fee"`
	NetAmount               int64     `json:"net_amount"`
	Currency                string    `json:"currency"`
	Status                  string    `json:"status"`
	ExternalPaymentIntentID *string   `json:"external_payment_intent_id,omitempty"`
	ExternalInvoiceID       *string   `json:"external_invoice_id,omitempty"`
	CreatedAt               time.Time `json:"created_at"`
}
