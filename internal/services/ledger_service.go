package services

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/Viniciuscarvalho/FitToday-cms-sub000/internal/metrics"
	"github.com/Viniciuscarvalho/FitToday-cms-sub000/internal/models"
	"github.com/Viniciuscarvalho/FitToday-cms-sub000/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stripe/stripe-go/v75"
)

var (
	// ErrMissingMetadata marks a checkout session or transfer created without
	// the ids the ledger needs. Misconfiguration, never retryable.
	ErrMissingMetadata = errors.New("event metadata incomplete")
	// ErrReferentNotReady marks an event that arrived before the record it
	// references was materialized. Retryable: the processor redelivers.
	ErrReferentNotReady = errors.New("referenced record not yet materialized")
	// ErrNoMatchingRecord marks an event that matches nothing in the store and
	// never will. Logged and acknowledged.
	ErrNoMatchingRecord = errors.New("no matching record for event")
)

// DB is the slice of pgxpool.Pool the services need: plain queries plus the
// ability to open a transaction.
type DB interface {
	repository.DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

// LedgerService materializes processor events into subscriptions, ledger
// transactions, balance counters and access grants. Every handler is
// idempotent: deliveries are at-least-once and unordered, so each one dedupes
// on the external id it is keyed by before mutating anything. All financial
// writes for one event share a single transaction.
type LedgerService struct {
	db             DB
	platformFeeBps int64
}

func NewLedgerService(db DB, platformFeeBps int64) *LedgerService {
	return &LedgerService{db: db, platformFeeBps: platformFeeBps}
}

// splitFee divides a gross amount into the platform fee and the trainer's
// net share. Fee rounds half up; the two parts always sum back to gross.
func (s *LedgerService) splitFee(gross int64) (platformFee, trainerNet int64) {
	platformFee = (gross*s.platformFeeBps + 5000) / 10000
	trainerNet = gross - platformFee
	return platformFee, trainerNet
}

type checkoutMetadata struct {
	TrainerID   int64
	StudentID   int64
	ProgramID   int64
	BillingType string
}

func parseCheckoutMetadata(session *stripe.CheckoutSession) (*checkoutMetadata, error) {
	meta := checkoutMetadata{}
	var err error
	if meta.TrainerID, err = parseMetadataID(session.Metadata, "trainer_id"); err != nil {
		return nil, err
	}
	if meta.StudentID, err = parseMetadataID(session.Metadata, "student_id"); err != nil {
		return nil, err
	}
	if meta.ProgramID, err = parseMetadataID(session.Metadata, "program_id"); err != nil {
		return nil, err
	}

	switch session.Metadata["billing_type"] {
	case models.BillingOneTime, models.BillingMonthly, models.BillingYearly:
		meta.BillingType = session.Metadata["billing_type"]
	default:
		if session.Mode == stripe.CheckoutSessionModeSubscription {
			meta.BillingType = models.BillingMonthly
		} else {
			meta.BillingType = models.BillingOneTime
		}
	}
	return &meta, nil
}

// isForeignKeyViolation reports a 23503: the event names ids that do not
// exist in our store, and retrying cannot make them exist.
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

func parseMetadataID(metadata map[string]string, key string) (int64, error) {
	raw, ok := metadata[key]
	if !ok || raw == "" {
		return 0, ErrMissingMetadata
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrMissingMetadata
	}
	return id, nil
}

// CheckoutCompleted books the first purchase: one subscription, one purchase
// transaction, the trainer's earnings/pending increments, the student counter
// and the program access grant. Deduped on the checkout session id so a
// redelivered event changes nothing.
func (s *LedgerService) CheckoutCompleted(ctx context.Context, session *stripe.CheckoutSession) (*models.Subscription, error) {
	meta, err := parseCheckoutMetadata(session)
	if err != nil {
		return nil, err
	}
	if session.AmountTotal <= 0 {
		return nil, ErrMissingMetadata
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txSubscriptionRepo := repository.NewSubscriptionRepository(tx)
	txTransactionRepo := repository.NewTransactionRepository(tx)
	txProfileRepo := repository.NewTrainerProfileRepository(tx)
	txAccessRepo := repository.NewProgramAccessRepository(tx)

	existing, err := txSubscriptionRepo.GetByCheckoutSessionID(ctx, session.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	platformFee, trainerNet := s.splitFee(session.AmountTotal)

	var externalSubID *string
	if session.Subscription != nil && session.Subscription.ID != "" {
		externalSubID = &session.Subscription.ID
	}
	var paymentIntentID *string
	if session.PaymentIntent != nil && session.PaymentIntent.ID != "" {
		paymentIntentID = &session.PaymentIntent.ID
	}

	subscription, err := txSubscriptionRepo.Create(ctx, repository.CreateSubscriptionInput{
		StudentID:              meta.StudentID,
		TrainerID:              meta.TrainerID,
		ProgramID:              meta.ProgramID,
		CheckoutSessionID:      session.ID,
		ExternalSubscriptionID: externalSubID,
		Status:                 models.SubscriptionActive,
		BillingType:            meta.BillingType,
		Price:                  session.AmountTotal,
		PlatformFee:            platformFee,
		TrainerEarnings:        trainerNet,
		Currency:               string(session.Currency),
		StartDate:              time.Now().UTC(),
	})
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, ErrNoMatchingRecord
		}
		return nil, err
	}

	if _, err := txTransactionRepo.Create(ctx, repository.CreateTransactionInput{
		SubscriptionID:          subscription.ID,
		TrainerID:               meta.TrainerID,
		StudentID:               meta.StudentID,
		ProgramID:               meta.ProgramID,
		Type:                    models.TransactionPurchase,
		GrossAmount:             session.AmountTotal,
		PlatformFee:             platformFee,
		NetAmount:               trainerNet,
		Currency:                string(session.Currency),
		Status:                  "succeeded",
		ExternalPaymentIntentID: paymentIntentID,
	}); err != nil {
		if isForeignKeyViolation(err) {
			return nil, ErrNoMatchingRecord
		}
		return nil, err
	}

	// Metadata naming a trainer we never registered is permanent, like a FK
	// miss on the inserts above: acknowledge, never retry.
	if err := txProfileRepo.AddEarnings(ctx, meta.TrainerID, trainerNet); err != nil {
		if errors.Is(err, repository.ErrProfileNotFound) {
			return nil, ErrNoMatchingRecord
		}
		return nil, err
	}
	if err := txProfileRepo.IncrementStudents(ctx, meta.TrainerID); err != nil {
		if errors.Is(err, repository.ErrProfileNotFound) {
			return nil, ErrNoMatchingRecord
		}
		return nil, err
	}
	if err := txAccessRepo.Grant(ctx, meta.StudentID, meta.ProgramID, subscription.ID); err != nil {
		if isForeignKeyViolation(err) {
			return nil, ErrNoMatchingRecord
		}
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	metrics.IncLedgerTransaction(models.TransactionPurchase)
	return subscription, nil
}

// InvoicePaid extends the billing period and, on a recurring cycle, books a
// renewal transaction. The first invoice of a subscription is already covered
// by the checkout event, so only billing_reason=subscription_cycle creates a
// ledger entry. A renewal invoice can overtake its checkout event; that case
// is surfaced as retryable.
func (s *LedgerService) InvoicePaid(ctx context.Context, invoice *stripe.Invoice) error {
	if invoice.Subscription == nil || invoice.Subscription.ID == "" {
		return ErrNoMatchingRecord
	}
	externalSubID := invoice.Subscription.ID

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txSubscriptionRepo := repository.NewSubscriptionRepository(tx)
	txTransactionRepo := repository.NewTransactionRepository(tx)
	txProfileRepo := repository.NewTrainerProfileRepository(tx)

	subscription, err := txSubscriptionRepo.GetByExternalSubscriptionID(ctx, externalSubID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrReferentNotReady
		}
		return err
	}
	if subscription.Terminal() {
		return nil
	}

	if periodEnd := invoicePeriodEnd(invoice); !periodEnd.IsZero() {
		if _, err := txSubscriptionRepo.UpdatePeriodEnd(ctx, externalSubID, periodEnd); err != nil {
			return err
		}
	}
	// A later successful payment pulls a past_due subscription back to active.
	if _, err := txSubscriptionRepo.UpdateStatus(ctx, externalSubID, models.SubscriptionActive); err != nil {
		return err
	}

	booked := false
	if invoice.BillingReason == stripe.InvoiceBillingReasonSubscriptionCycle && invoice.AmountPaid > 0 {
		exists, err := txTransactionRepo.ExistsByInvoiceID(ctx, invoice.ID)
		if err != nil {
			return err
		}
		if !exists {
			platformFee, trainerNet := s.splitFee(invoice.AmountPaid)

			var paymentIntentID *string
			if invoice.PaymentIntent != nil && invoice.PaymentIntent.ID != "" {
				paymentIntentID = &invoice.PaymentIntent.ID
			}
			invoiceID := invoice.ID

			if _, err := txTransactionRepo.Create(ctx, repository.CreateTransactionInput{
				SubscriptionID:          subscription.ID,
				TrainerID:               subscription.TrainerID,
				StudentID:               subscription.StudentID,
				ProgramID:               subscription.ProgramID,
				Type:                    models.TransactionRenewal,
				GrossAmount:             invoice.AmountPaid,
				PlatformFee:             platformFee,
				NetAmount:               trainerNet,
				Currency:                string(invoice.Currency),
				Status:                  "succeeded",
				ExternalPaymentIntentID: paymentIntentID,
				ExternalInvoiceID:       &invoiceID,
			}); err != nil {
				return err
			}
			if err := txProfileRepo.AddEarnings(ctx, subscription.TrainerID, trainerNet); err != nil {
				return err
			}
			booked = true
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	if booked {
		metrics.IncLedgerTransaction(models.TransactionRenewal)
	}
	return nil
}

func invoicePeriodEnd(invoice *stripe.Invoice) time.Time {
	if invoice.Lines != nil && len(invoice.Lines.Data) > 0 {
		line := invoice.Lines.Data[0]
		if line.Period != nil && line.Period.End > 0 {
			return time.Unix(line.Period.End, 0).UTC()
		}
	}
	if invoice.PeriodEnd > 0 {
		return time.Unix(invoice.PeriodEnd, 0).UTC()
	}
	return time.Time{}
}

// InvoiceFailed flags the subscription past_due. No money moved, no ledger row.
func (s *LedgerService) InvoiceFailed(ctx context.Context, invoice *stripe.Invoice) error {
	if invoice.Subscription == nil || invoice.Subscription.ID == "" {
		return ErrNoMatchingRecord
	}

	subscriptionRepo := repository.NewSubscriptionRepository(s.db)
	affected, err := subscriptionRepo.UpdateStatus(ctx, invoice.Subscription.ID, models.SubscriptionPastDue)
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNoMatchingRecord
	}
	return nil
}

// SubscriptionUpdated projects the processor's subscription status onto ours.
// Terminal rows never change again; the repository enforces that.
func (s *LedgerService) SubscriptionUpdated(ctx context.Context, sub *stripe.Subscription) error {
	if sub.ID == "" {
		return ErrNoMatchingRecord
	}

	var status string
	switch sub.Status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		status = models.SubscriptionActive
	case stripe.SubscriptionStatusPastDue:
		status = models.SubscriptionPastDue
	case stripe.SubscriptionStatusCanceled:
		status = models.SubscriptionCanceled
	case stripe.SubscriptionStatusUnpaid, stripe.SubscriptionStatusIncompleteExpired:
		status = models.SubscriptionExpired
	default:
		return nil
	}

	subscriptionRepo := repository.NewSubscriptionRepository(s.db)
	if sub.CurrentPeriodEnd > 0 {
		if _, err := subscriptionRepo.UpdatePeriodEnd(ctx, sub.ID, time.Unix(sub.CurrentPeriodEnd, 0).UTC()); err != nil {
			return err
		}
	}
	affected, err := subscriptionRepo.UpdateStatus(ctx, sub.ID, status)
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNoMatchingRecord
	}
	return nil
}

// SubscriptionCanceled closes the subscription and revokes the student's
// access to the program.
func (s *LedgerService) SubscriptionCanceled(ctx context.Context, sub *stripe.Subscription) error {
	if sub.ID == "" {
		return ErrNoMatchingRecord
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txSubscriptionRepo := repository.NewSubscriptionRepository(tx)
	txAccessRepo := repository.NewProgramAccessRepository(tx)

	subscription, err := txSubscriptionRepo.GetByExternalSubscriptionID(ctx, sub.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNoMatchingRecord
		}
		return err
	}

	if _, err := txSubscriptionRepo.UpdateStatus(ctx, sub.ID, models.SubscriptionCanceled); err != nil {
		return err
	}
	if err := txAccessRepo.Revoke(ctx, subscription.StudentID, subscription.ProgramID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// TransferCreated records a payout and moves the amount from pending to
// available. The payout row is keyed by the external transfer id, so a
// redelivery hits the unique constraint and moves nothing.
func (s *LedgerService) TransferCreated(ctx context.Context, transfer *stripe.Transfer) error {
	trainerID, err := parseMetadataID(transfer.Metadata, "trainer_id")
	if err != nil {
		return err
	}
	if transfer.Amount <= 0 {
		return ErrMissingMetadata
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txPayoutRepo := repository.NewPayoutRepository(tx)
	txProfileRepo := repository.NewTrainerProfileRepository(tx)

	if _, err := txPayoutRepo.Create(ctx, trainerID, transfer.ID, transfer.Amount, string(transfer.Currency)); err != nil {
		if errors.Is(err, repository.ErrDuplicatePayout) {
			return nil
		}
		return err
	}
	if err := txProfileRepo.MovePendingToAvailable(ctx, trainerID, transfer.Amount); err != nil {
		if errors.Is(err, repository.ErrProfileNotFound) {
			return ErrNoMatchingRecord
		}
		return err
	}

	return tx.Commit(ctx)
}

// ChargeRefunded books the refund delta against the original transaction.
// AmountRefunded on the charge is cumulative, so the handler subtracts what
// was already booked: redeliveries are no-ops and successive partial refunds
// each book exactly their own slice. The platform fee is returned pro rata.
func (s *LedgerService) ChargeRefunded(ctx context.Context, charge *stripe.Charge) error {
	if charge.PaymentIntent == nil || charge.PaymentIntent.ID == "" {
		return ErrNoMatchingRecord
	}
	if charge.AmountRefunded <= 0 {
		return nil
	}
	paymentIntentID := charge.PaymentIntent.ID

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txTransactionRepo := repository.NewTransactionRepository(tx)
	txProfileRepo := repository.NewTrainerProfileRepository(tx)

	original, err := txTransactionRepo.GetPurchaseByPaymentIntentID(ctx, paymentIntentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrReferentNotReady
		}
		return err
	}

	alreadyRefunded, err := txTransactionRepo.SumRefundedByPaymentIntentID(ctx, paymentIntentID)
	if err != nil {
		return err
	}

	delta := charge.AmountRefunded - alreadyRefunded
	if delta <= 0 {
		return nil
	}
	if remaining := original.GrossAmount - alreadyRefunded; delta > remaining {
		delta = remaining
	}

	// Pro-rata share of the original fee, rounded half up.
	refundFee := (original.PlatformFee*delta + original.GrossAmount/2) / original.GrossAmount
	refundNet := delta - refundFee

	if _, err := txTransactionRepo.Create(ctx, repository.CreateTransactionInput{
		SubscriptionID:          original.SubscriptionID,
		TrainerID:               original.TrainerID,
		StudentID:               original.StudentID,
		ProgramID:               original.ProgramID,
		Type:                    models.TransactionRefund,
		GrossAmount:             -delta,
		PlatformFee:             -refundFee,
		NetAmount:               -refundNet,
		Currency:                string(charge.Currency),
		Status:                  "succeeded",
		ExternalPaymentIntentID: &paymentIntentID,
	}); err != nil {
		return err
	}
	if err := txProfileRepo.ApplyRefund(ctx, original.TrainerID, refundNet); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	metrics.IncLedgerTransaction(models.TransactionRefund)
	return nil
}

// AccountUpdated persists the connected account's capability flags.
func (s *LedgerService) AccountUpdated(ctx context.Context, account *stripe.Account) error {
	if account.ID == "" {
		return ErrNoMatchingRecord
	}

	profileRepo := repository.NewTrainerProfileRepository(s.db)
	affected, err := profileRepo.UpdateAccountFlags(ctx, account.ID, account.PayoutsEnabled, account.ChargesEnabled)
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNoMatchingRecord
	}
	return nil
}
